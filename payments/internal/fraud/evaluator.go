// Package fraud scores detected payments for risk. A score never confirms
// anything on its own; the confirmation path decides what to do with it.
package fraud

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/i3lani/paywatch/common/config"
	"github.com/i3lani/paywatch/common/logging"
	"github.com/i3lani/paywatch/payments/internal/address"
	"github.com/i3lani/paywatch/payments/internal/metrics"
	"github.com/i3lani/paywatch/payments/internal/models"
)

// Risk factor tags.
const (
	FactorVelocity       = "high_velocity"
	FactorAmountRange    = "amount_out_of_range"
	FactorDenylistToken  = "denylisted_token"
	FactorDenylistSender = "denylisted_sender"
	FactorFailureHistory = "failure_history"
)

// Event is one detected transfer presented for scoring.
type Event struct {
	OwnerID  string
	Memo     string
	TxHash   string
	Sender   string
	Amount   decimal.NullDecimal
	Metadata json.RawMessage
	// RecordCreatedAt anchors the velocity window at the attempt being paid.
	RecordCreatedAt time.Time
}

// Settings are the evaluator thresholds and weights.
type Settings struct {
	VelocityWindow      time.Duration
	VelocityMax         int
	VelocityWeight      float64
	FailureWindow       time.Duration
	FailureMax          int
	FailureWeight       float64
	AmountWeight        float64
	MinAmount           decimal.Decimal
	MaxAmount           decimal.Decimal
	DenylistWeight      float64
	DenylistTokens      []string
	DenylistSenders     []string
	SuspiciousThreshold float64
	ReviewThreshold     float64
}

// SettingsFromConfig converts the fraud config section.
func SettingsFromConfig(cfg config.FraudConfig) Settings {
	return Settings{
		VelocityWindow:      cfg.VelocityWindow,
		VelocityMax:         cfg.VelocityMax,
		VelocityWeight:      cfg.VelocityWeight,
		FailureWindow:       cfg.FailureWindow,
		FailureMax:          cfg.FailureMax,
		FailureWeight:       cfg.FailureWeight,
		AmountWeight:        cfg.AmountWeight,
		MinAmount:           cfg.MinAmountDecimal(),
		MaxAmount:           cfg.MaxAmountDecimal(),
		DenylistWeight:      cfg.DenylistWeight,
		DenylistTokens:      cfg.DenylistTokens,
		DenylistSenders:     cfg.DenylistSenders,
		SuspiciousThreshold: cfg.SuspiciousThreshold,
		ReviewThreshold:     cfg.ReviewThreshold,
	}
}

// Retention is how long history must be kept to serve both windows.
func (s Settings) Retention() time.Duration {
	return 2 * max(s.VelocityWindow, s.FailureWindow)
}

// Evaluator computes FraudAnalysis values from additive signals.
type Evaluator struct {
	settings Settings
	history  HistoryStore
	senders  *address.Set
	tokens   []string
	logger   *logging.Logger
	now      func() time.Time
}

// NewEvaluator creates an Evaluator. Denylisted senders are compared in
// every equivalent encoding.
func NewEvaluator(settings Settings, history HistoryStore, normalizer *address.Normalizer, logger *logging.Logger) *Evaluator {
	tokens := make([]string, 0, len(settings.DenylistTokens))
	for _, t := range settings.DenylistTokens {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			tokens = append(tokens, t)
		}
	}
	return &Evaluator{
		settings: settings,
		history:  history,
		senders:  normalizer.NewSet(settings.DenylistSenders),
		tokens:   tokens,
		logger:   logger,
		now:      time.Now,
	}
}

// RecordAttempt adds a payment attempt to the owner's velocity timeline.
func (e *Evaluator) RecordAttempt(ctx context.Context, ownerID, memo string, at time.Time) error {
	if err := e.history.RecordAttempt(ctx, ownerID, memo, at); err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}

// RecordFailure adds a rejected or failed payment to the owner's history.
func (e *Evaluator) RecordFailure(ctx context.Context, ownerID, memo, txHash string) error {
	key := memo
	if txHash != "" {
		key = memo + ":" + txHash
	}
	if err := e.history.RecordFailure(ctx, ownerID, key, e.now()); err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	return nil
}

// Analyze scores ev. A history backend failure drops that signal and is
// logged; the remaining signals are still evaluated.
func (e *Evaluator) Analyze(ctx context.Context, ev Event) *models.FraudAnalysis {
	s := e.settings
	score := 0.0
	factors := []string{}

	add := func(factor string, weight float64) {
		score += weight
		factors = append(factors, factor)
	}

	if s.VelocityMax > 0 && s.VelocityWindow > 0 {
		anchor := ev.RecordCreatedAt
		if anchor.IsZero() {
			anchor = e.now()
		}
		n, err := e.history.CountAttempts(ctx, ev.OwnerID, anchor.Add(-s.VelocityWindow), anchor)
		if err != nil {
			e.logger.WarnContext(ctx, "velocity history unavailable", logging.OwnerID(ev.OwnerID), logging.Error(err))
		} else if n > s.VelocityMax {
			add(FactorVelocity, s.VelocityWeight)
		}
	}

	if ev.Amount.Valid && e.outOfRange(ev.Amount.Decimal) {
		add(FactorAmountRange, s.AmountWeight)
	}

	if e.containsToken(ev.Memo, ev.Metadata) {
		add(FactorDenylistToken, s.DenylistWeight)
	}

	if ev.Sender != "" && e.senders.Contains(ev.Sender) {
		add(FactorDenylistSender, s.DenylistWeight)
	}

	if s.FailureMax > 0 && s.FailureWindow > 0 {
		now := e.now()
		n, err := e.history.CountFailures(ctx, ev.OwnerID, now.Add(-s.FailureWindow), now)
		if err != nil {
			e.logger.WarnContext(ctx, "failure history unavailable", logging.OwnerID(ev.OwnerID), logging.Error(err))
		} else if n > s.FailureMax {
			add(FactorFailureHistory, s.FailureWeight)
		}
	}

	score = math.Min(score, 1.0)
	analysis := &models.FraudAnalysis{
		RiskScore:            score,
		RiskFactors:          factors,
		IsSuspicious:         score >= s.SuspiciousThreshold && score > 0,
		RequiresManualReview: score >= s.ReviewThreshold && score > 0,
	}
	metrics.FraudScores.Observe(score)
	return analysis
}

func (e *Evaluator) outOfRange(amount decimal.Decimal) bool {
	s := e.settings
	if s.MinAmount.IsPositive() && amount.LessThan(s.MinAmount) {
		return true
	}
	if s.MaxAmount.IsPositive() && amount.GreaterThan(s.MaxAmount) {
		return true
	}
	return false
}

func (e *Evaluator) containsToken(memo string, metadata json.RawMessage) bool {
	if len(e.tokens) == 0 {
		return false
	}
	haystack := strings.ToLower(memo + " " + string(metadata))
	for _, t := range e.tokens {
		if strings.Contains(haystack, t) {
			return true
		}
	}
	return false
}
