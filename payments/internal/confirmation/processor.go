// Package confirmation runs one detected transfer through validation, fraud
// scoring and the registry's compare-and-swap. Both watchers share it, so the
// outcome of a transfer does not depend on which watcher saw it first.
package confirmation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/i3lani/paywatch/common/logging"
	"github.com/i3lani/paywatch/payments/internal/amount"
	"github.com/i3lani/paywatch/payments/internal/audit"
	"github.com/i3lani/paywatch/payments/internal/fraud"
	"github.com/i3lani/paywatch/payments/internal/metrics"
	"github.com/i3lani/paywatch/payments/internal/models"
	"github.com/i3lani/paywatch/payments/internal/notification"
	"github.com/i3lani/paywatch/payments/internal/repository"
)

// ErrNotPending is returned by Approve when the record already left pending.
var ErrNotPending = errors.New("record is not pending")

// Store is the persistence the processor needs.
type Store interface {
	repository.Registry
	repository.PaymentRequests
	repository.UntrackedPayments
	repository.ReviewQueue
}

// Processor is the single authority for confirming a record.
type Processor struct {
	store     Store
	audit     *audit.Log
	validator *amount.Validator
	fraud     *fraud.Evaluator
	notifier  notification.Notifier
	logger    *logging.Logger
}

// NewProcessor creates a Processor.
func NewProcessor(store Store, auditLog *audit.Log, validator *amount.Validator, evaluator *fraud.Evaluator, notifier notification.Notifier, logger *logging.Logger) *Processor {
	return &Processor{
		store:     store,
		audit:     auditLog,
		validator: validator,
		fraud:     evaluator,
		notifier:  notifier,
		logger:    logger,
	}
}

// Process evaluates tx against rec. rec is a snapshot; the registry decides
// whether the transition still applies. Errors are persistence failures only.
func (p *Processor) Process(ctx context.Context, rec *models.RendezvousRecord, tx models.RawTransaction, watcher string) (*models.ProcessResult, error) {
	log := p.logger.ForPayment(rec.Memo, rec.OwnerID, watcher).With(logging.TxHash(tx.TxHash))

	if rec.Status != models.RecordPending {
		return p.settled(ctx, rec, tx, watcher)
	}

	held, err := p.heldForFraud(ctx, tx)
	if err != nil {
		return nil, err
	}
	if held {
		// Refused and reported earlier. Only an administrator's approval
		// releases it.
		result := &models.ProcessResult{Memo: rec.Memo, TxHash: tx.TxHash, Action: models.AuditFraudBlocked}
		metrics.Outcomes.WithLabelValues(watcher, string(result.Action)).Inc()
		log.DebugContext(ctx, "transfer held for fraud review")
		return result, nil
	}

	validation := p.validator.Validate(tx.Amount, rec.ExpectedAmount)
	analysis := p.fraud.Analyze(ctx, fraud.Event{
		OwnerID:         rec.OwnerID,
		Memo:            rec.Memo,
		TxHash:          tx.TxHash,
		Sender:          tx.Sender,
		Amount:          tx.Amount,
		Metadata:        rec.Metadata,
		RecordCreatedAt: rec.CreatedAt,
	})
	result := &models.ProcessResult{
		Memo:       rec.Memo,
		TxHash:     tx.TxHash,
		Validation: &validation,
		Fraud:      analysis,
	}

	switch {
	case analysis.IsSuspicious:
		err = p.blockFraud(ctx, rec, tx, watcher, result)
	case validation.Action == models.ActionConfirm:
		return p.confirm(ctx, rec, tx, watcher, result)
	case validation.Action == models.ActionReject:
		err = p.reject(ctx, rec, tx, watcher, result)
	default:
		err = p.review(ctx, rec, tx, watcher, result)
	}
	if err != nil {
		return nil, err
	}

	if result.Notified && analysis.RequiresManualReview && !analysis.IsSuspicious {
		p.alert(ctx, flaggedAlert(rec, tx, analysis))
	}
	metrics.Outcomes.WithLabelValues(watcher, string(result.Action)).Inc()
	log.InfoContext(ctx, "candidate processed", "action", string(result.Action), "notified", result.Notified)
	return result, nil
}

func (p *Processor) confirm(ctx context.Context, rec *models.RendezvousRecord, tx models.RawTransaction, watcher string, result *models.ProcessResult) (*models.ProcessResult, error) {
	ok, err := p.store.TryConfirm(ctx, rec.Memo, tx.TxHash)
	if err != nil {
		return nil, fmt.Errorf("try confirm %s: %w", rec.Memo, err)
	}
	if !ok {
		// Lost the race or the record moved on; classify against current state.
		current, err := p.store.Lookup(ctx, rec.Memo)
		if err != nil {
			return nil, fmt.Errorf("lookup %s: %w", rec.Memo, err)
		}
		return p.settled(ctx, current, tx, watcher)
	}

	result.Action = models.AuditConfirmed
	result.Notified = true
	if _, err := p.audit.Record(ctx, &models.AuditEntry{
		Memo:       rec.Memo,
		TxHash:     tx.TxHash,
		Action:     models.AuditConfirmed,
		Watcher:    watcher,
		Validation: result.Validation,
		Fraud:      result.Fraud,
	}); err != nil {
		p.logger.ErrorContext(ctx, "audit append failed after confirmation",
			logging.Memo(rec.Memo), logging.TxHash(tx.TxHash), logging.Error(err))
	}

	p.notify(ctx, notification.Confirmed(rec, tx.TxHash, tx.Amount))
	if result.Fraud.RequiresManualReview {
		p.alert(ctx, flaggedAlert(rec, tx, result.Fraud))
	}
	metrics.Outcomes.WithLabelValues(watcher, string(result.Action)).Inc()
	p.logger.InfoContext(ctx, "payment confirmed",
		logging.Memo(rec.Memo), logging.OwnerID(rec.OwnerID), logging.TxHash(tx.TxHash), logging.Watcher(watcher))
	return result, nil
}

func (p *Processor) reject(ctx context.Context, rec *models.RendezvousRecord, tx models.RawTransaction, watcher string, result *models.ProcessResult) error {
	result.Action = models.AuditRejected
	inserted, err := p.record(ctx, rec, tx, watcher, result)
	if err != nil || !inserted {
		return err
	}
	result.Notified = true

	if err := p.fraud.RecordFailure(ctx, rec.OwnerID, rec.Memo, tx.TxHash); err != nil {
		p.logger.WarnContext(ctx, "failed to record payment failure", logging.OwnerID(rec.OwnerID), logging.Error(err))
	}
	p.notify(ctx, notification.Underpaid(rec, tx.TxHash, tx.Amount.Decimal, result.Validation.Difference))
	return p.chargeRetry(ctx, rec)
}

// chargeRetry counts a distinct rejected transfer against the payment
// request of rec and fails the request once its budget is spent. The
// record itself stays pending.
func (p *Processor) chargeRetry(ctx context.Context, rec *models.RendezvousRecord) error {
	req, err := p.store.GetRequestByMemo(ctx, rec.Memo)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("get payment request: %w", err)
	}
	if req.Status.IsTerminal() {
		return nil
	}

	retries, err := p.store.IncrementRetry(ctx, req.ID)
	if err != nil {
		return fmt.Errorf("increment retry: %w", err)
	}
	if req.MaxRetries <= 0 || retries < req.MaxRetries {
		return nil
	}

	if err := p.store.UpdateRequestStatus(ctx, req.ID, models.RequestFailed); err != nil {
		return fmt.Errorf("fail payment request: %w", err)
	}
	p.notify(ctx, notification.Failed(rec, "too many incorrect transfers"))
	p.logger.InfoContext(ctx, "retry budget exhausted",
		logging.Memo(rec.Memo), logging.OwnerID(rec.OwnerID), "retries", retries)
	return nil
}

func (p *Processor) review(ctx context.Context, rec *models.RendezvousRecord, tx models.RawTransaction, watcher string, result *models.ProcessResult) error {
	result.Action = models.AuditManualReview
	inserted, err := p.record(ctx, rec, tx, watcher, result)
	if err != nil || !inserted {
		return err
	}
	result.Notified = true

	kind := models.ReviewValidationError
	if result.Validation.Status == models.ValidationOverpayment {
		kind = models.ReviewOverpayment
	}
	if err := p.addReview(ctx, kind, rec, tx, result); err != nil {
		return err
	}

	if kind == models.ReviewOverpayment {
		p.notify(ctx, notification.Overpaid(rec, tx.TxHash, tx.Amount.Decimal, result.Validation.Difference))
	} else {
		p.notify(ctx, notification.UnderReview(rec, tx.TxHash))
	}
	p.alert(ctx, &models.AdminAlert{
		Kind:    models.AlertManualReview,
		Memo:    rec.Memo,
		TxHash:  tx.TxHash,
		OwnerID: rec.OwnerID,
		Message: result.Validation.Reason,
		Details: map[string]any{"kind": string(kind), "difference": result.Validation.Difference.String()},
	})
	return nil
}

func (p *Processor) blockFraud(ctx context.Context, rec *models.RendezvousRecord, tx models.RawTransaction, watcher string, result *models.ProcessResult) error {
	result.Action = models.AuditFraudBlocked
	inserted, err := p.record(ctx, rec, tx, watcher, result)
	if err != nil || !inserted {
		return err
	}
	result.Notified = true

	if err := p.addReview(ctx, models.ReviewFraud, rec, tx, result); err != nil {
		return err
	}

	// The owner learns nothing about the heuristic.
	p.notify(ctx, notification.ContactSupport(rec, tx.TxHash))
	p.alert(ctx, &models.AdminAlert{
		Kind:    models.AlertFraudSuspected,
		Memo:    rec.Memo,
		TxHash:  tx.TxHash,
		OwnerID: rec.OwnerID,
		Message: "automatic confirmation refused",
		Details: map[string]any{"risk_score": result.Fraud.RiskScore, "risk_factors": result.Fraud.RiskFactors},
	})
	p.logger.WarnContext(ctx, "payment blocked by fraud heuristics",
		logging.Memo(rec.Memo), logging.OwnerID(rec.OwnerID), logging.TxHash(tx.TxHash), "risk_score", result.Fraud.RiskScore)
	return nil
}

// heldForFraud reports whether tx was refused by the fraud heuristics before
// and has not been approved since.
func (p *Processor) heldForFraud(ctx context.Context, tx models.RawTransaction) (bool, error) {
	item, err := p.store.FindReviewByTx(ctx, models.ReviewFraud, tx.TxHash)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("find fraud review %s: %w", tx.TxHash, err)
	}
	return item.Status != models.ReviewApproved, nil
}

// settled handles a transfer for a record that is no longer pending.
func (p *Processor) settled(ctx context.Context, rec *models.RendezvousRecord, tx models.RawTransaction, watcher string) (*models.ProcessResult, error) {
	result := &models.ProcessResult{Memo: rec.Memo, TxHash: tx.TxHash}

	if rec.ConfirmedTxHash != nil && *rec.ConfirmedTxHash == tx.TxHash {
		result.Action = models.AuditAlreadyConfirmed
		metrics.Outcomes.WithLabelValues(watcher, string(result.Action)).Inc()
		return result, nil
	}

	reason := models.UntrackedExpiredRecord
	if rec.Status != models.RecordExpired {
		reason = models.UntrackedDuplicate
	}
	inserted, err := p.FileUntracked(ctx, tx, reason, watcher)
	if err != nil {
		return nil, err
	}
	result.Action = models.AuditUntracked
	result.Notified = inserted
	metrics.Outcomes.WithLabelValues(watcher, string(result.Action)).Inc()
	return result, nil
}

// FileUntracked persists tx as funds no record can absorb and alerts an
// administrator the first time the transaction is seen.
func (p *Processor) FileUntracked(ctx context.Context, tx models.RawTransaction, reason models.UntrackedReason, watcher string) (bool, error) {
	inserted, err := p.store.RecordUntracked(ctx, &models.UntrackedPayment{
		Memo:           tx.MemoText(),
		Amount:         tx.Amount,
		Sender:         tx.Sender,
		TxHash:         tx.TxHash,
		SourceProvider: tx.SourceProvider,
		Reason:         reason,
		ObservedAt:     tx.ObservedAt,
	})
	if err != nil {
		return false, fmt.Errorf("record untracked %s: %w", tx.TxHash, err)
	}
	if !inserted {
		return false, nil
	}

	metrics.UntrackedPayments.WithLabelValues(string(reason)).Inc()
	if _, err := p.audit.Record(ctx, &models.AuditEntry{
		Memo:    tx.MemoText(),
		TxHash:  tx.TxHash,
		Action:  models.AuditUntracked,
		Watcher: watcher,
		Detail:  string(reason),
	}); err != nil {
		p.logger.ErrorContext(ctx, "audit append failed for untracked payment", logging.TxHash(tx.TxHash), logging.Error(err))
	}

	details := map[string]any{"reason": string(reason), "sender": tx.Sender}
	if tx.Amount.Valid {
		details["amount"] = tx.Amount.Decimal.String()
	}
	p.alert(ctx, &models.AdminAlert{
		Kind:    models.AlertUntrackedPayment,
		Memo:    tx.MemoText(),
		TxHash:  tx.TxHash,
		Message: "incoming transfer matches no payable record",
		Details: details,
	})
	p.logger.WarnContext(ctx, "untracked payment recorded",
		logging.Memo(tx.MemoText()), logging.TxHash(tx.TxHash), "reason", string(reason))
	return true, nil
}

// Approve confirms rec with txHash after a human decision. ErrNotPending
// when the record already left pending.
func (p *Processor) Approve(ctx context.Context, rec *models.RendezvousRecord, txHash string, received decimal.NullDecimal, watcher string) error {
	ok, err := p.store.TryConfirm(ctx, rec.Memo, txHash)
	if err != nil {
		return fmt.Errorf("try confirm %s: %w", rec.Memo, err)
	}
	if !ok {
		return ErrNotPending
	}

	if _, err := p.audit.Record(ctx, &models.AuditEntry{
		Memo:    rec.Memo,
		TxHash:  txHash,
		Action:  models.AuditApproved,
		Watcher: watcher,
	}); err != nil {
		p.logger.ErrorContext(ctx, "audit append failed after approval", logging.Memo(rec.Memo), logging.Error(err))
	}
	p.notify(ctx, notification.Confirmed(rec, txHash, received))
	metrics.Outcomes.WithLabelValues(watcher, string(models.AuditApproved)).Inc()
	return nil
}

// reviewKinds are the review items that keep their record payable.
var reviewKinds = []models.ReviewKind{models.ReviewOverpayment, models.ReviewValidationError, models.ReviewFraud}

// Expire moves rec to expired. Only the caller whose swap succeeded records
// the expiry and tells the owner. A record with a transfer still waiting in
// the review queue is left pending; it expires once the item is rejected.
func (p *Processor) Expire(ctx context.Context, rec *models.RendezvousRecord, watcher string) (bool, error) {
	log := p.logger.ForPayment(rec.Memo, rec.OwnerID, watcher)
	for _, kind := range reviewKinds {
		item, err := p.store.FindPendingReview(ctx, kind, rec.Memo)
		if errors.Is(err, repository.ErrNotFound) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("find %s review %s: %w", kind, rec.Memo, err)
		}
		log.DebugContext(ctx, "expiry deferred to review queue", "review_id", item.ID, "kind", string(kind))
		return false, nil
	}

	ok, err := p.store.Expire(ctx, rec.Memo)
	if err != nil {
		return false, fmt.Errorf("expire %s: %w", rec.Memo, err)
	}
	if !ok {
		return false, nil
	}

	if _, err := p.audit.Record(ctx, &models.AuditEntry{
		Memo:    rec.Memo,
		Action:  models.AuditExpired,
		Watcher: watcher,
	}); err != nil {
		log.ErrorContext(ctx, "audit append failed after expiry", logging.Error(err))
	}
	p.notify(ctx, notification.Expired(rec))
	metrics.Outcomes.WithLabelValues(watcher, string(models.AuditExpired)).Inc()
	log.InfoContext(ctx, "payment window expired")
	return true, nil
}

// Refund moves a confirmed rec to refunded. Only the caller whose swap
// succeeded records it and tells the owner.
func (p *Processor) Refund(ctx context.Context, rec *models.RendezvousRecord, watcher, note string) (bool, error) {
	log := p.logger.ForPayment(rec.Memo, rec.OwnerID, watcher)
	ok, err := p.store.Refund(ctx, rec.Memo)
	if err != nil {
		return false, fmt.Errorf("refund %s: %w", rec.Memo, err)
	}
	if !ok {
		return false, nil
	}

	txHash := ""
	if rec.ConfirmedTxHash != nil {
		txHash = *rec.ConfirmedTxHash
	}
	if _, err := p.audit.Record(ctx, &models.AuditEntry{
		Memo:    rec.Memo,
		TxHash:  txHash,
		Action:  models.AuditRefunded,
		Watcher: watcher,
		Detail:  note,
	}); err != nil {
		log.ErrorContext(ctx, "audit append failed after refund", logging.Error(err))
	}
	p.notify(ctx, notification.Refunded(rec))
	metrics.Outcomes.WithLabelValues(watcher, string(models.AuditRefunded)).Inc()
	log.InfoContext(ctx, "payment refunded")
	return true, nil
}

// Notify sends outcome, logging delivery failures.
func (p *Processor) Notify(ctx context.Context, outcome *models.PaymentOutcome) {
	p.notify(ctx, outcome)
}

// Alert sends alert, logging delivery failures.
func (p *Processor) Alert(ctx context.Context, alert *models.AdminAlert) {
	p.alert(ctx, alert)
}

func (p *Processor) record(ctx context.Context, rec *models.RendezvousRecord, tx models.RawTransaction, watcher string, result *models.ProcessResult) (bool, error) {
	inserted, err := p.audit.Record(ctx, &models.AuditEntry{
		Memo:       rec.Memo,
		TxHash:     tx.TxHash,
		Action:     result.Action,
		Watcher:    watcher,
		Validation: result.Validation,
		Fraud:      result.Fraud,
	})
	if err != nil {
		return false, fmt.Errorf("record %s outcome: %w", result.Action, err)
	}
	return inserted, nil
}

func (p *Processor) addReview(ctx context.Context, kind models.ReviewKind, rec *models.RendezvousRecord, tx models.RawTransaction, result *models.ProcessResult) error {
	details, err := json.Marshal(map[string]any{
		"validation": result.Validation,
		"fraud":      result.Fraud,
		"sender":     tx.Sender,
		"provider":   tx.SourceProvider,
	})
	if err != nil {
		return fmt.Errorf("marshal review details: %w", err)
	}
	if _, err := p.store.AddReviewItem(ctx, &models.ReviewItem{
		Kind:     kind,
		Memo:     rec.Memo,
		TxHash:   tx.TxHash,
		OwnerID:  rec.OwnerID,
		Amount:   tx.Amount,
		Expected: rec.ExpectedAmount,
		Details:  details,
	}); err != nil {
		return fmt.Errorf("add review item: %w", err)
	}
	return nil
}

func (p *Processor) notify(ctx context.Context, outcome *models.PaymentOutcome) {
	if err := p.notifier.Notify(ctx, outcome); err != nil {
		p.logger.ErrorContext(ctx, "owner notification failed",
			logging.Memo(outcome.Memo), logging.OwnerID(outcome.OwnerID), logging.Error(err))
	}
}

func (p *Processor) alert(ctx context.Context, alert *models.AdminAlert) {
	if err := p.notifier.Alert(ctx, alert); err != nil {
		p.logger.ErrorContext(ctx, "admin alert failed",
			"kind", string(alert.Kind), logging.Memo(alert.Memo), logging.Error(err))
	}
}

func flaggedAlert(rec *models.RendezvousRecord, tx models.RawTransaction, analysis *models.FraudAnalysis) *models.AdminAlert {
	return &models.AdminAlert{
		Kind:    models.AlertFraudFlagged,
		Memo:    rec.Memo,
		TxHash:  tx.TxHash,
		OwnerID: rec.OwnerID,
		Message: "payment carries risk signals",
		Details: map[string]any{"risk_score": analysis.RiskScore, "risk_factors": analysis.RiskFactors},
	}
}
