// Package reconciler runs the Reconciliation Scanner: a single background
// sweep over recent ledger activity that confirms payments no Active
// Monitor caught, files unmatched transfers as untracked, and expires
// records whose deadline lapsed without a monitor.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/i3lani/paywatch/common/logging"
	"github.com/i3lani/paywatch/payments/internal/confirmation"
	"github.com/i3lani/paywatch/payments/internal/ledger"
	"github.com/i3lani/paywatch/payments/internal/metrics"
	"github.com/i3lani/paywatch/payments/internal/models"
	"github.com/i3lani/paywatch/payments/internal/repository"
)

// Trigger labels for a pass.
const (
	TriggerTick   = "tick"
	TriggerManual = "manual"
	TriggerBus    = "bus"
)

// Store is the persistence the scanner needs.
type Store interface {
	repository.Registry
	repository.PaymentRequests
}

// Settings tune the scanner.
type Settings struct {
	Interval   time.Duration
	StaleGrace time.Duration
	FetchLimit int
	// StaleLimit caps how many stale records one pass expires.
	StaleLimit int
}

// Scanner periodically reconciles the recipient account's recent
// transactions against the registry. Passes never overlap.
type Scanner struct {
	store     Store
	fetcher   ledger.Fetcher
	processor *confirmation.Processor
	matcher   *confirmation.Matcher
	settings  Settings
	logger    *logging.Logger
	now       func() time.Time

	pass    sync.Mutex
	started atomic.Bool
	stop    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// NewScanner creates a new Scanner.
func NewScanner(store Store, fetcher ledger.Fetcher, processor *confirmation.Processor, matcher *confirmation.Matcher, settings Settings, logger *logging.Logger) *Scanner {
	if settings.StaleLimit <= 0 {
		settings.StaleLimit = 100
	}
	return &Scanner{
		store:     store,
		fetcher:   fetcher,
		processor: processor,
		matcher:   matcher,
		settings:  settings,
		logger:    logger.With(logging.Watcher(models.WatcherScanner)),
		now:       time.Now,
		stop:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
}

// Start runs the scanner loop until Stop or ctx cancellation. A pass runs
// immediately, then on every tick. This should be called in a goroutine.
func (s *Scanner) Start(ctx context.Context) {
	s.started.Store(true)
	defer close(s.stopped)

	s.logger.InfoContext(ctx, "reconciliation scanner started", "interval", s.settings.Interval)

	ticker := time.NewTicker(s.settings.Interval)
	defer ticker.Stop()

	s.RunOnce(ctx, TriggerTick)

	for {
		select {
		case <-ticker.C:
			s.RunOnce(ctx, TriggerTick)
		case <-s.stop:
			s.logger.InfoContext(ctx, "reconciliation scanner stopped")
			return
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "reconciliation scanner context cancelled")
			return
		}
	}
}

// Stop signals the loop to stop and waits for the current pass to finish.
func (s *Scanner) Stop() {
	s.once.Do(func() { close(s.stop) })
	if s.started.Load() {
		<-s.stopped
	}
}

// RunOnce performs one reconciliation pass and reports what it did. It is
// safe to call concurrently with the loop; passes are serialized.
func (s *Scanner) RunOnce(ctx context.Context, trigger string) *models.TickReport {
	s.pass.Lock()
	defer s.pass.Unlock()

	report := &models.TickReport{StartedAt: s.now()}
	metrics.ScannerTicks.WithLabelValues(trigger).Inc()
	defer func() {
		report.Duration = s.now().Sub(report.StartedAt)
		metrics.ScannerTickDuration.Observe(report.Duration.Seconds())
	}()

	if err := s.scan(ctx, report); err != nil {
		s.logger.ErrorContext(ctx, "reconciliation pass aborted", logging.Error(err))
		report.Errors = append(report.Errors, err.Error())
	}
	if err := s.sweep(ctx, report); err != nil {
		s.logger.ErrorContext(ctx, "stale sweep aborted", logging.Error(err))
		report.Errors = append(report.Errors, err.Error())
	}

	s.logger.InfoContext(ctx, "reconciliation pass finished",
		"trigger", trigger,
		"fetched", report.Fetched,
		"candidates", report.Candidates,
		"confirmed", report.Confirmed,
		"untracked", report.Untracked,
		"expired", report.Expired,
	)
	return report
}

// scan matches recent transactions. Ledger failures are transient and end
// the scan quietly; persistence failures abort it.
func (s *Scanner) scan(ctx context.Context, report *models.TickReport) error {
	txs, err := s.fetcher.FetchRecent(ctx, s.matcher.Account(), s.settings.FetchLimit)
	if err != nil {
		s.logger.WarnContext(ctx, "ledger fetch failed", logging.Error(err))
		report.FetchError = err.Error()
		return nil
	}
	report.Fetched = len(txs)

	for i := range txs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.reconcile(ctx, txs[i], report); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scanner) reconcile(ctx context.Context, tx models.RawTransaction, report *models.TickReport) error {
	memo, ok := s.matcher.Memo(&tx)
	if !ok || !s.matcher.Incoming(&tx) {
		report.Skipped++
		return nil
	}
	report.Candidates++

	rec, err := s.store.Lookup(ctx, memo)
	if errors.Is(err, repository.ErrNotFound) {
		if _, err := s.processor.FileUntracked(ctx, tx, models.UntrackedNoRecord, models.WatcherScanner); err != nil {
			return err
		}
		report.Untracked++
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup %s: %w", memo, err)
	}

	// Settled by this very transaction on an earlier pass.
	if rec.ConfirmedTxHash != nil && *rec.ConfirmedTxHash == tx.TxHash {
		report.AlreadyConfirmed++
		return nil
	}

	if s.matcher.Predates(&tx, rec) {
		if _, err := s.processor.FileUntracked(ctx, tx, models.UntrackedPredatesRecord, models.WatcherScanner); err != nil {
			return err
		}
		report.Untracked++
		return nil
	}

	result, err := s.processor.Process(ctx, rec, tx, models.WatcherScanner)
	if err != nil {
		return err
	}

	switch result.Action {
	case models.AuditConfirmed:
		report.Confirmed++
		s.syncRequest(ctx, memo, models.RequestConfirmed)
	case models.AuditAlreadyConfirmed:
		report.AlreadyConfirmed++
	case models.AuditRejected:
		report.Rejected++
	case models.AuditManualReview:
		report.ManualReview++
	case models.AuditFraudBlocked:
		report.FraudBlocked++
	case models.AuditUntracked:
		report.Untracked++
	}
	return nil
}

// sweep expires pending records whose deadline passed more than the grace
// period ago, which only happens when no monitor finished them.
func (s *Scanner) sweep(ctx context.Context, report *models.TickReport) error {
	cutoff := s.now().Add(-s.settings.StaleGrace)
	stale, err := s.store.ListStalePending(ctx, cutoff, s.settings.StaleLimit)
	if err != nil {
		return fmt.Errorf("list stale records: %w", err)
	}

	for _, rec := range stale {
		ok, err := s.processor.Expire(ctx, rec, models.WatcherScanner)
		if err != nil {
			return err
		}
		if ok {
			report.Expired++
			s.syncRequest(ctx, rec.Memo, models.RequestExpired)
		}
	}
	return nil
}

// syncRequest moves a non-terminal payment request to status. The record
// is authoritative, so failures here are only logged.
func (s *Scanner) syncRequest(ctx context.Context, memo string, status models.RequestStatus) {
	req, err := s.store.GetRequestByMemo(ctx, memo)
	if errors.Is(err, repository.ErrNotFound) {
		return
	}
	if err != nil {
		s.logger.WarnContext(ctx, "payment request lookup failed", logging.Memo(memo), logging.Error(err))
		return
	}
	if req.Status.IsTerminal() {
		return
	}
	if err := s.store.UpdateRequestStatus(ctx, req.ID, status); err != nil {
		s.logger.WarnContext(ctx, "payment request update failed", logging.Memo(memo), logging.Error(err))
	}
}
