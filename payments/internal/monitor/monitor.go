// Package monitor runs one bounded-lifetime watcher per ledger payment.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/i3lani/paywatch/common/logging"
	"github.com/i3lani/paywatch/payments/internal/confirmation"
	"github.com/i3lani/paywatch/payments/internal/ledger"
	"github.com/i3lani/paywatch/payments/internal/metrics"
	"github.com/i3lani/paywatch/payments/internal/models"
	"github.com/i3lani/paywatch/payments/internal/repository"
)

// Store is the persistence a monitor needs.
type Store interface {
	repository.Registry
	repository.PaymentRequests
}

// Settings tune every monitor.
type Settings struct {
	PollInterval time.Duration
	FetchLimit   int
}

// Supervisor owns the running monitors. A monitor ends only in a terminal
// state, at its deadline, or when the supervisor shuts down.
type Supervisor struct {
	store     Store
	fetcher   ledger.Fetcher
	processor *confirmation.Processor
	matcher   *confirmation.Matcher
	settings  Settings
	logger    *logging.Logger
	now       func() time.Time

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	running map[string]struct{}
	wg      sync.WaitGroup
}

// NewSupervisor creates a Supervisor. Call Start before Watch.
func NewSupervisor(store Store, fetcher ledger.Fetcher, processor *confirmation.Processor, matcher *confirmation.Matcher, settings Settings, logger *logging.Logger) *Supervisor {
	return &Supervisor{
		store:     store,
		fetcher:   fetcher,
		processor: processor,
		matcher:   matcher,
		settings:  settings,
		logger:    logger.With(logging.Watcher(models.WatcherMonitor)),
		now:       time.Now,
		running:   make(map[string]struct{}),
	}
}

// Start sets the parent context of every monitor.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx, s.cancel = context.WithCancel(ctx)
}

// Resume starts monitors for payment requests left active by a previous
// process. Requests past their deadline are left to the scanner's sweep.
func (s *Supervisor) Resume(ctx context.Context) (int, error) {
	reqs, err := s.store.ListActiveRequests(ctx, models.MethodTON, s.now())
	if err != nil {
		return 0, fmt.Errorf("list active requests: %w", err)
	}
	started := 0
	for _, req := range reqs {
		if s.Watch(req) {
			started++
		}
	}
	if started > 0 {
		s.logger.InfoContext(ctx, "resumed active monitors", "count", started)
	}
	return started, nil
}

// Watch starts a monitor for req unless one is already running. Returns
// false when nothing was started.
func (s *Supervisor) Watch(req *models.PaymentRequest) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx == nil || s.ctx.Err() != nil {
		return false
	}
	if req.Method != models.MethodTON || req.Status.IsTerminal() {
		return false
	}
	if _, ok := s.running[req.ID]; ok {
		return false
	}
	s.running[req.ID] = struct{}{}
	s.wg.Add(1)
	metrics.ActiveMonitors.Inc()

	ctx := s.ctx
	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.running, req.ID)
			s.mu.Unlock()
			metrics.ActiveMonitors.Dec()
			s.wg.Done()
		}()
		status := s.run(ctx, req)
		metrics.MonitorTerminations.WithLabelValues(status).Inc()
	}()
	return true
}

// Active returns the number of running monitors.
func (s *Supervisor) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

// Stop cancels every monitor and waits for them to return. Records of
// interrupted monitors stay pending for the scanner.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every monitor has returned.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

// errHalt stops a monitor without a terminal transition.
var errHalt = errors.New("monitor halted")

// run is the monitor loop. It returns the final status label.
func (s *Supervisor) run(ctx context.Context, req *models.PaymentRequest) string {
	log := s.logger.With(logging.Memo(req.Memo), logging.OwnerID(req.OwnerID), "payment_id", req.ID)
	log.DebugContext(ctx, "monitor started", "expires_at", req.ExpiresAt)

	m := &watch{
		s:    s,
		req:  req,
		log:  log,
		seen: make(map[string]struct{}),
	}

	for s.now().Before(req.ExpiresAt) {
		status, err := m.poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return "interrupted"
			}
			m.halt(ctx, err)
			return "halted"
		}
		if status != "" {
			log.InfoContext(ctx, "monitor finished", logging.Status(string(status)))
			return string(status)
		}

		wait := s.settings.PollInterval
		if remaining := req.ExpiresAt.Sub(s.now()); remaining < wait {
			wait = remaining
		}
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return "interrupted"
			case <-timer.C:
			}
		}
	}

	if ctx.Err() != nil {
		return "interrupted"
	}
	status, err := m.expire(ctx)
	if err != nil {
		m.halt(ctx, err)
		return "halted"
	}
	if status == "" {
		log.InfoContext(ctx, "monitor finished with a transfer awaiting review")
		return "awaiting_review"
	}
	log.InfoContext(ctx, "monitor finished", logging.Status(string(status)))
	return string(status)
}

type watch struct {
	s          *Supervisor
	req        *models.PaymentRequest
	log        *logging.Logger
	seen       map[string]struct{}
	processing bool
}

// poll runs one iteration. A non-empty status ends the monitor.
func (m *watch) poll(ctx context.Context) (models.RequestStatus, error) {
	s := m.s
	txs, err := s.fetcher.FetchRecent(ctx, s.matcher.Account(), s.settings.FetchLimit)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		// Transient: try again next tick.
		m.log.DebugContext(ctx, "ledger fetch failed", logging.Error(err))
		return "", nil
	}

	for i := range txs {
		tx := txs[i]
		if _, done := m.seen[tx.TxHash]; done {
			continue
		}
		memo, ok := s.matcher.Memo(&tx)
		if !ok || memo != m.req.Memo || !s.matcher.Incoming(&tx) {
			continue
		}

		rec, err := s.store.Lookup(ctx, m.req.Memo)
		if err != nil {
			return "", fmt.Errorf("lookup record: %w", err)
		}
		if s.matcher.Predates(&tx, rec) {
			m.seen[tx.TxHash] = struct{}{}
			continue
		}

		if err := m.markProcessing(ctx); err != nil {
			return "", err
		}
		result, err := s.processor.Process(ctx, rec, tx, models.WatcherMonitor)
		if err != nil {
			return "", err
		}
		m.seen[tx.TxHash] = struct{}{}

		status, err := m.apply(ctx, result)
		if err != nil || status != "" {
			return status, err
		}
	}
	return "", nil
}

// apply maps a processing result onto the payment request.
func (m *watch) apply(ctx context.Context, result *models.ProcessResult) (models.RequestStatus, error) {
	switch result.Action {
	case models.AuditConfirmed, models.AuditAlreadyConfirmed:
		return m.finish(ctx, models.RequestConfirmed)

	case models.AuditFraudBlocked:
		return m.finish(ctx, models.RequestFailed)

	case models.AuditRejected:
		// The retry budget is charged by whoever recorded the rejection.
		current, err := m.s.store.GetRequest(ctx, m.req.ID)
		if err != nil {
			return "", fmt.Errorf("get payment request: %w", err)
		}
		if current.Status == models.RequestFailed {
			return models.RequestFailed, nil
		}
		return "", nil

	case models.AuditUntracked:
		current, err := m.s.store.Lookup(ctx, m.req.Memo)
		if err != nil {
			return "", fmt.Errorf("lookup record: %w", err)
		}
		switch current.Status {
		case models.RecordConfirmed, models.RecordRefunded:
			return m.finish(ctx, models.RequestConfirmed)
		case models.RecordExpired:
			return m.finish(ctx, models.RequestExpired)
		}
	}
	return "", nil
}

// expire runs at the deadline. An empty status means the record is still
// pending behind a review item and the request is left as it is.
func (m *watch) expire(ctx context.Context) (models.RequestStatus, error) {
	rec, err := m.s.store.Lookup(ctx, m.req.Memo)
	if err != nil {
		return "", fmt.Errorf("lookup record: %w", err)
	}
	ok, err := m.s.processor.Expire(ctx, rec, models.WatcherMonitor)
	if err != nil {
		return "", err
	}
	if ok {
		return m.finish(ctx, models.RequestExpired)
	}

	// Someone else moved the record first.
	current, err := m.s.store.Lookup(ctx, m.req.Memo)
	if err != nil {
		return "", fmt.Errorf("lookup record: %w", err)
	}
	switch current.Status {
	case models.RecordConfirmed, models.RecordRefunded:
		return m.finish(ctx, models.RequestConfirmed)
	case models.RecordPending:
		return "", nil
	}
	return m.finish(ctx, models.RequestExpired)
}

func (m *watch) markProcessing(ctx context.Context) error {
	if m.processing {
		return nil
	}
	if err := m.s.store.UpdateRequestStatus(ctx, m.req.ID, models.RequestProcessing); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	m.processing = true
	return nil
}

func (m *watch) finish(ctx context.Context, status models.RequestStatus) (models.RequestStatus, error) {
	if err := m.s.store.UpdateRequestStatus(ctx, m.req.ID, status); err != nil {
		return "", fmt.Errorf("set request %s: %w", status, err)
	}
	return status, nil
}

// halt stops the monitor after a persistence failure. The record stays
// pending so the scanner can finish the job once storage recovers.
func (m *watch) halt(ctx context.Context, err error) {
	m.log.ErrorContext(ctx, "monitor halted", logging.Error(err))
	m.s.processor.Alert(context.WithoutCancel(ctx), &models.AdminAlert{
		Kind:    models.AlertWatcherHalted,
		Memo:    m.req.Memo,
		OwnerID: m.req.OwnerID,
		Message: fmt.Sprintf("%v: %v", errHalt, err),
	})
}
