package monitor

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i3lani/paywatch/common/logging"
	"github.com/i3lani/paywatch/payments/internal/address"
	"github.com/i3lani/paywatch/payments/internal/amount"
	"github.com/i3lani/paywatch/payments/internal/audit"
	"github.com/i3lani/paywatch/payments/internal/confirmation"
	"github.com/i3lani/paywatch/payments/internal/fraud"
	"github.com/i3lani/paywatch/payments/internal/models"
	"github.com/i3lani/paywatch/payments/internal/notification/notificationtest"
	"github.com/i3lani/paywatch/payments/internal/repository"
)

const account = "EQCD39VS5jcptHL8vMjEXrzGaRcCVYto7HUn4bpAOg8xqB2N"

// fakeFetcher serves a scripted sequence of responses; the last one repeats.
type fakeFetcher struct {
	mu    sync.Mutex
	steps []fetchStep
	calls int
}

type fetchStep struct {
	txs []models.RawTransaction
	err error
}

func (f *fakeFetcher) FetchRecent(ctx context.Context, account string, limit int) ([]models.RawTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	step := f.steps[min(f.calls, len(f.steps)-1)]
	f.calls++
	return step.txs, step.err
}

func (f *fakeFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// failingLookup makes every registry lookup fail.
type failingLookup struct {
	*repository.MemoryRepository
}

func (f failingLookup) Lookup(ctx context.Context, memo string) (*models.RendezvousRecord, error) {
	return nil, errors.New("connection reset")
}

type harness struct {
	repo       *repository.MemoryRepository
	notifier   *notificationtest.Recorder
	supervisor *Supervisor
	fetcher    *fakeFetcher
}

func newHarness(t *testing.T, fetcher *fakeFetcher, store Store) *harness {
	t.Helper()
	repo := repository.NewMemoryRepository()
	if store == nil {
		store = repo
	}
	normalizer := address.NewNormalizer([][2]string{{"EQ", "UQ"}}, false)
	notifier := &notificationtest.Recorder{}
	processor := confirmation.NewProcessor(
		repo,
		audit.NewLog(repo, nil, logging.Discard()),
		amount.NewValidator(decimal.RequireFromString("0.05")),
		fraud.NewEvaluator(fraud.Settings{SuspiciousThreshold: 0.5, ReviewThreshold: 0.25}, fraud.NewMemoryHistory(0), normalizer, logging.Discard()),
		notifier,
		logging.Discard(),
	)
	matcher := confirmation.NewMatcher(normalizer, account, regexp.MustCompile(`^[A-Z]{2}[0-9]{4}$`), 2*time.Minute)

	s := NewSupervisor(store, fetcher, processor, matcher, Settings{PollInterval: 10 * time.Millisecond, FetchLimit: 20}, logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		s.Wait()
	})
	s.Start(ctx)

	return &harness{repo: repo, notifier: notifier, supervisor: s, fetcher: fetcher}
}

func (h *harness) payment(t *testing.T, memo, expected string, window time.Duration, maxRetries int) *models.PaymentRequest {
	t.Helper()
	ctx := context.Background()
	expiresAt := time.Now().Add(window)
	_, err := h.repo.Create(ctx, models.NewRecord{
		Memo:           memo,
		OwnerID:        "owner-1",
		ExpectedAmount: decimal.RequireFromString(expected),
		Currency:       "TON",
		ExpiresAt:      expiresAt,
	})
	require.NoError(t, err)

	req := &models.PaymentRequest{
		OwnerID:    "owner-1",
		Amount:     decimal.RequireFromString(expected),
		Currency:   "TON",
		Method:     models.MethodTON,
		Memo:       memo,
		ExpiresAt:  expiresAt,
		MaxRetries: maxRetries,
	}
	require.NoError(t, h.repo.CreateRequest(ctx, req))
	return req
}

func (h *harness) wait(t *testing.T) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		h.supervisor.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("monitors did not finish")
	}
}

func (h *harness) requestStatus(t *testing.T, id string) models.RequestStatus {
	t.Helper()
	req, err := h.repo.GetRequest(context.Background(), id)
	require.NoError(t, err)
	return req.Status
}

func (h *harness) recordStatus(t *testing.T, memo string) models.RecordStatus {
	t.Helper()
	rec, err := h.repo.Lookup(context.Background(), memo)
	require.NoError(t, err)
	return rec.Status
}

func tx(hash, memo, value string) models.RawTransaction {
	return models.RawTransaction{
		TxHash:         hash,
		Memo:           &memo,
		Amount:         decimal.NewNullDecimal(decimal.RequireFromString(value)),
		ObservedAt:     time.Now(),
		SourceProvider: "test",
	}
}

func TestMonitor_ConfirmsMatchingTransfer(t *testing.T) {
	fetcher := &fakeFetcher{steps: []fetchStep{{txs: []models.RawTransaction{
		tx("tx-other", "ZZ9999", "10"),
		tx("tx-1", "AB1234", "10.00"),
	}}}}
	h := newHarness(t, fetcher, nil)
	req := h.payment(t, "AB1234", "10.00", time.Minute, 3)

	require.True(t, h.supervisor.Watch(req))
	assert.False(t, h.supervisor.Watch(req), "one monitor per request")
	h.wait(t)

	assert.Equal(t, models.RequestConfirmed, h.requestStatus(t, req.ID))
	assert.Equal(t, models.RecordConfirmed, h.recordStatus(t, "AB1234"))
	assert.Len(t, h.notifier.OutcomesOf(models.OutcomeConfirmed), 1)
	assert.Zero(t, h.supervisor.Active())
}

func TestMonitor_FetchFailuresAreRetried(t *testing.T) {
	fetcher := &fakeFetcher{steps: []fetchStep{
		{err: errors.New("timeout")},
		{err: errors.New("502")},
		{txs: []models.RawTransaction{tx("tx-1", "AB1234", "10")}},
	}}
	h := newHarness(t, fetcher, nil)
	req := h.payment(t, "AB1234", "10", time.Minute, 3)

	h.supervisor.Watch(req)
	h.wait(t)

	assert.GreaterOrEqual(t, fetcher.Calls(), 3)
	assert.Equal(t, models.RequestConfirmed, h.requestStatus(t, req.ID))
	assert.Empty(t, h.notifier.Alerts())
}

func TestMonitor_ExpiresAtDeadline(t *testing.T) {
	fetcher := &fakeFetcher{steps: []fetchStep{{}}}
	h := newHarness(t, fetcher, nil)
	req := h.payment(t, "AB1234", "10", 60*time.Millisecond, 3)

	h.supervisor.Watch(req)
	h.wait(t)

	assert.Equal(t, models.RequestExpired, h.requestStatus(t, req.ID))
	assert.Equal(t, models.RecordExpired, h.recordStatus(t, "AB1234"))
	expired := h.notifier.OutcomesOf(models.OutcomeExpired)
	require.Len(t, expired, 1)
	assert.Equal(t, "resend_payment", expired[0].NextAction)
}

func TestMonitor_DeadlineLeavesOverpaymentToReview(t *testing.T) {
	fetcher := &fakeFetcher{steps: []fetchStep{{txs: []models.RawTransaction{tx("tx-over", "AB1234", "12")}}}}
	h := newHarness(t, fetcher, nil)
	req := h.payment(t, "AB1234", "10", 60*time.Millisecond, 3)

	h.supervisor.Watch(req)
	h.wait(t)

	assert.Equal(t, models.RecordPending, h.recordStatus(t, "AB1234"))
	assert.Equal(t, models.RequestProcessing, h.requestStatus(t, req.ID))
	assert.Len(t, h.notifier.OutcomesOf(models.OutcomeOverpaid), 1)
	assert.Empty(t, h.notifier.OutcomesOf(models.OutcomeExpired))

	// The owner can still proceed with the excess after the window.
	ctx := context.Background()
	rec, err := h.repo.Lookup(ctx, "AB1234")
	require.NoError(t, err)
	received := decimal.NewNullDecimal(decimal.RequireFromString("12"))
	require.NoError(t, h.supervisor.processor.Approve(ctx, rec, "tx-over", received, models.WatcherOwner))
	assert.Equal(t, models.RecordConfirmed, h.recordStatus(t, "AB1234"))
}

func TestMonitor_UnderpaymentKeepsWatching(t *testing.T) {
	fetcher := &fakeFetcher{steps: []fetchStep{
		{txs: []models.RawTransaction{tx("tx-short", "AB1234", "9.50")}},
		{txs: []models.RawTransaction{tx("tx-short", "AB1234", "9.50")}},
		{txs: []models.RawTransaction{tx("tx-short", "AB1234", "9.50"), tx("tx-full", "AB1234", "10")}},
	}}
	h := newHarness(t, fetcher, nil)
	req := h.payment(t, "AB1234", "10", time.Minute, 3)

	h.supervisor.Watch(req)
	h.wait(t)

	assert.Equal(t, models.RequestConfirmed, h.requestStatus(t, req.ID))
	assert.Len(t, h.notifier.OutcomesOf(models.OutcomeUnderpaid), 1)
	assert.Len(t, h.notifier.OutcomesOf(models.OutcomeConfirmed), 1)
}

func TestMonitor_RetryBudgetExhausted(t *testing.T) {
	fetcher := &fakeFetcher{steps: []fetchStep{
		{txs: []models.RawTransaction{tx("tx-1", "AB1234", "9")}},
		{txs: []models.RawTransaction{tx("tx-1", "AB1234", "9"), tx("tx-2", "AB1234", "8")}},
	}}
	h := newHarness(t, fetcher, nil)
	req := h.payment(t, "AB1234", "10", time.Minute, 2)

	h.supervisor.Watch(req)
	h.wait(t)

	assert.Equal(t, models.RequestFailed, h.requestStatus(t, req.ID))
	assert.Equal(t, models.RecordPending, h.recordStatus(t, "AB1234"), "record stays pending for the scanner")
	assert.Len(t, h.notifier.OutcomesOf(models.OutcomeUnderpaid), 2)
	assert.Len(t, h.notifier.OutcomesOf(models.OutcomeFailed), 1)

	stored, err := h.repo.GetRequest(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.RetryCount)
}

func TestMonitor_SilentWhenScannerConfirmedFirst(t *testing.T) {
	fetcher := &fakeFetcher{steps: []fetchStep{{txs: []models.RawTransaction{tx("tx-1", "AB1234", "10")}}}}
	h := newHarness(t, fetcher, nil)
	req := h.payment(t, "AB1234", "10", time.Minute, 3)

	ok, err := h.repo.TryConfirm(context.Background(), "AB1234", "tx-1")
	require.NoError(t, err)
	require.True(t, ok)

	h.supervisor.Watch(req)
	h.wait(t)

	assert.Equal(t, models.RequestConfirmed, h.requestStatus(t, req.ID))
	assert.Empty(t, h.notifier.Outcomes())
}

func TestMonitor_IgnoresOutgoingTransfers(t *testing.T) {
	out := tx("tx-out", "AB1234", "10")
	out.Recipient = "EQsomebodyelse"
	fetcher := &fakeFetcher{steps: []fetchStep{{txs: []models.RawTransaction{out}}}}
	h := newHarness(t, fetcher, nil)
	req := h.payment(t, "AB1234", "10", 60*time.Millisecond, 3)

	h.supervisor.Watch(req)
	h.wait(t)

	assert.Equal(t, models.RequestExpired, h.requestStatus(t, req.ID))
	assert.Empty(t, h.notifier.OutcomesOf(models.OutcomeConfirmed))
}

func TestMonitor_HaltsOnPersistenceFailure(t *testing.T) {
	fetcher := &fakeFetcher{steps: []fetchStep{{txs: []models.RawTransaction{tx("tx-1", "AB1234", "10")}}}}
	h := newHarness(t, fetcher, nil)
	// Build a second supervisor over a broken store sharing the same data.
	broken := NewSupervisor(failingLookup{h.repo}, fetcher, h.supervisor.processor, h.supervisor.matcher, h.supervisor.settings, logging.Discard())
	broken.Start(context.Background())
	req := h.payment(t, "AB1234", "10", time.Minute, 3)

	require.True(t, broken.Watch(req))
	broken.Wait()

	assert.Equal(t, models.RecordPending, h.recordStatus(t, "AB1234"))
	assert.Len(t, h.notifier.AlertsOf(models.AlertWatcherHalted), 1)
}

func TestSupervisor_Resume(t *testing.T) {
	fetcher := &fakeFetcher{steps: []fetchStep{{txs: []models.RawTransaction{tx("tx-1", "AB1234", "10")}}}}
	h := newHarness(t, fetcher, nil)
	active := h.payment(t, "AB1234", "10", time.Minute, 3)
	lapsed := h.payment(t, "CD5678", "10", -time.Minute, 3)

	started, err := h.supervisor.Resume(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, started)
	h.wait(t)

	assert.Equal(t, models.RequestConfirmed, h.requestStatus(t, active.ID))
	assert.Equal(t, models.RequestPending, h.requestStatus(t, lapsed.ID))
}

func TestSupervisor_StopInterruptsMonitors(t *testing.T) {
	fetcher := &fakeFetcher{steps: []fetchStep{{}}}
	h := newHarness(t, fetcher, nil)
	req := h.payment(t, "AB1234", "10", time.Hour, 3)

	require.True(t, h.supervisor.Watch(req))
	require.Eventually(t, func() bool { return fetcher.Calls() > 0 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.supervisor.Stop(ctx))

	assert.Equal(t, models.RecordPending, h.recordStatus(t, "AB1234"))
	assert.Empty(t, h.notifier.Outcomes())
	assert.False(t, h.supervisor.Watch(req), "stopped supervisor starts nothing")
}

func TestSupervisor_WatchSkipsCreditsAndTerminal(t *testing.T) {
	h := newHarness(t, &fakeFetcher{steps: []fetchStep{{}}}, nil)

	assert.False(t, h.supervisor.Watch(&models.PaymentRequest{ID: "a", Method: models.MethodCredits}))
	assert.False(t, h.supervisor.Watch(&models.PaymentRequest{ID: "b", Method: models.MethodTON, Status: models.RequestConfirmed}))
}
