package confirmation

import (
	"context"
	"fmt"
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
	"github.com/i3lani/paywatch/payments/internal/fraud"
	"github.com/i3lani/paywatch/payments/internal/models"
	"github.com/i3lani/paywatch/payments/internal/notification/notificationtest"
	"github.com/i3lani/paywatch/payments/internal/repository"
)

type harness struct {
	repo      *repository.MemoryRepository
	evaluator *fraud.Evaluator
	notifier  *notificationtest.Recorder
	processor *Processor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	repo := repository.NewMemoryRepository()
	evaluator := fraud.NewEvaluator(fraud.Settings{
		VelocityWindow:      time.Hour,
		VelocityMax:         5,
		VelocityWeight:      0.6,
		FailureWindow:       24 * time.Hour,
		FailureMax:          3,
		FailureWeight:       0.4,
		AmountWeight:        0.3,
		MinAmount:           decimal.RequireFromString("0.1"),
		MaxAmount:           decimal.RequireFromString("10000"),
		DenylistWeight:      0.6,
		SuspiciousThreshold: 0.5,
		ReviewThreshold:     0.25,
	}, fraud.NewMemoryHistory(0), address.NewNormalizer(nil, false), logging.Discard())
	notifier := &notificationtest.Recorder{}
	processor := NewProcessor(
		repo,
		audit.NewLog(repo, nil, logging.Discard()),
		amount.NewValidator(decimal.RequireFromString("0.05")),
		evaluator,
		notifier,
		logging.Discard(),
	)
	return &harness{repo: repo, evaluator: evaluator, notifier: notifier, processor: processor}
}

func (h *harness) create(t *testing.T, memo, owner, expected string) *models.RendezvousRecord {
	t.Helper()
	rec, err := h.repo.Create(context.Background(), models.NewRecord{
		Memo:           memo,
		OwnerID:        owner,
		ExpectedAmount: decimal.RequireFromString(expected),
		Currency:       "TON",
		ExpiresAt:      time.Now().Add(30 * time.Minute),
	})
	require.NoError(t, err)
	return rec
}

func (h *harness) status(t *testing.T, memo string) models.RecordStatus {
	t.Helper()
	rec, err := h.repo.Lookup(context.Background(), memo)
	require.NoError(t, err)
	return rec.Status
}

func transfer(hash, memo, value string) models.RawTransaction {
	tx := models.RawTransaction{
		TxHash:         hash,
		Sender:         "EQsender",
		Memo:           &memo,
		ObservedAt:     time.Now(),
		SourceProvider: "test",
	}
	if value != "" {
		tx.Amount = decimal.NewNullDecimal(decimal.RequireFromString(value))
	}
	return tx
}

func TestProcess_ExactAmountConfirms(t *testing.T) {
	h := newHarness(t)
	rec := h.create(t, "AB1234", "owner-1", "10.00")

	result, err := h.processor.Process(context.Background(), rec, transfer("tx-a", "AB1234", "10.00"), models.WatcherMonitor)
	require.NoError(t, err)

	assert.Equal(t, models.AuditConfirmed, result.Action)
	assert.True(t, result.Notified)
	assert.Equal(t, models.RecordConfirmed, h.status(t, "AB1234"))
	require.Len(t, h.notifier.Outcomes(), 1)
	assert.Equal(t, models.OutcomeConfirmed, h.notifier.Outcomes()[0].Kind)
	assert.Equal(t, "owner-1", h.notifier.Outcomes()[0].OwnerID)
}

func TestProcess_UnderpaymentRejectsOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec := h.create(t, "AB1234", "owner-1", "10.00")
	tx := transfer("tx-b", "AB1234", "9.50")

	result, err := h.processor.Process(ctx, rec, tx, models.WatcherMonitor)
	require.NoError(t, err)
	assert.Equal(t, models.AuditRejected, result.Action)
	assert.Equal(t, models.ValidationUnderpayment, result.Validation.Status)
	assert.True(t, result.Notified)
	assert.Equal(t, models.RecordPending, h.status(t, "AB1234"))

	// The scanner sees the same transfer later and stays silent.
	again, err := h.processor.Process(ctx, rec, tx, models.WatcherScanner)
	require.NoError(t, err)
	assert.Equal(t, models.AuditRejected, again.Action)
	assert.False(t, again.Notified)

	under := h.notifier.OutcomesOf(models.OutcomeUnderpaid)
	require.Len(t, under, 1)
	require.NotNil(t, under[0].Difference)
	assert.True(t, decimal.RequireFromString("-0.5").Equal(*under[0].Difference))
	assert.Contains(t, under[0].Message, "short by 0.5")
}

func TestProcess_ConcurrentWatchersNotifyOnce(t *testing.T) {
	h := newHarness(t)
	rec := h.create(t, "CD5678", "owner-1", "3")
	tx := transfer("tx-race", "CD5678", "3")

	const watchers = 12
	var wg sync.WaitGroup
	results := make([]*models.ProcessResult, watchers)
	for i := 0; i < watchers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			watcher := models.WatcherMonitor
			if i%2 == 1 {
				watcher = models.WatcherScanner
			}
			r, err := h.processor.Process(context.Background(), rec, tx, watcher)
			assert.NoError(t, err)
			results[i] = r
		}(i)
	}
	wg.Wait()

	confirmed := 0
	for _, r := range results {
		if r.Action == models.AuditConfirmed {
			confirmed++
		} else {
			assert.Equal(t, models.AuditAlreadyConfirmed, r.Action)
			assert.False(t, r.Notified)
		}
	}
	assert.Equal(t, 1, confirmed)
	assert.Len(t, h.notifier.OutcomesOf(models.OutcomeConfirmed), 1)
}

func TestProcess_OverpaymentGoesToReview(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec := h.create(t, "AB1234", "owner-1", "10")

	result, err := h.processor.Process(ctx, rec, transfer("tx-over", "AB1234", "12"), models.WatcherScanner)
	require.NoError(t, err)

	assert.Equal(t, models.AuditManualReview, result.Action)
	assert.Equal(t, models.RecordPending, h.status(t, "AB1234"))

	item, err := h.repo.FindPendingReview(ctx, models.ReviewOverpayment, "AB1234")
	require.NoError(t, err)
	assert.Equal(t, "tx-over", item.TxHash)

	assert.Len(t, h.notifier.OutcomesOf(models.OutcomeOverpaid), 1)
	assert.Len(t, h.notifier.AlertsOf(models.AlertManualReview), 1)
}

func TestProcess_MissingAmountNeedsReview(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec := h.create(t, "AB1234", "owner-1", "10")

	result, err := h.processor.Process(ctx, rec, transfer("tx-noamt", "AB1234", ""), models.WatcherScanner)
	require.NoError(t, err)

	assert.Equal(t, models.AuditManualReview, result.Action)
	assert.Equal(t, models.ValidationError, result.Validation.Status)
	_, err = h.repo.FindPendingReview(ctx, models.ReviewValidationError, "AB1234")
	assert.NoError(t, err)
	assert.Len(t, h.notifier.OutcomesOf(models.OutcomeUnderReview), 1)
}

// Six attempts in a minute: the sixth exact payment is still refused.
func TestProcess_VelocityBlocksExactPayment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var sixth *models.RendezvousRecord
	for i := 0; i < 6; i++ {
		memo := fmt.Sprintf("VL000%d", i)
		rec := h.create(t, memo, "owner-v", "5")
		require.NoError(t, h.evaluator.RecordAttempt(ctx, "owner-v", memo, rec.CreatedAt))
		sixth = rec
	}

	result, err := h.processor.Process(ctx, sixth, transfer("tx-v", sixth.Memo, "5"), models.WatcherMonitor)
	require.NoError(t, err)

	assert.Equal(t, models.ValidationExact, result.Validation.Status)
	assert.True(t, result.Fraud.IsSuspicious)
	assert.Equal(t, models.AuditFraudBlocked, result.Action)
	assert.Equal(t, models.RecordPending, h.status(t, sixth.Memo))

	support := h.notifier.OutcomesOf(models.OutcomeContactSupport)
	require.Len(t, support, 1)
	assert.NotContains(t, support[0].Message, "velocity")
	assert.Len(t, h.notifier.AlertsOf(models.AlertFraudSuspected), 1)
	assert.Empty(t, h.notifier.OutcomesOf(models.OutcomeConfirmed))

	_, err = h.repo.FindPendingReview(ctx, models.ReviewFraud, sixth.Memo)
	assert.NoError(t, err)
}

// A refused transfer stays refused on later passes, even once the signals
// that blocked it have aged out.
func TestProcess_FraudBlockIsSticky(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var rec *models.RendezvousRecord
	for i := 0; i < 6; i++ {
		memo := fmt.Sprintf("FB000%d", i)
		rec = h.create(t, memo, "owner-f", "5")
		require.NoError(t, h.evaluator.RecordAttempt(ctx, "owner-f", memo, rec.CreatedAt))
	}
	tx := transfer("tx-held", rec.Memo, "5")

	first, err := h.processor.Process(ctx, rec, tx, models.WatcherMonitor)
	require.NoError(t, err)
	require.Equal(t, models.AuditFraudBlocked, first.Action)

	// Fresh history: scored now, the transfer would be clean.
	h.processor.fraud = fraud.NewEvaluator(fraud.Settings{SuspiciousThreshold: 0.5, ReviewThreshold: 0.25},
		fraud.NewMemoryHistory(0), address.NewNormalizer(nil, false), logging.Discard())

	for _, watcher := range []string{models.WatcherScanner, models.WatcherMonitor} {
		again, err := h.processor.Process(ctx, rec, tx, watcher)
		require.NoError(t, err)
		assert.Equal(t, models.AuditFraudBlocked, again.Action)
		assert.False(t, again.Notified)
	}

	item, err := h.repo.FindReviewByTx(ctx, models.ReviewFraud, "tx-held")
	require.NoError(t, err)
	require.NoError(t, h.repo.ResolveReviewItem(ctx, item.ID, models.ReviewRejected, "admin", "chargeback risk"))

	again, err := h.processor.Process(ctx, rec, tx, models.WatcherScanner)
	require.NoError(t, err)
	assert.Equal(t, models.AuditFraudBlocked, again.Action, "rejection keeps the hold")

	assert.Equal(t, models.RecordPending, h.status(t, rec.Memo))
	assert.Empty(t, h.notifier.OutcomesOf(models.OutcomeConfirmed))
	assert.Len(t, h.notifier.OutcomesOf(models.OutcomeContactSupport), 1)
	assert.Len(t, h.notifier.AlertsOf(models.AlertFraudSuspected), 1)

	// A different transfer for the same record is scored on its own.
	other, err := h.processor.Process(ctx, rec, transfer("tx-clean", rec.Memo, "5"), models.WatcherScanner)
	require.NoError(t, err)
	assert.Equal(t, models.AuditConfirmed, other.Action)
}

func TestProcess_ApprovedFraudItemIsNotHeld(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec := h.create(t, "AP0001", "owner-1", "5")

	_, err := h.repo.AddReviewItem(ctx, &models.ReviewItem{Kind: models.ReviewFraud, Memo: rec.Memo, TxHash: "tx-ok", OwnerID: "owner-1", Expected: rec.ExpectedAmount})
	require.NoError(t, err)
	item, err := h.repo.FindReviewByTx(ctx, models.ReviewFraud, "tx-ok")
	require.NoError(t, err)
	require.NoError(t, h.repo.ResolveReviewItem(ctx, item.ID, models.ReviewApproved, "admin", ""))

	result, err := h.processor.Process(ctx, rec, transfer("tx-ok", rec.Memo, "5"), models.WatcherScanner)
	require.NoError(t, err)
	assert.Equal(t, models.AuditConfirmed, result.Action)
}

func TestProcess_FlaggedButNotBlocked(t *testing.T) {
	h := newHarness(t)
	rec := h.create(t, "SM0001", "owner-1", "0.05")

	result, err := h.processor.Process(context.Background(), rec, transfer("tx-small", "SM0001", "0.05"), models.WatcherMonitor)
	require.NoError(t, err)

	assert.Equal(t, models.AuditConfirmed, result.Action)
	assert.True(t, result.Fraud.RequiresManualReview)
	assert.Len(t, h.notifier.AlertsOf(models.AlertFraudFlagged), 1)
}

func TestProcess_ExpiredRecordFilesUntrackedOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.create(t, "AB1234", "owner-1", "10")
	ok, err := h.repo.Expire(ctx, "AB1234")
	require.NoError(t, err)
	require.True(t, ok)

	rec, err := h.repo.Lookup(ctx, "AB1234")
	require.NoError(t, err)
	tx := transfer("tx-late", "AB1234", "10")

	first, err := h.processor.Process(ctx, rec, tx, models.WatcherScanner)
	require.NoError(t, err)
	assert.Equal(t, models.AuditUntracked, first.Action)
	assert.True(t, first.Notified)

	second, err := h.processor.Process(ctx, rec, tx, models.WatcherScanner)
	require.NoError(t, err)
	assert.False(t, second.Notified)

	assert.Equal(t, models.RecordExpired, h.status(t, "AB1234"))
	items, total, err := h.repo.ListUntracked(ctx, models.ReviewPending, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, models.UntrackedExpiredRecord, items[0].Reason)
	assert.Len(t, h.notifier.AlertsOf(models.AlertUntrackedPayment), 1)
	assert.Empty(t, h.notifier.OutcomesOf(models.OutcomeConfirmed))
}

func TestProcess_SecondTransferForConfirmedMemo(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec := h.create(t, "AB1234", "owner-1", "10")

	_, err := h.processor.Process(ctx, rec, transfer("tx-1", "AB1234", "10"), models.WatcherMonitor)
	require.NoError(t, err)

	// Stale snapshot: the registry rejects the swap and the transfer is kept.
	result, err := h.processor.Process(ctx, rec, transfer("tx-2", "AB1234", "10"), models.WatcherScanner)
	require.NoError(t, err)
	assert.Equal(t, models.AuditUntracked, result.Action)

	p, _, err := h.repo.ListUntracked(ctx, "", 1, 10)
	require.NoError(t, err)
	require.Len(t, p, 1)
	assert.Equal(t, models.UntrackedDuplicate, p[0].Reason)
	assert.Len(t, h.notifier.OutcomesOf(models.OutcomeConfirmed), 1)
}

func TestProcess_RecordExpiredDuringEvaluation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec := h.create(t, "AB1234", "owner-1", "10")
	_, err := h.repo.Expire(ctx, "AB1234")
	require.NoError(t, err)

	// rec still says pending.
	result, err := h.processor.Process(ctx, rec, transfer("tx-x", "AB1234", "10"), models.WatcherMonitor)
	require.NoError(t, err)

	assert.Equal(t, models.AuditUntracked, result.Action)
	assert.Equal(t, models.RecordExpired, h.status(t, "AB1234"))
}

func TestApprove(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec := h.create(t, "AB1234", "owner-1", "10")
	received := decimal.NewNullDecimal(decimal.RequireFromString("12"))

	require.NoError(t, h.processor.Approve(ctx, rec, "tx-over", received, models.WatcherAdmin))
	assert.Equal(t, models.RecordConfirmed, h.status(t, "AB1234"))
	assert.Len(t, h.notifier.OutcomesOf(models.OutcomeConfirmed), 1)

	err := h.processor.Approve(ctx, rec, "tx-over", received, models.WatcherAdmin)
	assert.ErrorIs(t, err, ErrNotPending)

	trail, err := h.repo.ListAudit(ctx, "AB1234")
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, models.AuditApproved, trail[0].Action)
}

func TestExpire_NotifiesOnlyWinner(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec := h.create(t, "AB1234", "owner-1", "10")

	ok, err := h.processor.Expire(ctx, rec, models.WatcherMonitor)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.processor.Expire(ctx, rec, models.WatcherScanner)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Len(t, h.notifier.OutcomesOf(models.OutcomeExpired), 1)
	assert.Equal(t, models.RecordExpired, h.status(t, "AB1234"))
}

func TestExpire_WaitsForOpenReview(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec := h.create(t, "AB1234", "owner-1", "10")

	result, err := h.processor.Process(ctx, rec, transfer("tx-over", "AB1234", "12"), models.WatcherMonitor)
	require.NoError(t, err)
	require.Equal(t, models.AuditManualReview, result.Action)

	expired, err := h.processor.Expire(ctx, rec, models.WatcherScanner)
	require.NoError(t, err)
	assert.False(t, expired)
	assert.Equal(t, models.RecordPending, h.status(t, "AB1234"))
	assert.Empty(t, h.notifier.OutcomesOf(models.OutcomeExpired))

	item, err := h.repo.FindPendingReview(ctx, models.ReviewOverpayment, "AB1234")
	require.NoError(t, err)
	require.NoError(t, h.repo.ResolveReviewItem(ctx, item.ID, models.ReviewRejected, "admin", "refund the excess"))

	expired, err = h.processor.Expire(ctx, rec, models.WatcherScanner)
	require.NoError(t, err)
	assert.True(t, expired, "a rejected review no longer holds the record")
	assert.Equal(t, models.RecordExpired, h.status(t, "AB1234"))
	assert.Len(t, h.notifier.OutcomesOf(models.OutcomeExpired), 1)
}

func TestExpire_ConfirmedRecordStaysConfirmed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec := h.create(t, "AB1234", "owner-1", "10")
	_, err := h.processor.Process(ctx, rec, transfer("tx-1", "AB1234", "10"), models.WatcherScanner)
	require.NoError(t, err)

	ok, err := h.processor.Expire(ctx, rec, models.WatcherMonitor)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, models.RecordConfirmed, h.status(t, "AB1234"))
	assert.Empty(t, h.notifier.OutcomesOf(models.OutcomeExpired))
}

func TestRefund_OnlyConfirmedAndOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec := h.create(t, "AB1234", "owner-1", "10")

	ok, err := h.processor.Refund(ctx, rec, models.WatcherAdmin, "chargeback")
	require.NoError(t, err)
	assert.False(t, ok, "pending records cannot be refunded")

	_, err = h.processor.Process(ctx, rec, transfer("tx-1", "AB1234", "10"), models.WatcherScanner)
	require.NoError(t, err)
	confirmed, err := h.repo.Lookup(ctx, "AB1234")
	require.NoError(t, err)

	ok, err = h.processor.Refund(ctx, confirmed, models.WatcherAdmin, "chargeback")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = h.processor.Refund(ctx, confirmed, models.WatcherAdmin, "chargeback")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, models.RecordRefunded, h.status(t, "AB1234"))
	assert.Len(t, h.notifier.OutcomesOf(models.OutcomeRefunded), 1)

	trail, err := h.repo.ListAudit(ctx, "AB1234")
	require.NoError(t, err)
	last := trail[len(trail)-1]
	assert.Equal(t, models.AuditRefunded, last.Action)
	assert.Equal(t, "tx-1", last.TxHash)
	assert.Equal(t, "chargeback", last.Detail)
}

func TestProcess_RetryBudgetFailsRequestOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec := h.create(t, "AB1234", "owner-1", "10")
	req := &models.PaymentRequest{
		OwnerID:    "owner-1",
		Amount:     decimal.RequireFromString("10"),
		Currency:   "TON",
		Method:     models.MethodTON,
		Memo:       "AB1234",
		ExpiresAt:  rec.ExpiresAt,
		MaxRetries: 2,
	}
	require.NoError(t, h.repo.CreateRequest(ctx, req))

	for i, value := range []string{"9", "8", "7"} {
		_, err := h.processor.Process(ctx, rec, transfer(fmt.Sprintf("tx-%d", i), "AB1234", value), models.WatcherMonitor)
		require.NoError(t, err)
	}

	stored, err := h.repo.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestFailed, stored.Status)
	assert.Equal(t, 2, stored.RetryCount)
	assert.Len(t, h.notifier.OutcomesOf(models.OutcomeFailed), 1)
	assert.Equal(t, models.RecordPending, h.status(t, "AB1234"))
}
