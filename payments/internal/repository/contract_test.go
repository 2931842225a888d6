package repository

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i3lani/paywatch/payments/internal/models"
)

var (
	_ Store = (*MemoryRepository)(nil)
	_ Store = (*PostgresRepository)(nil)
)

// storeFactory returns an empty store for one subtest.
type storeFactory func(t *testing.T) Store

func newRecord(memo string) models.NewRecord {
	return models.NewRecord{
		Memo:           memo,
		OwnerID:        "owner-1",
		ExpectedAmount: decimal.RequireFromString("5"),
		Currency:       "TON",
		Metadata:       json.RawMessage(`{"channel":"news"}`),
		ExpiresAt:      time.Now().Add(30 * time.Minute),
	}
}

func runStoreContract(t *testing.T, newStore storeFactory) {
	t.Run("create and lookup", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		rec, err := s.Create(ctx, newRecord("AB1234"))
		require.NoError(t, err)
		assert.NotEmpty(t, rec.ID)
		assert.Equal(t, models.RecordPending, rec.Status)
		assert.Nil(t, rec.ConfirmedAt)

		got, err := s.Lookup(ctx, "AB1234")
		require.NoError(t, err)
		assert.Equal(t, rec.ID, got.ID)
		assert.Equal(t, "owner-1", got.OwnerID)
		assert.True(t, decimal.RequireFromString("5").Equal(got.ExpectedAmount))
		assert.JSONEq(t, `{"channel":"news"}`, string(got.Metadata))

		_, err = s.Lookup(ctx, "ZZ9999")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("duplicate memo until expired", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.Create(ctx, newRecord("AB1234"))
		require.NoError(t, err)
		_, err = s.Create(ctx, newRecord("AB1234"))
		assert.ErrorIs(t, err, ErrDuplicateMemo)

		ok, err := s.Expire(ctx, "AB1234")
		require.NoError(t, err)
		require.True(t, ok)

		again, err := s.Create(ctx, newRecord("AB1234"))
		require.NoError(t, err)

		got, err := s.Lookup(ctx, "AB1234")
		require.NoError(t, err)
		assert.Equal(t, again.ID, got.ID, "lookup prefers the live record")
		assert.Equal(t, models.RecordPending, got.Status)
	})

	t.Run("try confirm is single shot", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, err := s.Create(ctx, newRecord("AB1234"))
		require.NoError(t, err)

		ok, err := s.TryConfirm(ctx, "AB1234", "hash-1")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.TryConfirm(ctx, "AB1234", "hash-2")
		require.NoError(t, err)
		assert.False(t, ok)

		got, err := s.Lookup(ctx, "AB1234")
		require.NoError(t, err)
		assert.Equal(t, models.RecordConfirmed, got.Status)
		require.NotNil(t, got.ConfirmedAt)
		require.NotNil(t, got.ConfirmedTxHash)
		assert.Equal(t, "hash-1", *got.ConfirmedTxHash)

		ok, err = s.Expire(ctx, "AB1234")
		require.NoError(t, err)
		assert.False(t, ok, "expire is a no-op on confirmed records")

		ok, err = s.TryConfirm(ctx, "NOPE00", "hash-3")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("a transaction confirms one record", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, err := s.Create(ctx, newRecord("AB1234"))
		require.NoError(t, err)
		_, err = s.Create(ctx, newRecord("CD5678"))
		require.NoError(t, err)

		ok, err := s.TryConfirm(ctx, "AB1234", "credits:ch_1")
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = s.TryConfirm(ctx, "CD5678", "credits:ch_1")
		assert.ErrorIs(t, err, ErrTxAlreadyBound)
		assert.False(t, ok)

		got, err := s.Lookup(ctx, "CD5678")
		require.NoError(t, err)
		assert.Equal(t, models.RecordPending, got.Status)
	})

	t.Run("concurrent try confirm", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, err := s.Create(ctx, newRecord("CD5678"))
		require.NoError(t, err)

		const callers = 16
		var wins atomic.Int32
		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				ok, err := s.TryConfirm(ctx, "CD5678", "hash-race")
				assert.NoError(t, err)
				if ok {
					wins.Add(1)
				}
			}()
		}
		close(start)
		wg.Wait()

		assert.Equal(t, int32(1), wins.Load())
	})

	t.Run("confirm races expire", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, err := s.Create(ctx, newRecord("EF9012"))
		require.NoError(t, err)

		var confirmed, expired bool
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			confirmed, _ = s.TryConfirm(ctx, "EF9012", "hash-x")
		}()
		go func() {
			defer wg.Done()
			expired, _ = s.Expire(ctx, "EF9012")
		}()
		wg.Wait()

		assert.NotEqual(t, confirmed, expired, "exactly one transition wins")
	})

	t.Run("refund", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, err := s.Create(ctx, newRecord("GH3456"))
		require.NoError(t, err)

		ok, err := s.Refund(ctx, "GH3456")
		require.NoError(t, err)
		assert.False(t, ok, "pending records cannot be refunded")

		_, err = s.TryConfirm(ctx, "GH3456", "hash-r")
		require.NoError(t, err)
		ok, err = s.Refund(ctx, "GH3456")
		require.NoError(t, err)
		assert.True(t, ok)

		got, err := s.Lookup(ctx, "GH3456")
		require.NoError(t, err)
		assert.Equal(t, models.RecordRefunded, got.Status)

		ok, err = s.TryConfirm(ctx, "GH3456", "hash-r2")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("stale pending", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		old := newRecord("OL0001")
		old.ExpiresAt = time.Now().Add(-time.Hour)
		_, err := s.Create(ctx, old)
		require.NoError(t, err)
		_, err = s.Create(ctx, newRecord("NW0001"))
		require.NoError(t, err)

		stale, err := s.ListStalePending(ctx, time.Now(), 10)
		require.NoError(t, err)
		require.Len(t, stale, 1)
		assert.Equal(t, "OL0001", stale[0].Memo)
	})

	t.Run("payment requests", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		req := &models.PaymentRequest{
			OwnerID:    "owner-1",
			Amount:     decimal.RequireFromString("5"),
			Currency:   "TON",
			Method:     models.MethodTON,
			Memo:       "AB1234",
			ExpiresAt:  time.Now().Add(time.Hour),
			MaxRetries: 3,
		}
		require.NoError(t, s.CreateRequest(ctx, req))
		assert.NotEmpty(t, req.ID)
		assert.Equal(t, models.RequestPending, req.Status)

		credit := &models.PaymentRequest{
			OwnerID:   "owner-2",
			Amount:    decimal.RequireFromString("1"),
			Currency:  "XTR",
			Method:    models.MethodCredits,
			Memo:      "CR0001",
			ExpiresAt: time.Now().Add(time.Hour),
		}
		require.NoError(t, s.CreateRequest(ctx, credit))

		got, err := s.GetRequestByMemo(ctx, "AB1234")
		require.NoError(t, err)
		assert.Equal(t, req.ID, got.ID)

		n, err := s.IncrementRetry(ctx, req.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		active, err := s.ListActiveRequests(ctx, models.MethodTON, time.Now())
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, req.ID, active[0].ID)

		require.NoError(t, s.UpdateRequestStatus(ctx, req.ID, models.RequestFailed))
		active, err = s.ListActiveRequests(ctx, models.MethodTON, time.Now())
		require.NoError(t, err)
		assert.Empty(t, active)

		assert.ErrorIs(t, s.UpdateRequestStatus(ctx, "018f0000-0000-7000-8000-000000000000", models.RequestFailed), ErrNotFound)
		_, err = s.GetRequest(ctx, "018f0000-0000-7000-8000-000000000000")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("untracked payments", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		p := &models.UntrackedPayment{
			Memo:       "ZZ0000",
			Amount:     decimal.NewNullDecimal(decimal.RequireFromString("3")),
			Sender:     "EQsender",
			TxHash:     "tx-untracked",
			Reason:     models.UntrackedNoRecord,
			ObservedAt: time.Now(),
		}
		inserted, err := s.RecordUntracked(ctx, p)
		require.NoError(t, err)
		assert.True(t, inserted)
		assert.NotZero(t, p.ID)

		dup := *p
		inserted, err = s.RecordUntracked(ctx, &dup)
		require.NoError(t, err)
		assert.False(t, inserted)

		noAmount := &models.UntrackedPayment{Memo: "ZZ0001", TxHash: "tx-2", Reason: models.UntrackedExpiredRecord, ObservedAt: time.Now()}
		_, err = s.RecordUntracked(ctx, noAmount)
		require.NoError(t, err)

		items, total, err := s.ListUntracked(ctx, models.ReviewPending, 1, 10)
		require.NoError(t, err)
		assert.Equal(t, 2, total)
		require.Len(t, items, 2)
		assert.False(t, items[0].Amount.Valid)

		require.NoError(t, s.ResolveUntracked(ctx, p.ID, "admin", "refunded manually"))
		assert.ErrorIs(t, s.ResolveUntracked(ctx, p.ID, "admin", ""), ErrAlreadyResolved)
		assert.ErrorIs(t, s.ResolveUntracked(ctx, 9999, "admin", ""), ErrNotFound)

		got, err := s.GetUntracked(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ReviewResolved, got.ReviewStatus)
		require.NotNil(t, got.Note)
		assert.Equal(t, "refunded manually", *got.Note)
	})

	t.Run("review queue", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		item := &models.ReviewItem{
			Kind:     models.ReviewOverpayment,
			Memo:     "AB1234",
			TxHash:   "tx-over",
			OwnerID:  "owner-1",
			Amount:   decimal.NewNullDecimal(decimal.RequireFromString("6")),
			Expected: decimal.RequireFromString("5"),
			Details:  json.RawMessage(`{"reason":"excess"}`),
		}
		inserted, err := s.AddReviewItem(ctx, item)
		require.NoError(t, err)
		assert.True(t, inserted)

		dup := *item
		inserted, err = s.AddReviewItem(ctx, &dup)
		require.NoError(t, err)
		assert.False(t, inserted)

		found, err := s.FindPendingReview(ctx, models.ReviewOverpayment, "AB1234")
		require.NoError(t, err)
		assert.Equal(t, item.ID, found.ID)

		byTx, err := s.FindReviewByTx(ctx, models.ReviewOverpayment, "tx-over")
		require.NoError(t, err)
		assert.Equal(t, item.ID, byTx.ID)
		_, err = s.FindReviewByTx(ctx, models.ReviewFraud, "tx-over")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.True(t, decimal.RequireFromString("5").Equal(found.Expected))

		assert.ErrorIs(t, s.ResolveReviewItem(ctx, item.ID, models.ReviewPending, "admin", ""), ErrInvalidTransition)
		require.NoError(t, s.ResolveReviewItem(ctx, item.ID, models.ReviewApproved, "admin", "ok"))
		assert.ErrorIs(t, s.ResolveReviewItem(ctx, item.ID, models.ReviewRejected, "admin", ""), ErrAlreadyResolved)

		_, err = s.FindPendingReview(ctx, models.ReviewOverpayment, "AB1234")
		assert.ErrorIs(t, err, ErrNotFound)

		resolved, err := s.FindReviewByTx(ctx, models.ReviewOverpayment, "tx-over")
		require.NoError(t, err)
		assert.Equal(t, models.ReviewApproved, resolved.Status, "found in any status")

		items, total, err := s.ListReviewItems(ctx, "", 1, 10)
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		assert.Equal(t, models.ReviewApproved, items[0].Status)
	})

	t.Run("audit log dedupes outcomes", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		entry := &models.AuditEntry{
			Memo:    "AB1234",
			TxHash:  "tx-1",
			Action:  models.AuditRejected,
			Watcher: models.WatcherMonitor,
			Validation: &models.ValidationResult{
				Status:     models.ValidationUnderpayment,
				Difference: decimal.RequireFromString("-0.5"),
				Action:     models.ActionReject,
				Reason:     "short",
			},
			Fraud: &models.FraudAnalysis{RiskScore: 0.1, RiskFactors: []string{}},
		}
		inserted, err := s.AppendAudit(ctx, entry)
		require.NoError(t, err)
		assert.True(t, inserted)

		again := *entry
		again.Watcher = models.WatcherScanner
		inserted, err = s.AppendAudit(ctx, &again)
		require.NoError(t, err)
		assert.False(t, inserted, "second watcher must not re-notify")

		for i := 0; i < 2; i++ {
			inserted, err = s.AppendAudit(ctx, &models.AuditEntry{Memo: "AB1234", Action: models.AuditExpired, Watcher: models.WatcherMonitor})
			require.NoError(t, err)
			assert.True(t, inserted, "entries without tx hash always append")
		}

		entries, err := s.ListAudit(ctx, "AB1234")
		require.NoError(t, err)
		require.Len(t, entries, 3)
		require.NotNil(t, entries[0].Validation)
		assert.Equal(t, models.ValidationUnderpayment, entries[0].Validation.Status)
		assert.True(t, decimal.RequireFromString("-0.5").Equal(entries[0].Validation.Difference))
	})
}

func TestMemoryRepository(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		return NewMemoryRepository()
	})
}

func TestPaginate(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	assert.Equal(t, []int{1, 2}, paginate(items, 1, 2))
	assert.Equal(t, []int{5}, paginate(items, 3, 2))
	assert.Equal(t, []int{}, paginate(items, 4, 2))
	assert.Equal(t, items, paginate(items, 1, 0))
}
