package repository

import (
	"context"
	"errors"
	"time"

	"github.com/i3lani/paywatch/payments/internal/models"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrDuplicateMemo     = errors.New("memo already in use by a non-expired record")
	ErrAlreadyResolved   = errors.New("item already resolved")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrTxAlreadyBound    = errors.New("transaction already confirmed another record")
)

// Registry is the Rendezvous Registry. Status leaves pending only through
// TryConfirm and Expire, both of which are single-row compare-and-swap updates.
type Registry interface {
	// Create persists a pending record. Fails with ErrDuplicateMemo while a
	// non-expired record holds the memo.
	Create(ctx context.Context, rec models.NewRecord) (*models.RendezvousRecord, error)

	// Lookup returns the non-expired record for memo, or the most recent
	// expired one. ErrNotFound when the memo was never issued.
	Lookup(ctx context.Context, memo string) (*models.RendezvousRecord, error)

	// TryConfirm moves the pending record for memo to confirmed and binds
	// txHash. Exactly one concurrent caller gets true. ErrTxAlreadyBound
	// when txHash already confirmed a different record.
	TryConfirm(ctx context.Context, memo, txHash string) (bool, error)

	// Expire moves the pending record for memo to expired. False when the
	// record is no longer pending.
	Expire(ctx context.Context, memo string) (bool, error)

	// Refund moves a confirmed record to refunded.
	Refund(ctx context.Context, memo string) (bool, error)

	// ListStalePending returns pending records whose deadline is before cutoff.
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*models.RendezvousRecord, error)
}

// PaymentRequests stores the Active Monitor's operational records.
type PaymentRequests interface {
	CreateRequest(ctx context.Context, req *models.PaymentRequest) error
	GetRequest(ctx context.Context, id string) (*models.PaymentRequest, error)
	// GetRequestByMemo returns the most recent request for memo.
	GetRequestByMemo(ctx context.Context, memo string) (*models.PaymentRequest, error)
	UpdateRequestStatus(ctx context.Context, id string, status models.RequestStatus) error
	// IncrementRetry bumps retry_count and returns the new value.
	IncrementRetry(ctx context.Context, id string) (int, error)
	// ListActiveRequests returns pending or processing requests of the
	// given method whose deadline is after now.
	ListActiveRequests(ctx context.Context, method models.PaymentMethod, now time.Time) ([]*models.PaymentRequest, error)
}

// UntrackedPayments stores funds that matched no record.
type UntrackedPayments interface {
	// RecordUntracked inserts p unless its tx hash is already recorded.
	// Returns true when a row was inserted.
	RecordUntracked(ctx context.Context, p *models.UntrackedPayment) (bool, error)
	GetUntracked(ctx context.Context, id int64) (*models.UntrackedPayment, error)
	ListUntracked(ctx context.Context, status models.ReviewStatus, page, limit int) ([]*models.UntrackedPayment, int, error)
	ResolveUntracked(ctx context.Context, id int64, resolvedBy, note string) error
}

// ReviewQueue stores ManualReview-flagged events.
type ReviewQueue interface {
	// AddReviewItem inserts item unless (kind, tx_hash) already exists.
	AddReviewItem(ctx context.Context, item *models.ReviewItem) (bool, error)
	GetReviewItem(ctx context.Context, id int64) (*models.ReviewItem, error)
	// FindPendingReview returns the oldest pending item of kind for memo.
	FindPendingReview(ctx context.Context, kind models.ReviewKind, memo string) (*models.ReviewItem, error)
	// FindReviewByTx returns the item of kind filed for txHash in any status.
	FindReviewByTx(ctx context.Context, kind models.ReviewKind, txHash string) (*models.ReviewItem, error)
	ListReviewItems(ctx context.Context, status models.ReviewStatus, page, limit int) ([]*models.ReviewItem, int, error)
	// ResolveReviewItem moves a pending item to status. ErrAlreadyResolved
	// when another resolver got there first.
	ResolveReviewItem(ctx context.Context, id int64, status models.ReviewStatus, resolvedBy, note string) error
}

// AuditStore is the append-only audit log.
type AuditStore interface {
	// AppendAudit inserts entry. For entries with a tx hash, a second
	// append of the same (memo, tx_hash, action) is ignored and returns false.
	AppendAudit(ctx context.Context, entry *models.AuditEntry) (bool, error)
	ListAudit(ctx context.Context, memo string) ([]*models.AuditEntry, error)
}

// Store combines every persistence concern of the payments service.
type Store interface {
	Registry
	PaymentRequests
	UntrackedPayments
	ReviewQueue
	AuditStore

	Ping(ctx context.Context) error
	Close() error
}
