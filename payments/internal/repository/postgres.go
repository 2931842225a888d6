package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/i3lani/paywatch/common/database"
	"github.com/i3lani/paywatch/payments/internal/models"
)

const (
	activeMemoIndex  = "rendezvous_active_memo_idx"
	confirmedTxIndex = "rendezvous_confirmed_tx_idx"
)

// PostgresRepository implements Store using PostgreSQL
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(ctx context.Context, connString string, opts database.PostgresOptions) (*PostgresRepository, error) {
	pool, err := database.NewPool(ctx, connString, opts)
	if err != nil {
		return nil, err
	}
	return &PostgresRepository{pool: pool}, nil
}

// NewPostgresRepositoryFromPool wraps an existing pool.
func NewPostgresRepositoryFromPool(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Ping checks database connectivity
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close closes the database connection pool
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// =============================================================================
// Registry
// =============================================================================

const recordColumns = `
	id, memo, owner_id, expected_amount::text, currency, metadata::text,
	status, created_at, expires_at, confirmed_at, confirmed_tx_hash`

func scanRecord(row pgx.Row) (*models.RendezvousRecord, error) {
	rec := &models.RendezvousRecord{}
	var amount string
	var metadata *string
	if err := row.Scan(
		&rec.ID, &rec.Memo, &rec.OwnerID, &amount, &rec.Currency, &metadata,
		&rec.Status, &rec.CreatedAt, &rec.ExpiresAt, &rec.ConfirmedAt, &rec.ConfirmedTxHash,
	); err != nil {
		return nil, err
	}

	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid expected_amount %q: %w", amount, err)
	}
	rec.ExpectedAmount = d
	if metadata != nil {
		rec.Metadata = json.RawMessage(*metadata)
	}
	return rec, nil
}

// Create inserts a pending record.
func (r *PostgresRepository) Create(ctx context.Context, nr models.NewRecord) (*models.RendezvousRecord, error) {
	ctx, cancel := database.WriteContext(ctx)
	defer cancel()

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate record id: %w", err)
	}

	var metadata any
	if len(nr.Metadata) > 0 {
		metadata = string(nr.Metadata)
	}

	query := `
		INSERT INTO rendezvous_records (id, memo, owner_id, expected_amount, currency, metadata, status, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, 'pending', $7)
		RETURNING ` + recordColumns

	rec, err := scanRecord(r.pool.QueryRow(ctx, query,
		id.String(), nr.Memo, nr.OwnerID, nr.ExpectedAmount.String(), nr.Currency, metadata, nr.ExpiresAt,
	))
	if err != nil {
		if database.IsUniqueViolation(err, activeMemoIndex) {
			return nil, ErrDuplicateMemo
		}
		return nil, fmt.Errorf("failed to create record: %w", err)
	}
	return rec, nil
}

// Lookup returns the live record for memo, else the latest expired one.
func (r *PostgresRepository) Lookup(ctx context.Context, memo string) (*models.RendezvousRecord, error) {
	ctx, cancel := database.LookupContext(ctx)
	defer cancel()

	query := `SELECT ` + recordColumns + `
		FROM rendezvous_records
		WHERE memo = $1
		ORDER BY (status <> 'expired') DESC, created_at DESC
		LIMIT 1`

	rec, err := scanRecord(r.pool.QueryRow(ctx, query, memo))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to lookup record: %w", err)
	}
	return rec, nil
}

// TryConfirm is a conditional update from pending to confirmed.
func (r *PostgresRepository) TryConfirm(ctx context.Context, memo, txHash string) (bool, error) {
	ctx, cancel := database.TransitionContext(ctx)
	defer cancel()

	tag, err := r.pool.Exec(ctx, `
		UPDATE rendezvous_records
		SET status = 'confirmed', confirmed_at = NOW(), confirmed_tx_hash = $2
		WHERE memo = $1 AND status = 'pending'
	`, memo, txHash)
	if err != nil {
		if database.IsUniqueViolation(err, confirmedTxIndex) {
			return false, fmt.Errorf("confirm %s with %s: %w", memo, txHash, ErrTxAlreadyBound)
		}
		return false, fmt.Errorf("failed to confirm record: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Expire is a conditional update from pending to expired.
func (r *PostgresRepository) Expire(ctx context.Context, memo string) (bool, error) {
	ctx, cancel := database.TransitionContext(ctx)
	defer cancel()

	tag, err := r.pool.Exec(ctx, `
		UPDATE rendezvous_records
		SET status = 'expired'
		WHERE memo = $1 AND status = 'pending'
	`, memo)
	if err != nil {
		return false, fmt.Errorf("failed to expire record: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Refund is a conditional update from confirmed to refunded.
func (r *PostgresRepository) Refund(ctx context.Context, memo string) (bool, error) {
	ctx, cancel := database.TransitionContext(ctx)
	defer cancel()

	tag, err := r.pool.Exec(ctx, `
		UPDATE rendezvous_records
		SET status = 'refunded', refunded_at = NOW()
		WHERE memo = $1 AND status = 'confirmed'
	`, memo)
	if err != nil {
		return false, fmt.Errorf("failed to refund record: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListStalePending returns pending records past cutoff, oldest first.
func (r *PostgresRepository) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*models.RendezvousRecord, error) {
	ctx, cancel := database.SweepContext(ctx, limit)
	defer cancel()

	rows, err := r.pool.Query(ctx, `SELECT `+recordColumns+`
		FROM rendezvous_records
		WHERE status = 'pending' AND expires_at < $1
		ORDER BY expires_at
		LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale records: %w", err)
	}
	defer rows.Close()

	records := []*models.RendezvousRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return records, nil
}

// =============================================================================
// Payment Requests
// =============================================================================

const requestColumns = `
	id, owner_id, amount::text, currency, method, memo, recipient_address,
	created_at, expires_at, status, retry_count, max_retries`

func scanRequest(row pgx.Row) (*models.PaymentRequest, error) {
	req := &models.PaymentRequest{}
	var amount string
	if err := row.Scan(
		&req.ID, &req.OwnerID, &amount, &req.Currency, &req.Method, &req.Memo, &req.RecipientAddress,
		&req.CreatedAt, &req.ExpiresAt, &req.Status, &req.RetryCount, &req.MaxRetries,
	); err != nil {
		return nil, err
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	req.Amount = d
	return req, nil
}

// CreateRequest inserts a payment request. A missing ID gets a UUID v7.
func (r *PostgresRepository) CreateRequest(ctx context.Context, req *models.PaymentRequest) error {
	ctx, cancel := database.WriteContext(ctx)
	defer cancel()

	if req.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate request id: %w", err)
		}
		req.ID = id.String()
	}
	if req.Status == "" {
		req.Status = models.RequestPending
	}

	err := r.pool.QueryRow(ctx, `
		INSERT INTO payment_requests
			(id, owner_id, amount, currency, method, memo, recipient_address, expires_at, status, retry_count, max_retries)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at
	`, req.ID, req.OwnerID, req.Amount.String(), req.Currency, req.Method, req.Memo, req.RecipientAddress,
		req.ExpiresAt, req.Status, req.RetryCount, req.MaxRetries,
	).Scan(&req.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create payment request: %w", err)
	}
	return nil
}

// GetRequest retrieves a payment request by ID.
func (r *PostgresRepository) GetRequest(ctx context.Context, id string) (*models.PaymentRequest, error) {
	ctx, cancel := database.LookupContext(ctx)
	defer cancel()

	req, err := scanRequest(r.pool.QueryRow(ctx, `SELECT `+requestColumns+` FROM payment_requests WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get payment request: %w", err)
	}
	return req, nil
}

// GetRequestByMemo retrieves the latest payment request for memo.
func (r *PostgresRepository) GetRequestByMemo(ctx context.Context, memo string) (*models.PaymentRequest, error) {
	ctx, cancel := database.LookupContext(ctx)
	defer cancel()

	req, err := scanRequest(r.pool.QueryRow(ctx, `SELECT `+requestColumns+`
		FROM payment_requests WHERE memo = $1
		ORDER BY created_at DESC LIMIT 1`, memo))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get payment request: %w", err)
	}
	return req, nil
}

// UpdateRequestStatus sets the status of a payment request.
func (r *PostgresRepository) UpdateRequestStatus(ctx context.Context, id string, status models.RequestStatus) error {
	ctx, cancel := database.TransitionContext(ctx)
	defer cancel()

	tag, err := r.pool.Exec(ctx, `
		UPDATE payment_requests SET status = $2, updated_at = NOW() WHERE id = $1
	`, id, status)
	if err != nil {
		return fmt.Errorf("failed to update payment request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementRetry bumps retry_count.
func (r *PostgresRepository) IncrementRetry(ctx context.Context, id string) (int, error) {
	ctx, cancel := database.WriteContext(ctx)
	defer cancel()

	var count int
	err := r.pool.QueryRow(ctx, `
		UPDATE payment_requests SET retry_count = retry_count + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING retry_count
	`, id).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("failed to increment retry count: %w", err)
	}
	return count, nil
}

// ListActiveRequests returns requests an Active Monitor should be watching.
func (r *PostgresRepository) ListActiveRequests(ctx context.Context, method models.PaymentMethod, now time.Time) ([]*models.PaymentRequest, error) {
	ctx, cancel := database.SweepContext(ctx, 0)
	defer cancel()

	rows, err := r.pool.Query(ctx, `SELECT `+requestColumns+`
		FROM payment_requests
		WHERE status IN ('pending', 'processing') AND method = $1 AND expires_at > $2
		ORDER BY created_at`, method, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list active requests: %w", err)
	}
	defer rows.Close()

	requests := []*models.PaymentRequest{}
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment request: %w", err)
		}
		requests = append(requests, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return requests, nil
}

// =============================================================================
// Untracked Payments
// =============================================================================

const untrackedColumns = `
	id, memo, amount::text, sender, tx_hash, source_provider, reason, observed_at,
	review_status, created_at, resolved_at, resolved_by, note`

func scanUntracked(row pgx.Row) (*models.UntrackedPayment, error) {
	p := &models.UntrackedPayment{}
	var amount *string
	if err := row.Scan(
		&p.ID, &p.Memo, &amount, &p.Sender, &p.TxHash, &p.SourceProvider, &p.Reason, &p.ObservedAt,
		&p.ReviewStatus, &p.CreatedAt, &p.ResolvedAt, &p.ResolvedBy, &p.Note,
	); err != nil {
		return nil, err
	}
	nd, err := nullDecimal(amount)
	if err != nil {
		return nil, err
	}
	p.Amount = nd
	return p, nil
}

// RecordUntracked inserts p, ignoring a tx hash that is already recorded.
func (r *PostgresRepository) RecordUntracked(ctx context.Context, p *models.UntrackedPayment) (bool, error) {
	ctx, cancel := database.WriteContext(ctx)
	defer cancel()

	err := r.pool.QueryRow(ctx, `
		INSERT INTO untracked_payments (memo, amount, sender, tx_hash, source_provider, reason, observed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tx_hash) DO NOTHING
		RETURNING id, review_status, created_at
	`, p.Memo, nullDecimalArg(p.Amount), p.Sender, p.TxHash, p.SourceProvider, p.Reason, p.ObservedAt,
	).Scan(&p.ID, &p.ReviewStatus, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to record untracked payment: %w", err)
	}
	return true, nil
}

// GetUntracked retrieves an untracked payment by ID.
func (r *PostgresRepository) GetUntracked(ctx context.Context, id int64) (*models.UntrackedPayment, error) {
	ctx, cancel := database.LookupContext(ctx)
	defer cancel()

	p, err := scanUntracked(r.pool.QueryRow(ctx, `SELECT `+untrackedColumns+` FROM untracked_payments WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get untracked payment: %w", err)
	}
	return p, nil
}

// ListUntracked retrieves a paginated list, newest first. An empty status lists all.
func (r *PostgresRepository) ListUntracked(ctx context.Context, status models.ReviewStatus, page, limit int) ([]*models.UntrackedPayment, int, error) {
	ctx, cancel := database.SweepContext(ctx, limit)
	defer cancel()

	var total int
	if err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM untracked_payments WHERE ($1 = '' OR review_status = $1)
	`, string(status)).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count untracked payments: %w", err)
	}

	rows, err := r.pool.Query(ctx, `SELECT `+untrackedColumns+`
		FROM untracked_payments
		WHERE ($1 = '' OR review_status = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`, string(status), limit, (page-1)*limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list untracked payments: %w", err)
	}
	defer rows.Close()

	items := []*models.UntrackedPayment{}
	for rows.Next() {
		p, err := scanUntracked(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan untracked payment: %w", err)
		}
		items = append(items, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("row iteration error: %w", err)
	}
	return items, total, nil
}

// ResolveUntracked closes a pending untracked payment.
func (r *PostgresRepository) ResolveUntracked(ctx context.Context, id int64, resolvedBy, note string) error {
	ctx, cancel := database.TransitionContext(ctx)
	defer cancel()

	tag, err := r.pool.Exec(ctx, `
		UPDATE untracked_payments
		SET review_status = 'resolved', resolved_at = NOW(), resolved_by = $2, note = NULLIF($3, '')
		WHERE id = $1 AND review_status = 'pending_review'
	`, id, resolvedBy, note)
	if err != nil {
		return fmt.Errorf("failed to resolve untracked payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetUntracked(ctx, id); err != nil {
			return err
		}
		return ErrAlreadyResolved
	}
	return nil
}

// =============================================================================
// Review Queue
// =============================================================================

const reviewColumns = `
	id, kind, memo, tx_hash, owner_id, amount::text, expected::text, details::text,
	status, created_at, resolved_at, resolved_by, note`

func scanReview(row pgx.Row) (*models.ReviewItem, error) {
	item := &models.ReviewItem{}
	var amount, details *string
	var expected string
	if err := row.Scan(
		&item.ID, &item.Kind, &item.Memo, &item.TxHash, &item.OwnerID, &amount, &expected, &details,
		&item.Status, &item.CreatedAt, &item.ResolvedAt, &item.ResolvedBy, &item.Note,
	); err != nil {
		return nil, err
	}
	nd, err := nullDecimal(amount)
	if err != nil {
		return nil, err
	}
	item.Amount = nd
	if item.Expected, err = decimal.NewFromString(expected); err != nil {
		return nil, fmt.Errorf("invalid expected %q: %w", expected, err)
	}
	if details != nil {
		item.Details = json.RawMessage(*details)
	}
	return item, nil
}

// AddReviewItem inserts item unless (kind, tx_hash) already exists.
func (r *PostgresRepository) AddReviewItem(ctx context.Context, item *models.ReviewItem) (bool, error) {
	ctx, cancel := database.WriteContext(ctx)
	defer cancel()

	var details any
	if len(item.Details) > 0 {
		details = string(item.Details)
	}

	err := r.pool.QueryRow(ctx, `
		INSERT INTO review_items (kind, memo, tx_hash, owner_id, amount, expected, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb)
		ON CONFLICT (kind, tx_hash) DO NOTHING
		RETURNING id, status, created_at
	`, item.Kind, item.Memo, item.TxHash, item.OwnerID, nullDecimalArg(item.Amount), item.Expected.String(), details,
	).Scan(&item.ID, &item.Status, &item.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to add review item: %w", err)
	}
	return true, nil
}

// GetReviewItem retrieves a review item by ID.
func (r *PostgresRepository) GetReviewItem(ctx context.Context, id int64) (*models.ReviewItem, error) {
	ctx, cancel := database.LookupContext(ctx)
	defer cancel()

	item, err := scanReview(r.pool.QueryRow(ctx, `SELECT `+reviewColumns+` FROM review_items WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get review item: %w", err)
	}
	return item, nil
}

// FindPendingReview returns the oldest pending item of kind for memo.
func (r *PostgresRepository) FindPendingReview(ctx context.Context, kind models.ReviewKind, memo string) (*models.ReviewItem, error) {
	ctx, cancel := database.LookupContext(ctx)
	defer cancel()

	item, err := scanReview(r.pool.QueryRow(ctx, `SELECT `+reviewColumns+`
		FROM review_items
		WHERE kind = $1 AND memo = $2 AND status = 'pending_review'
		ORDER BY created_at, id
		LIMIT 1`, kind, memo))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find review item: %w", err)
	}
	return item, nil
}

// FindReviewByTx returns the item of kind filed for txHash in any status.
func (r *PostgresRepository) FindReviewByTx(ctx context.Context, kind models.ReviewKind, txHash string) (*models.ReviewItem, error) {
	ctx, cancel := database.LookupContext(ctx)
	defer cancel()

	item, err := scanReview(r.pool.QueryRow(ctx, `SELECT `+reviewColumns+`
		FROM review_items
		WHERE kind = $1 AND tx_hash = $2`, kind, txHash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find review item: %w", err)
	}
	return item, nil
}

// ListReviewItems retrieves a paginated list, newest first. An empty status lists all.
func (r *PostgresRepository) ListReviewItems(ctx context.Context, status models.ReviewStatus, page, limit int) ([]*models.ReviewItem, int, error) {
	ctx, cancel := database.SweepContext(ctx, limit)
	defer cancel()

	var total int
	if err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM review_items WHERE ($1 = '' OR status = $1)
	`, string(status)).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count review items: %w", err)
	}

	rows, err := r.pool.Query(ctx, `SELECT `+reviewColumns+`
		FROM review_items
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`, string(status), limit, (page-1)*limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list review items: %w", err)
	}
	defer rows.Close()

	items := []*models.ReviewItem{}
	for rows.Next() {
		item, err := scanReview(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan review item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("row iteration error: %w", err)
	}
	return items, total, nil
}

// ResolveReviewItem moves a pending item to status.
func (r *PostgresRepository) ResolveReviewItem(ctx context.Context, id int64, status models.ReviewStatus, resolvedBy, note string) error {
	if status != models.ReviewApproved && status != models.ReviewRejected {
		return ErrInvalidTransition
	}

	ctx, cancel := database.TransitionContext(ctx)
	defer cancel()

	tag, err := r.pool.Exec(ctx, `
		UPDATE review_items
		SET status = $2, resolved_at = NOW(), resolved_by = $3, note = NULLIF($4, '')
		WHERE id = $1 AND status = 'pending_review'
	`, id, status, resolvedBy, note)
	if err != nil {
		return fmt.Errorf("failed to resolve review item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetReviewItem(ctx, id); err != nil {
			return err
		}
		return ErrAlreadyResolved
	}
	return nil
}

// =============================================================================
// Audit Log
// =============================================================================

// AppendAudit inserts entry, ignoring a repeated (memo, tx_hash, action).
func (r *PostgresRepository) AppendAudit(ctx context.Context, entry *models.AuditEntry) (bool, error) {
	ctx, cancel := database.WriteContext(ctx)
	defer cancel()

	validation, err := jsonArg(entry.Validation)
	if err != nil {
		return false, err
	}
	fraud, err := jsonArg(entry.Fraud)
	if err != nil {
		return false, err
	}

	err = r.pool.QueryRow(ctx, `
		INSERT INTO audit_log (memo, tx_hash, action, watcher, validation, fraud, detail)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6::jsonb, $7)
		ON CONFLICT (memo, tx_hash, action) WHERE tx_hash <> '' DO NOTHING
		RETURNING id, created_at
	`, entry.Memo, entry.TxHash, entry.Action, entry.Watcher, validation, fraud, entry.Detail,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to append audit entry: %w", err)
	}
	return true, nil
}

// ListAudit returns the audit trail of memo in insertion order.
func (r *PostgresRepository) ListAudit(ctx context.Context, memo string) ([]*models.AuditEntry, error) {
	ctx, cancel := database.LookupContext(ctx)
	defer cancel()

	rows, err := r.pool.Query(ctx, `
		SELECT id, memo, tx_hash, action, watcher, validation::text, fraud::text, detail, created_at
		FROM audit_log WHERE memo = $1
		ORDER BY created_at, id
	`, memo)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	entries := []*models.AuditEntry{}
	for rows.Next() {
		e := &models.AuditEntry{}
		var validation, fraud *string
		if err := rows.Scan(&e.ID, &e.Memo, &e.TxHash, &e.Action, &e.Watcher, &validation, &fraud, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if validation != nil {
			e.Validation = &models.ValidationResult{}
			if err := json.Unmarshal([]byte(*validation), e.Validation); err != nil {
				return nil, fmt.Errorf("invalid validation payload: %w", err)
			}
		}
		if fraud != nil {
			e.Fraud = &models.FraudAnalysis{}
			if err := json.Unmarshal([]byte(*fraud), e.Fraud); err != nil {
				return nil, fmt.Errorf("invalid fraud payload: %w", err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return entries, nil
}

// =============================================================================
// Helpers
// =============================================================================

func nullDecimal(s *string) (decimal.NullDecimal, error) {
	if s == nil {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("invalid numeric %q: %w", *s, err)
	}
	return decimal.NewNullDecimal(d), nil
}

func nullDecimalArg(d decimal.NullDecimal) any {
	if !d.Valid {
		return nil
	}
	return d.Decimal.String()
}

// jsonArg marshals v for a jsonb parameter; nil pointers become NULL.
func jsonArg[T any](v *T) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode audit payload: %w", err)
	}
	return string(b), nil
}
