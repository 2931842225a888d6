package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/i3lani/paywatch/payments/internal/models"
)

// MemoryRepository implements Store in memory. All state is lost on restart.
type MemoryRepository struct {
	mu sync.Mutex

	// records holds every record per memo in creation order; at most the
	// last one is non-expired.
	records   map[string][]*models.RendezvousRecord
	requests  map[string]*models.PaymentRequest
	untracked []*models.UntrackedPayment
	reviews   []*models.ReviewItem
	audit     []*models.AuditEntry

	nextUntracked int64
	nextReview    int64
	nextAudit     int64

	now func() time.Time
}

// NewMemoryRepository creates an empty in-memory store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		records:  make(map[string][]*models.RendezvousRecord),
		requests: make(map[string]*models.PaymentRequest),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the clock used for timestamps.
func (r *MemoryRepository) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

func (r *MemoryRepository) Ping(ctx context.Context) error { return nil }

func (r *MemoryRepository) Close() error { return nil }

// =============================================================================
// Registry
// =============================================================================

func (r *MemoryRepository) live(memo string) *models.RendezvousRecord {
	recs := r.records[memo]
	if len(recs) == 0 {
		return nil
	}
	last := recs[len(recs)-1]
	if last.Status == models.RecordExpired {
		return nil
	}
	return last
}

func copyRecord(rec *models.RendezvousRecord) *models.RendezvousRecord {
	c := *rec
	if rec.ConfirmedAt != nil {
		t := *rec.ConfirmedAt
		c.ConfirmedAt = &t
	}
	if rec.ConfirmedTxHash != nil {
		h := *rec.ConfirmedTxHash
		c.ConfirmedTxHash = &h
	}
	c.Metadata = append([]byte(nil), rec.Metadata...)
	return &c
}

func (r *MemoryRepository) Create(ctx context.Context, nr models.NewRecord) (*models.RendezvousRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.live(nr.Memo) != nil {
		return nil, ErrDuplicateMemo
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}
	rec := &models.RendezvousRecord{
		ID:             id.String(),
		Memo:           nr.Memo,
		OwnerID:        nr.OwnerID,
		ExpectedAmount: nr.ExpectedAmount,
		Currency:       nr.Currency,
		Metadata:       append([]byte(nil), nr.Metadata...),
		Status:         models.RecordPending,
		CreatedAt:      r.now(),
		ExpiresAt:      nr.ExpiresAt,
	}
	r.records[nr.Memo] = append(r.records[nr.Memo], rec)
	return copyRecord(rec), nil
}

func (r *MemoryRepository) Lookup(ctx context.Context, memo string) (*models.RendezvousRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	recs := r.records[memo]
	if len(recs) == 0 {
		return nil, ErrNotFound
	}
	return copyRecord(recs[len(recs)-1]), nil
}

func (r *MemoryRepository) TryConfirm(ctx context.Context, memo, txHash string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := r.live(memo)
	if rec == nil || rec.Status != models.RecordPending {
		return false, nil
	}
	for _, recs := range r.records {
		for _, other := range recs {
			if other.ConfirmedTxHash != nil && *other.ConfirmedTxHash == txHash {
				return false, ErrTxAlreadyBound
			}
		}
	}
	now := r.now()
	rec.Status = models.RecordConfirmed
	rec.ConfirmedAt = &now
	rec.ConfirmedTxHash = &txHash
	return true, nil
}

func (r *MemoryRepository) Expire(ctx context.Context, memo string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := r.live(memo)
	if rec == nil || rec.Status != models.RecordPending {
		return false, nil
	}
	rec.Status = models.RecordExpired
	return true, nil
}

func (r *MemoryRepository) Refund(ctx context.Context, memo string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := r.live(memo)
	if rec == nil || rec.Status != models.RecordConfirmed {
		return false, nil
	}
	rec.Status = models.RecordRefunded
	return true, nil
}

func (r *MemoryRepository) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*models.RendezvousRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := []*models.RendezvousRecord{}
	for memo := range r.records {
		rec := r.live(memo)
		if rec != nil && rec.Status == models.RecordPending && rec.ExpiresAt.Before(cutoff) {
			out = append(out, copyRecord(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// =============================================================================
// Payment Requests
// =============================================================================

func (r *MemoryRepository) CreateRequest(ctx context.Context, req *models.PaymentRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if req.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		req.ID = id.String()
	}
	if req.Status == "" {
		req.Status = models.RequestPending
	}
	req.CreatedAt = r.now()
	c := *req
	r.requests[req.ID] = &c
	return nil
}

func (r *MemoryRepository) GetRequest(ctx context.Context, id string) (*models.PaymentRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *req
	return &c, nil
}

func (r *MemoryRepository) GetRequestByMemo(ctx context.Context, memo string) (*models.PaymentRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var latest *models.PaymentRequest
	for _, req := range r.requests {
		if req.Memo != memo {
			continue
		}
		if latest == nil || req.CreatedAt.After(latest.CreatedAt) ||
			(req.CreatedAt.Equal(latest.CreatedAt) && req.ID > latest.ID) {
			latest = req
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	c := *latest
	return &c, nil
}

func (r *MemoryRepository) UpdateRequestStatus(ctx context.Context, id string, status models.RequestStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[id]
	if !ok {
		return ErrNotFound
	}
	req.Status = status
	return nil
}

func (r *MemoryRepository) IncrementRetry(ctx context.Context, id string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[id]
	if !ok {
		return 0, ErrNotFound
	}
	req.RetryCount++
	return req.RetryCount, nil
}

func (r *MemoryRepository) ListActiveRequests(ctx context.Context, method models.PaymentMethod, now time.Time) ([]*models.PaymentRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := []*models.PaymentRequest{}
	for _, req := range r.requests {
		if req.Method != method || !req.ExpiresAt.After(now) {
			continue
		}
		if req.Status == models.RequestPending || req.Status == models.RequestProcessing {
			c := *req
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// =============================================================================
// Untracked Payments
// =============================================================================

func (r *MemoryRepository) RecordUntracked(ctx context.Context, p *models.UntrackedPayment) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.untracked {
		if existing.TxHash == p.TxHash {
			return false, nil
		}
	}
	r.nextUntracked++
	p.ID = r.nextUntracked
	p.ReviewStatus = models.ReviewPending
	p.CreatedAt = r.now()
	c := *p
	r.untracked = append(r.untracked, &c)
	return true, nil
}

func (r *MemoryRepository) GetUntracked(ctx context.Context, id int64) (*models.UntrackedPayment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range r.untracked {
		if p.ID == id {
			c := *p
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemoryRepository) ListUntracked(ctx context.Context, status models.ReviewStatus, page, limit int) ([]*models.UntrackedPayment, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	matched := []*models.UntrackedPayment{}
	for i := len(r.untracked) - 1; i >= 0; i-- {
		p := r.untracked[i]
		if status == "" || p.ReviewStatus == status {
			c := *p
			matched = append(matched, &c)
		}
	}
	return paginate(matched, page, limit), len(matched), nil
}

func (r *MemoryRepository) ResolveUntracked(ctx context.Context, id int64, resolvedBy, note string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range r.untracked {
		if p.ID != id {
			continue
		}
		if p.ReviewStatus != models.ReviewPending {
			return ErrAlreadyResolved
		}
		now := r.now()
		p.ReviewStatus = models.ReviewResolved
		p.ResolvedAt = &now
		p.ResolvedBy = &resolvedBy
		if note != "" {
			p.Note = &note
		}
		return nil
	}
	return ErrNotFound
}

// =============================================================================
// Review Queue
// =============================================================================

func (r *MemoryRepository) AddReviewItem(ctx context.Context, item *models.ReviewItem) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.reviews {
		if existing.Kind == item.Kind && existing.TxHash == item.TxHash {
			return false, nil
		}
	}
	r.nextReview++
	item.ID = r.nextReview
	item.Status = models.ReviewPending
	item.CreatedAt = r.now()
	c := *item
	r.reviews = append(r.reviews, &c)
	return true, nil
}

func (r *MemoryRepository) GetReviewItem(ctx context.Context, id int64) (*models.ReviewItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, item := range r.reviews {
		if item.ID == id {
			c := *item
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemoryRepository) FindPendingReview(ctx context.Context, kind models.ReviewKind, memo string) (*models.ReviewItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, item := range r.reviews {
		if item.Kind == kind && item.Memo == memo && item.Status == models.ReviewPending {
			c := *item
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemoryRepository) FindReviewByTx(ctx context.Context, kind models.ReviewKind, txHash string) (*models.ReviewItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, item := range r.reviews {
		if item.Kind == kind && item.TxHash == txHash {
			c := *item
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemoryRepository) ListReviewItems(ctx context.Context, status models.ReviewStatus, page, limit int) ([]*models.ReviewItem, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	matched := []*models.ReviewItem{}
	for i := len(r.reviews) - 1; i >= 0; i-- {
		item := r.reviews[i]
		if status == "" || item.Status == status {
			c := *item
			matched = append(matched, &c)
		}
	}
	return paginate(matched, page, limit), len(matched), nil
}

func (r *MemoryRepository) ResolveReviewItem(ctx context.Context, id int64, status models.ReviewStatus, resolvedBy, note string) error {
	if status != models.ReviewApproved && status != models.ReviewRejected {
		return ErrInvalidTransition
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, item := range r.reviews {
		if item.ID != id {
			continue
		}
		if item.Status != models.ReviewPending {
			return ErrAlreadyResolved
		}
		now := r.now()
		item.Status = status
		item.ResolvedAt = &now
		item.ResolvedBy = &resolvedBy
		if note != "" {
			item.Note = &note
		}
		return nil
	}
	return ErrNotFound
}

// =============================================================================
// Audit Log
// =============================================================================

func (r *MemoryRepository) AppendAudit(ctx context.Context, entry *models.AuditEntry) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry.TxHash != "" {
		for _, e := range r.audit {
			if e.Memo == entry.Memo && e.TxHash == entry.TxHash && e.Action == entry.Action {
				return false, nil
			}
		}
	}
	r.nextAudit++
	entry.ID = r.nextAudit
	entry.CreatedAt = r.now()
	c := *entry
	r.audit = append(r.audit, &c)
	return true, nil
}

func (r *MemoryRepository) ListAudit(ctx context.Context, memo string) ([]*models.AuditEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := []*models.AuditEntry{}
	for _, e := range r.audit {
		if e.Memo == memo {
			c := *e
			out = append(out, &c)
		}
	}
	return out, nil
}

func paginate[T any](items []T, page, limit int) []T {
	if limit <= 0 {
		return items
	}
	if page < 1 {
		page = 1
	}
	start := (page - 1) * limit
	if start >= len(items) {
		return []T{}
	}
	end := start + limit
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
