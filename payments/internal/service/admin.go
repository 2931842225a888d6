package service

import (
	"context"
	"strings"

	"github.com/i3lani/paywatch/common/logging"
	"github.com/i3lani/paywatch/payments/internal/models"
	"github.com/i3lani/paywatch/payments/internal/reconciler"
	"github.com/i3lani/paywatch/payments/internal/repository"
)

// ListReview returns review items, pending ones by default.
func (s *Service) ListReview(ctx context.Context, status models.ReviewStatus, page, limit int) (*models.ListReviewResponse, error) {
	page, limit = pageDefaults(page, limit)
	items, total, err := s.store.ListReviewItems(ctx, statusFilter(status), page, limit)
	if err != nil {
		return nil, err
	}
	return &models.ListReviewResponse{
		Items:      items,
		Pagination: models.Pagination{Page: page, Limit: limit, Total: total},
	}, nil
}

// ResolveReview applies an administrator's decision. Approve confirms the
// record with the reviewed transfer; reject only closes the item.
func (s *Service) ResolveReview(ctx context.Context, id int64, req *models.ResolveRequest, admin string) (*models.ReviewItem, error) {
	item, err := s.store.GetReviewItem(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.Status != models.ReviewPending {
		return nil, repository.ErrAlreadyResolved
	}

	switch req.Resolution {
	case models.ResolutionApprove:
		rec, err := s.store.Lookup(ctx, item.Memo)
		if err != nil {
			return nil, err
		}
		if err := s.approve(ctx, rec, item, admin, req.Note, models.WatcherAdmin); err != nil {
			return nil, err
		}
	case models.ResolutionReject:
		if err := s.store.ResolveReviewItem(ctx, id, models.ReviewRejected, admin, req.Note); err != nil {
			return nil, err
		}
	default:
		return nil, ErrInvalidResolution
	}

	s.logger.InfoContext(ctx, "review item resolved",
		logging.Memo(item.Memo), "review_id", id, "resolution", string(req.Resolution), "admin", admin)
	return s.store.GetReviewItem(ctx, id)
}

// ListUntracked returns untracked payments, pending ones by default.
func (s *Service) ListUntracked(ctx context.Context, status models.ReviewStatus, page, limit int) (*models.ListUntrackedResponse, error) {
	page, limit = pageDefaults(page, limit)
	items, total, err := s.store.ListUntracked(ctx, statusFilter(status), page, limit)
	if err != nil {
		return nil, err
	}
	return &models.ListUntrackedResponse{
		Items:      items,
		Pagination: models.Pagination{Page: page, Limit: limit, Total: total},
	}, nil
}

// ResolveUntracked marks an untracked payment as handled out of band.
func (s *Service) ResolveUntracked(ctx context.Context, id int64, req *models.ResolveRequest, admin string) (*models.UntrackedPayment, error) {
	if err := s.store.ResolveUntracked(ctx, id, admin, req.Note); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "untracked payment resolved", "untracked_id", id, "admin", admin)
	return s.store.GetUntracked(ctx, id)
}

// Refund reverses a confirmed payment.
func (s *Service) Refund(ctx context.Context, memo, admin, note string) (*models.RendezvousRecord, error) {
	memo = NormalizeMemo(memo)
	rec, err := s.store.Lookup(ctx, memo)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(note) == "" {
		note = "refunded by " + admin
	}
	ok, err := s.processor.Refund(ctx, rec, models.WatcherAdmin, note)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotConfirmed
	}
	s.moveRequest(ctx, memo, models.RequestRefunded)
	return s.store.Lookup(ctx, memo)
}

// AuditTrail returns every audit entry for memo, oldest first.
func (s *Service) AuditTrail(ctx context.Context, memo string) ([]*models.AuditEntry, error) {
	return s.audit.Trail(ctx, NormalizeMemo(memo))
}

// SearchAudit runs a free-text dispute search over the audit mirror.
func (s *Service) SearchAudit(ctx context.Context, query string, size int) ([]*models.AuditEntry, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if size < 1 || size > 100 {
		size = 20
	}
	return s.audit.Search(ctx, query, size)
}

// ForceReconcile runs one scanner pass immediately.
func (s *Service) ForceReconcile(ctx context.Context) (*models.TickReport, error) {
	if s.reconciler == nil {
		return nil, ErrReconcilerUnavailable
	}
	return s.reconciler.RunOnce(ctx, reconciler.TriggerManual), nil
}

func pageDefaults(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 50
	}
	return page, limit
}

// statusFilter maps "all" to no filter and empty to pending.
func statusFilter(status models.ReviewStatus) models.ReviewStatus {
	switch status {
	case "":
		return models.ReviewPending
	case "all":
		return ""
	}
	return status
}
