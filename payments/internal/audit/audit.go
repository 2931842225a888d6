// Package audit records evaluation outcomes per memo for dispute resolution.
// The relational store is authoritative; a search mirror is optional.
package audit

import (
	"context"
	"errors"
	"fmt"

	"github.com/i3lani/paywatch/common/logging"
	"github.com/i3lani/paywatch/payments/internal/models"
	"github.com/i3lani/paywatch/payments/internal/repository"
)

// Mirror receives a copy of every inserted audit entry.
type Mirror interface {
	Index(ctx context.Context, entry *models.AuditEntry) error
}

// Searcher is a mirror that also answers free-text queries.
type Searcher interface {
	Search(ctx context.Context, query string, size int) ([]*models.AuditEntry, error)
}

// ErrSearchUnavailable is returned by Search when no searchable mirror is
// configured.
var ErrSearchUnavailable = errors.New("audit search is not configured")

// Log appends audit entries.
type Log struct {
	store  repository.AuditStore
	mirror Mirror
	logger *logging.Logger
}

// NewLog creates a Log over store. mirror may be nil.
func NewLog(store repository.AuditStore, mirror Mirror, logger *logging.Logger) *Log {
	return &Log{store: store, mirror: mirror, logger: logger}
}

// Record appends entry. It returns false when an identical outcome for the
// same memo and transaction was already recorded; the caller that gets true
// owns any notification tied to the outcome.
func (l *Log) Record(ctx context.Context, entry *models.AuditEntry) (bool, error) {
	inserted, err := l.store.AppendAudit(ctx, entry)
	if err != nil {
		return false, fmt.Errorf("append audit entry: %w", err)
	}
	if !inserted {
		return false, nil
	}

	if l.mirror != nil {
		if err := l.mirror.Index(ctx, entry); err != nil {
			l.logger.WarnContext(ctx, "audit mirror failed",
				logging.Memo(entry.Memo), logging.TxHash(entry.TxHash), logging.Error(err))
		}
	}
	return true, nil
}

// Search queries the mirror. The database stays authoritative; hits are a
// lead for operators, not a record.
func (l *Log) Search(ctx context.Context, query string, size int) ([]*models.AuditEntry, error) {
	searcher, ok := l.mirror.(Searcher)
	if !ok {
		return nil, ErrSearchUnavailable
	}
	return searcher.Search(ctx, query, size)
}

// Trail returns every entry for memo in insertion order.
func (l *Log) Trail(ctx context.Context, memo string) ([]*models.AuditEntry, error) {
	return l.store.ListAudit(ctx, memo)
}
