// Package ledger fetches recent incoming transfers for an account from a
// prioritized list of indexer providers and normalizes them into
// models.RawTransaction.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/i3lani/paywatch/common/logging"
	"github.com/i3lani/paywatch/payments/internal/metrics"
	"github.com/i3lani/paywatch/payments/internal/models"
)

var (
	// ErrNoProviders is returned when a Chain has no providers configured.
	ErrNoProviders = errors.New("no ledger providers configured")

	// ErrAllProvidersFailed is returned when every provider failed. Callers
	// treat it as "retry next tick".
	ErrAllProvidersFailed = errors.New("all ledger providers failed")
)

// Provider is one ledger indexer endpoint with its own response schema.
type Provider interface {
	Name() string
	FetchRecent(ctx context.Context, account string, limit int) ([]models.RawTransaction, error)
}

// Fetcher is what the watchers consume.
type Fetcher interface {
	FetchRecent(ctx context.Context, account string, limit int) ([]models.RawTransaction, error)
}

// Chain tries providers in priority order; the first well-formed response wins.
// It does not retry.
type Chain struct {
	providers []Provider
	logger    *logging.Logger
}

// NewChain creates a Chain over providers in the given order.
func NewChain(logger *logging.Logger, providers ...Provider) *Chain {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Chain{providers: providers, logger: logger.With(logging.Service("ledger"))}
}

// Providers returns the provider names in priority order.
func (c *Chain) Providers() []string {
	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name()
	}
	return names
}

// FetchRecent returns the first successful provider's transactions.
func (c *Chain) FetchRecent(ctx context.Context, account string, limit int) ([]models.RawTransaction, error) {
	if len(c.providers) == 0 {
		return nil, ErrNoProviders
	}

	var errs []error
	for _, p := range c.providers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		start := time.Now()
		txs, err := p.FetchRecent(ctx, account, limit)
		metrics.ProviderDuration.WithLabelValues(p.Name()).Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.ProviderRequests.WithLabelValues(p.Name(), "error").Inc()
			c.logger.DebugContext(ctx, "ledger provider failed",
				logging.Provider(p.Name()),
				logging.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			continue
		}

		metrics.ProviderRequests.WithLabelValues(p.Name(), "success").Inc()
		for i := range txs {
			if txs[i].SourceProvider == "" {
				txs[i].SourceProvider = p.Name()
			}
		}
		return txs, nil
	}

	metrics.FetchFailures.Inc()
	err := fmt.Errorf("%w: %w", ErrAllProvidersFailed, errors.Join(errs...))
	c.logger.WarnContext(ctx, "ledger fetch failed on every provider",
		slog.Int("providers", len(c.providers)),
		logging.Error(err))
	return nil, err
}
