package database

import (
	"context"
	"time"
)

// Timeouts for the registry's statement classes.
const (
	// LookupTimeout bounds single-row reads keyed by memo, id or tx hash.
	LookupTimeout = 5 * time.Second

	// TransitionTimeout bounds the conditional status swaps (confirm, expire,
	// refund, review resolution). A swap stuck behind a row lock fails fast so
	// the watcher retries on its next pass instead of holding its slot.
	TransitionTimeout = 3 * time.Second

	// WriteTimeout bounds inserts: records, requests, review items, audit rows.
	WriteTimeout = 10 * time.Second

	// SweepTimeout caps listing queries that back the expiry sweep, the
	// scanner's active set and the admin queues.
	SweepTimeout = 30 * time.Second

	// sweepPerRow is added to LookupTimeout for each row a sweep may return.
	sweepPerRow = 20 * time.Millisecond
)

// LookupContext creates a context with LookupTimeout.
func LookupContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, LookupTimeout)
}

// TransitionContext creates a context with TransitionTimeout.
func TransitionContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, TransitionTimeout)
}

// WriteContext creates a context with WriteTimeout.
func WriteContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, WriteTimeout)
}

// SweepContext creates a context sized for a listing of up to limit rows.
// Unbounded listings (limit <= 0) get SweepTimeout.
func SweepContext(parent context.Context, limit int) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, sweepTimeout(limit))
}

func sweepTimeout(limit int) time.Duration {
	if limit <= 0 {
		return SweepTimeout
	}
	d := LookupTimeout + time.Duration(limit)*sweepPerRow
	if d > SweepTimeout {
		return SweepTimeout
	}
	return d
}
