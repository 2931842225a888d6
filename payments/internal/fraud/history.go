package fraud

import (
	"context"
	"sync"
	"time"
)

// HistoryStore keeps per-owner event timelines used by the velocity and
// failure-history signals. Members are idempotent: recording the same key
// twice keeps one entry at the latest timestamp.
type HistoryStore interface {
	RecordAttempt(ctx context.Context, ownerID, key string, at time.Time) error
	CountAttempts(ctx context.Context, ownerID string, from, to time.Time) (int, error)
	RecordFailure(ctx context.Context, ownerID, key string, at time.Time) error
	CountFailures(ctx context.Context, ownerID string, from, to time.Time) (int, error)
	Close() error
}

// MemoryHistory is a process-local HistoryStore.
type MemoryHistory struct {
	mu       sync.Mutex
	attempts map[string]map[string]time.Time
	failures map[string]map[string]time.Time
	// retention bounds how long entries are kept; zero keeps everything.
	retention time.Duration
}

// NewMemoryHistory creates a MemoryHistory that forgets entries older than
// retention.
func NewMemoryHistory(retention time.Duration) *MemoryHistory {
	return &MemoryHistory{
		attempts:  make(map[string]map[string]time.Time),
		failures:  make(map[string]map[string]time.Time),
		retention: retention,
	}
}

func (m *MemoryHistory) RecordAttempt(ctx context.Context, ownerID, key string, at time.Time) error {
	m.record(m.attempts, ownerID, key, at)
	return nil
}

func (m *MemoryHistory) CountAttempts(ctx context.Context, ownerID string, from, to time.Time) (int, error) {
	return m.count(m.attempts, ownerID, from, to), nil
}

func (m *MemoryHistory) RecordFailure(ctx context.Context, ownerID, key string, at time.Time) error {
	m.record(m.failures, ownerID, key, at)
	return nil
}

func (m *MemoryHistory) CountFailures(ctx context.Context, ownerID string, from, to time.Time) (int, error) {
	return m.count(m.failures, ownerID, from, to), nil
}

func (m *MemoryHistory) Close() error { return nil }

func (m *MemoryHistory) record(timeline map[string]map[string]time.Time, ownerID, key string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	events, ok := timeline[ownerID]
	if !ok {
		events = make(map[string]time.Time)
		timeline[ownerID] = events
	}
	events[key] = at

	if m.retention > 0 {
		cutoff := at.Add(-m.retention)
		for k, ts := range events {
			if ts.Before(cutoff) {
				delete(events, k)
			}
		}
	}
}

func (m *MemoryHistory) count(timeline map[string]map[string]time.Time, ownerID string, from, to time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, ts := range timeline[ownerID] {
		if !ts.Before(from) && !ts.After(to) {
			n++
		}
	}
	return n
}
