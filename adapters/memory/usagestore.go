package memory

import (
	"context"
	"sync"
	"time"

	"github.com/ljxpython/noteai/domain/usage"
	"github.com/ljxpython/noteai/ports"
)

// UsageStore is an in-memory implementation of ports.UsageStore.
type UsageStore struct {
	mu     sync.RWMutex
	events []usage.Event
}

// NewUsageStore creates a new in-memory usage store.
func NewUsageStore() *UsageStore {
	return &UsageStore{}
}

// RecordBatch stores multiple usage events.
func (s *UsageStore) RecordBatch(_ context.Context, events []usage.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	return nil
}

// GetRecent returns the most recent events for a user, newest first.
func (s *UsageStore) GetRecent(_ context.Context, userID string, limit int) ([]usage.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []usage.Event
	for i := len(s.events) - 1; i >= 0 && len(out) < limit; i-- {
		if s.events[i].UserID == userID {
			out = append(out, s.events[i])
		}
	}
	return out, nil
}

// Stats returns aggregated usage for a user since the given time.
func (s *UsageStore) Stats(_ context.Context, userID string, since time.Time) (usage.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []usage.Event
	for _, e := range s.events {
		if e.UserID == userID && !e.Timestamp.Before(since) {
			matched = append(matched, e)
		}
	}
	return usage.Aggregate(matched), nil
}

// Len returns the number of stored events (for testing).
func (s *UsageStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// Ensure interface compliance.
var _ ports.UsageStore = (*UsageStore)(nil)
