// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/.
package ports

import (
	"context"
	"time"

	"github.com/ljxpython/noteai/domain/reconcile"
	"github.com/ljxpython/noteai/domain/usage"
)

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	New() string
}

// -----------------------------------------------------------------------------
// Counter Store Port
// -----------------------------------------------------------------------------

// CounterStore persists usage counters keyed as {user_id}:{window_kind}:{window_key}.
//
// IncrWithCeiling is the only mutation path the quota service uses on the
// hot path: it must apply the increment and the ceiling test as a single
// atomic operation against the store. A separate read-then-write pair would
// reintroduce the race the check-and-set increment exists to close.
type CounterStore interface {
	// Get retrieves the current count for a key. Absent keys read as 0.
	Get(ctx context.Context, key string) (int64, error)

	// IncrWithCeiling atomically increments the counter by amount only if
	// the result stays at or below ceiling. Returns false (and leaves the
	// counter untouched) when the increment would overshoot.
	IncrWithCeiling(ctx context.Context, key string, amount, ceiling int64) (bool, error)

	// Decr decrements the counter by amount, clamping at zero. Used to
	// compensate a partial commit that lost the race on its second window.
	Decr(ctx context.Context, key string, amount int64) error

	// Reset removes the counter entirely.
	Reset(ctx context.Context, key string) error

	// ExpireAt schedules the counter for removal at the given time.
	// Best-effort: correctness relies on window keys, not on expiry.
	ExpireAt(ctx context.Context, key string, at time.Time) error
}

// -----------------------------------------------------------------------------
// Model Client Port
// -----------------------------------------------------------------------------

// ModelClient is the upstream text-generation call. Its output is untyped
// text that may or may not contain a structured block; the reconciler
// exists to tolerate exactly that.
type ModelClient interface {
	// Generate sends a prompt for the given operation and returns raw text.
	// Transport and timeout failures surface as errors; the caller converts
	// them into degraded results rather than propagating them further.
	Generate(ctx context.Context, prompt string, op reconcile.Operation) (string, error)
}

// -----------------------------------------------------------------------------
// Usage Ports
// -----------------------------------------------------------------------------

// UsageStore persists AI usage events and aggregates.
type UsageStore interface {
	// RecordBatch stores multiple usage events.
	RecordBatch(ctx context.Context, events []usage.Event) error

	// GetRecent returns the most recent events for a user.
	GetRecent(ctx context.Context, userID string, limit int) ([]usage.Event, error)

	// Stats returns aggregated usage for a user since the given time.
	Stats(ctx context.Context, userID string, since time.Time) (usage.Stats, error)
}

// UsageRecorder accepts usage events for async processing.
type UsageRecorder interface {
	// Record queues a usage event for processing.
	// This should be non-blocking.
	Record(event usage.Event)

	// Flush forces immediate processing of queued events.
	Flush(ctx context.Context) error

	// Close stops the recorder and flushes remaining events.
	Close() error
}
