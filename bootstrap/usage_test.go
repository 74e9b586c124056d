package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ljxpython/noteai/adapters/memory"
	"github.com/ljxpython/noteai/domain/reconcile"
	"github.com/ljxpython/noteai/domain/usage"
)

func testUsageEvent(id string) usage.Event {
	return usage.Event{
		ID:        id,
		UserID:    "user-1",
		Operation: reconcile.OpOptimize,
		Stage:     reconcile.StageStrict,
		Billed:    true,
		Timestamp: time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC),
	}
}

func TestBufferedUsageRecorder_RecordBelowBatchSize(t *testing.T) {
	store := memory.NewUsageStore()
	rec := NewBufferedUsageRecorder(store, zerolog.Nop(), 10, time.Hour)
	defer rec.Close()

	rec.Record(testUsageEvent("e1"))
	rec.Record(testUsageEvent("e2"))

	// Below batch size, nothing reaches the store until a flush.
	if got := store.Len(); got != 0 {
		t.Errorf("store.Len() = %d, want 0 before flush", got)
	}

	if err := rec.Flush(context.Background()); err != nil {
		t.Fatalf("Flush error: %v", err)
	}
	if got := store.Len(); got != 2 {
		t.Errorf("store.Len() = %d, want 2 after flush", got)
	}
}

func TestBufferedUsageRecorder_AutoFlushAtBatchSize(t *testing.T) {
	store := memory.NewUsageStore()
	rec := NewBufferedUsageRecorder(store, zerolog.Nop(), 3, time.Hour)
	defer rec.Close()

	rec.Record(testUsageEvent("e1"))
	rec.Record(testUsageEvent("e2"))
	rec.Record(testUsageEvent("e3"))

	// The batch flush runs asynchronously.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && store.Len() < 3 {
		time.Sleep(10 * time.Millisecond)
	}
	if got := store.Len(); got != 3 {
		t.Errorf("store.Len() = %d, want 3 after batch flush", got)
	}
}

func TestBufferedUsageRecorder_CloseFlushesRemainder(t *testing.T) {
	store := memory.NewUsageStore()
	rec := NewBufferedUsageRecorder(store, zerolog.Nop(), 100, time.Hour)

	rec.Record(testUsageEvent("e1"))
	rec.Record(testUsageEvent("e2"))

	if err := rec.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if got := store.Len(); got != 2 {
		t.Errorf("store.Len() = %d, want 2 after close", got)
	}
}

func TestBufferedUsageRecorder_CloseIdempotent(t *testing.T) {
	store := memory.NewUsageStore()
	rec := NewBufferedUsageRecorder(store, zerolog.Nop(), 100, time.Hour)

	rec.Record(testUsageEvent("e1"))

	if err := rec.Close(); err != nil {
		t.Fatalf("first Close error: %v", err)
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("second Close error: %v", err)
	}
	if got := store.Len(); got != 1 {
		t.Errorf("store.Len() = %d, want 1", got)
	}
}

func TestBufferedUsageRecorder_FlushEmpty(t *testing.T) {
	store := memory.NewUsageStore()
	rec := NewBufferedUsageRecorder(store, zerolog.Nop(), 100, time.Hour)
	defer rec.Close()

	if err := rec.Flush(context.Background()); err != nil {
		t.Fatalf("Flush of empty buffer error: %v", err)
	}
	if got := store.Len(); got != 0 {
		t.Errorf("store.Len() = %d, want 0", got)
	}
}

// slowUsageStore delays each batch write to expose unfinished
// background flushes.
type slowUsageStore struct {
	*memory.UsageStore
	delay time.Duration
}

func (s *slowUsageStore) RecordBatch(ctx context.Context, events []usage.Event) error {
	time.Sleep(s.delay)
	return s.UsageStore.RecordBatch(ctx, events)
}

func TestBufferedUsageRecorder_CloseWaitsForInFlightBatch(t *testing.T) {
	store := &slowUsageStore{UsageStore: memory.NewUsageStore(), delay: 50 * time.Millisecond}
	rec := NewBufferedUsageRecorder(store, zerolog.Nop(), 2, time.Hour)

	// Hitting the batch size starts a background write.
	rec.Record(testUsageEvent("e1"))
	rec.Record(testUsageEvent("e2"))

	if err := rec.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if got := store.Len(); got != 2 {
		t.Errorf("store.Len() = %d, want 2 after close", got)
	}
}

func TestBufferedUsageRecorder_IntervalFlush(t *testing.T) {
	store := memory.NewUsageStore()
	rec := NewBufferedUsageRecorder(store, zerolog.Nop(), 100, 20*time.Millisecond)
	defer rec.Close()

	rec.Record(testUsageEvent("e1"))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && store.Len() < 1 {
		time.Sleep(10 * time.Millisecond)
	}
	if got := store.Len(); got != 1 {
		t.Errorf("store.Len() = %d, want 1 after interval flush", got)
	}
}
