package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestCounterStore_GetAbsentKey(t *testing.T) {
	s := NewCounterStore(newTestDB(t))

	n, err := s.Get(context.Background(), "u:daily:2025-01-15")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 for absent key, got %d", n)
	}
}

func TestCounterStore_IncrWithCeiling(t *testing.T) {
	s := NewCounterStore(newTestDB(t))
	ctx := context.Background()
	key := "u:daily:2025-01-15"

	for i := 0; i < 3; i++ {
		ok, err := s.IncrWithCeiling(ctx, key, 1, 3)
		if err != nil {
			t.Fatalf("increment %d: %v", i, err)
		}
		if !ok {
			t.Fatalf("increment %d rejected below ceiling", i)
		}
	}

	ok, err := s.IncrWithCeiling(ctx, key, 1, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected increment past ceiling to be rejected")
	}

	n, _ := s.Get(ctx, key)
	if n != 3 {
		t.Errorf("expected count 3 after rejection, got %d", n)
	}
}

func TestCounterStore_IncrWithCeiling_FirstAmountOverCeiling(t *testing.T) {
	s := NewCounterStore(newTestDB(t))

	ok, err := s.IncrWithCeiling(context.Background(), "u:daily:2025-01-15", 5, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected initial over-ceiling increment to be rejected")
	}
}

func TestCounterStore_WindowIsolation(t *testing.T) {
	s := NewCounterStore(newTestDB(t))
	ctx := context.Background()

	s.IncrWithCeiling(ctx, "u:daily:2025-01-15", 5, 10)

	if n, _ := s.Get(ctx, "u:daily:2025-01-16"); n != 0 {
		t.Errorf("new window must read 0, got %d", n)
	}
}

func TestCounterStore_Decr(t *testing.T) {
	s := NewCounterStore(newTestDB(t))
	ctx := context.Background()
	key := "u:monthly:2025-01"

	s.IncrWithCeiling(ctx, key, 5, 50)
	if err := s.Decr(ctx, key, 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n, _ := s.Get(ctx, key); n != 3 {
		t.Errorf("expected 3, got %d", n)
	}

	// Over-decrement clamps at zero.
	if err := s.Decr(ctx, key, 100); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n, _ := s.Get(ctx, key); n != 0 {
		t.Errorf("expected 0 after over-decrement, got %d", n)
	}
}

func TestCounterStore_Reset(t *testing.T) {
	s := NewCounterStore(newTestDB(t))
	ctx := context.Background()
	key := "u:daily:2025-01-15"

	s.IncrWithCeiling(ctx, key, 5, 10)
	if err := s.Reset(ctx, key); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n, _ := s.Get(ctx, key); n != 0 {
		t.Errorf("expected 0 after reset, got %d", n)
	}
}

func TestCounterStore_CleanupExpired(t *testing.T) {
	s := NewCounterStore(newTestDB(t))
	ctx := context.Background()
	now := time.Now()

	s.IncrWithCeiling(ctx, "stale", 1, 10)
	s.ExpireAt(ctx, "stale", now.Add(-time.Minute))
	s.IncrWithCeiling(ctx, "live", 1, 10)
	s.ExpireAt(ctx, "live", now.Add(time.Hour))
	s.IncrWithCeiling(ctx, "no-expiry", 1, 10)

	removed, err := s.CleanupExpired(ctx, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 removed, got %d", removed)
	}
	if n, _ := s.Get(ctx, "stale"); n != 0 {
		t.Errorf("expired counter must be gone, got %d", n)
	}
	if n, _ := s.Get(ctx, "live"); n != 1 {
		t.Errorf("live counter must survive, got %d", n)
	}
	if n, _ := s.Get(ctx, "no-expiry"); n != 1 {
		t.Errorf("counter without expiry must survive, got %d", n)
	}
}

func TestCounterStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persist.db")

	db, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	s := NewCounterStore(db)
	s.IncrWithCeiling(context.Background(), "u:daily:2025-01-15", 7, 10)
	db.Close()

	db2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db2.Close()
	s2 := NewCounterStore(db2)

	n, err := s2.Get(context.Background(), "u:daily:2025-01-15")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 7 {
		t.Errorf("expected count to survive restart, got %d", n)
	}
}
