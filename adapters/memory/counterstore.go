// Package memory provides in-memory implementations of storage ports,
// used for tests and single-process deployments.
package memory

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/ljxpython/noteai/ports"
)

// counterShard is a single shard of the counter store.
type counterShard struct {
	mu      sync.Mutex
	counts  map[string]int64
	expires map[string]time.Time
}

// CounterStore is a sharded in-memory implementation of ports.CounterStore.
// Uses sharding to reduce lock contention for high throughput.
type CounterStore struct {
	shards    []*counterShard
	numShards int
	cleanup   *time.Ticker
	done      chan struct{}
	closeOnce sync.Once
}

// CounterStoreConfig configures the counter store.
type CounterStoreConfig struct {
	NumShards       int           // Number of shards (default: 32)
	CleanupInterval time.Duration // How often to drop expired counters (default: 1h)
}

// NewCounterStore creates a new sharded in-memory counter store.
func NewCounterStore(cfg CounterStoreConfig) *CounterStore {
	if cfg.NumShards <= 0 {
		cfg.NumShards = 32
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Hour
	}

	s := &CounterStore{
		shards:    make([]*counterShard, cfg.NumShards),
		numShards: cfg.NumShards,
		done:      make(chan struct{}),
	}
	for i := range s.shards {
		s.shards[i] = &counterShard{
			counts:  make(map[string]int64),
			expires: make(map[string]time.Time),
		}
	}

	s.cleanup = time.NewTicker(cfg.CleanupInterval)
	go s.cleanupLoop()

	return s
}

// getShard returns the shard for a given key using consistent hashing.
func (s *CounterStore) getShard(key string) *counterShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return s.shards[h.Sum32()%uint32(s.numShards)]
}

// Get retrieves the current count for a key. Absent keys read as 0.
func (s *CounterStore) Get(_ context.Context, key string) (int64, error) {
	shard := s.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	return shard.counts[key], nil
}

// IncrWithCeiling atomically increments the counter by amount only if the
// result stays at or below ceiling. The test and the increment happen
// under one shard lock, so concurrent callers can never push the stored
// count past the ceiling.
func (s *CounterStore) IncrWithCeiling(_ context.Context, key string, amount, ceiling int64) (bool, error) {
	shard := s.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	if shard.counts[key]+amount > ceiling {
		return false, nil
	}
	shard.counts[key] += amount
	return true, nil
}

// Decr decrements the counter by amount, clamping at zero.
func (s *CounterStore) Decr(_ context.Context, key string, amount int64) error {
	shard := s.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	if shard.counts[key] <= amount {
		delete(shard.counts, key)
		return nil
	}
	shard.counts[key] -= amount
	return nil
}

// Reset removes the counter entirely.
func (s *CounterStore) Reset(_ context.Context, key string) error {
	shard := s.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	delete(shard.counts, key)
	delete(shard.expires, key)
	return nil
}

// ExpireAt schedules the counter for removal at the given time.
func (s *CounterStore) ExpireAt(_ context.Context, key string, at time.Time) error {
	shard := s.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	shard.expires[key] = at
	return nil
}

// cleanupLoop periodically removes expired counters.
func (s *CounterStore) cleanupLoop() {
	for {
		select {
		case <-s.cleanup.C:
			s.doCleanup(time.Now())
		case <-s.done:
			return
		}
	}
}

// doCleanup removes counters whose expiry has passed.
func (s *CounterStore) doCleanup(now time.Time) {
	for _, shard := range s.shards {
		shard.mu.Lock()
		for key, at := range shard.expires {
			if at.Before(now) {
				delete(shard.counts, key)
				delete(shard.expires, key)
			}
		}
		shard.mu.Unlock()
	}
}

// Close stops the cleanup goroutine.
func (s *CounterStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.cleanup.Stop()
	})
	return nil
}

// Len returns the total number of counters across all shards (for testing).
func (s *CounterStore) Len() int {
	total := 0
	for _, shard := range s.shards {
		shard.mu.Lock()
		total += len(shard.counts)
		shard.mu.Unlock()
	}
	return total
}

// Ensure interface compliance.
var _ ports.CounterStore = (*CounterStore)(nil)
