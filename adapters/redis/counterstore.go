// Package redis provides a Redis-backed CounterStore.
//
// The increment-with-ceiling check runs as an atomic Lua script, so the
// stored count can never exceed the ceiling even across multiple service
// instances sharing one Redis.
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ljxpython/noteai/ports"
)

// Store is a Redis-backed CounterStore.
type Store struct {
	client    goredis.Cmdable
	keyPrefix string
}

// Option configures Store.
type Option func(*Store)

// WithKeyPrefix sets the Redis key prefix (default "noteai:quota:").
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.keyPrefix = prefix }
}

// New creates a new Redis-backed CounterStore.
// The client must be a connected *goredis.Client or *goredis.ClusterClient.
func New(client goredis.Cmdable, opts ...Option) *Store {
	s := &Store{
		client:    client,
		keyPrefix: "noteai:quota:",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) key(key string) string {
	return s.keyPrefix + key
}

// incrScript atomically increments a counter only if the result stays at
// or below the ceiling.
// KEYS[1] = counter key
// ARGV[1] = amount
// ARGV[2] = ceiling
//
// Returns:
//
//	1 = incremented OK
//	0 = increment would overshoot, counter untouched
var incrScript = goredis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
local amount = tonumber(ARGV[1])
local ceiling = tonumber(ARGV[2])

if current + amount > ceiling then
    return 0
end

redis.call("INCRBY", KEYS[1], amount)
return 1
`)

// decrScript decrements a counter, clamping at zero. The key is removed
// when it reaches zero so absent and zero are indistinguishable.
// KEYS[1] = counter key
// ARGV[1] = amount
var decrScript = goredis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
local amount = tonumber(ARGV[1])

if current <= amount then
    redis.call("DEL", KEYS[1])
    return 0
end

return redis.call("DECRBY", KEYS[1], amount)
`)

// Get retrieves the current count for a key. Absent keys read as 0.
func (s *Store) Get(ctx context.Context, key string) (int64, error) {
	val, err := s.client.Get(ctx, s.key(key)).Int64()
	if err == goredis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, nil
}

// IncrWithCeiling atomically increments the counter by amount only if the
// result stays at or below ceiling.
func (s *Store) IncrWithCeiling(ctx context.Context, key string, amount, ceiling int64) (bool, error) {
	result, err := incrScript.Run(ctx, s.client, []string{s.key(key)}, amount, ceiling).Int64()
	if err != nil {
		return false, fmt.Errorf("redis incr %s: %w", key, err)
	}
	return result == 1, nil
}

// Decr decrements the counter by amount, clamping at zero.
func (s *Store) Decr(ctx context.Context, key string, amount int64) error {
	if err := decrScript.Run(ctx, s.client, []string{s.key(key)}, amount).Err(); err != nil {
		return fmt.Errorf("redis decr %s: %w", key, err)
	}
	return nil
}

// Reset removes the counter entirely.
func (s *Store) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// ExpireAt schedules the counter for removal at the given time.
func (s *Store) ExpireAt(ctx context.Context, key string, at time.Time) error {
	if err := s.client.ExpireAt(ctx, s.key(key), at).Err(); err != nil {
		return fmt.Errorf("redis expireat %s: %w", key, err)
	}
	return nil
}

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Ensure interface compliance.
var _ ports.CounterStore = (*Store)(nil)
