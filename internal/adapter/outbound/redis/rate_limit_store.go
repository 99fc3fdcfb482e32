// Package redis provides Redis-backed implementations of the store ports,
// the substitution point for running multiple instances behind a load
// balancer with a shared view of quota and cache.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/relayguard/relayguard/internal/domain/ratelimit"
)

const rateKeyPrefix = "relayguard:ratelimit:"

// allowScript performs the whole admission check atomically: slide the
// window, count, conditionally record, and read the oldest surviving
// instant. A pipeline split into check-then-add would let concurrent
// requests for one key both pass the count and exceed the quota.
//
// Returns {allowed, surviving count, oldest score in ms}.
var allowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local cutoff = tonumber(ARGV[2])
local quota = tonumber(ARGV[3])
local member = ARGV[4]
local ttl = tonumber(ARGV[5])

redis.call('ZREMRANGEBYSCORE', key, '-inf', cutoff)
local count = redis.call('ZCARD', key)
local allowed = 0
if count < quota then
  redis.call('ZADD', key, now, member)
  redis.call('PEXPIRE', key, ttl)
  allowed = 1
  count = count + 1
end
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local oldestScore = now
if oldest[2] then
  oldestScore = tonumber(oldest[2])
end
return {allowed, count, oldestScore}
`)

// RateLimitStore implements ratelimit.Store with a sorted set per key:
// member = unique request ID, score = request instant in milliseconds
// (exact in both Lua numbers and sorted-set doubles). Admission runs as a
// single Lua script; Redis key expiry replaces the in-process staleness
// sweep.
type RateLimitStore struct {
	client     *redis.Client
	staleAfter time.Duration
	now        func() time.Time
}

// RateLimitOption configures a RateLimitStore.
type RateLimitOption func(*RateLimitStore)

// WithStaleAfter sets the idle horizon used as the Redis key TTL.
func WithStaleAfter(d time.Duration) RateLimitOption {
	return func(s *RateLimitStore) { s.staleAfter = d }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) RateLimitOption {
	return func(s *RateLimitStore) { s.now = now }
}

// NewRateLimitStore creates a Redis-backed rate-limit store.
func NewRateLimitStore(client *redis.Client, opts ...RateLimitOption) *RateLimitStore {
	s := &RateLimitStore{
		client:     client,
		staleAfter: time.Hour,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Allow charges one request against key under the given policy.
// ResetAt is derived from the oldest surviving instant plus the window,
// matching the memory backend.
func (s *RateLimitStore) Allow(ctx context.Context, key string, policy ratelimit.Policy) (ratelimit.Result, error) {
	k := rateKeyPrefix + key
	now := s.now()

	res, err := allowScript.Run(ctx, s.client, []string{k},
		now.UnixMilli(),
		now.Add(-policy.Window).UnixMilli(),
		policy.Quota,
		uuid.NewString(),
		s.staleAfter.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return ratelimit.Result{}, fmt.Errorf("run admission script: %w", err)
	}
	if len(res) != 3 {
		return ratelimit.Result{}, fmt.Errorf("admission script returned %d values, want 3", len(res))
	}

	allowed := res[0] == 1
	remaining := 0
	if allowed {
		remaining = policy.Quota - int(res[1])
	}
	return ratelimit.Result{
		Allowed:   allowed,
		Remaining: remaining,
		ResetAt:   time.UnixMilli(res[2]).Add(policy.Window),
	}, nil
}

// Reset clears the window for one key.
func (s *RateLimitStore) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, rateKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("reset key: %w", err)
	}
	return nil
}

// Size reports the number of tracked keys.
func (s *RateLimitStore) Size(ctx context.Context) (int, error) {
	return countKeys(ctx, s.client, rateKeyPrefix+"*")
}

// countKeys counts keys matching pattern via SCAN.
func countKeys(ctx context.Context, client *redis.Client, pattern string) (int, error) {
	var (
		cursor uint64
		total  int
	)
	for {
		keys, next, err := client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return 0, fmt.Errorf("scan keys: %w", err)
		}
		total += len(keys)
		cursor = next
		if cursor == 0 {
			return total, nil
		}
	}
}

// Compile-time interface verification.
var (
	_ ratelimit.Store = (*RateLimitStore)(nil)
	_ ratelimit.Sizer = (*RateLimitStore)(nil)
)
