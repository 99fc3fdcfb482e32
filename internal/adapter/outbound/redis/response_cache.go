package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/relayguard/relayguard/internal/domain/cache"
)

const cacheKeyPrefix = "relayguard:cache:"

// ResponseCache implements cache.Store on Redis. Expiry is delegated to
// Redis key TTLs, so no lazy eviction is needed; pattern invalidation is a
// SCAN over the cache prefix.
type ResponseCache struct {
	client *redis.Client
}

// NewResponseCache creates a Redis-backed response cache.
func NewResponseCache(client *redis.Client) *ResponseCache {
	return &ResponseCache{client: client}
}

// Get returns the record for key, or cache.ErrNotFound if absent or expired.
func (c *ResponseCache) Get(ctx context.Context, key string) (cache.Record, error) {
	data, err := c.client.Get(ctx, cacheKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return cache.Record{}, cache.ErrNotFound
	}
	if err != nil {
		return cache.Record{}, fmt.Errorf("get cache entry: %w", err)
	}

	var rec cache.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return cache.Record{}, fmt.Errorf("decode cache entry: %w", err)
	}
	return rec, nil
}

// Set stores rec under key with the given TTL, overwriting unconditionally.
func (c *ResponseCache) Set(ctx context.Context, key string, rec cache.Record, ttl time.Duration) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	if err := c.client.Set(ctx, cacheKeyPrefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("set cache entry: %w", err)
	}
	return nil
}

// Delete removes one entry.
func (c *ResponseCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, cacheKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}

// Clear removes all entries under the cache prefix.
func (c *ResponseCache) Clear(ctx context.Context) error {
	_, err := c.deleteMatching(ctx, cacheKeyPrefix+"*")
	return err
}

// InvalidateMatching removes every entry whose key contains substring.
func (c *ResponseCache) InvalidateMatching(ctx context.Context, substring string) (int, error) {
	return c.deleteMatching(ctx, cacheKeyPrefix+"*"+substring+"*")
}

// deleteMatching scans for keys matching pattern and deletes them in batches.
func (c *ResponseCache) deleteMatching(ctx context.Context, pattern string) (int, error) {
	var (
		cursor  uint64
		removed int
	)
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return removed, fmt.Errorf("scan cache keys: %w", err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return removed, fmt.Errorf("delete cache keys: %w", err)
			}
			removed += len(keys)
		}
		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}

// Size reports the number of entries under the cache prefix.
func (c *ResponseCache) Size(ctx context.Context) (int, error) {
	return countKeys(ctx, c.client, cacheKeyPrefix+"*")
}

// Compile-time interface verification.
var _ cache.Store = (*ResponseCache)(nil)
