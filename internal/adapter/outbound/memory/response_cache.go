package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/relayguard/relayguard/internal/domain/cache"
)

// cacheEntry pairs a stored record with its absolute expiry.
type cacheEntry struct {
	record    cache.Record
	expiresAt time.Time
}

// ResponseCache implements cache.Store with an in-memory map and lazy expiry.
// A read past an entry's expiry deletes it and reports absence; entries never
// re-read are reclaimed only on explicit invalidation, an accepted trade-off
// given the bounded key space from normalized paths. Thread-safe.
type ResponseCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	now     func() time.Time
}

// ResponseCacheOption configures a ResponseCache.
type ResponseCacheOption func(*ResponseCache)

// WithCacheClock sets the time source. Used by tests to expire entries
// without sleeping.
func WithCacheClock(now func() time.Time) ResponseCacheOption {
	return func(c *ResponseCache) { c.now = now }
}

// NewResponseCache creates a new in-memory response cache.
func NewResponseCache(opts ...ResponseCacheOption) *ResponseCache {
	c := &ResponseCache{
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns a copy of the record for key, or cache.ErrNotFound if the key
// is absent or past its expiry. Expired entries are deleted on read.
func (c *ResponseCache) Get(ctx context.Context, key string) (cache.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return cache.Record{}, cache.ErrNotFound
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, key)
		return cache.Record{}, cache.ErrNotFound
	}
	return e.record.Clone(), nil
}

// Set stores a copy of rec under key, overwriting unconditionally.
func (c *ResponseCache) Set(ctx context.Context, key string, rec cache.Record, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = cacheEntry{
		record:    rec.Clone(),
		expiresAt: c.now().Add(ttl),
	}
	return nil
}

// Delete removes one entry.
func (c *ResponseCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

// Clear removes all entries.
func (c *ResponseCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
	return nil
}

// InvalidateMatching removes every entry whose key contains substring.
func (c *ResponseCache) InvalidateMatching(ctx context.Context, substring string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key := range c.entries {
		if strings.Contains(key, substring) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed, nil
}

// Size returns the number of entries held, expired-but-unread included.
func (c *ResponseCache) Size(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries), nil
}

// Compile-time interface verification.
var _ cache.Store = (*ResponseCache)(nil)
