// Package cache provides response caching domain types.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a key is absent or its entry has expired.
var ErrNotFound = errors.New("cache entry not found")

// Record is the stored shape of an intercepted response. Only successful
// envelopes are ever stored, so replaying a record verbatim is safe.
type Record struct {
	// Status is the HTTP status code of the original response.
	Status int `json:"status"`

	// Body is the original success envelope, replayed verbatim on a hit.
	Body json.RawMessage `json:"body"`
}

// Clone returns a deep copy of the record. Consumers always receive copies,
// never references into the store.
func (r Record) Clone() Record {
	body := make(json.RawMessage, len(r.Body))
	copy(body, r.Body)
	return Record{Status: r.Status, Body: body}
}

// Store is the interface for the response cache.
//
// Entries carry an absolute expiry; a read past it is treated as absent and
// the entry is removed lazily, so no background sweep is required.
type Store interface {
	// Get returns the record for key, or ErrNotFound if absent or expired.
	Get(ctx context.Context, key string) (Record, error)

	// Set stores a record under key with the given TTL. Always overwrites
	// unconditionally (last-writer-wins).
	Set(ctx context.Context, key string, rec Record, ttl time.Duration) error

	// Delete removes one entry.
	Delete(ctx context.Context, key string) error

	// Clear removes all entries.
	Clear(ctx context.Context) error

	// InvalidateMatching removes every entry whose key contains the given
	// substring and reports how many were removed. Used to cascade-invalidate
	// all cached views of an entity family after a mutation.
	InvalidateMatching(ctx context.Context, substring string) (int, error)

	// Size reports the number of entries currently held, including entries
	// that have expired but have not yet been lazily evicted.
	Size(ctx context.Context) (int, error)
}
