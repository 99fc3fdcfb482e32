package ratelimit

import "context"

// Store is the interface for sliding-window admission checks.
//
// Implementations keep an exact log of request timestamps per key and count
// only those inside the trailing window, as opposed to resetting counts at
// fixed calendar boundaries. The interface is storage-agnostic so a
// distributed backend can be substituted without touching the dispatch layer.
type Store interface {
	// Allow charges one request against key under the given policy and
	// returns the admission result. Charging happens at request start, not
	// completion; an abandoned request still consumes quota.
	Allow(ctx context.Context, key string, policy Policy) (Result, error)

	// Reset clears the window for one key. Used by administrative recovery flows.
	Reset(ctx context.Context, key string) error
}

// Sizer is implemented by stores that can report how many keys they track.
// Used for metrics; not part of the admission contract.
type Sizer interface {
	Size(ctx context.Context) (int, error)
}
