// Package memory provides in-memory implementations of the store ports.
package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/relayguard/relayguard/internal/domain/ratelimit"
)

// Default sweep settings for the rate-limit store.
const (
	DefaultSweepInterval = 1 * time.Minute
	DefaultStaleAfter    = 1 * time.Hour
)

// windowEntry is the per-key sliding-window request log.
type windowEntry struct {
	// timestamps holds the request instants inside the tracking horizon,
	// oldest first. Filtered against the window on every read.
	timestamps []time.Time

	// lastSeen is the most recent Allow call for this key, including
	// denials. The staleness sweep keys off it.
	lastSeen time.Time
}

// RateLimitStore implements ratelimit.Store with an exact sliding-window log
// per key. Thread-safe; single-process only (each instance behind a load
// balancer has an independent view). A periodic sweep removes keys idle
// beyond the staleness horizon, bounding memory regardless of key cardinality.
type RateLimitStore struct {
	mu      sync.Mutex
	entries map[string]*windowEntry

	sweepInterval time.Duration
	staleAfter    time.Duration
	now           func() time.Time
	logger        *slog.Logger

	stopChan chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

// RateLimitOption configures a RateLimitStore.
type RateLimitOption func(*RateLimitStore)

// WithSweepInterval sets how often the staleness sweep runs.
// The interval is independent of any single window.
func WithSweepInterval(d time.Duration) RateLimitOption {
	return func(s *RateLimitStore) { s.sweepInterval = d }
}

// WithStaleAfter sets the idle horizon after which a key is swept.
func WithStaleAfter(d time.Duration) RateLimitOption {
	return func(s *RateLimitStore) { s.staleAfter = d }
}

// WithRateLimitClock sets the time source. Used by tests to slide the window
// without sleeping.
func WithRateLimitClock(now func() time.Time) RateLimitOption {
	return func(s *RateLimitStore) { s.now = now }
}

// WithRateLimitLogger sets the logger used by the sweep.
func WithRateLimitLogger(logger *slog.Logger) RateLimitOption {
	return func(s *RateLimitStore) { s.logger = logger }
}

// NewRateLimitStore creates a new in-memory rate-limit store.
func NewRateLimitStore(opts ...RateLimitOption) *RateLimitStore {
	s := &RateLimitStore{
		entries:       make(map[string]*windowEntry),
		sweepInterval: DefaultSweepInterval,
		staleAfter:    DefaultStaleAfter,
		now:           time.Now,
		logger:        slog.Default(),
		stopChan:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Allow charges one request against key under the given policy.
//
// On first sight of a key it creates an entry with one timestamp and
// remaining = quota-1. On subsequent calls it drops timestamps older than
// now-window (exact sliding-window log, not fixed buckets); if the surviving
// count has reached the quota the request is denied with remaining 0,
// otherwise the instant is appended and the request admitted.
//
// ResetAt is the instant the oldest surviving request slides out of the
// window, i.e. when the next slot frees. Under sustained traffic the window
// never drains, so it advances one surviving timestamp at a time; the redis
// backend derives it the same way.
func (s *RateLimitStore) Allow(ctx context.Context, key string, policy ratelimit.Policy) (ratelimit.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	e, ok := s.entries[key]
	if !ok {
		e = &windowEntry{}
		s.entries[key] = e
	}
	e.lastSeen = now

	// Slide the window: keep only instants within [now-window, now].
	cutoff := now.Add(-policy.Window)
	kept := e.timestamps[:0]
	for _, ts := range e.timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	e.timestamps = kept

	if len(e.timestamps) >= policy.Quota {
		return ratelimit.Result{
			Allowed:   false,
			Remaining: 0,
			ResetAt:   e.timestamps[0].Add(policy.Window),
		}, nil
	}

	e.timestamps = append(e.timestamps, now)
	return ratelimit.Result{
		Allowed:   true,
		Remaining: policy.Quota - len(e.timestamps),
		ResetAt:   e.timestamps[0].Add(policy.Window),
	}, nil
}

// Reset clears the window for one key.
func (s *RateLimitStore) Reset(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// Size returns the number of tracked keys.
func (s *RateLimitStore) Size(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries), nil
}

// StartSweep starts the background staleness sweep.
// It stops when ctx is cancelled or Stop is called.
func (s *RateLimitStore) StartSweep(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.sweep()
			}
		}
	}()
}

// sweep removes entries whose most recent request is older than the
// staleness horizon. A key seen again after removal is re-created
// idempotently, so the sweep holds no invariant against arriving requests.
func (s *RateLimitStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.staleAfter)
	swept := 0

	for key, e := range s.entries {
		if e.lastSeen.Before(cutoff) {
			delete(s.entries, key)
			swept++
		}
	}

	if swept > 0 {
		s.logger.Debug("rate limit sweep completed",
			"swept_keys", swept,
			"remaining_keys", len(s.entries))
	}
}

// Stop gracefully stops the sweep goroutine and waits for it to exit.
// Safe to call multiple times.
func (s *RateLimitStore) Stop() {
	s.once.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
}

// Compile-time interface verification.
var (
	_ ratelimit.Store = (*RateLimitStore)(nil)
	_ ratelimit.Sizer = (*RateLimitStore)(nil)
)
