package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/relayguard/relayguard/internal/domain/ratelimit"
	"go.uber.org/goleak"
)

// fakeClock is a manually-advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestRateLimitStore_QuotaExhaustion(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newFakeClock()
	store := NewRateLimitStore(WithRateLimitClock(clock.Now))
	policy := ratelimit.Policy{Quota: 5, Window: time.Second}

	// Five instant requests: all allowed, remaining decreasing 4,3,2,1,0.
	for i, want := range []int{4, 3, 2, 1, 0} {
		result, err := store.Allow(ctx, "u1", policy)
		if err != nil {
			t.Fatalf("Allow() error on request %d: %v", i+1, err)
		}
		if !result.Allowed {
			t.Fatalf("request %d denied, want allowed", i+1)
		}
		if result.Remaining != want {
			t.Errorf("request %d remaining = %d, want %d", i+1, result.Remaining, want)
		}
	}

	// Sixth request immediately after: denied with remaining 0.
	result, err := store.Allow(ctx, "u1", policy)
	if err != nil {
		t.Fatalf("Allow() error: %v", err)
	}
	if result.Allowed {
		t.Error("sixth request allowed, want denied")
	}
	if result.Remaining != 0 {
		t.Errorf("denied remaining = %d, want 0", result.Remaining)
	}

	// After the window slides fully, the next request is allowed with remaining 4.
	clock.Advance(time.Second)
	result, err = store.Allow(ctx, "u1", policy)
	if err != nil {
		t.Fatalf("Allow() error: %v", err)
	}
	if !result.Allowed {
		t.Error("post-window request denied, want allowed")
	}
	if result.Remaining != 4 {
		t.Errorf("post-window remaining = %d, want 4", result.Remaining)
	}
}

func TestRateLimitStore_SlidingWindowExactness(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newFakeClock()
	store := NewRateLimitStore(WithRateLimitClock(clock.Now))
	policy := ratelimit.Policy{Quota: 3, Window: time.Second}

	// Requests at t=0, t=400ms, t=800ms fill the quota.
	for i := 0; i < 3; i++ {
		if result, _ := store.Allow(ctx, "u1", policy); !result.Allowed {
			t.Fatalf("request %d denied, want allowed", i+1)
		}
		if i < 2 {
			clock.Advance(400 * time.Millisecond)
		}
	}

	// t=900ms: the rolling window still holds all three, so deny.
	clock.Advance(100 * time.Millisecond)
	if result, _ := store.Allow(ctx, "u1", policy); result.Allowed {
		t.Error("request inside full rolling window allowed, want denied")
	}

	// t=1100ms: the t=0 timestamp has slid out, one slot is free again.
	// A fixed-bucket counter would still deny here.
	clock.Advance(200 * time.Millisecond)
	if result, _ := store.Allow(ctx, "u1", policy); !result.Allowed {
		t.Error("request after oldest timestamp slid out denied, want allowed")
	}
}

func TestRateLimitStore_DeniedResultConsistentRetry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newFakeClock()
	store := NewRateLimitStore(WithRateLimitClock(clock.Now))
	policy := ratelimit.Policy{Quota: 1, Window: 10 * time.Second}

	if result, _ := store.Allow(ctx, "u1", policy); !result.Allowed {
		t.Fatal("first request denied")
	}

	clock.Advance(3 * time.Second)
	result, _ := store.Allow(ctx, "u1", policy)
	if result.Allowed {
		t.Fatal("second request allowed, want denied")
	}
	if got := result.RetryAfter(clock.Now()); got != 7 {
		t.Errorf("RetryAfter() = %d, want 7", got)
	}
}

func TestRateLimitStore_ResetAtUnderSustainedTraffic(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newFakeClock()
	store := NewRateLimitStore(WithRateLimitClock(clock.Now))
	policy := ratelimit.Policy{Quota: 2, Window: time.Minute}
	start := clock.Now()

	// t=0 and t=30s fill the quota; t=61s slides the first out and refills.
	// The window never fully drains.
	if result, _ := store.Allow(ctx, "u1", policy); !result.Allowed {
		t.Fatal("request at t=0 denied")
	}
	clock.Advance(30 * time.Second)
	if result, _ := store.Allow(ctx, "u1", policy); !result.Allowed {
		t.Fatal("request at t=30s denied")
	}
	clock.Advance(31 * time.Second)
	if result, _ := store.Allow(ctx, "u1", policy); !result.Allowed {
		t.Fatal("request at t=61s denied")
	}

	// t=70s: denied. The oldest surviving request is t=30s, so the next
	// slot frees at t=90s, not in the past.
	clock.Advance(9 * time.Second)
	result, _ := store.Allow(ctx, "u1", policy)
	if result.Allowed {
		t.Fatal("request at t=70s allowed, want denied")
	}
	if want := start.Add(90 * time.Second); !result.ResetAt.Equal(want) {
		t.Errorf("ResetAt = %v, want %v", result.ResetAt, want)
	}
	if got := result.RetryAfter(clock.Now()); got != 20 {
		t.Errorf("RetryAfter() = %d, want 20", got)
	}
}

func TestRateLimitStore_IndependentKeys(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewRateLimitStore()
	policy := ratelimit.Policy{Quota: 1, Window: time.Minute}

	if result, _ := store.Allow(ctx, "a", policy); !result.Allowed {
		t.Error("first request for key a denied")
	}
	if result, _ := store.Allow(ctx, "a", policy); result.Allowed {
		t.Error("second request for key a allowed, want denied")
	}
	if result, _ := store.Allow(ctx, "b", policy); !result.Allowed {
		t.Error("first request for key b denied")
	}
}

func TestRateLimitStore_PerCallPolicies(t *testing.T) {
	t.Parallel()

	// One store serves many distinct policies without duplication.
	ctx := context.Background()
	store := NewRateLimitStore()

	tight := ratelimit.Policy{Quota: 1, Window: time.Minute}
	loose := ratelimit.Policy{Quota: 100, Window: time.Minute}

	if result, _ := store.Allow(ctx, "k", tight); !result.Allowed {
		t.Fatal("first request denied")
	}
	// Same key, looser policy: the shared log has one entry, quota 100 admits.
	result, _ := store.Allow(ctx, "k", loose)
	if !result.Allowed || result.Remaining != 98 {
		t.Errorf("loose policy result = %+v, want allowed with remaining 98", result)
	}
}

func TestRateLimitStore_Reset(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewRateLimitStore()
	policy := ratelimit.Policy{Quota: 1, Window: time.Minute}

	if _, err := store.Allow(ctx, "u1", policy); err != nil {
		t.Fatal(err)
	}
	if result, _ := store.Allow(ctx, "u1", policy); result.Allowed {
		t.Fatal("want denied before reset")
	}

	if err := store.Reset(ctx, "u1"); err != nil {
		t.Fatalf("Reset() error: %v", err)
	}
	if result, _ := store.Allow(ctx, "u1", policy); !result.Allowed {
		t.Error("want allowed after reset")
	}
}

func TestRateLimitStore_SweepEvictsStaleKeys(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newFakeClock()
	store := NewRateLimitStore(
		WithRateLimitClock(clock.Now),
		WithStaleAfter(time.Hour),
	)
	policy := ratelimit.Policy{Quota: 5, Window: time.Second}

	if _, err := store.Allow(ctx, "stale", policy); err != nil {
		t.Fatal(err)
	}
	clock.Advance(30 * time.Minute)
	if _, err := store.Allow(ctx, "fresh", policy); err != nil {
		t.Fatal(err)
	}

	// Horizon is independent of the one-second window: after 31 more
	// minutes "stale" is past the hour, "fresh" is not.
	clock.Advance(31 * time.Minute)
	store.sweep()

	if n, _ := store.Size(ctx); n != 1 {
		t.Errorf("Size() after sweep = %d, want 1", n)
	}
	// A swept key is re-created idempotently on its next request.
	if result, _ := store.Allow(ctx, "stale", policy); !result.Allowed || result.Remaining != 4 {
		t.Errorf("re-created key result = %+v, want fresh window", result)
	}
}

func TestRateLimitStore_StartSweepStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := NewRateLimitStore(WithSweepInterval(10 * time.Millisecond))
	store.StartSweep(context.Background())
	time.Sleep(25 * time.Millisecond)

	// Safe to call multiple times.
	store.Stop()
	store.Stop()
}

func TestRateLimitStore_StopViaContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	store := NewRateLimitStore(WithSweepInterval(10 * time.Millisecond))
	store.StartSweep(ctx)
	cancel()

	// Stop still waits for the goroutine to exit.
	store.Stop()
}
