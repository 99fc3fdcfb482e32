package memory

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/relayguard/relayguard/internal/domain/cache"
)

func record(body string) cache.Record {
	return cache.Record{Status: 200, Body: json.RawMessage(body)}
}

func TestResponseCache_SetGet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := NewResponseCache()

	if err := c.Set(ctx, "u1:/api/v1/dashboard", record(`{"success":true}`), time.Minute); err != nil {
		t.Fatalf("Set() error: %v", err)
	}

	got, err := c.Get(ctx, "u1:/api/v1/dashboard")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.Status != 200 || string(got.Body) != `{"success":true}` {
		t.Errorf("Get() = %+v", got)
	}
}

func TestResponseCache_Miss(t *testing.T) {
	t.Parallel()

	c := NewResponseCache()
	if _, err := c.Get(context.Background(), "absent"); !errors.Is(err, cache.ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestResponseCache_LazyExpiry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newFakeClock()
	c := NewResponseCache(WithCacheClock(clock.Now))

	if err := c.Set(ctx, "k", record(`{}`), 5*time.Minute); err != nil {
		t.Fatal(err)
	}

	clock.Advance(5*time.Minute + time.Millisecond)

	// Unreachable after the TTL elapses, even without an explicit delete.
	if _, err := c.Get(ctx, "k"); !errors.Is(err, cache.ErrNotFound) {
		t.Fatalf("Get() after expiry error = %v, want ErrNotFound", err)
	}
	// The expired entry was evicted by the read itself.
	if n, _ := c.Size(ctx); n != 0 {
		t.Errorf("Size() after expired read = %d, want 0", n)
	}
}

func TestResponseCache_OverwriteLastWriterWins(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := NewResponseCache()

	_ = c.Set(ctx, "k", record(`{"v":1}`), time.Minute)
	_ = c.Set(ctx, "k", record(`{"v":2}`), time.Minute)

	got, err := c.Get(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if string(got.Body) != `{"v":2}` {
		t.Errorf("Get() body = %s, want last write", got.Body)
	}
}

func TestResponseCache_CopiesOut(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := NewResponseCache()

	_ = c.Set(ctx, "k", record(`{"v":1}`), time.Minute)

	got, _ := c.Get(ctx, "k")
	got.Body[2] = 'x' // mutate the returned copy

	again, _ := c.Get(ctx, "k")
	if string(again.Body) != `{"v":1}` {
		t.Error("store mutated through a returned record")
	}
}

func TestResponseCache_InvalidateMatching(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := NewResponseCache()

	_ = c.Set(ctx, "u1:/api/v1/dashboard?x=1", record(`{}`), time.Minute)
	_ = c.Set(ctx, "u2:/api/v1/dashboard", record(`{}`), time.Minute)
	_ = c.Set(ctx, "u1:/api/v1/tickets", record(`{}`), time.Minute)

	removed, err := c.InvalidateMatching(ctx, "dashboard")
	if err != nil {
		t.Fatalf("InvalidateMatching() error: %v", err)
	}
	if removed != 2 {
		t.Errorf("InvalidateMatching() removed = %d, want 2", removed)
	}

	if _, err := c.Get(ctx, "u1:/api/v1/dashboard?x=1"); !errors.Is(err, cache.ErrNotFound) {
		t.Error("dashboard entry survived invalidation")
	}
	if _, err := c.Get(ctx, "u1:/api/v1/tickets"); err != nil {
		t.Error("unrelated entry was invalidated")
	}
}

func TestResponseCache_DeleteAndClear(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := NewResponseCache()

	_ = c.Set(ctx, "a", record(`{}`), time.Minute)
	_ = c.Set(ctx, "b", record(`{}`), time.Minute)

	if err := c.Delete(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if n, _ := c.Size(ctx); n != 1 {
		t.Errorf("Size() after delete = %d, want 1", n)
	}

	if err := c.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if n, _ := c.Size(ctx); n != 0 {
		t.Errorf("Size() after clear = %d, want 0", n)
	}
}
