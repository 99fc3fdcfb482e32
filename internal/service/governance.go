package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/relayguard/relayguard/internal/domain/cache"
	"github.com/relayguard/relayguard/internal/domain/ratelimit"
	"github.com/relayguard/relayguard/internal/domain/request"
)

// Admission is the outcome of a rate-limit check together with the policy
// that was applied, so the transport can emit quota headers.
type Admission struct {
	ratelimit.Result

	// Policy is the resolved {quota, window} pair.
	Policy ratelimit.Policy

	// Key is the rate-limit key the request was charged to.
	Key string
}

// Governance composes the rate-limit store, the response cache, and the
// policy resolver into the request pipeline: decide, short-circuit or
// forward, intercept the response, record.
//
// Both stores are owned exclusively by this service; handler code never
// mutates them. Governance failures are defense-in-depth, never
// correctness-critical: a store error degrades to admit / cache miss and
// the request proceeds to the wrapped handler.
type Governance struct {
	limits   ratelimit.Store
	cache    cache.Store
	resolver *PolicyResolver

	limitsEnabled bool
	cacheEnabled  bool

	logger *slog.Logger
	now    func() time.Time
}

// GovernanceOption configures a Governance service.
type GovernanceOption func(*Governance)

// WithLimitsDisabled turns off admission checks.
func WithLimitsDisabled() GovernanceOption {
	return func(g *Governance) { g.limitsEnabled = false }
}

// WithCacheDisabled turns off response caching and invalidation.
func WithCacheDisabled() GovernanceOption {
	return func(g *Governance) { g.cacheEnabled = false }
}

// WithGovernanceClock sets the time source.
func WithGovernanceClock(now func() time.Time) GovernanceOption {
	return func(g *Governance) { g.now = now }
}

// WithGovernanceLogger sets the logger.
func WithGovernanceLogger(logger *slog.Logger) GovernanceOption {
	return func(g *Governance) { g.logger = logger }
}

// NewGovernance creates the governance service. Construct once at process
// start and pass by handle into the request pipeline.
func NewGovernance(limits ratelimit.Store, responseCache cache.Store, resolver *PolicyResolver, opts ...GovernanceOption) *Governance {
	g := &Governance{
		limits:        limits,
		cache:         responseCache,
		resolver:      resolver,
		limitsEnabled: true,
		cacheEnabled:  true,
		logger:        slog.Default(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// LimitsEnabled reports whether admission checks run.
func (g *Governance) LimitsEnabled() bool { return g.limitsEnabled }

// Admit resolves the policy for a descriptor and charges one request.
// Charging happens at request start, not completion, so slow or abandoned
// requests cannot evade limiting. A store failure admits the request.
func (g *Governance) Admit(ctx context.Context, d request.Descriptor) Admission {
	policy := g.resolver.Resolve(d)
	key := request.RateKey(d)

	result, err := g.limits.Allow(ctx, key, policy)
	if err != nil {
		g.logger.Error("rate limit store failure, admitting request",
			"key", key,
			"error", err)
		result = ratelimit.Result{
			Allowed:   true,
			Remaining: policy.Quota,
			ResetAt:   g.now().Add(policy.Window),
		}
	}

	return Admission{Result: result, Policy: policy, Key: key}
}

// Lookup consults the response cache for an idempotent request.
// Returns the stored record and true on a hit. No-cache categories bypass
// the store entirely; cache errors degrade to a miss.
func (g *Governance) Lookup(ctx context.Context, d request.Descriptor) (cache.Record, bool) {
	if !g.Cacheable(d) {
		return cache.Record{}, false
	}

	key := request.CacheKey(d)
	rec, err := g.cache.Get(ctx, key)
	if errors.Is(err, cache.ErrNotFound) {
		return cache.Record{}, false
	}
	if err != nil {
		g.logger.Warn("cache read failure, treating as miss",
			"key", key,
			"error", err)
		return cache.Record{}, false
	}
	return rec, true
}

// Record conditionally populates the cache from an intercepted response:
// only idempotent requests in a cacheable category, with a success status
// and an explicit non-failure payload marker, are stored. Errors are
// swallowed; caching is never worth failing a served response for.
func (g *Governance) Record(ctx context.Context, d request.Descriptor, status int, body []byte) {
	if !g.Cacheable(d) {
		return
	}
	if status < 200 || status >= 300 {
		return
	}
	if !successEnvelope(body) {
		return
	}

	category, _ := g.resolver.Tables().ResolveCache(d.Path)
	key := request.CacheKey(d)
	rec := cache.Record{Status: status, Body: json.RawMessage(body)}
	if err := g.cache.Set(ctx, key, rec, category.TTL); err != nil {
		g.logger.Warn("cache write failure",
			"key", key,
			"error", err)
	}
}

// Invalidate runs the declared invalidation patterns after a successful
// write, removing every cached view of the affected entity families.
// Returns the number of entries removed.
func (g *Governance) Invalidate(ctx context.Context, d request.Descriptor, status int) int {
	if !g.cacheEnabled || d.Idempotent() {
		return 0
	}
	if status < 200 || status >= 300 {
		return 0
	}

	removed := 0
	for _, pattern := range g.resolver.Tables().InvalidationPatterns(d.Path) {
		n, err := g.cache.InvalidateMatching(ctx, pattern)
		if err != nil {
			g.logger.Warn("cache invalidation failure",
				"pattern", pattern,
				"error", err)
			continue
		}
		removed += n
	}
	return removed
}

// ResetKey clears the rate-limit window for one key. Administrative flow.
func (g *Governance) ResetKey(ctx context.Context, key string) error {
	return g.limits.Reset(ctx, key)
}

// KeyCount reports the number of tracked rate-limit keys, or -1 when the
// store cannot report it.
func (g *Governance) KeyCount(ctx context.Context) int {
	sizer, ok := g.limits.(ratelimit.Sizer)
	if !ok {
		return -1
	}
	n, err := sizer.Size(ctx)
	if err != nil {
		return -1
	}
	return n
}

// EntryCount reports the number of cache entries, or -1 on failure.
func (g *Governance) EntryCount(ctx context.Context) int {
	n, err := g.cache.Size(ctx)
	if err != nil {
		return -1
	}
	return n
}

// Cacheable reports whether a descriptor may touch the cache store at all:
// caching enabled, idempotent method, and a matching category that is not
// marked no-cache. The transport uses this to decide whether the request
// participates in caching (the X-Cache header) at all.
func (g *Governance) Cacheable(d request.Descriptor) bool {
	if !g.cacheEnabled || !d.Idempotent() {
		return false
	}
	category, ok := g.resolver.Tables().ResolveCache(d.Path)
	return ok && !category.NoCache
}

// successEnvelope reports whether a payload carries the explicit
// non-failure marker. Non-JSON payloads are never cached.
func successEnvelope(body []byte) bool {
	var probe struct {
		Success *bool `json:"success"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return false
	}
	return probe.Success != nil && *probe.Success
}
