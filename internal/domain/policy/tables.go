// Package policy contains the dispatch tables that map requests to rate-limit
// policies, cache TTLs, and invalidation patterns.
package policy

import (
	"strings"
	"time"

	"github.com/relayguard/relayguard/internal/domain/ratelimit"
	"github.com/relayguard/relayguard/internal/domain/request"
)

// Override binds a dedicated rate-limit policy to a path prefix. Overrides
// take precedence over the role-based defaults, reflecting differing
// cost/abuse profiles per endpoint class (bulk reports, auth, real-time).
type Override struct {
	// Prefix is the path prefix this override applies to.
	Prefix string
	// Policy is the dedicated {quota, window} pair.
	Policy ratelimit.Policy
}

// CacheCategory assigns a TTL to a path prefix, or marks the prefix no-cache.
type CacheCategory struct {
	// Prefix is the path prefix this category applies to.
	Prefix string
	// TTL is the entry lifetime. Ignored when NoCache is set.
	TTL time.Duration
	// NoCache bypasses the cache store entirely for live/real-time paths,
	// rather than using a zero TTL.
	NoCache bool
}

// Invalidation declares which cached entity families a successful write to a
// path prefix affects.
type Invalidation struct {
	// Prefix is the path prefix of the mutating endpoint.
	Prefix string
	// Patterns are substrings removed from the cache after a successful write.
	Patterns []string
}

// Tables holds all dispatch tables. Built once at startup from configuration
// and read-only afterwards.
type Tables struct {
	// Default is the conservative policy for unauthenticated requests and
	// principals with no recognized role.
	Default ratelimit.Policy

	// Roles maps a role name to its escalated policy. When a principal holds
	// several recognized roles, the most generous quota wins.
	Roles map[string]ratelimit.Policy

	// Overrides are path-prefix policies consulted before the role table.
	// The most specific (longest) matching prefix wins.
	Overrides []Override

	// Categories assign cache TTLs per path prefix. A path matching no
	// category is not cacheable.
	Categories []CacheCategory

	// Invalidations declare cache patterns affected by writes per prefix.
	Invalidations []Invalidation
}

// ResolveLimit maps a descriptor to its rate-limit policy.
// Resolution order: path-based override first; if no override matches, fall
// back to the role table; otherwise the conservative default. A missing
// principal always lands on the default rather than failing the request.
func (t Tables) ResolveLimit(d request.Descriptor) ratelimit.Policy {
	if p, ok := t.matchOverride(d.Path); ok {
		return p
	}
	if d.Authenticated() {
		if p, ok := t.bestRolePolicy(d.Roles); ok {
			return p
		}
	}
	return t.Default
}

// matchOverride returns the policy of the longest matching override prefix.
func (t Tables) matchOverride(path string) (ratelimit.Policy, bool) {
	var (
		best    ratelimit.Policy
		bestLen = -1
	)
	for _, o := range t.Overrides {
		if strings.HasPrefix(path, o.Prefix) && len(o.Prefix) > bestLen {
			best = o.Policy
			bestLen = len(o.Prefix)
		}
	}
	return best, bestLen >= 0
}

// bestRolePolicy returns the most generous policy among the given roles.
func (t Tables) bestRolePolicy(roles []string) (ratelimit.Policy, bool) {
	var (
		best  ratelimit.Policy
		found bool
	)
	for _, role := range roles {
		p, ok := t.Roles[role]
		if !ok {
			continue
		}
		if !found || p.Quota > best.Quota {
			best = p
			found = true
		}
	}
	return best, found
}

// ResolveCache maps a path to its cache category. The second return value is
// false when the path matches no category and must not touch the cache store.
func (t Tables) ResolveCache(path string) (CacheCategory, bool) {
	var (
		best    CacheCategory
		bestLen = -1
	)
	for _, c := range t.Categories {
		if strings.HasPrefix(path, c.Prefix) && len(c.Prefix) > bestLen {
			best = c
			bestLen = len(c.Prefix)
		}
	}
	return best, bestLen >= 0
}

// InvalidationPatterns returns every pattern declared as affected by a write
// to the given path.
func (t Tables) InvalidationPatterns(path string) []string {
	var patterns []string
	for _, inv := range t.Invalidations {
		if strings.HasPrefix(path, inv.Prefix) {
			patterns = append(patterns, inv.Patterns...)
		}
	}
	return patterns
}
