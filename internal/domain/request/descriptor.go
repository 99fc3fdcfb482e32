// Package request defines the request descriptor the governance layer reads
// and the pure key-derivation functions over it.
package request

import (
	"net/url"
	"sort"
	"strings"
)

// AnonymousPrincipal is the principal segment used in cache keys for
// unauthenticated requests.
const AnonymousPrincipal = "anonymous"

// Descriptor is the narrow view of an inbound request that the governance
// layer consumes. Routing, handlers, and token verification live behind it.
type Descriptor struct {
	// Method is the HTTP method.
	Method string

	// Path is the normalized request path.
	Path string

	// Query holds the raw query parameters.
	Query url.Values

	// PrincipalID is the authenticated identity, empty when anonymous.
	PrincipalID string

	// Roles are the principal's roles, used for quota escalation.
	Roles []string

	// ClientAddr is the client network address, used as the rate-limit key
	// for unauthenticated requests.
	ClientAddr string
}

// Authenticated reports whether the request carries a principal.
func (d Descriptor) Authenticated() bool {
	return d.PrincipalID != ""
}

// Idempotent reports whether the request is a read. Only reads consult and
// populate the response cache.
func (d Descriptor) Idempotent() bool {
	return d.Method == "GET" || d.Method == "HEAD"
}

// RateKey derives the rate-limit key: the principal ID when authenticated,
// the client address otherwise.
func RateKey(d Descriptor) string {
	if d.Authenticated() {
		return d.PrincipalID
	}
	return d.ClientAddr
}

// CacheKey derives the cache key: principal (or "anonymous"), path, and the
// canonical serialization of the query. Two logically-identical requests from
// the same principal collide on the same entry regardless of the order the
// query parameters were sent in.
func CacheKey(d Descriptor) string {
	principal := d.PrincipalID
	if principal == "" {
		principal = AnonymousPrincipal
	}

	var b strings.Builder
	b.WriteString(principal)
	b.WriteByte(':')
	b.WriteString(d.Path)
	if q := CanonicalQuery(d.Query); q != "" {
		b.WriteByte('?')
		b.WriteString(q)
	}
	return b.String()
}

// CanonicalQuery serializes query parameters with stable ordering: keys
// sorted, repeated values sorted within a key.
func CanonicalQuery(q url.Values) string {
	if len(q) == 0 {
		return ""
	}

	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		values := make([]string, len(q[k]))
		copy(values, q[k])
		sort.Strings(values)
		for _, v := range values {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}
