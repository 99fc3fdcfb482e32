// Package http provides the inbound HTTP transport for Relayguard.
//
// This package fronts a JSON API backend with the governance pipeline:
// identity resolution, rate-limit admission, response caching, and write
// invalidation, with everything else reverse-proxied to the upstream.
//
// # Usage
//
// Create and start a transport:
//
//	transport := http.NewTransport(governance, resolver, upstreamURL,
//	    http.WithAddr(":8080"),
//	    http.WithLogger(logger),
//	)
//	err := transport.Start(ctx)
//
// # Endpoints
//
//	/health                        - Component health report
//	/metrics                       - Prometheus metrics
//	DELETE /admin/rate-limits/{key} - Reset one rate-limit key (admin role)
//	/*                             - Governed reverse proxy to the upstream
//
// # Request Headers
//
//	Authorization: Bearer <token>  - Token resolved to a principal
//	X-Request-ID: <id>             - Correlation ID, generated when absent
//	X-Forwarded-For / X-Real-IP    - Client IP behind reverse proxies
//
// # Response Headers
//
//	X-RateLimit-Limit     - Quota for the applied policy
//	X-RateLimit-Remaining - Requests left in the current window
//	X-RateLimit-Reset     - RFC 3339 instant the window resets
//	Retry-After           - Seconds to wait, on 429 only
//	X-Cache: HIT|MISS     - Cache outcome; absent for requests outside a cacheable category
//	X-Request-ID          - Correlation ID echoed back
//
// # Middleware Chain
//
// Requests pass through middleware in this order:
//
//  1. MetricsMiddleware - Records duration and status
//  2. RequestIDMiddleware - Extracts/generates request ID, enriches logger
//  3. RealIPMiddleware - Extracts client IP from proxy headers
//  4. BearerTokenMiddleware - Resolves the principal, anonymous on failure
//  5. GovernanceMiddleware - Admission, cache lookup, response interception
//  6. Reverse proxy - Forwards to the upstream API
//
// Rate-limit rejections never reach the upstream: they are answered with a
// 429 envelope directly from the governance middleware. Cache hits replay
// the stored response with X-Cache: HIT and skip the upstream as well.
package http
