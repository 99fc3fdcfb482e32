package http

import (
	"net/http"
	"time"

	"github.com/relayguard/relayguard/internal/domain/request"
	"github.com/relayguard/relayguard/internal/service"
)

// GovernanceMiddleware is the interception point: every governed request
// passes through admission, cache lookup, and response recording here.
// Handlers behind it stay oblivious to limiting and caching.
func GovernanceMiddleware(gov *service.Governance, metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			logger := LoggerFromContext(ctx)
			d := describe(r)

			if gov.LimitsEnabled() {
				adm := gov.Admit(ctx, d)
				writeRateLimitHeaders(w, adm)
				if !adm.Allowed {
					logger.Info("request rate limited",
						"key", adm.Key,
						"method", d.Method,
						"path", d.Path)
					if metrics != nil {
						metrics.RateLimitDenials.Inc()
					}
					writeRateLimited(w, r, adm, time.Now())
					return
				}
			}

			cacheable := gov.Cacheable(d)
			if cacheable {
				if rec, ok := gov.Lookup(ctx, d); ok {
					if metrics != nil {
						metrics.CacheLookups.WithLabelValues("hit").Inc()
					}
					w.Header().Set("Content-Type", "application/json")
					w.Header().Set("X-Cache", "HIT")
					w.WriteHeader(rec.Status)
					if _, err := w.Write(rec.Body); err != nil {
						logger.Error("failed to write cached response", "error", err)
					}
					return
				}
				if metrics != nil {
					metrics.CacheLookups.WithLabelValues("miss").Inc()
				}
				w.Header().Set("X-Cache", "MISS")
			}

			// Only cacheable responses need the body buffered; invalidation
			// decisions read the status alone.
			cw := newResponseRecorder(w, cacheable)
			next.ServeHTTP(cw, r)

			if d.Idempotent() {
				if cacheable && !cw.overflow {
					gov.Record(ctx, d, cw.status, cw.body.Bytes())
				}
				return
			}
			if removed := gov.Invalidate(ctx, d, cw.status); removed > 0 {
				logger.Debug("cache invalidated",
					"path", d.Path,
					"removed", removed)
				if metrics != nil {
					metrics.CacheInvalidations.Add(float64(removed))
				}
			}
		})
	}
}

// describe builds the governance descriptor from the request and the
// identity middleware's context values.
func describe(r *http.Request) request.Descriptor {
	d := request.Descriptor{
		Method:     r.Method,
		Path:       r.URL.Path,
		Query:      r.URL.Query(),
		ClientAddr: ClientIPFromContext(r.Context()),
	}
	if p, ok := PrincipalFromContext(r.Context()); ok {
		d.PrincipalID = p.ID
		d.Roles = p.Roles
	}
	return d
}
