package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relayguard/relayguard/internal/domain/auth"
	"github.com/relayguard/relayguard/internal/service"
)

// gaugePollInterval is how often the store-size gauges refresh.
const gaugePollInterval = 15 * time.Second

// defaultUpstreamTimeout bounds how long the proxy waits for upstream
// response headers before answering 502.
const defaultUpstreamTimeout = 30 * time.Second

// Transport is the inbound adapter that fronts the upstream API with the
// governance pipeline: identity, admission, caching, then reverse proxy.
type Transport struct {
	governance      *service.Governance
	resolver        *auth.Resolver
	upstream        *url.URL
	upstreamTimeout time.Duration
	server          *http.Server
	addr            string
	adminRole       string
	version         string
	logger          *slog.Logger
	metrics         *Metrics
}

// Option is a functional option for configuring Transport.
type Option func(*Transport)

// WithAddr sets the listen address for the HTTP server.
// Default is "127.0.0.1:8080" (localhost only).
func WithAddr(addr string) Option {
	return func(t *Transport) {
		t.addr = addr
	}
}

// WithLogger sets the logger for the transport.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) {
		t.logger = logger
	}
}

// WithAdminRole sets the role required for the administrative endpoints.
// Default is "admin".
func WithAdminRole(role string) Option {
	return func(t *Transport) {
		t.adminRole = role
	}
}

// WithUpstreamTimeout bounds how long the proxy waits for the upstream's
// response headers. Zero or negative keeps the default.
func WithUpstreamTimeout(timeout time.Duration) Option {
	return func(t *Transport) {
		if timeout > 0 {
			t.upstreamTimeout = timeout
		}
	}
}

// WithVersion sets the version string reported by /health.
func WithVersion(version string) Option {
	return func(t *Transport) {
		t.version = version
	}
}

// NewTransport creates the transport over the governance service, the token
// resolver, and the upstream base URL requests are proxied to.
func NewTransport(governance *service.Governance, resolver *auth.Resolver, upstream *url.URL, opts ...Option) *Transport {
	t := &Transport{
		governance:      governance,
		resolver:        resolver,
		upstream:        upstream,
		upstreamTimeout: defaultUpstreamTimeout,
		addr:            "127.0.0.1:8080",
		adminRole:       "admin",
		logger:          slog.Default(),
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Start begins accepting HTTP connections and proxying governed requests.
// It blocks until the context is cancelled or an error occurs.
func (t *Transport) Start(ctx context.Context) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	t.metrics = NewMetrics(reg)

	router := chi.NewRouter()

	// Middleware order (outermost first):
	// 1. MetricsMiddleware - record duration and status (outermost to capture full duration)
	// 2. RequestID - extract/generate request ID and enrich logger
	// 3. RealIP - extract client IP from X-Forwarded-For
	// 4. BearerToken - resolve principal from Authorization header
	// 5. Governance - admission, cache lookup, response interception
	// 6. Reverse proxy to the upstream API
	router.Use(MetricsMiddleware(t.metrics))
	router.Use(RequestIDMiddleware(t.logger))
	router.Use(RealIPMiddleware)
	router.Use(BearerTokenMiddleware(t.resolver))

	healthChecker := NewHealthChecker(t.governance, t.version)
	router.Handle("/health", healthChecker.Handler())
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		Registry: reg,
	}))

	router.Route("/admin", func(r chi.Router) {
		r.Use(t.requireAdmin)
		r.Delete("/rate-limits/{key}", t.handleResetKey)
	})

	proxy := t.proxyHandler()
	router.Handle("/*", GovernanceMiddleware(t.governance, t.metrics)(proxy))

	t.server = &http.Server{
		Addr:              t.addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go t.pollGauges(ctx)

	errCh := make(chan error, 1)
	go func() {
		t.logger.Info("starting HTTP server", "addr", t.addr)
		err := t.server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		t.logger.Info("context cancelled, shutting down HTTP server")
		return t.shutdown()
	case err := <-errCh:
		return err
	}
}

// proxyHandler builds the reverse proxy to the upstream API. Without an
// upstream configured, governed paths answer 502.
func (t *Transport) proxyHandler() http.Handler {
	if t.upstream == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "no upstream configured", http.StatusBadGateway)
		})
	}

	proxy := httputil.NewSingleHostReverseProxy(t.upstream)
	proxy.Transport = &http.Transport{
		ResponseHeaderTimeout: t.upstreamTimeout,
	}
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		LoggerFromContext(r.Context()).Error("upstream request failed",
			"upstream", t.upstream.Host,
			"error", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": false,
			"error":   map[string]string{"code": "UPSTREAM_UNAVAILABLE", "message": "upstream request failed"},
		})
	}
	return proxy
}

// requireAdmin gates the administrative routes behind the configured role.
func (t *Transport) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFromContext(r.Context())
		if !ok || !slices.Contains(p.Roles, t.adminRole) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleResetKey clears the rate-limit window for one key.
func (t *Transport) handleResetKey(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if key == "" {
		http.Error(w, "missing key", http.StatusBadRequest)
		return
	}

	if err := t.governance.ResetKey(r.Context(), key); err != nil {
		LoggerFromContext(r.Context()).Error("rate limit reset failed",
			"key", key,
			"error", err)
		http.Error(w, "reset failed", http.StatusInternalServerError)
		return
	}

	t.logger.Info("rate limit key reset", "key", key)
	w.WriteHeader(http.StatusNoContent)
}

// pollGauges refreshes the store-size gauges until the context is done.
func (t *Transport) pollGauges(ctx context.Context) {
	ticker := time.NewTicker(gaugePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := t.governance.KeyCount(ctx); n >= 0 {
				t.metrics.RateLimitKeys.Set(float64(n))
			}
			if n := t.governance.EntryCount(ctx); n >= 0 {
				t.metrics.CacheEntries.Set(float64(n))
			}
		}
	}
}

// shutdown performs graceful shutdown of the HTTP server.
func (t *Transport) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := t.server.Shutdown(ctx); err != nil {
		t.logger.Error("error during server shutdown", "error", err)
		return err
	}

	t.logger.Info("HTTP server shutdown complete")
	return nil
}

// Close gracefully shuts down the transport.
func (t *Transport) Close() error {
	if t.server == nil {
		return nil
	}
	return t.shutdown()
}
