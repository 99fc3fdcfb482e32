// Package integration contains full-path tests wiring real components
// together: middleware chain, governance service, stores, and a live
// upstream test server behind the reverse proxy.
package integration

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/http/httputil"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	inhttp "github.com/relayguard/relayguard/internal/adapter/inbound/http"
	"github.com/relayguard/relayguard/internal/adapter/outbound/memory"
	"github.com/relayguard/relayguard/internal/domain/auth"
	"github.com/relayguard/relayguard/internal/domain/policy"
	"github.com/relayguard/relayguard/internal/domain/ratelimit"
	"github.com/relayguard/relayguard/internal/service"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testStack is a fully wired governance pipeline in front of a live upstream.
type testStack struct {
	handler  http.Handler
	upstream *httptest.Server
	calls    *int
}

// newTestStack builds the same chain the transport assembles:
// RequestID -> RealIP -> BearerToken -> Governance -> reverse proxy.
func newTestStack(t *testing.T, tables policy.Tables, rules []service.Rule, creds []auth.Credential) *testStack {
	t.Helper()

	calls := 0
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodGet {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"success": true,
				"data":    map[string]string{"path": r.URL.Path},
			})
			return
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true})
	}))
	t.Cleanup(upstream.Close)

	resolver, err := service.NewPolicyResolver(tables, rules, testLogger())
	require.NoError(t, err)

	gov := service.NewGovernance(
		memory.NewRateLimitStore(),
		memory.NewResponseCache(),
		resolver,
		service.WithGovernanceLogger(testLogger()),
	)

	target, err := url.Parse(upstream.URL)
	require.NoError(t, err)
	proxy := httputil.NewSingleHostReverseProxy(target)

	var handler http.Handler = inhttp.GovernanceMiddleware(gov, nil)(proxy)
	handler = inhttp.BearerTokenMiddleware(auth.NewResolver(creds))(handler)
	handler = inhttp.RealIPMiddleware(handler)
	handler = inhttp.RequestIDMiddleware(testLogger())(handler)

	return &testStack{handler: handler, upstream: upstream, calls: &calls}
}

func defaultTables() policy.Tables {
	return policy.Tables{
		Default: ratelimit.Policy{Quota: 3, Window: time.Minute},
		Roles: map[string]ratelimit.Policy{
			"premium": {Quota: 100, Window: time.Minute},
		},
		Categories: []policy.CacheCategory{
			{Prefix: "/api/", TTL: time.Minute},
		},
		Invalidations: []policy.Invalidation{
			{Prefix: "/api/items", Patterns: []string{"/api/items"}},
		},
	}
}

func premiumCredentials(t *testing.T, token string) []auth.Credential {
	t.Helper()
	return []auth.Credential{
		{
			Hash:      "sha256:" + auth.HashToken(token),
			Principal: auth.Principal{ID: "svc-premium", Roles: []string{"premium"}},
		},
	}
}

func TestFullPath_RoleEscalation(t *testing.T) {
	stack := newTestStack(t, defaultTables(), nil, premiumCredentials(t, "prem-token"))

	// Authenticated request lands on the premium policy.
	req := httptest.NewRequest(http.MethodGet, "/api/items", nil)
	req.Header.Set("Authorization", "Bearer prem-token")
	req.RemoteAddr = "198.51.100.1:4000"
	rec := httptest.NewRecorder()
	stack.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "100", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "99", rec.Header().Get("X-RateLimit-Remaining"))

	// Anonymous request from the same address lands on the default policy.
	req = httptest.NewRequest(http.MethodGet, "/api/other", nil)
	req.RemoteAddr = "198.51.100.1:4000"
	rec = httptest.NewRecorder()
	stack.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "3", rec.Header().Get("X-RateLimit-Limit"))
}

func TestFullPath_AnonymousExhaustion(t *testing.T) {
	stack := newTestStack(t, defaultTables(), nil, nil)

	var last *httptest.ResponseRecorder
	for i, path := range []string{"/api/a", "/api/b", "/api/c", "/api/d"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = "198.51.100.2:4000"
		last = httptest.NewRecorder()
		stack.handler.ServeHTTP(last, req)
		if i < 3 {
			require.Equal(t, http.StatusOK, last.Code, "request %d should be admitted", i+1)
		}
	}

	require.Equal(t, http.StatusTooManyRequests, last.Code)
	assert.NotEmpty(t, last.Header().Get("Retry-After"))
	assert.Equal(t, 3, *stack.calls, "rejected request must not reach the upstream")

	var env struct {
		Success bool `json:"success"`
		Error   struct {
			Code       string `json:"code"`
			RetryAfter int    `json:"retryAfter"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(last.Body.Bytes(), &env))
	assert.False(t, env.Success)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", env.Error.Code)
	assert.GreaterOrEqual(t, env.Error.RetryAfter, 1)
}

func TestFullPath_CacheIsolationPerPrincipal(t *testing.T) {
	creds := append(premiumCredentials(t, "prem-token"),
		auth.Credential{
			Hash:      "sha256:" + auth.HashToken("basic-token"),
			Principal: auth.Principal{ID: "svc-basic", Roles: []string{"premium"}},
		})
	stack := newTestStack(t, defaultTables(), nil, creds)

	send := func(token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/items?page=1", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		req.RemoteAddr = "198.51.100.3:4000"
		rec := httptest.NewRecorder()
		stack.handler.ServeHTTP(rec, req)
		return rec
	}

	require.Equal(t, "MISS", send("prem-token").Header().Get("X-Cache"))
	require.Equal(t, "HIT", send("prem-token").Header().Get("X-Cache"))

	// A different principal must not see the first principal's entry.
	require.Equal(t, "MISS", send("basic-token").Header().Get("X-Cache"))
	assert.Equal(t, 2, *stack.calls)
}

func TestFullPath_WriteInvalidation(t *testing.T) {
	stack := newTestStack(t, defaultTables(), nil, premiumCredentials(t, "prem-token"))

	send := func(method, path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, nil)
		req.Header.Set("Authorization", "Bearer prem-token")
		req.RemoteAddr = "198.51.100.4:4000"
		rec := httptest.NewRecorder()
		stack.handler.ServeHTTP(rec, req)
		return rec
	}

	require.Equal(t, "MISS", send(http.MethodGet, "/api/items").Header().Get("X-Cache"))
	require.Equal(t, "HIT", send(http.MethodGet, "/api/items").Header().Get("X-Cache"))

	require.Equal(t, http.StatusCreated, send(http.MethodPost, "/api/items").Code)

	assert.Equal(t, "MISS", send(http.MethodGet, "/api/items").Header().Get("X-Cache"),
		"successful write must evict the cached listing")
}

func TestFullPath_RuleOverridesTables(t *testing.T) {
	rules := []service.Rule{
		{
			Name:      "throttle-exports",
			Condition: `path.startsWith("/api/export")`,
			Policy:    ratelimit.Policy{Quota: 1, Window: time.Minute},
		},
	}
	stack := newTestStack(t, defaultTables(), rules, premiumCredentials(t, "prem-token"))

	// Even the premium principal is pinned to the rule's quota on export paths.
	req := httptest.NewRequest(http.MethodGet, "/api/export/report", nil)
	req.Header.Set("Authorization", "Bearer prem-token")
	req.RemoteAddr = "198.51.100.5:4000"
	rec := httptest.NewRecorder()
	stack.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Limit"))
}
