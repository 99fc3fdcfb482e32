package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/relayguard/relayguard/internal/adapter/outbound/memory"
	"github.com/relayguard/relayguard/internal/domain/policy"
	"github.com/relayguard/relayguard/internal/domain/ratelimit"
	"github.com/relayguard/relayguard/internal/service"
)

func TestHealthChecker_Healthy(t *testing.T) {
	t.Parallel()

	tables := policy.Tables{Default: ratelimit.Policy{Quota: 1, Window: time.Minute}}
	resolver, err := service.NewPolicyResolver(tables, nil, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	gov := service.NewGovernance(
		memory.NewRateLimitStore(),
		memory.NewResponseCache(),
		resolver,
		service.WithGovernanceLogger(discardLogger()),
	)

	hc := NewHealthChecker(gov, "test-version")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	hc.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var health HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatal(err)
	}
	if health.Status != "healthy" {
		t.Errorf("Status = %q, want healthy", health.Status)
	}
	if health.Version != "test-version" {
		t.Errorf("Version = %q, want test-version", health.Version)
	}
	if health.Checks["rate_limit_store"] == "" {
		t.Error("expected rate_limit_store check")
	}
	if health.Checks["response_cache"] == "" {
		t.Error("expected response_cache check")
	}
}

func TestHealthChecker_NilGovernance(t *testing.T) {
	t.Parallel()

	hc := NewHealthChecker(nil, "")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	health := hc.Check(req)

	if health.Status != "healthy" {
		t.Errorf("Status = %q, want healthy", health.Status)
	}
	if health.Checks["governance"] != "not configured" {
		t.Errorf("governance = %q, want 'not configured'", health.Checks["governance"])
	}
}
