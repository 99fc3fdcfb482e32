package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"

	"github.com/relayguard/relayguard/internal/service"
)

// HealthResponse is the JSON response from the /health endpoint.
type HealthResponse struct {
	Status  string            `json:"status"`            // "healthy" or "unhealthy"
	Checks  map[string]string `json:"checks"`            // Component check results
	Version string            `json:"version,omitempty"` // Optional version info
}

// HealthChecker verifies component health.
type HealthChecker struct {
	governance *service.Governance
	version    string
}

// NewHealthChecker creates a HealthChecker. Pass nil governance when the
// governed pipeline isn't available.
func NewHealthChecker(governance *service.Governance, version string) *HealthChecker {
	return &HealthChecker{
		governance: governance,
		version:    version,
	}
}

// Check performs health checks on all components.
func (h *HealthChecker) Check(r *http.Request) HealthResponse {
	checks := make(map[string]string)
	healthy := true

	if h.governance != nil {
		// A store that cannot even report its size is degraded: requests
		// still flow (fail-open), but the operator should know.
		if n := h.governance.KeyCount(r.Context()); n >= 0 {
			checks["rate_limit_store"] = fmt.Sprintf("ok: %d keys", n)
		} else {
			checks["rate_limit_store"] = "degraded"
			healthy = false
		}

		if n := h.governance.EntryCount(r.Context()); n >= 0 {
			checks["response_cache"] = fmt.Sprintf("ok: %d entries", n)
		} else {
			checks["response_cache"] = "degraded"
			healthy = false
		}
	} else {
		checks["governance"] = "not configured"
	}

	checks["goroutines"] = fmt.Sprintf("%d", runtime.NumGoroutine())

	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}

	return HealthResponse{
		Status:  status,
		Checks:  checks,
		Version: h.version,
	}
}

// Handler returns an HTTP handler for the health endpoint.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		health := h.Check(r)

		w.Header().Set("Content-Type", "application/json")
		if health.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable) // 503
		} else {
			w.WriteHeader(http.StatusOK) // 200
		}

		_ = json.NewEncoder(w).Encode(health)
	})
}
