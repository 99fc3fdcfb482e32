package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/relayguard/relayguard/internal/service"
)

// errorEnvelope is the JSON body written for governance rejections. It
// mirrors the upstream API's failure shape so clients parse both the same way.
type errorEnvelope struct {
	Success bool          `json:"success"`
	Error   envelopeError `json:"error"`
	Meta    envelopeMeta  `json:"meta"`
}

type envelopeError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

type envelopeMeta struct {
	Timestamp string `json:"timestamp"`
	RequestID string `json:"requestId"`
}

// writeRateLimitHeaders emits the quota headers for an admission outcome.
// The headers go on every governed response, allowed or denied, so clients
// can pace themselves before hitting the wall.
func writeRateLimitHeaders(w http.ResponseWriter, adm service.Admission) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(adm.Policy.Quota))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(adm.Remaining))
	w.Header().Set("X-RateLimit-Reset", adm.ResetAt.UTC().Format(time.RFC3339))
}

// writeRateLimited writes the 429 rejection envelope with Retry-After.
func writeRateLimited(w http.ResponseWriter, r *http.Request, adm service.Admission, now time.Time) {
	retryAfter := adm.RetryAfter(now)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	w.WriteHeader(http.StatusTooManyRequests)

	env := errorEnvelope{
		Success: false,
		Error: envelopeError{
			Code:       "RATE_LIMIT_EXCEEDED",
			Message:    "Too many requests, please try again later",
			RetryAfter: retryAfter,
		},
		Meta: envelopeMeta{
			Timestamp: now.UTC().Format(time.RFC3339),
			RequestID: RequestIDFromContext(r.Context()),
		},
	}
	if err := json.NewEncoder(w).Encode(env); err != nil {
		LoggerFromContext(r.Context()).Error("failed to encode rejection envelope", "error", err)
	}
}
