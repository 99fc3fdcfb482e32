// Package ratelimit provides rate limiting domain types.
package ratelimit

import "time"

// Policy defines the admission parameters for one limiting policy.
// Quota and window are parameters per call, not fixed per store, so a
// single store can serve many distinct policies.
type Policy struct {
	// Quota is the maximum number of requests allowed inside the window.
	Quota int

	// Window is the trailing duration the quota applies to.
	Window time.Duration
}

// Result contains the outcome of an admission check.
type Result struct {
	// Allowed indicates whether the request is admitted.
	Allowed bool

	// Remaining is the quota left in the current window. Always 0 when denied.
	Remaining int

	// ResetAt is the instant the oldest surviving request slides out of the
	// window, freeing the next slot. Reported in the X-RateLimit-Reset
	// header and used to derive retryAfter.
	ResetAt time.Time
}

// RetryAfter returns the number of seconds a denied client should wait,
// rounded up and never less than one.
func (r Result) RetryAfter(now time.Time) int {
	secs := int(r.ResetAt.Sub(now).Seconds())
	if r.ResetAt.Sub(now)%time.Second != 0 {
		secs++
	}
	if secs < 1 {
		secs = 1
	}
	return secs
}
