package ratelimit

import (
	"fmt"
	"time"
)

// ReasonLimitExceeded is the reason attached to every denied result.
const ReasonLimitExceeded = "Rate limit exceeded"

// RateLimitResult is the outcome of a Consume or Check.
//
// A denied result is a normal outcome, not an error. Callers map it to their
// own protocol (HTTP 429, a gRPC status, a CLI message).
type RateLimitResult struct {
	// Key is the canonical key the result applies to.
	Key string

	// Allowed reports whether the request may proceed.
	Allowed bool

	// Limit is the bucket's limit for the current window.
	Limit int

	// Remaining is the number of tokens left after this call. Always 0 when denied.
	Remaining int

	// ResetAt is when the current window ends and the bucket refills.
	ResetAt time.Time

	// Reason is ReasonLimitExceeded for denied results, empty otherwise.
	Reason string
}

func newResult(key string, b Bucket, allowed bool) *RateLimitResult {
	r := &RateLimitResult{
		Key:       key,
		Allowed:   allowed,
		Limit:     b.Limit,
		Remaining: b.TokensRemaining,
		ResetAt:   b.ResetAt,
	}
	if !allowed {
		r.Remaining = 0
		r.Reason = ReasonLimitExceeded
	}
	return r
}

// String returns a human-readable representation of the result.
func (r *RateLimitResult) String() string {
	if r.Allowed {
		return fmt.Sprintf("RateLimitResult{Allowed: true, Key: %s, Remaining: %d/%d, ResetAt: %s}",
			r.Key, r.Remaining, r.Limit, r.ResetAt.Format(time.RFC3339))
	}
	return fmt.Sprintf("RateLimitResult{Allowed: false, Key: %s, Limit: %d, Reason: %s, ResetAt: %s}",
		r.Key, r.Limit, r.Reason, r.ResetAt.Format(time.RFC3339))
}

// IsDenied returns true if the request was denied.
func (r *RateLimitResult) IsDenied() bool {
	return !r.Allowed
}

// ResetAtUnix returns the reset time as a Unix timestamp.
//
// This is useful for HTTP headers like X-RateLimit-Reset.
func (r *RateLimitResult) ResetAtUnix() int64 {
	return r.ResetAt.Unix()
}

// RetryAfter returns how long until the window resets, never negative.
func (r *RateLimitResult) RetryAfter(now time.Time) time.Duration {
	d := r.ResetAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// RetryAfterSeconds returns the retry delay in whole seconds, rounded up and
// at least 1, for the Retry-After header.
func (r *RateLimitResult) RetryAfterSeconds(now time.Time) int64 {
	d := r.RetryAfter(now)
	seconds := int64(d / time.Second)
	if d%time.Second != 0 {
		seconds++
	}
	if seconds < 1 {
		return 1
	}
	return seconds
}
