// Package ratelimit provides framework-agnostic fixed-window rate limiting.
//
// Each key owns a token bucket that is refilled to its configured limit when
// its window elapses. Rollover is evaluated lazily on access; nothing runs in
// the background. Bucket state lives behind a pluggable BucketStore so the
// same limiter can run on an in-process sharded map or on a shared remote
// store.
package ratelimit

import (
	"context"
	"time"
)

// BucketStore holds bucket state for rate limit keys.
//
// Implementations must execute Apply atomically per key: the lookup, the
// rollover and the decrement happen as one step with respect to every other
// Apply or Delete on the same key. Operations on distinct keys must never
// share state.
type BucketStore interface {
	// Apply looks up the bucket for key, creating it from cfg if absent,
	// replaces it with a full bucket if now has reached its reset time, and
	// takes one token when consume is true and a token is available.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - key: Canonical key string (RateLimitKey.String)
	//   - cfg: Limit configuration used when a bucket is created or rolled over
	//   - now: Current time from the limiter's clock
	//   - consume: Whether to take a token
	//
	// Returns the bucket state after the operation and whether a token was
	// (or, for consume=false, could be) taken.
	Apply(ctx context.Context, key string, cfg LimitConfig, now time.Time, consume bool) (Bucket, bool, error)

	// Delete removes the bucket for key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// KeyCount returns the number of buckets currently held.
	KeyCount(ctx context.Context) (int, error)
}

// RateLimitMetrics defines the interface for recording rate limiting metrics.
//
// Implementations can use Prometheus, StatsD, or other metrics backends.
// All methods must be thread-safe and non-blocking.
type RateLimitMetrics interface {
	// RecordAllowed records a consume that was allowed.
	RecordAllowed(keyKind string)

	// RecordDenied records a consume that was denied.
	RecordDenied(keyKind string)

	// RecordCheckDuration records how long a limiter operation took.
	//
	// Parameters:
	//   - operation: "consume", "check" or "reset"
	//   - duration: Time spent, including the store round trip
	RecordCheckDuration(operation string, duration time.Duration)

	// RecordStoreError records a backing store failure.
	RecordStoreError(operation string)

	// SetActiveKeys sets the number of buckets held by a backend.
	SetActiveKeys(backend string, count int)

	// RecordCircuitState records a circuit breaker state change.
	//
	// Parameters:
	//   - name: Circuit breaker name
	//   - state: "closed", "open", or "half-open"
	RecordCircuitState(name, state string)

	// RecordEviction records expired buckets dropped to make room.
	RecordEviction(backend string, count int)
}
