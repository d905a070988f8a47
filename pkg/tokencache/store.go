// Package tokencache stores short-lived authentication state: session blobs,
// blacklisted tokens, refresh-token mappings and login-attempt counters.
//
// Entries live in a TTLStore under fixed namespaces. Raw tokens are never used
// as keys; they are hashed first.
package tokencache

import (
	"context"
	"time"
)

// TTLStore is a key-value store whose entries expire.
//
// All methods must be safe for concurrent use.
type TTLStore interface {
	// Set stores value under key for ttl. A non-positive ttl stores nothing
	// and removes any existing entry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get returns the value under key and whether it was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether key is present and unexpired.
	Exists(ctx context.Context, key string) (bool, error)

	// IncrWithTTL increments the integer counter under key and returns the new
	// value. The ttl is applied only when the counter is created (value 1);
	// later increments leave the expiry unchanged.
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
}
