package ratelimit

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidLimit is returned when a limit is zero or negative.
	ErrInvalidLimit = errors.New("ratelimit: limit must be positive")

	// ErrInvalidWindow is returned when a window is zero or negative.
	ErrInvalidWindow = errors.New("ratelimit: window must be positive")

	// ErrInvalidKey is returned for empty or malformed keys.
	ErrInvalidKey = errors.New("ratelimit: invalid key")

	// ErrStoreUnavailable marks a failure of the backing store. It is never
	// returned for an exhausted bucket; exhaustion is a denied result.
	ErrStoreUnavailable = errors.New("ratelimit: store unavailable")
)

// StoreError wraps a backing store failure with the operation and key.
// errors.Is(err, ErrStoreUnavailable) holds for every StoreError.
type StoreError struct {
	Op  string
	Key string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("ratelimit: %s %q: store unavailable: %v", e.Op, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is makes StoreError match ErrStoreUnavailable.
func (e *StoreError) Is(target error) bool {
	return target == ErrStoreUnavailable
}
