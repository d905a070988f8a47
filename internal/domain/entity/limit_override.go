package entity

import (
	"fmt"
	"time"

	"lms-gateway/pkg/ratelimit"
)

// maxWindowSeconds caps persisted windows at one week.
const maxWindowSeconds = 7 * 24 * 60 * 60

// LimitOverride is a persisted per-key limit.
type LimitOverride struct {
	Key           string
	Limit         int
	WindowSeconds int
	UpdatedAt     time.Time
}

// Validate checks the key form and the limit bounds.
func (o *LimitOverride) Validate() error {
	if _, err := ratelimit.ParseKey(o.Key); err != nil {
		return &ValidationError{Field: "key", Message: err.Error()}
	}
	if o.Limit <= 0 {
		return &ValidationError{Field: "limit", Message: "must be positive"}
	}
	if o.WindowSeconds <= 0 {
		return &ValidationError{Field: "window_seconds", Message: "must be positive"}
	}
	if o.WindowSeconds > maxWindowSeconds {
		return &ValidationError{
			Field:   "window_seconds",
			Message: fmt.Sprintf("must not exceed %d", maxWindowSeconds),
		}
	}
	return nil
}

// ToOverride converts o into the limiter's form.
func (o *LimitOverride) ToOverride() (ratelimit.Override, error) {
	if err := o.Validate(); err != nil {
		return ratelimit.Override{}, err
	}
	key, _ := ratelimit.ParseKey(o.Key)
	cfg, err := ratelimit.NewLimitConfig(o.Limit, o.WindowSeconds)
	if err != nil {
		return ratelimit.Override{}, err
	}
	return ratelimit.Override{Key: key, Config: cfg}, nil
}
