package ratelimit

import (
	"fmt"
	"time"
)

// LimitConfig is the maximum number of tokens a key may take per window.
type LimitConfig struct {
	Limit  int
	Window time.Duration
}

// NewLimitConfig validates and builds a LimitConfig from a window in seconds.
func NewLimitConfig(limit, windowSeconds int) (LimitConfig, error) {
	cfg := LimitConfig{
		Limit:  limit,
		Window: time.Duration(windowSeconds) * time.Second,
	}
	if err := cfg.Validate(); err != nil {
		return LimitConfig{}, err
	}
	return cfg, nil
}

// Validate returns ErrInvalidLimit or ErrInvalidWindow for non-positive values.
func (c LimitConfig) Validate() error {
	if c.Limit <= 0 {
		return fmt.Errorf("%w, got %d", ErrInvalidLimit, c.Limit)
	}
	if c.Window <= 0 {
		return fmt.Errorf("%w, got %v", ErrInvalidWindow, c.Window)
	}
	return nil
}

// WindowSeconds returns the window rounded down to whole seconds.
func (c LimitConfig) WindowSeconds() int {
	return int(c.Window / time.Second)
}

func (c LimitConfig) String() string {
	return fmt.Sprintf("%d/%v", c.Limit, c.Window)
}
