package ratelimit

import (
	"fmt"
	"time"
)

// Default limiter settings.
const (
	DefaultLimit           = 10
	DefaultWindow          = 60 * time.Second
	DefaultShards          = 32
	DefaultMaxKeysPerShard = 4096
	DefaultStoreTimeout    = 50 * time.Millisecond
)

// BackendRedis names the shared Redis store.
const BackendRedis = "redis"

// Key strategies for HTTP callers.
const (
	// KeyByPrincipal limits authenticated callers per user and anonymous
	// callers per address.
	KeyByPrincipal = "principal"

	// KeyByPrincipalAndIP limits authenticated callers per user and address,
	// so one account used from several places gets one bucket per place.
	KeyByPrincipalAndIP = "principal_ip"
)

// FailurePolicy decides what a caller does when the store is unavailable.
type FailurePolicy string

const (
	// FailOpen serves the request without limiting it.
	FailOpen FailurePolicy = "open"

	// FailClosed rejects the request as temporarily unavailable.
	FailClosed FailurePolicy = "closed"
)

// IsValid returns true if the policy is one of the defined values.
func (p FailurePolicy) IsValid() bool {
	return p == FailOpen || p == FailClosed
}

// RateLimitConfig holds the deployment configuration of a limiter.
type RateLimitConfig struct {
	// Enabled turns limiting on. When false the HTTP middleware passes every
	// request through.
	Enabled bool

	// DefaultLimit and DefaultWindow apply to keys without an override.
	DefaultLimit  int
	DefaultWindow time.Duration

	// Overrides are per-key limits registered at startup.
	Overrides []KeyLimitConfig

	// Backend selects the bucket store: "memory" or "redis".
	Backend string

	// Shards and MaxKeysPerShard size the memory store.
	Shards          int
	MaxKeysPerShard int

	// StoreTimeout bounds every store call.
	StoreTimeout time.Duration

	// FailurePolicy applies when the store is unavailable.
	FailurePolicy FailurePolicy

	// KeyStrategy picks how HTTP requests map to keys.
	KeyStrategy string

	// Circuit breaker around the remote store.
	CircuitBreakerFailureThreshold float64       // Trip when the failure ratio reaches this value
	CircuitBreakerResetTimeout     time.Duration // Try half-open state after this timeout
}

// KeyLimitConfig is one configured override in its external form.
type KeyLimitConfig struct {
	Key           string `yaml:"key"`
	Limit         int    `yaml:"limit"`
	WindowSeconds int    `yaml:"window_seconds"`
}

// Override converts the entry into a validated Override.
func (k KeyLimitConfig) Override() (Override, error) {
	key, err := ParseKey(k.Key)
	if err != nil {
		return Override{}, err
	}
	cfg, err := NewLimitConfig(k.Limit, k.WindowSeconds)
	if err != nil {
		return Override{}, err
	}
	return Override{Key: key, Config: cfg}, nil
}

// DefaultLimitConfig returns the LimitConfig built from DefaultLimit and DefaultWindow.
func (c *RateLimitConfig) DefaultLimitConfig() LimitConfig {
	return LimitConfig{Limit: c.DefaultLimit, Window: c.DefaultWindow}
}

// Validate checks the configuration. Call ApplyDefaults first to fill unset
// fields; Validate then rejects anything that is still invalid.
func (c *RateLimitConfig) Validate() error {
	if err := c.DefaultLimitConfig().Validate(); err != nil {
		return fmt.Errorf("default limit: %w", err)
	}

	switch c.Backend {
	case BackendMemory, BackendRedis:
	default:
		return fmt.Errorf("Backend must be %q or %q, got %q", BackendMemory, BackendRedis, c.Backend)
	}

	if c.Shards <= 0 {
		return fmt.Errorf("Shards must be positive, got %d", c.Shards)
	}
	if c.MaxKeysPerShard <= 0 {
		return fmt.Errorf("MaxKeysPerShard must be positive, got %d", c.MaxKeysPerShard)
	}
	if c.StoreTimeout < 0 {
		return fmt.Errorf("StoreTimeout must be non-negative, got %s", c.StoreTimeout)
	}
	if !c.FailurePolicy.IsValid() {
		return fmt.Errorf("FailurePolicy must be %q or %q, got %q", FailOpen, FailClosed, c.FailurePolicy)
	}
	switch c.KeyStrategy {
	case KeyByPrincipal, KeyByPrincipalAndIP:
	default:
		return fmt.Errorf("KeyStrategy must be %q or %q, got %q", KeyByPrincipal, KeyByPrincipalAndIP, c.KeyStrategy)
	}
	if c.CircuitBreakerFailureThreshold < 0 || c.CircuitBreakerFailureThreshold > 1 {
		return fmt.Errorf("CircuitBreakerFailureThreshold must be within [0, 1], got %v", c.CircuitBreakerFailureThreshold)
	}
	if c.CircuitBreakerResetTimeout < 0 {
		return fmt.Errorf("CircuitBreakerResetTimeout must be non-negative, got %s", c.CircuitBreakerResetTimeout)
	}

	for i, o := range c.Overrides {
		if _, err := o.Override(); err != nil {
			return fmt.Errorf("Overrides[%d]: %w", i, err)
		}
	}

	return nil
}

// ApplyDefaults fills zero-valued fields. Negative values are left alone so
// Validate can reject them.
func (c *RateLimitConfig) ApplyDefaults() {
	if c.DefaultLimit == 0 {
		c.DefaultLimit = DefaultLimit
	}
	if c.DefaultWindow == 0 {
		c.DefaultWindow = DefaultWindow
	}
	if c.Backend == "" {
		c.Backend = BackendMemory
	}
	if c.Shards == 0 {
		c.Shards = DefaultShards
	}
	if c.MaxKeysPerShard == 0 {
		c.MaxKeysPerShard = DefaultMaxKeysPerShard
	}
	if c.StoreTimeout == 0 {
		c.StoreTimeout = DefaultStoreTimeout
	}
	if c.FailurePolicy == "" {
		c.FailurePolicy = FailOpen
	}
	if c.KeyStrategy == "" {
		c.KeyStrategy = KeyByPrincipal
	}
	if c.CircuitBreakerFailureThreshold == 0 {
		c.CircuitBreakerFailureThreshold = 0.6
	}
	if c.CircuitBreakerResetTimeout == 0 {
		c.CircuitBreakerResetTimeout = 30 * time.Second
	}
}

// ResolvedOverrides returns the validated overrides.
func (c *RateLimitConfig) ResolvedOverrides() ([]Override, error) {
	out := make([]Override, 0, len(c.Overrides))
	for i, o := range c.Overrides {
		ov, err := o.Override()
		if err != nil {
			return nil, fmt.Errorf("Overrides[%d]: %w", i, err)
		}
		out = append(out, ov)
	}
	return out, nil
}

// DefaultConfig returns an enabled configuration with every default applied.
func DefaultConfig() *RateLimitConfig {
	cfg := &RateLimitConfig{Enabled: true}
	cfg.ApplyDefaults()
	return cfg
}
