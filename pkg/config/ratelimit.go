package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"lms-gateway/pkg/ratelimit"
)

// LoadRateLimitConfig loads limiter configuration from environment variables.
//
// The default limit and window are parsed strictly: a malformed or
// non-positive value is an error, so a typo cannot silently change the limit
// every client gets. Operational knobs (shards, timeouts) fall back to
// defaults with a warning.
//
// Environment variables:
//   - RATELIMIT_ENABLED: Enable/disable rate limiting (default: true)
//   - RATELIMIT_DEFAULT_LIMIT: Tokens per window (default: 10)
//   - RATELIMIT_DEFAULT_WINDOW_SECONDS: Window length (default: 60)
//   - RATELIMIT_OVERRIDES: "key=limit/windowSeconds,..." (default: none)
//   - RATELIMIT_OVERRIDES_FILE: YAML file with an "overrides" list (default: none)
//   - RATELIMIT_BACKEND: "memory" or "redis" (default: memory)
//   - RATELIMIT_SHARDS: Lock shards of the memory store (default: 32)
//   - RATELIMIT_MAX_KEYS_PER_SHARD: Bucket capacity per shard (default: 4096)
//   - RATELIMIT_STORE_TIMEOUT: Bound on each store call (default: 50ms)
//   - RATELIMIT_FAILURE_POLICY: "open" or "closed" (default: open)
//   - RATELIMIT_KEY_STRATEGY: "principal" or "principal_ip" (default: principal)
//   - RATELIMIT_CB_FAILURE_THRESHOLD: Failure ratio that opens the breaker (default: 0.6)
//   - RATELIMIT_CB_RECOVERY_TIMEOUT: Open-state duration (default: 30s)
func LoadRateLimitConfig() (*ratelimit.RateLimitConfig, error) {
	cfg := &ratelimit.RateLimitConfig{
		Enabled: GetEnvBool("RATELIMIT_ENABLED", true),
	}

	limit, err := ParseEnvInt("RATELIMIT_DEFAULT_LIMIT", ratelimit.DefaultLimit)
	if err != nil {
		return nil, err
	}
	windowSeconds, err := ParseEnvInt("RATELIMIT_DEFAULT_WINDOW_SECONDS", int(ratelimit.DefaultWindow.Seconds()))
	if err != nil {
		return nil, err
	}
	defaults, err := ratelimit.NewLimitConfig(limit, windowSeconds)
	if err != nil {
		return nil, fmt.Errorf("RATELIMIT_DEFAULT_*: %w", err)
	}
	cfg.DefaultLimit = defaults.Limit
	cfg.DefaultWindow = defaults.Window

	if path := GetEnvString("RATELIMIT_OVERRIDES_FILE", ""); path != "" {
		fromFile, err := LoadOverridesFile(path)
		if err != nil {
			return nil, err
		}
		cfg.Overrides = append(cfg.Overrides, fromFile...)
	}
	fromEnv, err := ParseOverrides(GetEnvString("RATELIMIT_OVERRIDES", ""))
	if err != nil {
		return nil, fmt.Errorf("RATELIMIT_OVERRIDES: %w", err)
	}
	cfg.Overrides = append(cfg.Overrides, fromEnv...)

	cfg.Backend = GetEnvString("RATELIMIT_BACKEND", ratelimit.BackendMemory)
	cfg.Shards = GetEnvInt("RATELIMIT_SHARDS", ratelimit.DefaultShards)
	cfg.MaxKeysPerShard = GetEnvInt("RATELIMIT_MAX_KEYS_PER_SHARD", ratelimit.DefaultMaxKeysPerShard)
	cfg.StoreTimeout = GetEnvDuration("RATELIMIT_STORE_TIMEOUT", ratelimit.DefaultStoreTimeout)
	cfg.FailurePolicy = ratelimit.FailurePolicy(strings.ToLower(GetEnvString("RATELIMIT_FAILURE_POLICY", string(ratelimit.FailOpen))))
	cfg.KeyStrategy = strings.ToLower(GetEnvString("RATELIMIT_KEY_STRATEGY", ratelimit.KeyByPrincipal))
	cfg.CircuitBreakerFailureThreshold = GetEnvFloat("RATELIMIT_CB_FAILURE_THRESHOLD", 0.6)
	cfg.CircuitBreakerResetTimeout = GetEnvDuration("RATELIMIT_CB_RECOVERY_TIMEOUT", 0)

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("rate limit config: %w", err)
	}
	return cfg, nil
}

// ParseOverrides parses "key=limit/windowSeconds" entries separated by commas,
// for example "user:42=5/30,ip:10.0.0.1=100/60".
func ParseOverrides(s string) ([]ratelimit.KeyLimitConfig, error) {
	var out []ratelimit.KeyLimitConfig
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}

		i := strings.LastIndex(item, "=")
		if i <= 0 {
			return nil, fmt.Errorf("entry %q: want key=limit/windowSeconds", item)
		}
		key, spec := item[:i], item[i+1:]

		limitStr, windowStr, ok := strings.Cut(spec, "/")
		if !ok {
			return nil, fmt.Errorf("entry %q: want key=limit/windowSeconds", item)
		}
		limit, err := strconv.Atoi(strings.TrimSpace(limitStr))
		if err != nil {
			return nil, fmt.Errorf("entry %q: limit: %w", item, err)
		}
		window, err := strconv.Atoi(strings.TrimSpace(windowStr))
		if err != nil {
			return nil, fmt.Errorf("entry %q: window: %w", item, err)
		}

		kl := ratelimit.KeyLimitConfig{Key: strings.TrimSpace(key), Limit: limit, WindowSeconds: window}
		if _, err := kl.Override(); err != nil {
			return nil, fmt.Errorf("entry %q: %w", item, err)
		}
		out = append(out, kl)
	}
	return out, nil
}

type overridesFile struct {
	Overrides []ratelimit.KeyLimitConfig `yaml:"overrides"`
}

// LoadOverridesFile reads per-key overrides from a YAML file:
//
//	overrides:
//	  - key: "user:42"
//	    limit: 5
//	    window_seconds: 30
func LoadOverridesFile(path string) ([]ratelimit.KeyLimitConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read overrides file: %w", err)
	}

	var f overridesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse overrides file %s: %w", path, err)
	}
	for i, o := range f.Overrides {
		if _, err := o.Override(); err != nil {
			return nil, fmt.Errorf("%s: overrides[%d]: %w", path, i, err)
		}
	}
	return f.Overrides, nil
}
