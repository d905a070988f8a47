package config

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"
)

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration
	MaxBodyBytes    int64
	UpstreamURL     string
	Version         string
}

// LoadServerConfig reads SERVER_*, VERSION and UPSTREAM_URL.
func LoadServerConfig() ServerConfig {
	return ServerConfig{
		Addr:            GetEnvString("SERVER_ADDR", ":8080"),
		ReadTimeout:     GetEnvDuration("SERVER_READ_TIMEOUT", 10*time.Second),
		WriteTimeout:    GetEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     GetEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: GetEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		RequestTimeout:  GetEnvDuration("SERVER_REQUEST_TIMEOUT", 5*time.Second),
		MaxBodyBytes:    int64(GetEnvInt("SERVER_MAX_BODY_BYTES", 1<<20)),
		UpstreamURL:     GetEnvString("UPSTREAM_URL", ""),
		Version:         GetEnvString("VERSION", "dev"),
	}
}

// RedisConfig configures the shared Redis client.
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// LoadRedisConfig reads REDIS_*.
func LoadRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         GetEnvString("REDIS_ADDR", "localhost:6379"),
		Password:     GetEnvString("REDIS_PASSWORD", ""),
		DB:           GetEnvInt("REDIS_DB", 0),
		DialTimeout:  GetEnvDuration("REDIS_DIAL_TIMEOUT", 2*time.Second),
		ReadTimeout:  GetEnvDuration("REDIS_READ_TIMEOUT", 500*time.Millisecond),
		WriteTimeout: GetEnvDuration("REDIS_WRITE_TIMEOUT", 500*time.Millisecond),
	}
}

// TokenCacheConfig selects the token cache backend.
type TokenCacheConfig struct {
	Backend       string
	PurgeSchedule string
}

// LoadTokenCacheConfig reads TOKENCACHE_*.
func LoadTokenCacheConfig() (TokenCacheConfig, error) {
	cfg := TokenCacheConfig{
		Backend:       strings.ToLower(GetEnvString("TOKENCACHE_BACKEND", "memory")),
		PurgeSchedule: GetEnvString("TOKENCACHE_PURGE_SCHEDULE", "@every 1m"),
	}
	if cfg.Backend != "memory" && cfg.Backend != "redis" {
		return TokenCacheConfig{}, fmt.Errorf("TOKENCACHE_BACKEND must be memory or redis, got %q", cfg.Backend)
	}
	return cfg, nil
}

// AuthConfig configures token issuing and login lockout.
type AuthConfig struct {
	JWTSecret        string
	AccessTTL        time.Duration
	RefreshTTL       time.Duration
	MaxLoginAttempts int
	LockoutWindow    time.Duration
}

const minJWTSecretLength = 32

// LoadAuthConfig reads JWT_* and AUTH_*. JWT_SECRET is required.
func LoadAuthConfig() (AuthConfig, error) {
	cfg := AuthConfig{
		JWTSecret:        GetEnvString("JWT_SECRET", ""),
		AccessTTL:        GetEnvDuration("JWT_ACCESS_TTL", 15*time.Minute),
		RefreshTTL:       GetEnvDuration("JWT_REFRESH_TTL", 7*24*time.Hour),
		MaxLoginAttempts: GetEnvInt("AUTH_MAX_LOGIN_ATTEMPTS", 5),
		LockoutWindow:    GetEnvDuration("AUTH_LOCKOUT_WINDOW", 15*time.Minute),
	}

	if len(cfg.JWTSecret) < minJWTSecretLength {
		return AuthConfig{}, fmt.Errorf("JWT_SECRET must be at least %d characters", minJWTSecretLength)
	}
	if err := ValidatePositiveDuration(cfg.AccessTTL); err != nil {
		return AuthConfig{}, fmt.Errorf("JWT_ACCESS_TTL: %w", err)
	}
	if err := ValidateDurationRange(cfg.RefreshTTL, cfg.AccessTTL, 90*24*time.Hour); err != nil {
		return AuthConfig{}, fmt.Errorf("JWT_REFRESH_TTL: %w", err)
	}
	if cfg.MaxLoginAttempts <= 0 {
		return AuthConfig{}, fmt.Errorf("AUTH_MAX_LOGIN_ATTEMPTS must be positive, got %d", cfg.MaxLoginAttempts)
	}
	if err := ValidatePositiveDuration(cfg.LockoutWindow); err != nil {
		return AuthConfig{}, fmt.Errorf("AUTH_LOCKOUT_WINDOW: %w", err)
	}
	return cfg, nil
}

// ProxyConfig controls whether forwarding headers are believed.
type ProxyConfig struct {
	TrustProxy bool
	Trusted    []netip.Prefix
}

// LoadProxyConfig reads RATELIMIT_TRUST_PROXY and RATELIMIT_TRUSTED_PROXIES.
// Trusting proxies without naming any is an error.
func LoadProxyConfig() (ProxyConfig, error) {
	cfg := ProxyConfig{TrustProxy: GetEnvBool("RATELIMIT_TRUST_PROXY", false)}
	if !cfg.TrustProxy {
		return cfg, nil
	}
	entries := GetEnvStringList("RATELIMIT_TRUSTED_PROXIES", nil)
	if len(entries) == 0 {
		return ProxyConfig{}, errors.New("RATELIMIT_TRUST_PROXY is enabled but RATELIMIT_TRUSTED_PROXIES is empty")
	}
	prefixes, err := ParseTrustedProxies(entries)
	if err != nil {
		return ProxyConfig{}, fmt.Errorf("RATELIMIT_TRUSTED_PROXIES: %w", err)
	}
	cfg.Trusted = prefixes
	return cfg, nil
}
