// Package config reads gateway configuration from the environment.
//
// The GetEnv* helpers are lenient: an unset or malformed variable yields the
// default and a warning. The ParseEnv* helpers are strict and return an error
// instead; use them for values where a silent fallback would hide a
// misconfiguration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads variables from the given .env files (".env" when none are
// given) without overriding variables already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// GetEnvString returns the variable's value, or defaultValue if unset or empty.
//
// Example:
//
//	addr := GetEnvString("SERVER_ADDR", ":8080")
func GetEnvString(key, defaultValue string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value
}

// GetEnvInt returns the variable parsed as an int. Unset yields defaultValue;
// a malformed value logs a warning and yields defaultValue.
func GetEnvInt(key string, defaultValue int) int {
	return lenient(key, defaultValue, strconv.Atoi)
}

// GetEnvFloat returns the variable parsed as a float64.
func GetEnvFloat(key string, defaultValue float64) float64 {
	return lenient(key, defaultValue, func(s string) (float64, error) {
		return strconv.ParseFloat(s, 64)
	})
}

// GetEnvBool returns the variable parsed with strconv.ParseBool.
func GetEnvBool(key string, defaultValue bool) bool {
	return lenient(key, defaultValue, strconv.ParseBool)
}

// GetEnvDuration returns the variable parsed with time.ParseDuration ("30s", "5m").
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	return lenient(key, defaultValue, time.ParseDuration)
}

// GetEnvStringList splits a comma-separated variable, dropping empty items.
//
// Example:
//
//	// RATELIMIT_TRUSTED_PROXIES="10.0.0.0/8, 172.16.0.0/12"
//	cidrs := GetEnvStringList("RATELIMIT_TRUSTED_PROXIES", nil)
func GetEnvStringList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if strings.TrimSpace(value) == "" {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

// ParseEnvInt is the strict form of GetEnvInt.
func ParseEnvInt(key string, defaultValue int) (int, error) {
	return strict(key, defaultValue, strconv.Atoi)
}

// ParseEnvDuration is the strict form of GetEnvDuration.
func ParseEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	return strict(key, defaultValue, time.ParseDuration)
}

func lenient[T any](key string, defaultValue T, parse func(string) (T, error)) T {
	v, err := strict(key, defaultValue, parse)
	if err != nil {
		slog.Warn("invalid environment variable, using default",
			slog.String("key", key),
			slog.Any("default", defaultValue),
			slog.String("error", err.Error()))
		return defaultValue
	}
	return v
}

func strict[T any](key string, defaultValue T, parse func(string) (T, error)) (T, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}
	v, err := parse(raw)
	if err != nil {
		return defaultValue, fmt.Errorf("%s: invalid value %q: %w", key, raw, err)
	}
	return v, nil
}
