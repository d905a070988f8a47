// Package http holds the gateway's cross-cutting HTTP middleware and the
// operational endpoints (health, readiness, liveness).
package http

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"lms-gateway/internal/handler/http/respond"
	"lms-gateway/internal/observability/logging"
)

const (
	statusHealthy   = "healthy"
	statusDegraded  = "degraded"
	statusUnhealthy = "unhealthy"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp string                 `json:"timestamp"`
	Checks    map[string]CheckStatus `json:"checks"`
	Version   string                 `json:"version"`
}

// CheckStatus is the result of one health check.
type CheckStatus struct {
	Status  string         `json:"status"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// PingFunc checks a remote dependency. Redis clients adapt with
// func(ctx context.Context) error { return client.Ping(ctx).Err() }.
type PingFunc func(ctx context.Context) error

// KeyCounter reports how many buckets the limiter holds.
type KeyCounter interface {
	ActiveKeys(ctx context.Context) (int, error)
}

// BreakerState reports a circuit breaker's state name.
type BreakerState func() string

// HealthHandler serves GET /health. Nil dependencies are skipped; the
// gateway runs without a database or Redis in its default configuration.
type HealthHandler struct {
	DB            *sql.DB
	Redis         PingFunc
	RedisBreaker  BreakerState
	Limiter       KeyCounter
	Backend       string
	FailurePolicy string
	Version       string
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]CheckStatus)
	healthy := true

	if h.DB != nil {
		c := h.checkDatabase(ctx)
		checks["database"] = c
		healthy = healthy && c.Status != statusUnhealthy
	}
	if h.Redis != nil {
		c := h.checkRedis(ctx)
		checks["redis"] = c
		healthy = healthy && c.Status != statusUnhealthy
	}
	if h.Limiter != nil {
		checks["rate_limiter"] = h.checkRateLimiter(ctx)
	}

	status, code := statusHealthy, http.StatusOK
	if !healthy {
		status, code = statusUnhealthy, http.StatusServiceUnavailable
	}

	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	respond.JSON(w, code, HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
		Version:   h.Version,
	})
}

func (h *HealthHandler) checkDatabase(ctx context.Context) CheckStatus {
	if err := h.DB.PingContext(ctx); err != nil {
		logging.FromContext(ctx).Warn("health: database ping failed", "error", respond.SanitizeError(err))
		return CheckStatus{Status: statusUnhealthy, Message: "ping failed"}
	}

	stats := h.DB.Stats()
	details := map[string]any{
		"max_open_connections": stats.MaxOpenConnections,
		"open_connections":     stats.OpenConnections,
		"in_use":               stats.InUse,
		"idle":                 stats.Idle,
		"wait_count":           stats.WaitCount,
		"wait_duration_ms":     stats.WaitDuration.Milliseconds(),
	}
	if stats.MaxOpenConnections == 0 {
		return CheckStatus{Status: statusDegraded, Message: "connection pool max connections not configured", Details: details}
	}

	utilization := float64(stats.InUse) / float64(stats.MaxOpenConnections) * 100
	details["utilization_percent"] = utilization
	if utilization >= 80 {
		return CheckStatus{Status: statusDegraded, Message: "connection pool utilization above 80%", Details: details}
	}
	return CheckStatus{Status: statusHealthy, Details: details}
}

func (h *HealthHandler) checkRedis(ctx context.Context) CheckStatus {
	details := map[string]any{}
	if h.RedisBreaker != nil {
		details["circuit_breaker"] = h.RedisBreaker()
	}
	if err := h.Redis(ctx); err != nil {
		logging.FromContext(ctx).Warn("health: redis ping failed", "error", respond.SanitizeError(err))
		return CheckStatus{Status: statusUnhealthy, Message: "ping failed", Details: details}
	}
	return CheckStatus{Status: statusHealthy, Details: details}
}

// checkRateLimiter never fails the overall status: with a fail-open policy
// the gateway keeps serving while the bucket store is down.
func (h *HealthHandler) checkRateLimiter(ctx context.Context) CheckStatus {
	details := map[string]any{
		"backend":        h.Backend,
		"failure_policy": h.FailurePolicy,
	}
	n, err := h.Limiter.ActiveKeys(ctx)
	if err != nil {
		return CheckStatus{Status: statusDegraded, Message: "bucket store unavailable", Details: details}
	}
	details["active_keys"] = n
	return CheckStatus{Status: statusHealthy, Details: details}
}

// ReadyHandler serves GET /ready: 200 once every configured remote
// dependency answers a ping.
type ReadyHandler struct {
	DB    *sql.DB
	Redis PingFunc
}

func (h *ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if h.DB != nil {
		if err := h.DB.PingContext(ctx); err != nil {
			logging.FromContext(ctx).Warn("ready: database not ready", "error", respond.SanitizeError(err))
			http.Error(w, "database not ready", http.StatusServiceUnavailable)
			return
		}
	}
	if h.Redis != nil {
		if err := h.Redis(ctx); err != nil {
			logging.FromContext(ctx).Warn("ready: redis not ready", "error", respond.SanitizeError(err))
			http.Error(w, "redis not ready", http.StatusServiceUnavailable)
			return
		}
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// LiveHandler serves GET /live and always answers 200.
type LiveHandler struct{}

func (LiveHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("alive"))
}
