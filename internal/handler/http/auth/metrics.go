package auth

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// authRequestsTotal counts auth endpoint calls by operation and result.
	authRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_requests_total",
			Help: "Authentication requests by operation and result",
		},
		[]string{"operation", "result"}, // operation: login | refresh | logout; result: success | failure | locked
	)

	authDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "auth_duration_seconds",
			Help:    "Authentication endpoint duration by operation",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
		[]string{"operation"},
	)

	// tokenRejectionsTotal counts bearer tokens refused by the
	// authentication middleware.
	tokenRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_token_rejections_total",
			Help: "Bearer tokens rejected by reason",
		},
		[]string{"reason"}, // invalid | revoked | error
	)

	forbiddenAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forbidden_attempts_total",
			Help: "Forbidden access attempts by role and method",
		},
		[]string{"role", "method"},
	)
)

// RecordAuthRequest records one auth endpoint call.
func RecordAuthRequest(operation, result string, durationSeconds float64) {
	authRequestsTotal.WithLabelValues(operation, result).Inc()
	authDuration.WithLabelValues(operation).Observe(durationSeconds)
}

// RecordTokenRejection records a refused bearer token.
func RecordTokenRejection(reason string) {
	tokenRejectionsTotal.WithLabelValues(reason).Inc()
}

// RecordForbiddenAttempt records a role check failure.
func RecordForbiddenAttempt(role, method string) {
	forbiddenAttempts.WithLabelValues(role, method).Inc()
}
