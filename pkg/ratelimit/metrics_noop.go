package ratelimit

import "time"

// NoOpMetrics implements RateLimitMetrics and records nothing.
type NoOpMetrics struct{}

// NewNoOpMetrics creates a new NoOpMetrics instance.
func NewNoOpMetrics() *NoOpMetrics {
	return &NoOpMetrics{}
}

func (m *NoOpMetrics) RecordAllowed(keyKind string) {}

func (m *NoOpMetrics) RecordDenied(keyKind string) {}

func (m *NoOpMetrics) RecordCheckDuration(operation string, duration time.Duration) {}

func (m *NoOpMetrics) RecordStoreError(operation string) {}

func (m *NoOpMetrics) SetActiveKeys(backend string, count int) {}

func (m *NoOpMetrics) RecordCircuitState(name, state string) {}

func (m *NoOpMetrics) RecordEviction(backend string, count int) {}
