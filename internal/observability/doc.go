// Package observability groups the gateway's logging, metrics and tracing
// setup.
//
// Subpackages:
//   - logging: slog construction from LOG_LEVEL / LOG_FORMAT and
//     request-scoped loggers
//   - metrics: the shared Prometheus registry
//   - tracing: OpenTelemetry tracer and HTTP span middleware
package observability
