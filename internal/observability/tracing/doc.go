// Package tracing sets up the OpenTelemetry tracer provider and wraps HTTP
// handlers in server spans.
//
//	tp := tracing.NewProvider(tracing.ConfigFromEnv())
//	defer tp.Shutdown(ctx)
//
//	handler := tracing.Middleware(router)
package tracing
