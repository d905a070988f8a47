package tracing

import (
	"context"
	"net/http"

	"lms-gateway/pkg/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// ServiceName is the default service.name resource attribute.
const ServiceName = "lms-gateway"

const tracerName = "lms-gateway/http"

// Config configures the tracer provider.
type Config struct {
	ServiceName string
	// SampleRatio is the fraction of new root traces recorded. Parent
	// decisions from upstream callers are honoured.
	SampleRatio float64
}

// ConfigFromEnv reads OTEL_SERVICE_NAME and TRACING_SAMPLE_RATIO.
func ConfigFromEnv() Config {
	ratio := config.GetEnvFloat("TRACING_SAMPLE_RATIO", 1.0)
	if ratio < 0 || ratio > 1 {
		ratio = 1.0
	}
	return Config{
		ServiceName: config.GetEnvString("OTEL_SERVICE_NAME", ServiceName),
		SampleRatio: ratio,
	}
}

// NewProvider builds a tracer provider, installs it and the W3C propagator
// globally and returns it so the caller can shut it down. Spans go to the
// given exporters; with none they are only used for trace ID correlation.
func NewProvider(cfg Config, exporters ...sdktrace.SpanExporter) *sdktrace.TracerProvider {
	if cfg.ServiceName == "" {
		cfg.ServiceName = ServiceName
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		sdktrace.WithResource(resource.NewSchemaless(semconv.ServiceName(cfg.ServiceName))),
	}
	for _, exp := range exporters {
		opts = append(opts, sdktrace.WithBatcher(exp))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp
}

// Tracer returns the gateway's HTTP tracer from the current global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// Inject writes the span context of ctx into outbound request headers.
func Inject(ctx context.Context, h http.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(h))
}
