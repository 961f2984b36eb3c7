// Package telemetry wires the runtime into OpenTelemetry tracing. Spans are
// exported over OTLP/HTTP; when disabled the global tracer stays a no-op and
// the rest of the runtime never notices.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.40.0"

	"github.com/docent-ai/docent/version"
)

// defaultServiceName identifies this runtime in trace backends.
const defaultServiceName = "docent"

// shutdownTimeout bounds the final flush on shutdown.
const shutdownTimeout = 5 * time.Second

// Config configures trace export.
type Config struct {
	// Enabled turns tracing on. When false, Setup is a no-op.
	Enabled bool

	// Endpoint is the OTLP/HTTP collector endpoint, host:port.
	Endpoint string

	// ServiceName overrides the default resource service name.
	ServiceName string

	// Insecure disables TLS toward the collector (local development).
	Insecure bool
}

// Setup installs the global tracer provider and propagator. The returned
// shutdown function flushes pending spans; call it on process exit.
func Setup(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	if !cfg.Enabled {
		return noop, nil
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = defaultServiceName
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return noop, fmt.Errorf("create trace exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(version.Version),
	))
	if err != nil {
		return noop, fmt.Errorf("build resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()
		return provider.Shutdown(ctx)
	}, nil
}
