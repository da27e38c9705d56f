// Package telemetry wires OpenTelemetry tracing for pipeline runs.
//
// Tracing is off unless an OTLP endpoint is configured; with no endpoint the
// global tracer provider stays the no-op one and spans cost nothing.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope of pipeline spans.
const TracerName = "ecoetl"

// Config configures the OTLP gRPC trace exporter.
type Config struct {
	// Endpoint is the OTLP gRPC endpoint, e.g. "localhost:4317". Empty
	// disables tracing.
	Endpoint string

	ServiceName    string
	ServiceVersion string

	// Insecure disables TLS for the gRPC connection (local collectors).
	Insecure bool

	// Headers are sent with every export request (e.g. auth tokens).
	Headers map[string]string

	// SamplingRatio is the fraction of runs traced; values >= 1 trace all.
	SamplingRatio float64

	ExportTimeout time.Duration
}

// ShutdownFunc flushes pending spans and releases the exporter.
type ShutdownFunc func(context.Context) error

func noopShutdown(context.Context) error { return nil }

// Init installs a global tracer provider exporting to cfg.Endpoint.
func Init(ctx context.Context, cfg Config) (ShutdownFunc, error) {
	if cfg.Endpoint == "" {
		return noopShutdown, nil
	}
	if cfg.ExportTimeout <= 0 {
		cfg.ExportTimeout = 10 * time.Second
	}

	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithTimeout(cfg.ExportTimeout),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
	}

	exp, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create OTLP exporter: %w", err)
	}
	tp, err := newProvider(exp, cfg)
	if err != nil {
		_ = exp.Shutdown(ctx)
		return nil, err
	}

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp.Shutdown, nil
}

func newProvider(exp sdktrace.SpanExporter, cfg Config) (*sdktrace.TracerProvider, error) {
	name := cfg.ServiceName
	if name == "" {
		name = TracerName
	}
	attrs := []attribute.KeyValue{semconv.ServiceName(name)}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(cfg.ServiceVersion))
	}
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(attrs...))
	if err != nil {
		return nil, fmt.Errorf("telemetry: resource: %w", err)
	}

	var sampler sdktrace.Sampler
	switch r := cfg.SamplingRatio; {
	case r <= 0 || r >= 1:
		sampler = sdktrace.AlwaysSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(r)
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler)),
	), nil
}

// Start opens a span on the global provider.
func Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// End closes span, marking it failed when err is non-nil.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
