package otelx

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TracerConfig holds configuration for the agent's internal tracer.
type TracerConfig struct {
	// Enabled controls whether tracing is active. Default: false (no-op).
	Enabled bool

	// ServiceName is the name of the service for trace attribution.
	ServiceName string

	// ServiceVersion is the version of the service.
	ServiceVersion string

	// ExporterType specifies which exporter to use. Traces support
	// stdout and otlp-http.
	ExporterType ExporterType

	// OTLPEndpoint is the endpoint for the OTLP exporter.
	OTLPEndpoint string

	// OTLPInsecure disables TLS for OTLP connections.
	OTLPInsecure bool
}

// DefaultTracerConfig returns a default configuration with tracing disabled.
func DefaultTracerConfig() *TracerConfig {
	return &TracerConfig{
		Enabled:      false,
		ServiceName:  "talon-agent",
		ExporterType: ExporterNone,
	}
}

// Tracer wraps OpenTelemetry tracing for the send and flush paths.
type Tracer struct {
	config         *TracerConfig
	tracerProvider trace.TracerProvider
	tracer         trace.Tracer
	shutdown       func(context.Context) error
}

// NewTracer creates a new Tracer with the given configuration.
func NewTracer(ctx context.Context, cfg *TracerConfig) (*Tracer, error) {
	if cfg == nil {
		cfg = DefaultTracerConfig()
	}

	t := &Tracer{config: cfg}

	if !cfg.Enabled || cfg.ExporterType == ExporterNone {
		t.tracerProvider = noop.NewTracerProvider()
		t.tracer = t.tracerProvider.Tracer(cfg.ServiceName)
		t.shutdown = func(context.Context) error { return nil }
		return t, nil
	}

	var exporter sdktrace.SpanExporter
	var err error
	switch cfg.ExporterType {
	case ExporterStdout:
		exporter, err = stdouttrace.New()
	case ExporterOTLPHTTP:
		opts := []otlptracehttp.Option{}
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpoint(cfg.OTLPEndpoint))
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exporter, err = otlptracehttp.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unsupported trace exporter type: %s", cfg.ExporterType)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	attrs := []attribute.KeyValue{semconv.ServiceName(cfg.ServiceName)}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(cfg.ServiceVersion))
	}
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes("", attrs...),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	t.tracerProvider = tp
	t.tracer = tp.Tracer(cfg.ServiceName)
	t.shutdown = tp.Shutdown
	return t, nil
}

// StartSend starts a span covering one collector POST (including retries).
func (t *Tracer) StartSend(ctx context.Context, records int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "talon.send_batch",
		trace.WithAttributes(attribute.Int("records", records)),
	)
}

// StartFlush starts a span covering one spool flush.
func (t *Tracer) StartFlush(ctx context.Context) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "talon.flush_spool")
}

// Shutdown flushes and stops the tracer provider.
func (t *Tracer) Shutdown(ctx context.Context) error {
	return t.shutdown(ctx)
}
