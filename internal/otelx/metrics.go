// Package otelx provides OpenTelemetry self-telemetry for the agent.
package otelx

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ExporterType defines the type of telemetry exporter to use.
type ExporterType string

const (
	// ExporterNone disables export (no-op).
	ExporterNone ExporterType = "none"
	// ExporterStdout exports to stdout (useful for debugging).
	ExporterStdout ExporterType = "stdout"
	// ExporterOTLPGRPC exports via OTLP over gRPC.
	ExporterOTLPGRPC ExporterType = "otlp-grpc"
	// ExporterOTLPHTTP exports via OTLP over HTTP.
	ExporterOTLPHTTP ExporterType = "otlp-http"
)

// MetricsConfig holds configuration for the agent's self-metrics.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is active. Default: false (no-op).
	Enabled bool

	// ServiceName is the name of the service for metric attribution.
	ServiceName string

	// ServiceVersion is the version of the service.
	ServiceVersion string

	// ExporterType specifies which exporter to use.
	ExporterType ExporterType

	// OTLPEndpoint is the endpoint for OTLP exporters (e.g., "localhost:4317").
	OTLPEndpoint string

	// OTLPInsecure disables TLS for OTLP connections.
	OTLPInsecure bool
}

// DefaultMetricsConfig returns a default configuration with metrics disabled.
func DefaultMetricsConfig() *MetricsConfig {
	return &MetricsConfig{
		Enabled:      false,
		ServiceName:  "talon-agent",
		ExporterType: ExporterNone,
	}
}

// Metrics wraps OpenTelemetry metrics with agent-specific helpers.
type Metrics struct {
	config        *MetricsConfig
	meterProvider *sdkmetric.MeterProvider
	meter         metric.Meter
	shutdown      func(context.Context) error

	spoolBytesFn  func() int64
	spoolBytesMu  sync.RWMutex
	spoolBytesReg metric.Registration

	framesReceived    metric.Int64Counter
	framesQuarantined metric.Int64Counter
	batchesSent       metric.Int64Counter
	batchesSpooled    metric.Int64Counter
	recordsSent       metric.Int64Counter
	flushRecords      metric.Int64Counter
	spoolRotations    metric.Int64Counter
	sendLatency       metric.Float64Histogram
	spoolBytesGauge   metric.Int64ObservableGauge
}

// NewMetrics creates a new Metrics instance with the given configuration.
func NewMetrics(ctx context.Context, cfg *MetricsConfig) (*Metrics, error) {
	if cfg == nil {
		cfg = DefaultMetricsConfig()
	}

	m := &Metrics{config: cfg}

	if !cfg.Enabled || cfg.ExporterType == ExporterNone {
		// Use no-op meter when disabled
		m.meterProvider = sdkmetric.NewMeterProvider()
		m.meter = m.meterProvider.Meter(cfg.ServiceName)
		m.shutdown = func(context.Context) error { return nil }
		if err := m.registerInstruments(); err != nil {
			return nil, err
		}
		return m, nil
	}

	exporter, err := m.createExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics exporter: %w", err)
	}

	res, err := m.createResource(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics resource: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(res),
	)

	m.meterProvider = mp
	m.meter = mp.Meter(cfg.ServiceName)
	m.shutdown = mp.Shutdown

	if err := m.registerInstruments(); err != nil {
		return nil, fmt.Errorf("failed to register metric instruments: %w", err)
	}

	return m, nil
}

// createExporter creates the appropriate metrics exporter based on configuration.
func (m *Metrics) createExporter(ctx context.Context, cfg *MetricsConfig) (sdkmetric.Exporter, error) {
	switch cfg.ExporterType {
	case ExporterStdout:
		return stdoutmetric.New()

	case ExporterOTLPGRPC:
		opts := []otlpmetricgrpc.Option{}
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint))
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		return otlpmetricgrpc.New(ctx, opts...)

	case ExporterOTLPHTTP:
		opts := []otlpmetrichttp.Option{}
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(cfg.OTLPEndpoint))
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		return otlpmetrichttp.New(ctx, opts...)

	default:
		return nil, fmt.Errorf("unknown exporter type: %s", cfg.ExporterType)
	}
}

// createResource creates the OpenTelemetry resource with service information.
func (m *Metrics) createResource(cfg *MetricsConfig) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.ServiceName),
	}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(cfg.ServiceVersion))
	}
	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes("", attrs...),
	)
}

// registerInstruments creates and registers all metric instruments.
func (m *Metrics) registerInstruments() error {
	var err error

	m.framesReceived, err = m.meter.Int64Counter(
		"talon.frames.received",
		metric.WithDescription("Count of tap frames received on the listener"),
	)
	if err != nil {
		return fmt.Errorf("failed to create frames counter: %w", err)
	}

	m.framesQuarantined, err = m.meter.Int64Counter(
		"talon.frames.quarantined",
		metric.WithDescription("Count of frames diverted to quarantine"),
	)
	if err != nil {
		return fmt.Errorf("failed to create quarantine counter: %w", err)
	}

	m.batchesSent, err = m.meter.Int64Counter(
		"talon.batches.sent",
		metric.WithDescription("Count of batches delivered to the collector"),
	)
	if err != nil {
		return fmt.Errorf("failed to create batches sent counter: %w", err)
	}

	m.batchesSpooled, err = m.meter.Int64Counter(
		"talon.batches.spooled",
		metric.WithDescription("Count of batches spooled after delivery failure"),
	)
	if err != nil {
		return fmt.Errorf("failed to create batches spooled counter: %w", err)
	}

	m.recordsSent, err = m.meter.Int64Counter(
		"talon.records.sent",
		metric.WithDescription("Count of trace records delivered to the collector"),
	)
	if err != nil {
		return fmt.Errorf("failed to create records counter: %w", err)
	}

	m.flushRecords, err = m.meter.Int64Counter(
		"talon.flush.records",
		metric.WithDescription("Count of spooled records delivered by flush"),
	)
	if err != nil {
		return fmt.Errorf("failed to create flush counter: %w", err)
	}

	m.spoolRotations, err = m.meter.Int64Counter(
		"talon.spool.rotations",
		metric.WithDescription("Count of spool file rotations"),
	)
	if err != nil {
		return fmt.Errorf("failed to create rotation counter: %w", err)
	}

	m.sendLatency, err = m.meter.Float64Histogram(
		"talon.send.latency",
		metric.WithDescription("Latency of collector POSTs including retries"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return fmt.Errorf("failed to create send latency histogram: %w", err)
	}

	m.spoolBytesGauge, err = m.meter.Int64ObservableGauge(
		"talon.spool.bytes",
		metric.WithDescription("Current size of the spool file"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return fmt.Errorf("failed to create spool gauge: %w", err)
	}

	m.spoolBytesReg, err = m.meter.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			m.spoolBytesMu.RLock()
			fn := m.spoolBytesFn
			m.spoolBytesMu.RUnlock()
			if fn != nil {
				o.ObserveInt64(m.spoolBytesGauge, fn())
			}
			return nil
		},
		m.spoolBytesGauge,
	)
	if err != nil {
		return fmt.Errorf("failed to register spool gauge callback: %w", err)
	}

	return nil
}

// SetSpoolSizeFunc registers the function the spool-size gauge observes.
func (m *Metrics) SetSpoolSizeFunc(fn func() int64) {
	m.spoolBytesMu.Lock()
	defer m.spoolBytesMu.Unlock()
	m.spoolBytesFn = fn
}

// RecordFrameReceived counts one frame received from a tap connection.
func (m *Metrics) RecordFrameReceived(ctx context.Context) {
	if m.framesReceived == nil {
		return
	}
	m.framesReceived.Add(ctx, 1)
}

// RecordQuarantined counts one frame diverted to quarantine.
func (m *Metrics) RecordQuarantined(ctx context.Context, category string) {
	if m.framesQuarantined == nil {
		return
	}
	m.framesQuarantined.Add(ctx, 1, metric.WithAttributes(
		attribute.String("category", category),
	))
}

// RecordBatchSent counts one delivered batch and its latency.
func (m *Metrics) RecordBatchSent(ctx context.Context, records int, latencyMs float64) {
	if m.batchesSent == nil {
		return
	}
	m.batchesSent.Add(ctx, 1)
	m.recordsSent.Add(ctx, int64(records))
	m.sendLatency.Record(ctx, latencyMs, metric.WithAttributes(
		attribute.Bool("success", true),
	))
}

// RecordBatchSpooled counts one batch handed to the spool.
func (m *Metrics) RecordBatchSpooled(ctx context.Context, records int, latencyMs float64) {
	if m.batchesSpooled == nil {
		return
	}
	m.batchesSpooled.Add(ctx, 1)
	m.sendLatency.Record(ctx, latencyMs, metric.WithAttributes(
		attribute.Bool("success", false),
	))
}

// RecordFlush counts records delivered by a spool flush.
func (m *Metrics) RecordFlush(ctx context.Context, records int) {
	if m.flushRecords == nil {
		return
	}
	m.flushRecords.Add(ctx, int64(records))
}

// RecordRotation counts one spool rotation.
func (m *Metrics) RecordRotation(ctx context.Context) {
	if m.spoolRotations == nil {
		return
	}
	m.spoolRotations.Add(ctx, 1)
}

// Shutdown flushes and stops the meter provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m.spoolBytesReg != nil {
		_ = m.spoolBytesReg.Unregister()
	}
	return m.shutdown(ctx)
}

// globalMetrics is the singleton metrics instance.
var (
	globalMetrics   *Metrics
	globalMetricsMu sync.RWMutex
)

// SetGlobalMetrics sets the global metrics instance.
func SetGlobalMetrics(m *Metrics) {
	globalMetricsMu.Lock()
	defer globalMetricsMu.Unlock()
	globalMetrics = m
}

// GetGlobalMetrics returns the global metrics instance, creating a
// disabled no-op instance if none was set.
func GetGlobalMetrics() *Metrics {
	globalMetricsMu.RLock()
	m := globalMetrics
	globalMetricsMu.RUnlock()
	if m != nil {
		return m
	}

	globalMetricsMu.Lock()
	defer globalMetricsMu.Unlock()
	if globalMetrics == nil {
		globalMetrics, _ = NewMetrics(context.Background(), nil)
	}
	return globalMetrics
}
