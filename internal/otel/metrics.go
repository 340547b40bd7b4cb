// Package otel provides OpenTelemetry metrics integration for steamwatch.
package otel

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// MetricsConfig holds configuration for the OpenTelemetry metrics.
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

	// Attributes are additional attributes to add to all metrics.
	Attributes map[string]string
}

// DefaultMetricsConfig returns a default configuration with metrics disabled.
func DefaultMetricsConfig() *MetricsConfig {
	return &MetricsConfig{
		Enabled:      false,
		ServiceName:  "steamwatch",
		ExporterType: ExporterNone,
	}
}

// Metrics wraps OpenTelemetry metrics functionality with steamwatch-specific helpers.
type Metrics struct {
	config          *MetricsConfig
	meterProvider   *sdkmetric.MeterProvider
	meter           metric.Meter
	shutdown        func(context.Context) error
	mu              sync.RWMutex
	snapshotVersion atomic.Uint64
	versionGauge    metric.Int64ObservableGauge
	versionGaugeReg metric.Registration

	// Metric instruments
	cycleLatency   metric.Float64Histogram
	cycleErrors    metric.Int64Counter
	gateWait       metric.Float64Histogram
	activeSessions metric.Int64UpDownCounter
	mergeCounter   metric.Int64Counter
}

// globalMetrics is the singleton metrics instance.
var (
	globalMetrics   *Metrics
	globalMetricsMu sync.RWMutex
)

// NewMetrics creates a new Metrics instance with the given configuration.
func NewMetrics(ctx context.Context, cfg *MetricsConfig) (*Metrics, error) {
	if cfg == nil {
		cfg = DefaultMetricsConfig()
	}

	m := &Metrics{
		config: cfg,
	}

	if !cfg.Enabled || cfg.ExporterType == ExporterNone {
		// Use no-op meter when disabled
		m.meterProvider = sdkmetric.NewMeterProvider()
		m.meter = m.meterProvider.Meter(cfg.ServiceName)
		m.shutdown = func(context.Context) error { return nil }
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

	for k, v := range cfg.Attributes {
		attrs = append(attrs, attribute.String(k, v))
	}

	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes("", attrs...),
	)
}

// registerInstruments creates and registers all metric instruments.
func (m *Metrics) registerInstruments() error {
	var err error

	// Polling cycle latency histogram (in milliseconds)
	m.cycleLatency, err = m.meter.Float64Histogram(
		"steamwatch.cycle.latency",
		metric.WithDescription("Latency of polling cycles"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return fmt.Errorf("failed to create cycle latency histogram: %w", err)
	}

	// Cycle error counter with tier attribute
	m.cycleErrors, err = m.meter.Int64Counter(
		"steamwatch.cycle.errors",
		metric.WithDescription("Count of failed polling cycles by tier"),
	)
	if err != nil {
		return fmt.Errorf("failed to create cycle error counter: %w", err)
	}

	// Rate gate wait histogram (in milliseconds)
	m.gateWait, err = m.meter.Float64Histogram(
		"steamwatch.gate.wait",
		metric.WithDescription("Time spent waiting for the rate gate"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return fmt.Errorf("failed to create gate wait histogram: %w", err)
	}

	// Active play sessions gauge (up/down counter)
	m.activeSessions, err = m.meter.Int64UpDownCounter(
		"steamwatch.session.active",
		metric.WithDescription("Number of open play session windows"),
	)
	if err != nil {
		return fmt.Errorf("failed to create active sessions counter: %w", err)
	}

	// Merge counter
	m.mergeCounter, err = m.meter.Int64Counter(
		"steamwatch.merges",
		metric.WithDescription("Count of observations merged into the canonical snapshot"),
	)
	if err != nil {
		return fmt.Errorf("failed to create merge counter: %w", err)
	}

	// Snapshot version observable gauge
	m.versionGauge, err = m.meter.Int64ObservableGauge(
		"steamwatch.snapshot.version",
		metric.WithDescription("Version of the canonical snapshot"),
	)
	if err != nil {
		return fmt.Errorf("failed to create snapshot version gauge: %w", err)
	}

	m.versionGaugeReg, err = m.meter.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			o.ObserveInt64(m.versionGauge, int64(m.snapshotVersion.Load()))
			return nil
		},
		m.versionGauge,
	)
	if err != nil {
		return fmt.Errorf("failed to register snapshot version callback: %w", err)
	}

	return nil
}

// RecordCycleLatency records the latency of one polling cycle.
func (m *Metrics) RecordCycleLatency(ctx context.Context, tier, outcome string, latencyMs float64) {
	if m.cycleLatency == nil {
		return
	}

	m.cycleLatency.Record(ctx, latencyMs, metric.WithAttributes(
		attribute.String("tier", tier),
		attribute.String("outcome", outcome),
	))
}

// RecordCycleError records a failed cycle for the given tier.
func (m *Metrics) RecordCycleError(ctx context.Context, tier string) {
	if m.cycleErrors == nil {
		return
	}

	m.cycleErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tier", tier),
	))
}

// RecordGateWait records time spent waiting for the rate gate.
func (m *Metrics) RecordGateWait(ctx context.Context, tier string, waitMs float64) {
	if m.gateWait == nil {
		return
	}

	m.gateWait.Record(ctx, waitMs, metric.WithAttributes(
		attribute.String("tier", tier),
	))
}

// IncrementSessions increments the open session windows counter.
func (m *Metrics) IncrementSessions(ctx context.Context) {
	if m.activeSessions == nil {
		return
	}

	m.activeSessions.Add(ctx, 1)
}

// DecrementSessions decrements the open session windows counter.
func (m *Metrics) DecrementSessions(ctx context.Context) {
	if m.activeSessions == nil {
		return
	}

	m.activeSessions.Add(ctx, -1)
}

// RecordMerge increments the merge counter and updates the snapshot version
// read by the observable gauge.
func (m *Metrics) RecordMerge(ctx context.Context, version uint64) {
	m.snapshotVersion.Store(version)

	if m.mergeCounter == nil {
		return
	}

	m.mergeCounter.Add(ctx, 1)
}

// Shutdown gracefully shuts down the metrics provider, flushing any pending metrics.
func (m *Metrics) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.versionGaugeReg != nil {
		if err := m.versionGaugeReg.Unregister(); err != nil {
			return fmt.Errorf("failed to unregister snapshot version callback: %w", err)
		}
	}

	if m.shutdown != nil {
		return m.shutdown(ctx)
	}
	return nil
}

// Enabled returns whether metrics collection is enabled.
func (m *Metrics) Enabled() bool {
	return m.config.Enabled && m.config.ExporterType != ExporterNone
}

// MeterProvider returns the underlying meter provider.
func (m *Metrics) MeterProvider() *sdkmetric.MeterProvider {
	return m.meterProvider
}

// SetGlobalMetrics sets the global metrics instance.
func SetGlobalMetrics(m *Metrics) {
	globalMetricsMu.Lock()
	defer globalMetricsMu.Unlock()
	globalMetrics = m

	if m != nil && m.Enabled() {
		otel.SetMeterProvider(m.meterProvider)
	}
}

// GetGlobalMetrics returns the global metrics instance.
// Returns a no-op metrics instance if none has been set.
func GetGlobalMetrics() *Metrics {
	globalMetricsMu.RLock()
	defer globalMetricsMu.RUnlock()

	if globalMetrics == nil {
		return NoopMetrics()
	}

	return globalMetrics
}

// NoopMetrics returns a metrics instance that does nothing (for testing or when disabled).
func NoopMetrics() *Metrics {
	cfg := DefaultMetricsConfig()
	mp := sdkmetric.NewMeterProvider()
	return &Metrics{
		config:        cfg,
		meterProvider: mp,
		meter:         mp.Meter(cfg.ServiceName),
		shutdown:      func(context.Context) error { return nil },
	}
}
