package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records epochflow metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordItem records one item emitted by an input step.
	RecordItem(ctx context.Context, step string)

	// RecordEpochAdvance records an input closing an epoch.
	RecordEpochAdvance(ctx context.Context, step string, epoch uint64)

	// RecordSnapshot records the size of an input snapshot.
	RecordSnapshot(ctx context.Context, step string, sizeBytes int64)

	// RecordBackpressure records a tick skipped because downstream was behind.
	RecordBackpressure(ctx context.Context, step string)

	// RecordRun records a run completion.
	RecordRun(ctx context.Context, success bool, duration time.Duration)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	items        metric.Int64Counter
	epochs       metric.Int64Counter
	currentEpoch metric.Int64Gauge
	snapshotSize metric.Int64Histogram
	backpressure metric.Int64Counter
	runs         metric.Int64Counter
	runLatency   metric.Float64Histogram
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics returns the default OTel metrics instance.
// Lazily initializes the metrics on first call.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

// newOtelMetrics creates a new OTel metrics instance.
func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("epochflow")

	items, err := meter.Int64Counter("epochflow.input.items",
		metric.WithDescription("Number of items emitted by inputs"),
	)
	if err != nil {
		return nil, err
	}

	epochs, err := meter.Int64Counter("epochflow.input.epochs",
		metric.WithDescription("Number of epochs closed by inputs"),
	)
	if err != nil {
		return nil, err
	}

	currentEpoch, err := meter.Int64Gauge("epochflow.input.epoch",
		metric.WithDescription("Most recently closed epoch"),
	)
	if err != nil {
		return nil, err
	}

	snapshotSize, err := meter.Int64Histogram("epochflow.snapshot.size_bytes",
		metric.WithDescription("Input snapshot size in bytes"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	backpressure, err := meter.Int64Counter("epochflow.input.backpressure",
		metric.WithDescription("Number of input ticks skipped due to backpressure"),
	)
	if err != nil {
		return nil, err
	}

	runs, err := meter.Int64Counter("epochflow.runs",
		metric.WithDescription("Number of dataflow runs"),
	)
	if err != nil {
		return nil, err
	}

	runLatency, err := meter.Float64Histogram("epochflow.run.latency_ms",
		metric.WithDescription("Dataflow run latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		items:        items,
		epochs:       epochs,
		currentEpoch: currentEpoch,
		snapshotSize: snapshotSize,
		backpressure: backpressure,
		runs:         runs,
		runLatency:   runLatency,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

func stepAttr(step string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("step", step))
}

// RecordItem records one input item.
func (m *otelMetrics) RecordItem(ctx context.Context, step string) {
	m.items.Add(ctx, 1, stepAttr(step))
}

// RecordEpochAdvance records an epoch boundary.
func (m *otelMetrics) RecordEpochAdvance(ctx context.Context, step string, epoch uint64) {
	m.epochs.Add(ctx, 1, stepAttr(step))
	m.currentEpoch.Record(ctx, int64(epoch), stepAttr(step))
}

// RecordSnapshot records a snapshot size.
func (m *otelMetrics) RecordSnapshot(ctx context.Context, step string, sizeBytes int64) {
	m.snapshotSize.Record(ctx, sizeBytes, stepAttr(step))
}

// RecordBackpressure records a skipped tick.
func (m *otelMetrics) RecordBackpressure(ctx context.Context, step string) {
	m.backpressure.Add(ctx, 1, stepAttr(step))
}

// RecordRun records a run.
func (m *otelMetrics) RecordRun(ctx context.Context, success bool, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.Bool("success", success))
	m.runs.Add(ctx, 1, attrs)
	m.runLatency.Record(ctx, float64(duration.Milliseconds()), attrs)
}
