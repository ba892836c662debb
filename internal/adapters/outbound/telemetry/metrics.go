package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/archon-research/stl/stl-feed/internal/ports/outbound"
)

// Compile-time check that Metrics implements outbound.MetricsRecorder
var _ outbound.MetricsRecorder = (*Metrics)(nil)

// Metrics implements the MetricsRecorder interface using OpenTelemetry.
type Metrics struct {
	publishLatency metric.Float64Histogram
	published      metric.Int64Counter
	skipped        metric.Int64Counter
}

// NewMetrics creates a metrics recorder on the global meter provider.
// meterName should typically be the package name or service name.
func NewMetrics(meterName string) (*Metrics, error) {
	return NewMetricsWithProvider(otel.GetMeterProvider(), meterName)
}

// NewMetricsWithProvider creates a metrics recorder on the given meter provider.
func NewMetricsWithProvider(mp metric.MeterProvider, meterName string) (*Metrics, error) {
	meter := mp.Meter(meterName)

	latency, err := meter.Float64Histogram(
		"feed_publish_duration_seconds",
		metric.WithDescription("Time taken to publish a feed value to the sink"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create feed_publish_duration_seconds histogram: %w", err)
	}

	published, err := meter.Int64Counter(
		"feed_published_total",
		metric.WithDescription("Total number of feed values published"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create feed_published_total counter: %w", err)
	}

	skipped, err := meter.Int64Counter(
		"feed_skipped_total",
		metric.WithDescription("Total number of feed emissions without a value"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create feed_skipped_total counter: %w", err)
	}

	return &Metrics{
		publishLatency: latency,
		published:      published,
		skipped:        skipped,
	}, nil
}

// RecordPublish records the duration and status of one publish.
func (m *Metrics) RecordPublish(ctx context.Context, kind string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	attrs := metric.WithAttributes(attribute.String("kind", kind), attribute.String("status", status))
	m.publishLatency.Record(ctx, duration.Seconds(), attrs)
	m.published.Add(ctx, 1, attrs)
}

// RecordSkipped increments the skipped emissions counter.
func (m *Metrics) RecordSkipped(ctx context.Context, kind, reason string) {
	m.skipped.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind), attribute.String("reason", reason)))
}
