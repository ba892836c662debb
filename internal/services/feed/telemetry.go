package feed

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/archon-research/stl/stl-feed/internal/services/feed"

// Telemetry provides OpenTelemetry metrics for the feed sources.
// This is separate from adapter-level telemetry (e.g., ethnode.Telemetry) which
// tracks infrastructure concerns like RPC requests and WebSocket connections.
type Telemetry struct {
	fetchDuration metric.Float64Histogram
	fetchesTotal  metric.Int64Counter
	retriesTotal  metric.Int64Counter
	droppedTotal  metric.Int64Counter
}

// NewTelemetry creates a new Telemetry instance using the global meter provider.
func NewTelemetry() (*Telemetry, error) {
	return NewTelemetryWithProvider(otel.GetMeterProvider())
}

// NewTelemetryWithProvider creates a new Telemetry instance with a custom meter provider.
func NewTelemetryWithProvider(mp metric.MeterProvider) (*Telemetry, error) {
	meter := mp.Meter(instrumentationName)
	t := &Telemetry{}

	var err error
	t.fetchDuration, err = meter.Float64Histogram(
		"feed.fetch.duration",
		metric.WithDescription("Duration of block and price fetches in seconds, retries included"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	t.fetchesTotal, err = meter.Int64Counter(
		"feed.fetches.total",
		metric.WithDescription("Total number of fetches by kind and outcome"),
	)
	if err != nil {
		return nil, err
	}

	t.retriesTotal, err = meter.Int64Counter(
		"feed.fetch.retries.total",
		metric.WithDescription("Total number of fetch retries under the retry policy"),
	)
	if err != nil {
		return nil, err
	}

	t.droppedTotal, err = meter.Int64Counter(
		"feed.blocks.dropped.total",
		metric.WithDescription("Total number of shared block emissions dropped for a slow observer"),
	)
	if err != nil {
		return nil, err
	}

	return t, nil
}

// RecordFetch records a finished fetch. outcome is "success", "empty" or "error".
func (t *Telemetry) RecordFetch(ctx context.Context, kind string, duration time.Duration, outcome string) {
	attrs := metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("outcome", outcome),
	)
	t.fetchDuration.Record(ctx, duration.Seconds(), attrs)
	t.fetchesTotal.Add(ctx, 1, attrs)
}

// RecordRetry records a retried fetch.
func (t *Telemetry) RecordRetry(ctx context.Context, kind string) {
	t.retriesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordDropped records a block emission a slow observer missed.
func (t *Telemetry) RecordDropped(ctx context.Context) {
	t.droppedTotal.Add(ctx, 1)
}
