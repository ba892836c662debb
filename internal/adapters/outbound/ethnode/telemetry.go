// telemetry.go provides OpenTelemetry instrumentation for the node adapters.
//
// Client metrics:
//   - ethnode.client.request.duration: Histogram of request latencies
//   - ethnode.client.requests.total: Counter of total requests by method/status
//   - ethnode.client.retries.total: Counter of retry attempts
//
// Subscriber metrics:
//   - ethnode.subscriber.reconnections.total: Counter of reconnection events
//   - ethnode.subscriber.headers.received.total: Counter of headers forwarded
//   - ethnode.subscriber.headers.dropped.total: Counter of headers dropped (buffer full)
//   - ethnode.subscriber.connection.state: Gauge of connection state (1=connected, 0=disconnected)
package ethnode

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/archon-research/stl/stl-feed/internal/adapters/outbound/ethnode"

// Telemetry provides OpenTelemetry metrics and tracing for the node adapters.
type Telemetry struct {
	tracer trace.Tracer

	requestDuration metric.Float64Histogram
	requestsTotal   metric.Int64Counter
	retriesTotal    metric.Int64Counter

	reconnectionsTotal   metric.Int64Counter
	headersReceivedTotal metric.Int64Counter
	headersDroppedTotal  metric.Int64Counter
	connectionState      metric.Int64UpDownCounter
}

// NewTelemetry creates a new Telemetry instance using the global providers.
func NewTelemetry() (*Telemetry, error) {
	return NewTelemetryWithProviders(otel.GetTracerProvider(), otel.GetMeterProvider())
}

// NewTelemetryWithProviders creates a new Telemetry instance with custom providers.
func NewTelemetryWithProviders(tp trace.TracerProvider, mp metric.MeterProvider) (*Telemetry, error) {
	meter := mp.Meter(instrumentationName)
	t := &Telemetry{tracer: tp.Tracer(instrumentationName)}

	var err error
	t.requestDuration, err = meter.Float64Histogram(
		"ethnode.client.request.duration",
		metric.WithDescription("Duration of JSON-RPC requests in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	t.requestsTotal, err = meter.Int64Counter(
		"ethnode.client.requests.total",
		metric.WithDescription("Total number of JSON-RPC requests"),
	)
	if err != nil {
		return nil, err
	}

	t.retriesTotal, err = meter.Int64Counter(
		"ethnode.client.retries.total",
		metric.WithDescription("Total number of retry attempts"),
	)
	if err != nil {
		return nil, err
	}

	t.reconnectionsTotal, err = meter.Int64Counter(
		"ethnode.subscriber.reconnections.total",
		metric.WithDescription("Total number of WebSocket reconnections"),
	)
	if err != nil {
		return nil, err
	}

	t.headersReceivedTotal, err = meter.Int64Counter(
		"ethnode.subscriber.headers.received.total",
		metric.WithDescription("Total number of block headers forwarded"),
	)
	if err != nil {
		return nil, err
	}

	t.headersDroppedTotal, err = meter.Int64Counter(
		"ethnode.subscriber.headers.dropped.total",
		metric.WithDescription("Total number of block headers dropped due to full channel"),
	)
	if err != nil {
		return nil, err
	}

	t.connectionState, err = meter.Int64UpDownCounter(
		"ethnode.subscriber.connection.state",
		metric.WithDescription("Current connection state (1=connected, 0=disconnected)"),
	)
	if err != nil {
		return nil, err
	}

	return t, nil
}

// StartSpan starts a new client span for an RPC method call.
func (t *Telemetry) StartSpan(ctx context.Context, method string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "ethnode."+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("rpc.system", "jsonrpc"),
			attribute.String("rpc.method", method),
		),
	)
}

// RecordRequest records metrics for a JSON-RPC request.
func (t *Telemetry) RecordRequest(ctx context.Context, method string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("rpc.method", method),
		attribute.String("status", status),
	)

	t.requestDuration.Record(ctx, duration.Seconds(), attrs)
	t.requestsTotal.Add(ctx, 1, attrs)
}

// RecordRetry records a retry attempt.
func (t *Telemetry) RecordRetry(ctx context.Context, method string, attempt int) {
	t.retriesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("rpc.method", method),
		attribute.Int("attempt", attempt),
	))
}

// RecordReconnection records a WebSocket reconnection event.
func (t *Telemetry) RecordReconnection(ctx context.Context) {
	t.reconnectionsTotal.Add(ctx, 1)
}

// RecordHeaderReceived records a block header being forwarded.
func (t *Telemetry) RecordHeaderReceived(ctx context.Context) {
	t.headersReceivedTotal.Add(ctx, 1)
}

// RecordHeaderDropped records a block header being dropped due to a full channel.
func (t *Telemetry) RecordHeaderDropped(ctx context.Context) {
	t.headersDroppedTotal.Add(ctx, 1)
}

// RecordConnectionUp records the connection becoming established.
func (t *Telemetry) RecordConnectionUp(ctx context.Context) {
	t.connectionState.Add(ctx, 1)
}

// RecordConnectionDown records the connection being lost.
func (t *Telemetry) RecordConnectionDown(ctx context.Context) {
	t.connectionState.Add(ctx, -1)
}
