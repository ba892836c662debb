package outbound

import (
	"context"
	"time"
)

// MetricsRecorder provides an interface for recording application metrics.
// This allows the services to record metrics without depending on
// specific telemetry implementations.
type MetricsRecorder interface {
	// RecordPublish records one attempt to publish a feed value.
	// kind is "block" or "price".
	RecordPublish(ctx context.Context, kind string, duration time.Duration, err error)

	// RecordSkipped records an emission that carried no value.
	// reason is "empty" or "error".
	RecordSkipped(ctx context.Context, kind, reason string)
}
