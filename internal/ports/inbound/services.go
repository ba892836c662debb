// Package inbound contains the primary/inbound ports.
// These interfaces define the use cases that the application exposes.
package inbound

import (
	"context"
	"time"

	"github.com/archon-research/stl/stl-feed/internal/domain/entity"
	"github.com/archon-research/stl/stl-feed/internal/pkg/either"
	"github.com/archon-research/stl/stl-feed/internal/pkg/observable"
)

// BlockEmission is one value of the block stream.
type BlockEmission = either.Either[*entity.Block]

// PriceEmission is one value of the price stream.
type PriceEmission = either.Either[*entity.Price]

// BlockFeed exposes new blocks as an observable sequence.
type BlockFeed interface {
	// Observe returns the block sequence. It is released when ctx is done or
	// its last observer unsubscribes.
	Observe(ctx context.Context) observable.Observable[BlockEmission]
}

// PriceFeed exposes polled spot prices as an observable sequence.
type PriceFeed interface {
	// Observe returns a price sequence emitting one value per pollInterval.
	Observe(ctx context.Context, pollInterval time.Duration) observable.Observable[PriceEmission]
}

// PriceQuerier fetches a single spot price on demand.
type PriceQuerier interface {
	// FetchLatestPrice performs one fetch and never panics; failures are
	// reported through the returned emission.
	FetchLatestPrice(ctx context.Context) PriceEmission
}

// HealthChecker defines the interface for services that can report readiness and liveness.
//
// Implementations:
//   - relay.Service: ready after the first value is published, healthy while
//     blocks keep arriving
type HealthChecker interface {
	// IsReady returns true when the service is ready to handle traffic.
	// Used by ECS/Kubernetes readiness probes during rolling deployments.
	IsReady() bool

	// IsHealthy returns true when the service is operating normally.
	// Used by ECS/Kubernetes liveness probes to detect stuck services.
	IsHealthy() bool
}
