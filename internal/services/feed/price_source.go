package feed

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/archon-research/stl/stl-feed/internal/domain/entity"
	"github.com/archon-research/stl/stl-feed/internal/pkg/either"
	"github.com/archon-research/stl/stl-feed/internal/pkg/observable"
	"github.com/archon-research/stl/stl-feed/internal/pkg/observable/channel"
	"github.com/archon-research/stl/stl-feed/internal/ports/inbound"
)

// Compile-time check that PriceSource implements inbound.PriceFeed.
var _ inbound.PriceFeed = (*PriceSource)(nil)

// PriceSource polls a PriceQuerier on a fixed interval.
type PriceSource struct {
	querier inbound.PriceQuerier
	logger  *slog.Logger
}

// NewPriceSource creates a PriceSource backed by querier.
func NewPriceSource(querier inbound.PriceQuerier, logger *slog.Logger) (*PriceSource, error) {
	if querier == nil {
		return nil, errors.New("querier cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PriceSource{
		querier: querier,
		logger:  logger.With("component", "price-source"),
	}, nil
}

// Observe returns a lazy sequence emitting one price per elapsed pollInterval.
// Every call starts its own ticker, so the sequence can be observed again
// after it ended. A fetch is started on every tick even if earlier fetches
// are still running; results are emitted as they complete. A non-positive
// pollInterval yields a sequence that completes immediately.
func (s *PriceSource) Observe(ctx context.Context, pollInterval time.Duration) observable.Observable[either.Either[*entity.Price]] {
	if pollInterval <= 0 {
		s.logger.Error("invalid poll interval", "pollInterval", pollInterval)
	}

	ticks := channel.Interval(ctx, pollInterval)
	return channel.MergeMap(ctx, ticks, 0, func(ctx context.Context, tick uint64) (either.Either[*entity.Price], bool) {
		s.logger.Debug("polling price", "tick", tick)
		return s.querier.FetchLatestPrice(ctx), false
	})
}
