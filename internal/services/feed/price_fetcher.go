package feed

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/archon-research/stl/stl-feed/internal/domain/entity"
	"github.com/archon-research/stl/stl-feed/internal/pkg/either"
	"github.com/archon-research/stl/stl-feed/internal/ports/inbound"
	"github.com/archon-research/stl/stl-feed/internal/ports/outbound"
)

// Compile-time check that PriceFetcher implements inbound.PriceQuerier.
var _ inbound.PriceQuerier = (*PriceFetcher)(nil)

// PriceFetcher performs single spot price fetches under the configured error policy.
type PriceFetcher struct {
	provider outbound.SpotPriceProvider
	runner   fetchRunner
	logger   *slog.Logger
}

// NewPriceFetcher creates a new PriceFetcher.
func NewPriceFetcher(config PriceFetcherConfig) (*PriceFetcher, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	config.applyDefaults()

	logger := config.Logger.With("component", "price-fetcher", "provider", config.Provider.Name())
	return &PriceFetcher{
		provider: config.Provider,
		runner:   config.runner(logger),
		logger:   logger,
	}, nil
}

// FetchLatestPrice fetches the current spot price once. Failures are logged
// and, depending on the policy, reported as an empty or an error value.
func (f *PriceFetcher) FetchLatestPrice(ctx context.Context) either.Either[*entity.Price] {
	result := run(ctx, f.runner, "price", nil, f.provider.SpotPrice)
	if price, err := result.ValueOrError(); err == nil && price != nil {
		f.logger.Debug("price fetched", "pair", price.Pair, "value", price.Value)
	}
	return result
}
