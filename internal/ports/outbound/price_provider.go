package outbound

import (
	"context"

	"github.com/archon-research/stl/stl-feed/internal/domain/entity"
)

// SpotPriceProvider is the interface for any spot price source.
type SpotPriceProvider interface {
	// Name returns the provider name (e.g., "coinbase").
	Name() string

	// SpotPrice fetches the current spot price of the configured pair.
	SpotPrice(ctx context.Context) (*entity.Price, error)
}
