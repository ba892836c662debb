package outbound

import (
	"context"

	"github.com/archon-research/stl/stl-feed/internal/domain/entity"
)

// FeedSink receives the values emitted by the feed so dashboards that are not
// subscribed in-process can read them.
type FeedSink interface {
	// PublishBlock stores block as the latest block and notifies listeners.
	PublishBlock(ctx context.Context, block *entity.Block) error

	// PublishPrice stores price as the latest price of its pair and notifies listeners.
	PublishPrice(ctx context.Context, price *entity.Price) error

	// Close releases any resources held by the sink.
	Close() error
}
