package feed

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/archon-research/stl/stl-feed/internal/domain/entity"
	"github.com/archon-research/stl/stl-feed/internal/pkg/either"
	"github.com/archon-research/stl/stl-feed/internal/pkg/hexutil"
	"github.com/archon-research/stl/stl-feed/internal/pkg/observable"
	"github.com/archon-research/stl/stl-feed/internal/pkg/observable/channel"
	"github.com/archon-research/stl/stl-feed/internal/ports/inbound"
	"github.com/archon-research/stl/stl-feed/internal/ports/outbound"
)

// Compile-time check that BlockSource implements inbound.BlockFeed.
var _ inbound.BlockFeed = (*BlockSource)(nil)

// BlockSource turns new-head notifications into fully fetched blocks.
//
// A BlockSource owns a single node subscription. Once its sequence has
// ended, observing it again yields a completed sequence; build a new
// BlockSource (and subscriber) to resubscribe.
type BlockSource struct {
	subscriber    outbound.HeaderSubscriber
	fetcher       outbound.BlockFetcher
	maxConcurrent int
	runner        fetchRunner
	logger        *slog.Logger
}

// NewBlockSource creates a new BlockSource.
func NewBlockSource(config BlockSourceConfig) (*BlockSource, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	config.applyDefaults()

	logger := config.Logger.With("component", "block-source")
	return &BlockSource{
		subscriber:    config.Subscriber,
		fetcher:       config.Fetcher,
		maxConcurrent: config.MaxConcurrentFetches,
		runner:        config.runner(logger),
		logger:        logger,
	}, nil
}

// Observe returns a lazy sequence of blocks, one per new-head notification.
//
// The node subscription is opened when the first observer subscribes and
// released when the last one unsubscribes or ctx is done. Blocks are fetched
// concurrently and emitted in completion order.
func (s *BlockSource) Observe(ctx context.Context) observable.Observable[either.Either[*entity.Block]] {
	numbers := channel.Create(ctx, s.produceBlockNumbers)

	return channel.MergeMap(ctx, numbers, s.maxConcurrent, func(ctx context.Context, number uint64) (either.Either[*entity.Block], bool) {
		return run(ctx, s.runner, "block", []any{"block", number}, func(ctx context.Context) (*entity.Block, error) {
			return s.fetchBlock(ctx, number)
		}), false
	})
}

// produceBlockNumbers emits the number of every header received on the node
// subscription until ctx is done or the subscription ends.
func (s *BlockSource) produceBlockNumbers(ctx context.Context, emit func(uint64) bool) {
	// The subscription is stopped through Unsubscribe so eth_unsubscribe is
	// sent before the connection closes.
	headers, err := s.subscriber.Subscribe(context.WithoutCancel(ctx))
	if err != nil {
		s.logger.Error("failed to subscribe to new heads", "error", err)
		return
	}
	defer func() {
		if err := s.subscriber.Unsubscribe(); err != nil {
			s.logger.Warn("failed to release node subscription", "error", err)
		}
		s.logger.Info("node subscription released")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case header, ok := <-headers:
			if !ok {
				s.logger.Warn("header stream ended")
				return
			}

			number, err := hexutil.ParseUint64(header.Number)
			if err != nil {
				s.logger.Warn("skipping header with unparsable number",
					"number", header.Number,
					"hash", hexutil.TruncateHash(header.Hash),
					"error", err,
				)
				continue
			}
			if !emit(number) {
				return
			}
		}
	}
}

func (s *BlockSource) fetchBlock(ctx context.Context, number uint64) (*entity.Block, error) {
	block, err := s.fetcher.BlockByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	if block == nil {
		return nil, fmt.Errorf("node returned no block %d", number)
	}
	if block.Number != number {
		return nil, fmt.Errorf("node returned block %d for notification %d", block.Number, number)
	}
	s.logger.Debug("block fetched",
		"block", number,
		"hash", hexutil.TruncateHash(block.Hash),
		"transactions", block.TransactionCount(),
	)
	return block, nil
}
