// feedsink.go provides an in-memory implementation of FeedSink.
//
// The sink keeps every published block and price and exposes the latest of
// each, which is enough for a single process serving its own HTTP API:
//   - LatestBlock()/LatestPrice(): most recent values
//   - Blocks()/Prices(): full history, oldest first
//   - OnPublish(): callback for test assertions
//
// History is bounded by MaxHistory. All operations are thread-safe.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/archon-research/stl/stl-feed/internal/domain/entity"
	"github.com/archon-research/stl/stl-feed/internal/ports/outbound"
)

// Compile-time check that FeedSink implements outbound.FeedSink
var _ outbound.FeedSink = (*FeedSink)(nil)

// DefaultMaxHistory is the number of blocks and prices kept when no limit is given.
const DefaultMaxHistory = 1000

// ErrSinkClosed is returned when publishing to a closed sink.
var ErrSinkClosed = errors.New("feed sink is closed")

// FeedSink is an in-memory implementation of the FeedSink port.
type FeedSink struct {
	mu         sync.RWMutex
	blocks     []*entity.Block
	prices     []*entity.Price
	maxHistory int
	closed     bool

	onPublish func(any)
}

// NewFeedSink creates an in-memory sink keeping at most maxHistory blocks and
// maxHistory prices. A non-positive maxHistory uses DefaultMaxHistory.
func NewFeedSink(maxHistory int) *FeedSink {
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	return &FeedSink{
		blocks:     make([]*entity.Block, 0),
		prices:     make([]*entity.Price, 0),
		maxHistory: maxHistory,
	}
}

// PublishBlock stores the block.
func (s *FeedSink) PublishBlock(ctx context.Context, block *entity.Block) error {
	if block == nil {
		return errors.New("block is nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSinkClosed
	}
	s.blocks = appendBounded(s.blocks, block, s.maxHistory)

	if s.onPublish != nil {
		s.onPublish(block)
	}
	return nil
}

// PublishPrice stores the price.
func (s *FeedSink) PublishPrice(ctx context.Context, price *entity.Price) error {
	if price == nil {
		return errors.New("price is nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSinkClosed
	}
	s.prices = appendBounded(s.prices, price, s.maxHistory)

	if s.onPublish != nil {
		s.onPublish(price)
	}
	return nil
}

func appendBounded[T any](items []T, item T, limit int) []T {
	items = append(items, item)
	if len(items) > limit {
		items = append(items[:0:0], items[len(items)-limit:]...)
	}
	return items
}

// Close marks the sink as closed.
func (s *FeedSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// LatestBlock returns the most recently published block, or nil.
func (s *FeedSink) LatestBlock() *entity.Block {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.blocks) == 0 {
		return nil
	}
	return s.blocks[len(s.blocks)-1]
}

// LatestPrice returns the most recently published price, or nil.
func (s *FeedSink) LatestPrice() *entity.Price {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.prices) == 0 {
		return nil
	}
	return s.prices[len(s.prices)-1]
}

// Blocks returns the stored blocks, oldest first.
func (s *FeedSink) Blocks() []*entity.Block {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*entity.Block, len(s.blocks))
	copy(result, s.blocks)
	return result
}

// Prices returns the stored prices, oldest first.
func (s *FeedSink) Prices() []*entity.Price {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*entity.Price, len(s.prices))
	copy(result, s.prices)
	return result
}

// Clear removes all stored values.
func (s *FeedSink) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks = make([]*entity.Block, 0)
	s.prices = make([]*entity.Price, 0)
}

// OnPublish sets a callback invoked with every stored *entity.Block or
// *entity.Price. It runs while the sink lock is held.
func (s *FeedSink) OnPublish(fn func(any)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onPublish = fn
}
