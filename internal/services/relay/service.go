// Package relay forwards the block and price feeds into a FeedSink.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/archon-research/stl/stl-feed/internal/domain/entity"
	"github.com/archon-research/stl/stl-feed/internal/pkg/either"
	"github.com/archon-research/stl/stl-feed/internal/pkg/observable"
	"github.com/archon-research/stl/stl-feed/internal/ports/inbound"
	"github.com/archon-research/stl/stl-feed/internal/ports/outbound"
)

// Compile-time check that Service implements inbound.HealthChecker
var _ inbound.HealthChecker = (*Service)(nil)

// ErrFeedCompleted is returned by Run when a feed ends while the service is
// still running.
var ErrFeedCompleted = errors.New("feed completed")

// Config holds configuration for the relay Service.
type Config struct {
	// PollInterval is the price poll interval.
	PollInterval time.Duration

	// StaleAfter is how long the service stays healthy without a new block.
	StaleAfter time.Duration

	// PublishTimeout bounds a single sink write.
	PublishTimeout time.Duration

	// Logger is the structured logger.
	Logger *slog.Logger

	// Metrics records publish outcomes (optional).
	Metrics outbound.MetricsRecorder
}

// ConfigDefaults returns default configuration.
func ConfigDefaults() Config {
	return Config{
		PollInterval:   10 * time.Second,
		StaleAfter:     2 * time.Minute,
		PublishTimeout: 5 * time.Second,
		Logger:         slog.Default(),
	}
}

// Service subscribes to the block and price feeds and publishes every value
// they carry. Empty and error emissions are logged and counted.
type Service struct {
	config Config

	blocks inbound.BlockFeed
	prices inbound.PriceFeed
	sink   outbound.FeedSink

	running     atomic.Bool
	startedAt   atomic.Int64
	lastBlockAt atomic.Int64
	lastPriceAt atomic.Int64

	logger *slog.Logger
}

// NewService creates a new relay Service.
func NewService(config Config, blocks inbound.BlockFeed, prices inbound.PriceFeed, sink outbound.FeedSink) (*Service, error) {
	if blocks == nil {
		return nil, fmt.Errorf("block feed is required")
	}
	if prices == nil {
		return nil, fmt.Errorf("price feed is required")
	}
	if sink == nil {
		return nil, fmt.Errorf("sink is required")
	}

	defaults := ConfigDefaults()
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.StaleAfter <= 0 {
		config.StaleAfter = defaults.StaleAfter
	}
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = defaults.PublishTimeout
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	return &Service{
		config: config,
		blocks: blocks,
		prices: prices,
		sink:   sink,
		logger: config.Logger.With("component", "relay"),
	}, nil
}

// Run relays both feeds until ctx is done. It returns nil on cancellation
// and ErrFeedCompleted if either feed ends on its own.
func (s *Service) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("relay is already running")
	}
	defer s.running.Store(false)
	s.startedAt.Store(time.Now().UnixNano())

	s.logger.Info("relay started", "pollInterval", s.config.PollInterval)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return relay(gctx, s, "block", s.blocks.Observe(gctx), s.sink.PublishBlock, &s.lastBlockAt)
	})
	g.Go(func() error {
		return relay(gctx, s, "price", s.prices.Observe(gctx, s.config.PollInterval), s.sink.PublishPrice, &s.lastPriceAt)
	})

	err := g.Wait()
	if ctx.Err() != nil {
		s.logger.Info("relay stopped")
		return nil
	}
	return err
}

func relay[T any](
	ctx context.Context,
	s *Service,
	kind string,
	feed observable.Observable[either.Either[T]],
	publish func(context.Context, T) error,
	lastPublished *atomic.Int64,
) error {
	observer := feed.Subscribe(ctx)
	defer observer.Unsubscribe()

	for emission := range observer.Ch() {
		value, err := emission.ValueOrError()
		switch {
		case emission.IsEmpty():
			s.logger.Debug("feed emitted no value", "kind", kind)
			s.recordSkipped(ctx, kind, "empty")
			continue
		case err != nil:
			s.logger.Warn("feed emitted an error", "kind", kind, "error", err)
			s.recordSkipped(ctx, kind, "error")
			continue
		}

		start := time.Now()
		publishCtx, cancel := context.WithTimeout(ctx, s.config.PublishTimeout)
		err = publish(publishCtx, value)
		cancel()

		if s.config.Metrics != nil {
			s.config.Metrics.RecordPublish(ctx, kind, time.Since(start), err)
		}
		if err != nil {
			s.logger.Error("failed to publish", "kind", kind, "error", err)
			continue
		}
		lastPublished.Store(time.Now().UnixNano())
		logPublished(s.logger, value)
	}

	if ctx.Err() != nil {
		return nil
	}
	return fmt.Errorf("%s %w", kind, ErrFeedCompleted)
}

func logPublished(logger *slog.Logger, value any) {
	switch v := value.(type) {
	case *entity.Block:
		logger.Debug("published block", "block", v.Number, "hash", v.Hash, "txs", v.TransactionCount())
	case *entity.Price:
		logger.Debug("published price", "pair", v.Pair, "value", v.Value)
	}
}

func (s *Service) recordSkipped(ctx context.Context, kind, reason string) {
	if s.config.Metrics != nil {
		s.config.Metrics.RecordSkipped(ctx, kind, reason)
	}
}

// IsReady returns true once a block or a price has been published.
func (s *Service) IsReady() bool {
	return s.lastBlockAt.Load() != 0 || s.lastPriceAt.Load() != 0
}

// IsHealthy returns true while the relay runs and blocks keep arriving.
// Before the first block it is healthy for StaleAfter after start.
func (s *Service) IsHealthy() bool {
	if !s.running.Load() {
		return false
	}
	last := s.lastBlockAt.Load()
	if last == 0 {
		last = s.startedAt.Load()
	}
	return time.Since(time.Unix(0, last)) < s.config.StaleAfter
}

// LastBlockAt returns when the last block was published, or the zero time.
func (s *Service) LastBlockAt() time.Time {
	return unixNanoTime(s.lastBlockAt.Load())
}

// LastPriceAt returns when the last price was published, or the zero time.
func (s *Service) LastPriceAt() time.Time {
	return unixNanoTime(s.lastPriceAt.Load())
}

func unixNanoTime(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
