package feed

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/archon-research/stl/stl-feed/internal/pkg/observable"
	"github.com/archon-research/stl/stl-feed/internal/pkg/observable/channel"
	"github.com/archon-research/stl/stl-feed/internal/ports/inbound"
)

// Compile-time check that SharedBlockFeed implements inbound.BlockFeed
var _ inbound.BlockFeed = (*SharedBlockFeed)(nil)

// SharedBlockFeedConfig holds configuration for a SharedBlockFeed.
type SharedBlockFeedConfig struct {
	// Source is the block sequence to share. Required.
	Source inbound.BlockFeed

	// Telemetry records dropped emissions. Optional.
	Telemetry *Telemetry

	// Logger is the structured logger for the feed.
	Logger *slog.Logger
}

// Validate checks that all required configuration fields are set.
func (c *SharedBlockFeedConfig) Validate() error {
	if c.Source == nil {
		return errors.New("Source is required")
	}
	return nil
}

// SharedBlockFeed hands out one block sequence to every caller of Observe,
// so several consumers share a single node subscription.
//
// The feed holds its own subscription to the source until ctx is done, so
// observers may come and go without ending the sequence. Fan-out never waits
// on an observer: one that falls a full buffer behind misses blocks until it
// catches up.
type SharedBlockFeed struct {
	ctx       context.Context
	source    inbound.BlockFeed
	telemetry *Telemetry
	logger    *slog.Logger

	once sync.Once
	obs  observable.Observable[inbound.BlockEmission]
}

// NewSharedBlockFeed wraps config.Source. The source is subscribed on the
// first Observe call and released when ctx is done.
func NewSharedBlockFeed(ctx context.Context, config SharedBlockFeedConfig) (*SharedBlockFeed, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &SharedBlockFeed{
		ctx:       ctx,
		source:    config.Source,
		telemetry: config.Telemetry,
		logger:    config.Logger.With("component", "shared-block-feed"),
	}, nil
}

// Observe returns the shared sequence. Observers are bound to the context
// they pass to Subscribe; the ctx given here is not used.
func (f *SharedBlockFeed) Observe(_ context.Context) observable.Observable[inbound.BlockEmission] {
	f.once.Do(f.start)
	return f.obs
}

func (f *SharedBlockFeed) start() {
	obs, producer := channel.NewObservable[inbound.BlockEmission](
		channel.WithDropWhenFull[inbound.BlockEmission](f.dropped),
	)
	f.obs = obs

	upstream := f.source.Observe(f.ctx).Subscribe(f.ctx)
	go func() {
		defer close(producer)
		for emission := range upstream.Ch() {
			producer <- emission
		}
		f.logger.Info("shared block feed ended")
	}()
}

func (f *SharedBlockFeed) dropped() {
	f.logger.Warn("observer is falling behind, dropping block")
	if f.telemetry != nil {
		f.telemetry.RecordDropped(context.WithoutCancel(f.ctx))
	}
}
