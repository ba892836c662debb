// Package feed exposes new Ethereum blocks and polled spot prices as lazy
// observable sequences of either.Either values.
package feed

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/archon-research/stl/stl-feed/internal/pkg/retry"
	"github.com/archon-research/stl/stl-feed/internal/ports/outbound"
)

const defaultFetchTimeout = 10 * time.Second

// Config holds the fetch settings shared by the feed sources.
type Config struct {
	// ErrorPolicy decides what is emitted when a fetch fails.
	// Defaults to PolicySuppress.
	ErrorPolicy ErrorPolicy

	// Retry configures PolicyRetry. Defaults to retry.DefaultConfig().
	Retry retry.Config

	// IsRetryable tells transient fetch errors from final ones under
	// PolicyRetry. Attempts that hit FetchTimeout are always retried.
	// Defaults to retrying every error.
	IsRetryable retry.IsRetryableFunc

	// FetchTimeout bounds a single fetch attempt. Defaults to 10 seconds.
	FetchTimeout time.Duration

	// Telemetry records fetch metrics. Optional.
	Telemetry *Telemetry

	// Logger is the structured logger for the source.
	Logger *slog.Logger
}

// ConfigDefaults returns a config with default values.
func ConfigDefaults() Config {
	return Config{
		ErrorPolicy:  PolicySuppress,
		Retry:        retry.DefaultConfig(),
		FetchTimeout: defaultFetchTimeout,
		Logger:       slog.Default(),
	}
}

// Validate checks the shared settings.
func (c *Config) Validate() error {
	if c.ErrorPolicy != "" {
		if err := c.ErrorPolicy.Validate(); err != nil {
			return err
		}
	}
	if c.FetchTimeout < 0 {
		return fmt.Errorf("FetchTimeout must not be negative, got %v", c.FetchTimeout)
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("Retry.MaxRetries must not be negative, got %d", c.Retry.MaxRetries)
	}
	return nil
}

func (c *Config) applyDefaults() {
	defaults := ConfigDefaults()
	if c.ErrorPolicy == "" {
		c.ErrorPolicy = defaults.ErrorPolicy
	}
	if c.Retry == (retry.Config{}) {
		c.Retry = defaults.Retry
	}
	if c.IsRetryable == nil {
		c.IsRetryable = retry.Always
	}
	if c.FetchTimeout == 0 {
		c.FetchTimeout = defaults.FetchTimeout
	}
	if c.Logger == nil {
		c.Logger = defaults.Logger
	}
}

func (c *Config) runner(logger *slog.Logger) fetchRunner {
	return fetchRunner{
		policy:    c.ErrorPolicy,
		retry:     c.Retry,
		retryable: c.IsRetryable,
		timeout:   c.FetchTimeout,
		telemetry: c.Telemetry,
		logger:    logger,
	}
}

// BlockSourceConfig holds configuration for a BlockSource.
type BlockSourceConfig struct {
	Config

	// Subscriber delivers new block headers. Required.
	Subscriber outbound.HeaderSubscriber

	// Fetcher fetches the full block for every header. Required.
	Fetcher outbound.BlockFetcher

	// MaxConcurrentFetches caps the block fetches in flight.
	// Zero or less means unbounded.
	MaxConcurrentFetches int
}

// Validate checks that all required configuration fields are set.
func (c *BlockSourceConfig) Validate() error {
	if c.Subscriber == nil {
		return errors.New("Subscriber is required")
	}
	if c.Fetcher == nil {
		return errors.New("Fetcher is required")
	}
	return c.Config.Validate()
}

// PriceFetcherConfig holds configuration for a PriceFetcher.
type PriceFetcherConfig struct {
	Config

	// Provider is the spot price source. Required.
	Provider outbound.SpotPriceProvider
}

// Validate checks that all required configuration fields are set.
func (c *PriceFetcherConfig) Validate() error {
	if c.Provider == nil {
		return errors.New("Provider is required")
	}
	return c.Config.Validate()
}
