// Package coinbase implements the SpotPriceProvider interface using Coinbase's
// public spot price API.
//
// Transient failures (transport errors, 429 and 5xx) are retried with
// exponential backoff when MaxRetries is set; client errors and malformed
// bodies fail immediately. Requests are rate limited.
package coinbase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/archon-research/stl/stl-feed/internal/domain/entity"
	"github.com/archon-research/stl/stl-feed/internal/pkg/httpclient"
	"github.com/archon-research/stl/stl-feed/internal/ports/outbound"
)

// Compile-time check that Client implements outbound.SpotPriceProvider.
var _ outbound.SpotPriceProvider = (*Client)(nil)

// ErrInvalidAmount is returned when the response carries no usable price.
var ErrInvalidAmount = errors.New("invalid price amount")

// ClientConfig holds configuration for the Coinbase client.
type ClientConfig struct {
	// BaseURL is the Coinbase API base URL.
	// Defaults to https://api.coinbase.com
	BaseURL string

	// Pair is the currency pair to quote, e.g. ETH-USD.
	// Defaults to ETH-USD.
	Pair string

	// Timeout is the maximum time to wait for a single HTTP request.
	Timeout time.Duration

	// MaxRetries is the maximum number of retry attempts for transient failures.
	// Zero means a single attempt.
	MaxRetries int

	// InitialBackoff is the initial delay before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum delay between retries.
	MaxBackoff time.Duration

	// BackoffFactor is the multiplier applied to backoff after each retry.
	BackoffFactor float64

	// RateLimitPerMin is the rate limit in requests per minute.
	// Defaults to 600.
	RateLimitPerMin int

	// Logger is the structured logger for the client.
	Logger *slog.Logger

	// HTTPClient is an optional custom HTTP client.
	HTTPClient *http.Client
}

// ClientConfigDefaults returns a config with default values.
func ClientConfigDefaults() ClientConfig {
	return ClientConfig{
		BaseURL:         "https://api.coinbase.com",
		Pair:            "ETH-USD",
		Timeout:         10 * time.Second,
		InitialBackoff:  500 * time.Millisecond,
		MaxBackoff:      10 * time.Second,
		BackoffFactor:   2.0,
		RateLimitPerMin: 600,
		Logger:          slog.Default(),
	}
}

// Client implements SpotPriceProvider using Coinbase's API.
type Client struct {
	config   ClientConfig
	endpoint string
	api      *httpclient.Client
	logger   *slog.Logger
}

// NewClient creates a new Coinbase API client.
func NewClient(config ClientConfig) (*Client, error) {
	applyDefaults(&config, ClientConfigDefaults())

	if config.MaxRetries < 0 {
		return nil, errors.New("MaxRetries must not be negative")
	}
	if _, err := url.ParseRequestURI(config.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid BaseURL: %w", err)
	}

	logger := config.Logger.With("component", "coinbase-client", "pair", config.Pair)

	api := httpclient.NewClient(httpclient.Config{
		Timeout:        config.Timeout,
		MaxRetries:     config.MaxRetries,
		InitialBackoff: config.InitialBackoff,
		MaxBackoff:     config.MaxBackoff,
		BackoffFactor:  config.BackoffFactor,
		RateLimit:      rate.Limit(float64(config.RateLimitPerMin) / 60.0),
		RateBurst:      1,
		HTTPClient:     config.HTTPClient,
	}, logger, parseAPIError)

	return &Client{
		config:   config,
		endpoint: fmt.Sprintf("%s/v2/prices/%s/spot", strings.TrimRight(config.BaseURL, "/"), url.PathEscape(config.Pair)),
		api:      api,
		logger:   logger,
	}, nil
}

func applyDefaults(config *ClientConfig, defaults ClientConfig) {
	if config.BaseURL == "" {
		config.BaseURL = defaults.BaseURL
	}
	if config.Pair == "" {
		config.Pair = defaults.Pair
	}
	if config.Timeout == 0 {
		config.Timeout = defaults.Timeout
	}
	if config.InitialBackoff == 0 {
		config.InitialBackoff = defaults.InitialBackoff
	}
	if config.MaxBackoff == 0 {
		config.MaxBackoff = defaults.MaxBackoff
	}
	if config.BackoffFactor == 0 {
		config.BackoffFactor = defaults.BackoffFactor
	}
	if config.RateLimitPerMin == 0 {
		config.RateLimitPerMin = defaults.RateLimitPerMin
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return "coinbase"
}

// Pair returns the quoted currency pair.
func (c *Client) Pair() string {
	return c.config.Pair
}

// SpotPrice fetches the current spot price of the configured pair.
func (c *Client) SpotPrice(ctx context.Context) (*entity.Price, error) {
	var response spotPriceResponse
	if err := c.api.GetJSON(ctx, c.endpoint, &response); err != nil {
		return nil, err
	}

	value, err := parseAmount(response.Data.Amount)
	if err != nil {
		return nil, err
	}

	price, err := entity.NewPrice(c.config.Pair, value, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAmount, err)
	}
	c.logger.Debug("fetched spot price", "value", value)
	return price, nil
}

// IsRetryable reports whether a SpotPrice error may succeed on a later
// attempt. Client errors, malformed bodies and invalid amounts are final.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrInvalidAmount) || errors.Is(err, context.Canceled) {
		return false
	}
	return httpclient.IsRetryable(err)
}

// parseAmount parses the decimal string Coinbase returns as the price.
func parseAmount(amount string) (float64, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	value, err := strconv.ParseFloat(amount, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) || value <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
	}
	return value, nil
}

// parseAPIError extracts the message of a Coinbase error body.
func parseAPIError(statusCode int, body []byte) error {
	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err != nil || len(apiErr.Errors) == 0 {
		return nil
	}
	return fmt.Errorf("API error (HTTP %d): %s", statusCode, apiErr.Errors[0].Message)
}
