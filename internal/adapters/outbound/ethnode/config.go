package ethnode

import (
	"errors"
	"log/slog"
	"time"
)

// Default configuration values for reconnection.
const (
	defaultInitialBackoff    = 1 * time.Second
	defaultMaxBackoff        = 60 * time.Second
	defaultBackoffFactor     = 2.0
	defaultPingInterval      = 30 * time.Second
	defaultPongTimeout       = 10 * time.Second
	defaultReadTimeout       = 60 * time.Second
	defaultChannelBufferSize = 100
	defaultHealthTimeout     = 30 * time.Second
)

// SubscriberConfig holds the configuration for the node WebSocket subscriber.
type SubscriberConfig struct {
	// WebSocketURL is the node WebSocket endpoint URL.
	// Example: wss://mainnet.eth.aragon.network/ws
	WebSocketURL string

	// InitialBackoff is the initial delay before reconnecting after a failure.
	// Defaults to 1 second if not set.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum delay between reconnection attempts.
	// Defaults to 60 seconds if not set.
	MaxBackoff time.Duration

	// BackoffFactor is the multiplier applied to backoff after each failed attempt.
	// Defaults to 2.0 if not set.
	BackoffFactor float64

	// MaxReconnectAttempts is the number of consecutive failed connection
	// attempts after which the subscriber gives up and closes its header
	// channel. Zero means retry forever.
	MaxReconnectAttempts int

	// PingInterval is how often to send ping messages to keep the connection alive.
	// Defaults to 30 seconds if not set.
	PingInterval time.Duration

	// PongTimeout is how long to wait for a pong response before considering the connection dead.
	// Defaults to 10 seconds if not set.
	PongTimeout time.Duration

	// ReadTimeout is the maximum time to wait for a message before considering the connection dead.
	// Defaults to 60 seconds if not set.
	ReadTimeout time.Duration

	// ChannelBufferSize is the size of the block header channel buffer.
	// Defaults to 100 if not set.
	ChannelBufferSize int

	// HealthTimeout is how long without receiving a header before considering unhealthy.
	// Defaults to 30 seconds if not set.
	HealthTimeout time.Duration

	// Telemetry records subscriber metrics. Optional.
	Telemetry *Telemetry

	// Logger is the structured logger for the subscriber.
	// If not set, a default logger will be used.
	Logger *slog.Logger
}

// SubscriberConfigDefaults returns a config with default values.
func SubscriberConfigDefaults() SubscriberConfig {
	return SubscriberConfig{
		InitialBackoff:    defaultInitialBackoff,
		MaxBackoff:        defaultMaxBackoff,
		BackoffFactor:     defaultBackoffFactor,
		PingInterval:      defaultPingInterval,
		PongTimeout:       defaultPongTimeout,
		ReadTimeout:       defaultReadTimeout,
		ChannelBufferSize: defaultChannelBufferSize,
		HealthTimeout:     defaultHealthTimeout,
	}
}

// Validate checks that all required configuration fields are set.
func (c *SubscriberConfig) Validate() error {
	if c.WebSocketURL == "" {
		return errors.New("WebSocketURL is required")
	}
	if c.MaxReconnectAttempts < 0 {
		return errors.New("MaxReconnectAttempts must not be negative")
	}
	return nil
}

// applyDefaults sets default values for unset configuration fields.
func (c *SubscriberConfig) applyDefaults() {
	defaults := SubscriberConfigDefaults()
	if c.InitialBackoff == 0 {
		c.InitialBackoff = defaults.InitialBackoff
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = defaults.MaxBackoff
	}
	if c.BackoffFactor == 0 {
		c.BackoffFactor = defaults.BackoffFactor
	}
	if c.PingInterval == 0 {
		c.PingInterval = defaults.PingInterval
	}
	if c.PongTimeout == 0 {
		c.PongTimeout = defaults.PongTimeout
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = defaults.ReadTimeout
	}
	if c.ChannelBufferSize == 0 {
		c.ChannelBufferSize = defaults.ChannelBufferSize
	}
	if c.HealthTimeout == 0 {
		c.HealthTimeout = defaults.HealthTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// ClientConfig holds configuration for the JSON-RPC block client.
type ClientConfig struct {
	// RPCURL is the node JSON-RPC endpoint. Both http(s) and ws(s) URLs are accepted.
	RPCURL string

	// Timeout bounds a single HTTP request.
	Timeout time.Duration

	// MaxRetries is the maximum number of retry attempts for transient failures.
	// Zero disables retries.
	MaxRetries int

	// InitialBackoff is the initial delay before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum delay between retries.
	MaxBackoff time.Duration

	// BackoffFactor is the multiplier applied to backoff after each retry.
	BackoffFactor float64

	// Telemetry records client metrics and spans. Optional.
	Telemetry *Telemetry

	// Logger is the structured logger for the client.
	Logger *slog.Logger
}

// ClientConfigDefaults returns a config with default values.
func ClientConfigDefaults() ClientConfig {
	return ClientConfig{
		Timeout:        30 * time.Second,
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		BackoffFactor:  2.0,
	}
}

// Validate checks that all required configuration fields are set.
func (c *ClientConfig) Validate() error {
	if c.RPCURL == "" {
		return errors.New("RPCURL is required")
	}
	if c.MaxRetries < 0 {
		return errors.New("MaxRetries must not be negative")
	}
	return nil
}

func (c *ClientConfig) applyDefaults() {
	defaults := ClientConfigDefaults()
	if c.Timeout == 0 {
		c.Timeout = defaults.Timeout
	}
	if c.InitialBackoff == 0 {
		c.InitialBackoff = defaults.InitialBackoff
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = defaults.MaxBackoff
	}
	if c.BackoffFactor == 0 {
		c.BackoffFactor = defaults.BackoffFactor
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
