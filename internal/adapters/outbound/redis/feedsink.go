// Package redis provides a Redis implementation of the FeedSink port.
//
// The sink keeps the latest block and the latest price per pair under
// expiring keys and announces every value on a pub/sub channel:
//
//	{prefix}:block:latest          latest block (JSON)
//	{prefix}:price:{pair}:latest   latest price of pair (JSON)
//	{prefix}:blocks                channel receiving every block
//	{prefix}:prices                channel receiving every price
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/archon-research/stl/stl-feed/internal/domain/entity"
	"github.com/archon-research/stl/stl-feed/internal/ports/outbound"
)

// Compile-time check that FeedSink implements outbound.FeedSink
var _ outbound.FeedSink = (*FeedSink)(nil)

// Config holds Redis sink configuration.
type Config struct {
	// Addr is the Redis server address (e.g., "localhost:6379")
	Addr string
	// Password for Redis authentication (empty for no auth)
	Password string
	// DB is the Redis database number (0-15)
	DB int
	// TTL is how long the latest values live without being refreshed
	TTL time.Duration
	// KeyPrefix is prepended to all keys and channels
	KeyPrefix string
}

// ConfigDefaults returns sensible defaults for Redis sink configuration.
func ConfigDefaults() Config {
	return Config{
		Addr:      "localhost:6379",
		Password:  "",
		DB:        0,
		TTL:       10 * time.Minute,
		KeyPrefix: "stl-feed",
	}
}

// FeedSink is a Redis implementation of the outbound.FeedSink port.
type FeedSink struct {
	client    *redis.Client
	ttl       time.Duration
	keyPrefix string
	logger    *slog.Logger
}

// NewFeedSink creates a new Redis feed sink.
func NewFeedSink(cfg Config, logger *slog.Logger) (*FeedSink, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	defaults := ConfigDefaults()
	if cfg.TTL == 0 {
		cfg.TTL = defaults.TTL
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = defaults.KeyPrefix
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if logger == nil {
		logger = slog.Default()
	}

	return &FeedSink{
		client:    client,
		ttl:       cfg.TTL,
		keyPrefix: cfg.KeyPrefix,
		logger:    logger.With("component", "redis-sink"),
	}, nil
}

// Ping checks the Redis connection.
func (s *FeedSink) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// HealthCheck verifies Redis answers a ping.
func (s *FeedSink) HealthCheck(ctx context.Context) error {
	if err := s.Ping(ctx); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (s *FeedSink) Close() error {
	return s.client.Close()
}

// BlockKey returns the key holding the latest block.
func (s *FeedSink) BlockKey() string {
	return fmt.Sprintf("%s:block:latest", s.keyPrefix)
}

// PriceKey returns the key holding the latest price of pair.
func (s *FeedSink) PriceKey(pair string) string {
	return fmt.Sprintf("%s:price:%s:latest", s.keyPrefix, pair)
}

// BlocksChannel returns the pub/sub channel blocks are announced on.
func (s *FeedSink) BlocksChannel() string {
	return s.keyPrefix + ":blocks"
}

// PricesChannel returns the pub/sub channel prices are announced on.
func (s *FeedSink) PricesChannel() string {
	return s.keyPrefix + ":prices"
}

// PublishBlock stores block as the latest block and announces it.
func (s *FeedSink) PublishBlock(ctx context.Context, block *entity.Block) error {
	if block == nil {
		return errors.New("block is nil")
	}
	if err := s.publish(ctx, s.BlockKey(), s.BlocksChannel(), block); err != nil {
		return fmt.Errorf("failed to publish block %d: %w", block.Number, err)
	}
	return nil
}

// PublishPrice stores price as the latest price of its pair and announces it.
func (s *FeedSink) PublishPrice(ctx context.Context, price *entity.Price) error {
	if price == nil {
		return errors.New("price is nil")
	}
	if err := s.publish(ctx, s.PriceKey(price.Pair), s.PricesChannel(), price); err != nil {
		return fmt.Errorf("failed to publish price: %w", err)
	}
	return nil
}

func (s *FeedSink) publish(ctx context.Context, key, channel string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, data, s.ttl)
		pipe.Publish(ctx, channel, data)
		return nil
	})
	return err
}

// LatestBlock returns the latest stored block, or nil if none is stored.
func (s *FeedSink) LatestBlock(ctx context.Context) (*entity.Block, error) {
	var block entity.Block
	found, err := s.get(ctx, s.BlockKey(), &block)
	if err != nil || !found {
		return nil, err
	}
	return &block, nil
}

// LatestPrice returns the latest stored price of pair, or nil if none is stored.
func (s *FeedSink) LatestPrice(ctx context.Context, pair string) (*entity.Price, error) {
	var price entity.Price
	found, err := s.get(ctx, s.PriceKey(pair), &price)
	if err != nil || !found {
		return nil, err
	}
	return &price, nil
}

func (s *FeedSink) get(ctx context.Context, key string, dst any) (bool, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}
