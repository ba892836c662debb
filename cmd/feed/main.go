// Package main runs the feed service: it streams Ethereum blocks and ETH spot
// prices, relays them into a sink and serves them over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	httpadapter "github.com/archon-research/stl/stl-feed/internal/adapters/inbound/http"
	"github.com/archon-research/stl/stl-feed/internal/adapters/outbound/coinbase"
	"github.com/archon-research/stl/stl-feed/internal/adapters/outbound/ethnode"
	"github.com/archon-research/stl/stl-feed/internal/adapters/outbound/memory"
	"github.com/archon-research/stl/stl-feed/internal/adapters/outbound/redis"
	"github.com/archon-research/stl/stl-feed/internal/adapters/outbound/telemetry"
	"github.com/archon-research/stl/stl-feed/internal/pkg/env"
	"github.com/archon-research/stl/stl-feed/internal/ports/outbound"
	"github.com/archon-research/stl/stl-feed/internal/services/feed"
	"github.com/archon-research/stl/stl-feed/internal/services/relay"
)

const serviceName = "stl-feed"

// Build-time variables - can be set via ldflags, otherwise populated from Go's build info.
var (
	GitCommit string
	GitBranch string
	BuildTime string
)

func init() {
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				if GitCommit == "" {
					GitCommit = setting.Value
				}
			case "vcs.time":
				if BuildTime == "" {
					BuildTime = setting.Value
				}
			}
		}
	}
}

// config is the process configuration read from the environment.
type config struct {
	WebSocketURL         string
	RPCURL               string
	MaxReconnectAttempts int

	PriceBaseURL string
	PricePair    string
	PollInterval time.Duration

	FetchTimeout time.Duration
	ErrorPolicy  feed.ErrorPolicy

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	HTTPAddr     string
	OTLPEndpoint string
}

func loadConfig() (config, error) {
	var cfg config
	var err error

	cfg.WebSocketURL = env.Get("ETH_WS_URL", "wss://mainnet.eth.aragon.network/ws")
	cfg.RPCURL = env.Get("ETH_RPC_URL", cfg.WebSocketURL)
	cfg.PriceBaseURL = env.Get("PRICE_BASE_URL", coinbase.ClientConfigDefaults().BaseURL)
	cfg.PricePair = env.Get("PRICE_PAIR", coinbase.ClientConfigDefaults().Pair)
	cfg.RedisAddr = env.Get("REDIS_ADDR", "")
	cfg.RedisPassword = env.Get("REDIS_PASSWORD", "")
	cfg.HTTPAddr = env.Get("HTTP_ADDR", ":8080")
	cfg.OTLPEndpoint = env.Get("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	if cfg.MaxReconnectAttempts, err = env.GetInt("MAX_RECONNECT_ATTEMPTS", 0); err != nil {
		return cfg, err
	}
	if cfg.RedisDB, err = env.GetInt("REDIS_DB", 0); err != nil {
		return cfg, err
	}
	if cfg.PollInterval, err = env.GetDuration("PRICE_POLL_INTERVAL", 10*time.Second); err != nil {
		return cfg, err
	}
	if cfg.PollInterval <= 0 {
		return cfg, fmt.Errorf("PRICE_POLL_INTERVAL must be positive, got %s", cfg.PollInterval)
	}
	if cfg.FetchTimeout, err = env.GetDuration("FETCH_TIMEOUT", 10*time.Second); err != nil {
		return cfg, err
	}
	if cfg.ErrorPolicy, err = feed.ParseErrorPolicy(env.Get("ERROR_POLICY", "")); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func main() {
	showVersion := flag.Bool("version", false, "Show version information and exit")
	addr := flag.String("addr", "", "HTTP listen address (overrides HTTP_ADDR)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s\n", serviceName)
		fmt.Printf("  Commit:     %s\n", GitCommit)
		fmt.Printf("  Branch:     %s\n", GitBranch)
		fmt.Printf("  Build Time: %s\n", BuildTime)
		os.Exit(0)
	}

	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: env.ParseLogLevel(slog.LevelInfo),
	}))
	slog.SetDefault(logger)

	cfg, err := loadConfig()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.HTTPAddr = *addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting "+serviceName,
		"commit", GitCommit,
		"pair", cfg.PricePair,
		"errorPolicy", cfg.ErrorPolicy,
		"redis", cfg.RedisAddr != "",
	)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("failed", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg config, logger *slog.Logger) error {
	shutdownTelemetry, err := initTelemetry(ctx, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	nodeTelemetry, err := ethnode.NewTelemetry()
	if err != nil {
		return fmt.Errorf("creating node telemetry: %w", err)
	}
	feedTelemetry, err := feed.NewTelemetry()
	if err != nil {
		return fmt.Errorf("creating feed telemetry: %w", err)
	}
	metrics, err := telemetry.NewMetrics(serviceName)
	if err != nil {
		return fmt.Errorf("creating metrics: %w", err)
	}

	subscriberConfig := ethnode.SubscriberConfigDefaults()
	subscriberConfig.WebSocketURL = cfg.WebSocketURL
	subscriberConfig.MaxReconnectAttempts = cfg.MaxReconnectAttempts
	subscriberConfig.Telemetry = nodeTelemetry
	subscriberConfig.Logger = logger
	subscriber, err := ethnode.NewSubscriber(subscriberConfig)
	if err != nil {
		return fmt.Errorf("creating subscriber: %w", err)
	}

	clientConfig := ethnode.ClientConfigDefaults()
	clientConfig.RPCURL = cfg.RPCURL
	clientConfig.Telemetry = nodeTelemetry
	clientConfig.Logger = logger
	client, err := ethnode.NewClient(ctx, clientConfig)
	if err != nil {
		return fmt.Errorf("creating node client: %w", err)
	}
	defer client.Close()

	chainCtx, cancelChain := context.WithTimeout(ctx, 5*time.Second)
	if chainID, err := client.ChainID(chainCtx); err != nil {
		logger.Warn("could not read chain id", "error", err)
	} else {
		logger.Info("node client ready", "chainId", chainID.String())
	}
	cancelChain()

	priceConfig := coinbase.ClientConfigDefaults()
	priceConfig.BaseURL = cfg.PriceBaseURL
	priceConfig.Pair = cfg.PricePair
	priceConfig.Logger = logger
	priceClient, err := coinbase.NewClient(priceConfig)
	if err != nil {
		return fmt.Errorf("creating price client: %w", err)
	}

	feedConfig := feed.ConfigDefaults()
	feedConfig.ErrorPolicy = cfg.ErrorPolicy
	feedConfig.FetchTimeout = cfg.FetchTimeout
	feedConfig.Telemetry = feedTelemetry
	feedConfig.Logger = logger

	blockFeedConfig := feedConfig
	blockFeedConfig.IsRetryable = ethnode.IsRetryable
	blockSource, err := feed.NewBlockSource(feed.BlockSourceConfig{
		Config:     blockFeedConfig,
		Subscriber: subscriber,
		Fetcher:    client,
	})
	if err != nil {
		return fmt.Errorf("creating block source: %w", err)
	}
	blocks, err := feed.NewSharedBlockFeed(ctx, feed.SharedBlockFeedConfig{
		Source:    blockSource,
		Telemetry: feedTelemetry,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("creating shared block feed: %w", err)
	}

	priceFeedConfig := feedConfig
	priceFeedConfig.IsRetryable = coinbase.IsRetryable
	priceFetcher, err := feed.NewPriceFetcher(feed.PriceFetcherConfig{
		Config:   priceFeedConfig,
		Provider: priceClient,
	})
	if err != nil {
		return fmt.Errorf("creating price fetcher: %w", err)
	}
	prices, err := feed.NewPriceSource(priceFetcher, logger)
	if err != nil {
		return fmt.Errorf("creating price source: %w", err)
	}

	sink, err := newSink(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer sink.Close()

	relayService, err := relay.NewService(relay.Config{
		PollInterval: cfg.PollInterval,
		Logger:       logger,
		Metrics:      metrics,
	}, blocks, prices, sink)
	if err != nil {
		return fmt.Errorf("creating relay: %w", err)
	}

	streams, err := httpadapter.NewStreamHandler(httpadapter.StreamHandlerConfig{
		DefaultPollInterval: cfg.PollInterval,
		Logger:              logger,
	}, blocks, prices, priceFetcher)
	if err != nil {
		return fmt.Errorf("creating stream handler: %w", err)
	}

	var shuttingDown atomic.Bool
	dependencies := map[string]httpadapter.DependencyChecker{
		"node_ws":  subscriber,
		"node_rpc": client,
	}
	if checker, ok := sink.(httpadapter.DependencyChecker); ok {
		dependencies["sink"] = checker
	}
	server := httpadapter.NewServer(httpadapter.ServerConfig{
		Addr:         cfg.HTTPAddr,
		Logger:       logger,
		Dependencies: dependencies,
	}, relayService, &shuttingDown, streams)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return relayService.Run(gctx)
	})
	g.Go(func() error {
		return server.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shuttingDown.Store(true)
		logger.Info("shutting down")
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func initTelemetry(ctx context.Context, endpoint string) (func(context.Context) error, error) {
	shutdownTracer, err := telemetry.InitTracer(ctx, telemetry.TracerConfig{
		ServiceName:    serviceName,
		ServiceVersion: GitCommit,
		OTLPEndpoint:   endpoint,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing tracer: %w", err)
	}
	shutdownMetrics, err := telemetry.InitMetrics(ctx, telemetry.MetricConfig{
		ServiceName:    serviceName,
		ServiceVersion: GitCommit,
		OTLPEndpoint:   endpoint,
	})
	if err != nil {
		_ = shutdownTracer(ctx)
		return nil, fmt.Errorf("initializing metrics: %w", err)
	}

	return func(ctx context.Context) error {
		return errors.Join(shutdownTracer(ctx), shutdownMetrics(ctx))
	}, nil
}

// newSink returns the redis sink when REDIS_ADDR is set and an in-memory
// sink otherwise.
func newSink(ctx context.Context, cfg config, logger *slog.Logger) (outbound.FeedSink, error) {
	if cfg.RedisAddr == "" {
		logger.Info("REDIS_ADDR not set, keeping feed values in memory")
		return memory.NewFeedSink(0), nil
	}

	redisConfig := redis.ConfigDefaults()
	redisConfig.Addr = cfg.RedisAddr
	redisConfig.Password = cfg.RedisPassword
	redisConfig.DB = cfg.RedisDB
	sink, err := redis.NewFeedSink(redisConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("creating redis sink: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sink.Ping(pingCtx); err != nil {
		sink.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.RedisAddr, err)
	}
	logger.Info("redis sink connected", "addr", cfg.RedisAddr)
	return sink, nil
}
