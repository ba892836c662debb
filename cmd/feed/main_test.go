package main

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/archon-research/stl/stl-feed/internal/adapters/outbound/memory"
	"github.com/archon-research/stl/stl-feed/internal/services/feed"
)

func TestLoadConfig_Defaults(t *testing.T) {
	for _, key := range []string{
		"ETH_WS_URL", "ETH_RPC_URL", "PRICE_BASE_URL", "PRICE_PAIR", "PRICE_POLL_INTERVAL",
		"FETCH_TIMEOUT", "ERROR_POLICY", "REDIS_ADDR", "REDIS_DB", "HTTP_ADDR", "MAX_RECONNECT_ATTEMPTS",
	} {
		t.Setenv(key, "")
	}

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}

	if cfg.WebSocketURL != "wss://mainnet.eth.aragon.network/ws" {
		t.Errorf("WebSocketURL: got %q", cfg.WebSocketURL)
	}
	if cfg.RPCURL != cfg.WebSocketURL {
		t.Errorf("RPCURL: got %q, want the WebSocket URL", cfg.RPCURL)
	}
	if cfg.PriceBaseURL != "https://api.coinbase.com" || cfg.PricePair != "ETH-USD" {
		t.Errorf("price source: got %q %q", cfg.PriceBaseURL, cfg.PricePair)
	}
	if cfg.PollInterval != 10*time.Second || cfg.FetchTimeout != 10*time.Second {
		t.Errorf("intervals: got poll=%v timeout=%v", cfg.PollInterval, cfg.FetchTimeout)
	}
	if cfg.ErrorPolicy != feed.PolicySuppress {
		t.Errorf("ErrorPolicy: got %q, want suppress", cfg.ErrorPolicy)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr: got %q", cfg.HTTPAddr)
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("ETH_WS_URL", "ws://node:8546")
	t.Setenv("ETH_RPC_URL", "http://node:8545")
	t.Setenv("PRICE_POLL_INTERVAL", "30s")
	t.Setenv("ERROR_POLICY", "Retry")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("MAX_RECONNECT_ATTEMPTS", "5")

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if cfg.RPCURL != "http://node:8545" {
		t.Errorf("RPCURL: got %q", cfg.RPCURL)
	}
	if cfg.PollInterval != 30*time.Second {
		t.Errorf("PollInterval: got %v", cfg.PollInterval)
	}
	if cfg.ErrorPolicy != feed.PolicyRetry {
		t.Errorf("ErrorPolicy: got %q, want retry", cfg.ErrorPolicy)
	}
	if cfg.RedisDB != 3 || cfg.MaxReconnectAttempts != 5 {
		t.Errorf("got RedisDB=%d MaxReconnectAttempts=%d", cfg.RedisDB, cfg.MaxReconnectAttempts)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "malformed poll interval", key: "PRICE_POLL_INTERVAL", value: "often"},
		{name: "zero poll interval", key: "PRICE_POLL_INTERVAL", value: "0s"},
		{name: "malformed fetch timeout", key: "FETCH_TIMEOUT", value: "10"},
		{name: "unknown error policy", key: "ERROR_POLICY", value: "ignore"},
		{name: "non-numeric redis db", key: "REDIS_DB", value: "one"},
		{name: "non-numeric reconnect attempts", key: "MAX_RECONNECT_ATTEMPTS", value: "many"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := loadConfig(); err == nil {
				t.Errorf("expected error for %s=%q", tt.key, tt.value)
			}
		})
	}
}

func TestNewSink_WithoutRedisUsesMemory(t *testing.T) {
	sink, err := newSink(context.Background(), config{}, slog.Default())
	if err != nil {
		t.Fatalf("newSink failed: %v", err)
	}
	defer sink.Close()

	if _, ok := sink.(*memory.FeedSink); !ok {
		t.Errorf("expected *memory.FeedSink, got %T", sink)
	}
}

func TestNewSink_UnreachableRedisFails(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := newSink(ctx, config{RedisAddr: "127.0.0.1:1"}, slog.Default())
	if err == nil {
		t.Error("expected error for unreachable redis")
	}
}
