package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/archon-research/stl/stl-feed/internal/adapters/outbound/memory"
	"github.com/archon-research/stl/stl-feed/internal/domain/entity"
	"github.com/archon-research/stl/stl-feed/internal/pkg/testutil"
	"github.com/archon-research/stl/stl-feed/internal/ports/outbound"
	"github.com/archon-research/stl/stl-feed/internal/services/feed"
	"github.com/archon-research/stl/stl-feed/internal/services/relay"
)

// mockSubscriber is a test subscriber that emits headers on demand.
type mockSubscriber struct {
	mu      sync.Mutex
	headers chan outbound.BlockHeader
	closed  bool
}

func newMockSubscriber() *mockSubscriber {
	return &mockSubscriber{
		headers: make(chan outbound.BlockHeader, 100),
	}
}

func (m *mockSubscriber) Subscribe(ctx context.Context) (<-chan outbound.BlockHeader, error) {
	return m.headers, nil
}

func (m *mockSubscriber) Unsubscribe() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.headers)
	}
	return nil
}

func (m *mockSubscriber) HealthCheck(ctx context.Context) error {
	return nil
}

func (m *mockSubscriber) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *mockSubscriber) sendHeader(num uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.headers <- outbound.BlockHeader{
			Number: fmt.Sprintf("0x%x", num),
			Hash:   fmt.Sprintf("0x%064x", num),
		}
	}
}

// mockBlockFetcher provides predictable block data for testing.
type mockBlockFetcher struct {
	mu      sync.RWMutex
	missing map[uint64]bool
	delay   time.Duration
}

func newMockFetcher() *mockBlockFetcher {
	return &mockBlockFetcher{missing: make(map[uint64]bool)}
}

func (m *mockBlockFetcher) markMissing(num uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.missing[num] = true
}

func (m *mockBlockFetcher) BlockByNumber(ctx context.Context, num uint64) (*entity.Block, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	if m.missing[num] {
		return nil, fmt.Errorf("block %d not found", num)
	}
	return &entity.Block{
		Number:     num,
		Hash:       fmt.Sprintf("0x%064x", num),
		ParentHash: fmt.Sprintf("0x%064x", num-1),
		Timestamp:  time.Now().UTC(),
	}, nil
}

// mockPriceProvider returns an increasing price on every call.
type mockPriceProvider struct {
	mu    sync.Mutex
	calls int
}

func (m *mockPriceProvider) Name() string { return "mock" }

func (m *mockPriceProvider) SpotPrice(ctx context.Context) (*entity.Price, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return entity.NewPrice("ETH-USD", float64(1000+m.calls), time.Now().UTC())
}

type pipeline struct {
	subscriber *mockSubscriber
	fetcher    *mockBlockFetcher
	provider   *mockPriceProvider
	sink       *memory.FeedSink
	relay      *relay.Service
}

func newPipeline(t *testing.T, policy feed.ErrorPolicy) *pipeline {
	t.Helper()
	logger := slog.Default()

	p := &pipeline{
		subscriber: newMockSubscriber(),
		fetcher:    newMockFetcher(),
		provider:   &mockPriceProvider{},
		sink:       memory.NewFeedSink(0),
	}

	blocks, err := feed.NewBlockSource(feed.BlockSourceConfig{
		Config:     feed.Config{ErrorPolicy: policy, Logger: logger},
		Subscriber: p.subscriber,
		Fetcher:    p.fetcher,
	})
	if err != nil {
		t.Fatalf("NewBlockSource: %v", err)
	}

	fetcher, err := feed.NewPriceFetcher(feed.PriceFetcherConfig{
		Config:   feed.Config{ErrorPolicy: policy, Logger: logger},
		Provider: p.provider,
	})
	if err != nil {
		t.Fatalf("NewPriceFetcher: %v", err)
	}
	prices, err := feed.NewPriceSource(fetcher, logger)
	if err != nil {
		t.Fatalf("NewPriceSource: %v", err)
	}

	p.relay, err = relay.NewService(relay.Config{
		PollInterval: 20 * time.Millisecond,
		Logger:       logger,
	}, blocks, prices, p.sink)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return p
}

func (p *pipeline) run(t *testing.T) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.relay.Run(ctx) }()

	return func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run returned %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("relay did not stop")
		}
	}
}

func TestPipeline_RelaysBlocksAndPrices(t *testing.T) {
	p := newPipeline(t, feed.PolicySuppress)
	stop := p.run(t)

	// The block source subscribes lazily once the relay starts observing.
	time.Sleep(20 * time.Millisecond)
	for i := uint64(100); i < 105; i++ {
		p.subscriber.sendHeader(i)
	}

	ok := testutil.WaitFor(t, 2*time.Second, 10*time.Millisecond, func() bool {
		return len(p.sink.Blocks()) == 5 && len(p.sink.Prices()) >= 2
	})
	if !ok {
		t.Fatalf("got %d blocks and %d prices, want 5 and >= 2", len(p.sink.Blocks()), len(p.sink.Prices()))
	}

	seen := map[uint64]bool{}
	for _, b := range p.sink.Blocks() {
		seen[b.Number] = true
	}
	for i := uint64(100); i < 105; i++ {
		if !seen[i] {
			t.Errorf("block %d was not relayed", i)
		}
	}

	if !p.relay.IsReady() || !p.relay.IsHealthy() {
		t.Errorf("ready=%v healthy=%v, want both true", p.relay.IsReady(), p.relay.IsHealthy())
	}

	stop()

	ok = testutil.WaitFor(t, time.Second, 5*time.Millisecond, p.subscriber.isClosed)
	if !ok {
		t.Error("expected node subscription to be released after stop")
	}
}

func TestPipeline_SkipsFailedBlocks(t *testing.T) {
	policies := []feed.ErrorPolicy{feed.PolicySuppress, feed.PolicyPropagate}

	for _, policy := range policies {
		t.Run(string(policy), func(t *testing.T) {
			p := newPipeline(t, policy)
			p.fetcher.markMissing(2)
			stop := p.run(t)
			defer stop()

			time.Sleep(20 * time.Millisecond)
			for i := uint64(1); i <= 3; i++ {
				p.subscriber.sendHeader(i)
			}

			ok := testutil.WaitFor(t, 2*time.Second, 10*time.Millisecond, func() bool {
				return len(p.sink.Blocks()) == 2
			})
			if !ok {
				t.Fatalf("got %d blocks, want 2", len(p.sink.Blocks()))
			}
			for _, b := range p.sink.Blocks() {
				if b.Number == 2 {
					t.Error("missing block should not be relayed")
				}
			}
		})
	}
}
