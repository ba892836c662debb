package feed

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/archon-research/stl/stl-feed/internal/domain/entity"
	"github.com/archon-research/stl/stl-feed/internal/pkg/retry"
	"github.com/archon-research/stl/stl-feed/internal/ports/outbound"
)

const receiveTimeout = 2 * time.Second

var errFetch = errors.New("fetch failed")

// fakeSubscriber hands out a single header channel the test writes to.
type fakeSubscriber struct {
	headers chan outbound.BlockHeader
	endOnce sync.Once

	mu           sync.Mutex
	subscribed   int
	unsubscribed int
	closed       bool
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{headers: make(chan outbound.BlockHeader, 16)}
}

func (f *fakeSubscriber) Subscribe(ctx context.Context) (<-chan outbound.BlockHeader, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, errors.New("subscriber is closed")
	}
	f.subscribed++
	return f.headers, nil
}

func (f *fakeSubscriber) Unsubscribe() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed++
	f.closed = true
	return nil
}

func (f *fakeSubscriber) HealthCheck(ctx context.Context) error { return nil }

// end simulates the node subscription giving up.
func (f *fakeSubscriber) end() {
	f.endOnce.Do(func() { close(f.headers) })
}

func (f *fakeSubscriber) send(numbers ...string) {
	for _, n := range numbers {
		f.headers <- outbound.BlockHeader{Number: n, Hash: "0xhash" + n}
	}
}

func (f *fakeSubscriber) counts() (subscribed, unsubscribed int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribed, f.unsubscribed
}

// fakeFetcher returns a block for every number unless fn overrides it.
type fakeFetcher struct {
	fn    func(ctx context.Context, number uint64) (*entity.Block, error)
	calls atomic.Int32
}

func (f *fakeFetcher) BlockByNumber(ctx context.Context, number uint64) (*entity.Block, error) {
	f.calls.Add(1)
	if f.fn != nil {
		return f.fn(ctx, number)
	}
	return testBlock(number), nil
}

func testBlock(number uint64) *entity.Block {
	return &entity.Block{Number: number, Hash: "0xblock", ParentHash: "0xparent"}
}

// fakeProvider returns a fixed price unless fn overrides it.
type fakeProvider struct {
	fn    func(ctx context.Context) (*entity.Price, error)
	calls atomic.Int32
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) SpotPrice(ctx context.Context) (*entity.Price, error) {
	f.calls.Add(1)
	if f.fn != nil {
		return f.fn(ctx)
	}
	return &entity.Price{Pair: "ETH-USD", Value: 1234.56, FetchedAt: time.Now()}, nil
}

func fastRetry(maxRetries int) retry.Config {
	return retry.Config{
		MaxRetries:     maxRetries,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		BackoffFactor:  2,
	}
}

func receive[V any](t *testing.T, ch <-chan V) V {
	t.Helper()
	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatal("channel closed unexpectedly")
		}
		return v
	case <-time.After(receiveTimeout):
		t.Fatal("timed out waiting for emission")
	}
	var zero V
	return zero
}

func waitClosed[V any](t *testing.T, ch <-chan V) {
	t.Helper()
	deadline := time.After(receiveTimeout)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for channel to close")
		}
	}
}

// logBuffer collects the JSON records of a logger shared by concurrent
// goroutines.
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// record returns the first record logged with msg, or nil.
func (b *logBuffer) record(t *testing.T, msg string) map[string]any {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()

	scanner := bufio.NewScanner(bytes.NewReader(b.buf.Bytes()))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		var rec map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("malformed log line %q: %v", scanner.Text(), err)
		}
		if rec["msg"] == msg {
			return rec
		}
	}
	return nil
}

func newCapturingLogger() (*slog.Logger, *logBuffer) {
	logs := &logBuffer{}
	return slog.New(slog.NewJSONHandler(logs, nil)), logs
}

// assertFailureLogged checks that a suppressed fetch failure was logged at
// error level together with the error text.
func assertFailureLogged(t *testing.T, logs *logBuffer, kind, errText string) map[string]any {
	t.Helper()
	rec := logs.record(t, "fetch failed")
	if rec == nil {
		t.Fatal("no \"fetch failed\" record logged")
	}
	if rec["level"] != "ERROR" {
		t.Errorf("level: got %v, want ERROR", rec["level"])
	}
	if rec["error"] != errText {
		t.Errorf("error: got %v, want %q", rec["error"], errText)
	}
	if rec["kind"] != kind {
		t.Errorf("kind: got %v, want %q", rec["kind"], kind)
	}
	if rec["policy"] != string(PolicySuppress) {
		t.Errorf("policy: got %v, want %q", rec["policy"], PolicySuppress)
	}
	return rec
}
