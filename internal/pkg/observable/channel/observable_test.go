package channel

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/archon-research/stl/stl-feed/internal/pkg/testutil"
)

const receiveTimeout = time.Second

func receive[V any](t *testing.T, ch <-chan V) (V, bool) {
	t.Helper()
	select {
	case v, ok := <-ch:
		return v, ok
	case <-time.After(receiveTimeout):
		t.Fatalf("timed out waiting for notification")
	}
	var zero V
	return zero, false
}

func collect[V any](t *testing.T, ch <-chan V, n int) []V {
	t.Helper()
	values := make([]V, 0, n)
	for len(values) < n {
		v, ok := receive(t, ch)
		if !ok {
			t.Fatalf("channel closed after %d of %d notifications", len(values), n)
		}
		values = append(values, v)
	}
	return values
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
			t.Fatalf("timed out waiting for channel to close")
		}
	}
}

func TestNewObservable_NotifiesAllObservers(t *testing.T) {
	tests := []struct {
		name     string
		producer chan int
	}{
		{name: "default producer", producer: nil},
		{name: "unbuffered producer", producer: make(chan int)},
		{name: "buffered producer", producer: make(chan int, 10)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			var opts []option[int]
			if tt.producer != nil {
				opts = append(opts, WithProducer(tt.producer))
			}
			obs, producer := NewObservable[int](opts...)

			first := obs.Subscribe(ctx)
			second := obs.Subscribe(ctx)

			inputs := []int{123, 456, 789}
			for _, v := range inputs {
				producer <- v
			}

			for _, observer := range []interface{ Ch() <-chan int }{first, second} {
				got := collect(t, observer.Ch(), len(inputs))
				for i := range inputs {
					if got[i] != inputs[i] {
						t.Errorf("notification %d: got %d, want %d", i, got[i], inputs[i])
					}
				}
			}
		})
	}
}

func TestNewObservable_ClosingProducerClosesObservers(t *testing.T) {
	obs, producer := NewObservable[int]()
	observer := obs.Subscribe(context.Background())

	close(producer)

	waitClosed(t, observer.Ch())
	if !observer.IsClosed() {
		t.Error("expected observer to be closed")
	}
}

func TestSubscribe_AfterCompletionReturnsClosedObserver(t *testing.T) {
	obs, producer := NewObservable[int]()
	first := obs.Subscribe(context.Background())
	close(producer)
	waitClosed(t, first.Ch())

	late := obs.Subscribe(context.Background())
	if !late.IsClosed() {
		t.Fatal("expected late observer to be closed")
	}
	if _, ok := <-late.Ch(); ok {
		t.Error("expected late observer channel to be closed")
	}
}

func TestObserver_UnsubscribeIsIdempotent(t *testing.T) {
	obs, _ := NewObservable[int]()
	observer := obs.Subscribe(context.Background())

	observer.Unsubscribe()
	observer.Unsubscribe()

	if !observer.IsClosed() {
		t.Error("expected observer to be closed")
	}
}

func TestObserver_UnsubscribedWhenContextDone(t *testing.T) {
	obs, _ := NewObservable[int]()
	ctx, cancel := context.WithCancel(context.Background())
	observer := obs.Subscribe(ctx)

	cancel()

	waitClosed(t, observer.Ch())
}

func TestUnsubscribeAll_ClosesObservers(t *testing.T) {
	obs, _ := NewObservable[int]()
	first := obs.Subscribe(context.Background())
	second := obs.Subscribe(context.Background())

	obs.UnsubscribeAll()

	waitClosed(t, first.Ch())
	waitClosed(t, second.Ch())
}

func TestNewObservable_LifecycleHooks(t *testing.T) {
	var firstCalls, lastCalls atomic.Int32
	obs, _ := NewObservable[int](
		WithOnFirstSubscribe[int](func() { firstCalls.Add(1) }),
		WithOnLastUnsubscribe[int](func() { lastCalls.Add(1) }),
	)

	first := obs.Subscribe(context.Background())
	second := obs.Subscribe(context.Background())
	if got := firstCalls.Load(); got != 1 {
		t.Fatalf("onFirstSubscribe calls: got %d, want 1", got)
	}

	first.Unsubscribe()
	if got := lastCalls.Load(); got != 0 {
		t.Fatalf("onLastUnsubscribe calls after first unsubscribe: got %d, want 0", got)
	}

	second.Unsubscribe()
	if got := lastCalls.Load(); got != 1 {
		t.Fatalf("onLastUnsubscribe calls: got %d, want 1", got)
	}
}

func TestCreate_StartsLazily(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var started atomic.Bool
	obs := Create(ctx, func(ctx context.Context, emit func(int) bool) {
		started.Store(true)
		for i := 0; emit(i); i++ {
		}
	})

	time.Sleep(20 * time.Millisecond)
	if started.Load() {
		t.Fatal("producer started before the first subscription")
	}

	observer := obs.Subscribe(ctx)
	got := collect(t, observer.Ch(), 3)
	for i, v := range got {
		if v != i {
			t.Errorf("notification %d: got %d, want %d", i, v, i)
		}
	}
}

func TestCreate_CancelsProducerOnLastUnsubscribe(t *testing.T) {
	stopped := make(chan struct{})
	obs := Create(context.Background(), func(ctx context.Context, emit func(int) bool) {
		defer close(stopped)
		<-ctx.Done()
	})

	observer := obs.Subscribe(context.Background())
	observer.Unsubscribe()

	select {
	case <-stopped:
	case <-time.After(receiveTimeout):
		t.Fatal("producer was not cancelled after the last unsubscribe")
	}
}

func TestCreate_CompletesWhenProducerReturns(t *testing.T) {
	obs := Create(context.Background(), func(ctx context.Context, emit func(string) bool) {
		emit("only")
	})

	observer := obs.Subscribe(context.Background())
	if v, ok := receive(t, observer.Ch()); !ok || v != "only" {
		t.Fatalf("got (%q, %v), want (\"only\", true)", v, ok)
	}
	waitClosed(t, observer.Ch())
}

func TestCreate_CompletesWhenCancelledBeforeSubscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var called atomic.Bool
	obs := Create(ctx, func(ctx context.Context, emit func(int) bool) {
		called.Store(true)
	})
	cancel()

	ok := testutil.WaitFor(t, receiveTimeout, 5*time.Millisecond, func() bool {
		return obs.Subscribe(context.Background()).IsClosed()
	})
	if !ok {
		t.Fatal("expected observable to complete after cancellation")
	}
	if called.Load() {
		t.Error("producer should not run when cancelled before subscription")
	}
}

func TestWithDropWhenFull_StalledObserverDoesNotBlockOthers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var dropped atomic.Int32
	obs, producer := NewObservable[int](WithDropWhenFull[int](func() { dropped.Add(1) }))

	reader := obs.Subscribe(ctx)
	stalled := obs.Subscribe(ctx)

	const notifications = 120
	for i := 0; i < notifications; i++ {
		producer <- i
		if v, ok := receive(t, reader.Ch()); !ok || v != i {
			t.Fatalf("got (%d, %v), want (%d, true)", v, ok, i)
		}
	}

	wantDropped := int32(notifications - defaultSubscribeBufferSize)
	ok := testutil.WaitFor(t, receiveTimeout, 5*time.Millisecond, func() bool {
		return dropped.Load() == wantDropped
	})
	if !ok {
		t.Errorf("dropped notifications: got %d, want %d", dropped.Load(), wantDropped)
	}
	if got := len(stalled.Ch()); got != defaultSubscribeBufferSize {
		t.Errorf("stalled observer buffered %d notifications, want %d", got, defaultSubscribeBufferSize)
	}
}

func TestWithDropWhenFull_DeliversWhileObserversKeepUp(t *testing.T) {
	obs, producer := NewObservable[int](WithDropWhenFull[int](nil))
	observer := obs.Subscribe(context.Background())

	for i := 0; i < defaultSubscribeBufferSize; i++ {
		producer <- i
	}
	close(producer)

	got := collect(t, observer.Ch(), defaultSubscribeBufferSize)
	for i, v := range got {
		if v != i {
			t.Errorf("notification %d: got %d, want %d", i, v, i)
		}
	}
	waitClosed(t, observer.Ch())
}
