package channel

import (
	"context"
	"sync"
	"time"

	"github.com/archon-research/stl/stl-feed/internal/pkg/observable"
)

// ProducerFunc publishes values through emit until ctx is done or the source
// is exhausted. emit blocks until the value is handed to the observers and
// returns false once ctx is done.
type ProducerFunc[V any] func(ctx context.Context, emit func(V) bool)

// Create returns a lazy observable backed by produce.
//
// produce is started in its own goroutine when the first observer subscribes.
// Its context is cancelled when the last observer unsubscribes or ctx is done,
// and the observable completes when produce returns. If ctx is done before
// anyone subscribes, produce is never called and the observable completes.
func Create[V any](ctx context.Context, produce ProducerFunc[V]) observable.Observable[V] {
	producer := make(chan V)
	produceCtx, cancel := context.WithCancel(ctx)

	emit := func(value V) bool {
		select {
		case producer <- value:
			return true
		case <-produceCtx.Done():
			return false
		}
	}

	run := func() {
		defer cancel()
		defer close(producer)

		if produceCtx.Err() != nil {
			return
		}
		produce(produceCtx, emit)
	}

	var startOnce sync.Once
	start := func() {
		startOnce.Do(func() { go run() })
	}

	obs, _ := NewObservable[V](
		WithProducer(producer),
		WithOnFirstSubscribe[V](start),
		WithOnLastUnsubscribe[V](cancel),
	)

	// Completes the observable if it is cancelled before the first subscription.
	context.AfterFunc(produceCtx, start)

	return obs
}

// Map transforms the given observable by applying transformFn to each
// notification received from it. If transformFn returns skip, the
// notification is not emitted to the resulting observable.
func Map[S, D any](
	ctx context.Context,
	srcObservable observable.Observable[S],
	transformFn func(ctx context.Context, src S) (dst D, skip bool),
) observable.Observable[D] {
	return Create(ctx, func(ctx context.Context, emit func(D) bool) {
		srcObserver := srcObservable.Subscribe(ctx)
		defer srcObserver.Unsubscribe()

		for srcNotification := range srcObserver.Ch() {
			dstNotification, skip := transformFn(ctx, srcNotification)
			if skip {
				continue
			}
			if !emit(dstNotification) {
				return
			}
		}
	})
}

// MergeMap is like Map but runs transformFn for every notification in its own
// goroutine, so transforms overlap and results are emitted in completion
// order. At most maxConcurrent transforms run at once; zero or less means
// unbounded. The resulting observable completes after the source completes
// and every in-flight transform has returned.
func MergeMap[S, D any](
	ctx context.Context,
	srcObservable observable.Observable[S],
	maxConcurrent int,
	transformFn func(ctx context.Context, src S) (dst D, skip bool),
) observable.Observable[D] {
	return Create(ctx, func(ctx context.Context, emit func(D) bool) {
		srcObserver := srcObservable.Subscribe(ctx)
		defer srcObserver.Unsubscribe()

		var wg sync.WaitGroup
		defer wg.Wait()

		var slots chan struct{}
		if maxConcurrent > 0 {
			slots = make(chan struct{}, maxConcurrent)
		}

		for srcNotification := range srcObserver.Ch() {
			if slots != nil {
				select {
				case slots <- struct{}{}:
				case <-ctx.Done():
					return
				}
			}

			wg.Add(1)
			go func(src S) {
				defer wg.Done()
				if slots != nil {
					defer func() { <-slots }()
				}

				dst, skip := transformFn(ctx, src)
				if skip {
					return
				}
				emit(dst)
			}(srcNotification)
		}
	})
}

// Interval returns an observable which emits an increasing tick index, starting
// at 0, once per period. Ticks are dropped rather than queued if a previous
// tick has not been handed to the observers yet. A non-positive period
// yields an observable that completes immediately.
func Interval(ctx context.Context, period time.Duration) observable.Observable[uint64] {
	return Create(ctx, func(ctx context.Context, emit func(uint64) bool) {
		if period <= 0 {
			return
		}

		ticker := time.NewTicker(period)
		defer ticker.Stop()

		for tick := uint64(0); ; tick++ {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !emit(tick) {
					return
				}
			}
		}
	})
}
