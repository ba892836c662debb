// Package channel implements observable.Observable on top of Go channels.
//
// A channel observable is fed by a producer channel; every value received on
// the producer is fanned out to all current observers. Closing the producer
// completes the observable and closes every observer channel.
package channel

import (
	"context"
	"sync"

	"github.com/archon-research/stl/stl-feed/internal/pkg/observable"
)

var _ observable.Observable[any] = (*channelObservable[any])(nil)

type option[V any] func(obs *channelObservable[V])

// channelObservable implements the observable.Observable interface and can be
// notified via its corresponding producer channel.
type channelObservable[V any] struct {
	*channelObserverManager[V]

	// producer is the channel values are published on.
	producer chan V

	onFirstSubscribe    func()
	onLastUnsubscribe   func()
	onDrop              func()
	firstSubscribeOnce  sync.Once
	lastUnsubscribeOnce sync.Once
}

// NewObservable creates a new observable which is notified when the producer
// channel receives a value.
func NewObservable[V any](opts ...option[V]) (observable.Observable[V], chan<- V) {
	obs := &channelObservable[V]{
		channelObserverManager: newObserverManager[V](),
		onFirstSubscribe:       func() {},
		onLastUnsubscribe:      func() {},
	}

	for _, opt := range opts {
		opt(obs)
	}

	if obs.producer == nil {
		obs.producer = make(chan V)
	}

	go obs.goListen()

	return obs, obs.producer
}

// WithProducer uses producer instead of creating a new unbuffered channel.
func WithProducer[V any](producer chan V) option[V] {
	return func(obs *channelObservable[V]) {
		obs.producer = producer
	}
}

// WithOnFirstSubscribe registers fn to run once, when the first observer
// subscribes.
func WithOnFirstSubscribe[V any](fn func()) option[V] {
	return func(obs *channelObservable[V]) {
		obs.onFirstSubscribe = fn
	}
}

// WithDropWhenFull makes the observable skip an observer whose channel is
// full instead of waiting for it, so a slow observer cannot hold back the
// others. onDrop is called for every skipped notification.
func WithDropWhenFull[V any](onDrop func()) option[V] {
	return func(obs *channelObservable[V]) {
		if onDrop == nil {
			onDrop = func() {}
		}
		obs.onDrop = onDrop
	}
}

// WithOnLastUnsubscribe registers fn to run once, when the observer count
// drops back to zero.
func WithOnLastUnsubscribe[V any](fn func()) option[V] {
	return func(obs *channelObservable[V]) {
		obs.onLastUnsubscribe = fn
	}
}

// Subscribe returns an observer which is notified when the producer receives.
// Subscribing to a completed observable returns an already closed observer.
func (obs *channelObservable[V]) Subscribe(ctx context.Context) observable.Observer[V] {
	if ctx == nil {
		ctx = context.Background()
	}

	observer := NewObserver[V](ctx, obs.onUnsubscribe)
	if !obs.add(observer) {
		observer.Unsubscribe()
		return observer
	}

	obs.firstSubscribeOnce.Do(obs.onFirstSubscribe)

	go obs.goUnsubscribeOnDone(ctx, observer)

	return observer
}

// UnsubscribeAll unsubscribes and removes all observers from the observable.
func (obs *channelObservable[V]) UnsubscribeAll() {
	obs.removeAll()
}

// goListen forwards producer values to observers until the producer is closed.
func (obs *channelObservable[V]) goListen() {
	for notification := range obs.producer {
		if obs.onDrop != nil {
			obs.offerAll(notification, obs.onDrop)
			continue
		}
		obs.notifyAll(notification)
	}

	obs.removeAll()
}

func (obs *channelObservable[V]) onUnsubscribe(toRemove observable.Observer[V]) {
	if remaining := obs.remove(toRemove); remaining == 0 {
		obs.lastUnsubscribeOnce.Do(obs.onLastUnsubscribe)
	}
}
