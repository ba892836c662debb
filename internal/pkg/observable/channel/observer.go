package channel

import (
	"context"
	"sync"
	"time"

	"github.com/archon-research/stl/stl-feed/internal/pkg/observable"
)

const (
	// defaultSubscribeBufferSize is the buffer size of a channelObserver's channel.
	defaultSubscribeBufferSize = 50

	// sendRetryInterval is how long notify holds the read lock while waiting on
	// a full observer channel before releasing it and trying again, giving a
	// concurrent unsubscribe a chance to take the write lock.
	sendRetryInterval = 100 * time.Millisecond
)

var _ observable.Observer[any] = (*channelObserver[any])(nil)

// UnsubscribeFunc is called once when an observer unsubscribes, after its
// channel has been closed.
type UnsubscribeFunc[V any] func(toRemove observable.Observer[V])

// channelObserver implements the observable.Observer interface.
type channelObserver[V any] struct {
	ctx context.Context

	// onUnsubscribe removes this observer from its observable's observers list.
	onUnsubscribe UnsubscribeFunc[V]

	// observerMu protects observerCh and isClosed.
	observerMu sync.RWMutex

	// observerCh is the "N" side of the 1:N relationship between observable
	// and observer.
	observerCh chan V

	// done is closed together with observerCh so goUnsubscribeOnDone can return.
	done chan struct{}

	isClosed bool
}

// NewObserver creates an observer with a buffered notification channel.
func NewObserver[V any](ctx context.Context, onUnsubscribe UnsubscribeFunc[V]) *channelObserver[V] {
	return &channelObserver[V]{
		ctx:           ctx,
		observerCh:    make(chan V, defaultSubscribeBufferSize),
		done:          make(chan struct{}),
		onUnsubscribe: onUnsubscribe,
	}
}

// Unsubscribe closes the subscription channel and removes the subscription from
// the observable.
func (obsvr *channelObserver[V]) Unsubscribe() {
	obsvr.observerMu.Lock()
	if obsvr.isClosed {
		obsvr.observerMu.Unlock()
		return
	}
	close(obsvr.observerCh)
	close(obsvr.done)
	obsvr.isClosed = true
	obsvr.observerMu.Unlock()

	if obsvr.onUnsubscribe != nil {
		obsvr.onUnsubscribe(obsvr)
	}
}

// Ch returns a receive-only subscription channel.
func (obsvr *channelObserver[V]) Ch() <-chan V {
	return obsvr.observerCh
}

// IsClosed returns true if the observer has been unsubscribed.
func (obsvr *channelObserver[V]) IsClosed() bool {
	obsvr.observerMu.RLock()
	defer obsvr.observerMu.RUnlock()

	return obsvr.isClosed
}

// notify sends value on the observer's channel. If the channel is full it
// periodically releases the read lock so the observer can be closed
// concurrently without a send on a closed channel.
func (obsvr *channelObserver[V]) notify(value V) {
	sendRetryTicker := time.NewTicker(sendRetryInterval)
	defer sendRetryTicker.Stop()

	for {
		obsvr.observerMu.RLock()
		if obsvr.isClosed {
			obsvr.observerMu.RUnlock()
			return
		}

		select {
		case obsvr.observerCh <- value:
			obsvr.observerMu.RUnlock()
			return
		case <-obsvr.ctx.Done():
			obsvr.observerMu.RUnlock()
			return
		case <-sendRetryTicker.C:
			obsvr.observerMu.RUnlock()
		}
	}
}

// tryNotify sends value if the observer's channel has room. It reports false
// if the value was dropped; a closed observer counts as delivered.
func (obsvr *channelObserver[V]) tryNotify(value V) bool {
	obsvr.observerMu.RLock()
	defer obsvr.observerMu.RUnlock()

	if obsvr.isClosed {
		return true
	}
	select {
	case obsvr.observerCh <- value:
		return true
	default:
		return false
	}
}
