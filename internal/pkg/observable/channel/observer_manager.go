package channel

import (
	"context"
	"sync"

	"github.com/archon-research/stl/stl-feed/internal/pkg/observable"
)

// channelObserverManager tracks the observers of a channelObservable.
type channelObserverManager[V any] struct {
	// observersMu protects observers and closed.
	observersMu sync.RWMutex
	observers   []*channelObserver[V]

	// closed is set by removeAll; a closed manager rejects new observers.
	closed bool
}

func newObserverManager[V any]() *channelObserverManager[V] {
	return &channelObserverManager[V]{
		observers: make([]*channelObserver[V], 0),
	}
}

// notifyAll notifies the observers present at the time of the call. Observers
// may (un)subscribe while the notification is being fanned out.
func (com *channelObserverManager[V]) notifyAll(notification V) {
	for _, obsvr := range com.copyObservers() {
		obsvr.notify(notification)
	}
}

// offerAll is like notifyAll but never waits: an observer whose channel is
// full misses notification and onDrop is called.
func (com *channelObserverManager[V]) offerAll(notification V, onDrop func()) {
	for _, obsvr := range com.copyObservers() {
		if !obsvr.tryNotify(notification) {
			onDrop()
		}
	}
}

// add appends toAdd to the observers list. It returns false if the manager
// was already closed, in which case toAdd is not tracked.
func (com *channelObserverManager[V]) add(toAdd *channelObserver[V]) bool {
	com.observersMu.Lock()
	defer com.observersMu.Unlock()

	if com.closed {
		return false
	}
	com.observers = append(com.observers, toAdd)
	return true
}

// remove removes toRemove and returns the number of observers left.
func (com *channelObserverManager[V]) remove(toRemove observable.Observer[V]) int {
	com.observersMu.Lock()
	defer com.observersMu.Unlock()

	for i, obsvr := range com.observers {
		if obsvr == toRemove {
			com.observers = append(com.observers[:i], com.observers[i+1:]...)
			break
		}
	}
	return len(com.observers)
}

// removeAll closes the manager, then unsubscribes every observer.
func (com *channelObserverManager[V]) removeAll() {
	com.observersMu.Lock()
	com.closed = true
	com.observersMu.Unlock()

	for _, obsvr := range com.copyObservers() {
		obsvr.Unsubscribe()
	}

	com.observersMu.Lock()
	com.observers = []*channelObserver[V]{}
	com.observersMu.Unlock()
}

// goUnsubscribeOnDone unsubscribes obsvr when ctx is done. It returns early
// if obsvr is unsubscribed first.
// It is blocking and intended to be called in a goroutine.
func (com *channelObserverManager[V]) goUnsubscribeOnDone(ctx context.Context, obsvr *channelObserver[V]) {
	select {
	case <-ctx.Done():
		obsvr.Unsubscribe()
	case <-obsvr.done:
	}
}

func (com *channelObserverManager[V]) copyObservers() []*channelObserver[V] {
	com.observersMu.RLock()
	defer com.observersMu.RUnlock()

	observers := make([]*channelObserver[V], len(com.observers))
	copy(observers, com.observers)
	return observers
}
