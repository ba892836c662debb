// Package observable defines a small push-based stream abstraction used by the
// feed services. Implementations live in the channel subpackage.
package observable

import "context"

// Observable is a generic interface that allows multiple observers to be
// notified of new values asynchronously.
// It is analogous to a publisher in a "Fan-Out" system design.
type Observable[V any] interface {
	// Subscribe returns an observer which is notified of every value the
	// observable publishes after the call. The observer is unsubscribed when
	// ctx is done.
	Subscribe(ctx context.Context) Observer[V]

	// UnsubscribeAll unsubscribes and removes all observers. The observable
	// does not accept new observers afterwards.
	UnsubscribeAll()
}

// Observer is a generic interface that provides access to the notified
// channel and allows unsubscribing from an Observable.
type Observer[V any] interface {
	// Unsubscribe closes the observer channel and removes the observer from
	// its observable. Calling it more than once is a no-op.
	Unsubscribe()

	// Ch returns a receive-only channel of notifications. It is closed when
	// the observer is unsubscribed or the observable completes.
	Ch() <-chan V

	// IsClosed returns true if the observer has been unsubscribed.
	// A closed observer cannot be reused.
	IsClosed() bool
}
