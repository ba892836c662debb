// Package either provides a result union carried through the feed observables.
//
// An Either holds exactly one of: a value, an error, or nothing. "Nothing" is
// how a suppressed failure travels downstream, so consumers can tell it apart
// from both data and a surfaced error.
package either

// Either is a value, an error, or empty.
type Either[T any] struct {
	value T
	err   error
	ok    bool
}

// NewEither returns Error(err) if err is non-nil and Success(value) otherwise.
func NewEither[T any](value T, err error) Either[T] {
	if err != nil {
		return Error[T](err)
	}
	return Success(value)
}

// Success wraps a value.
func Success[T any](value T) Either[T] {
	return Either[T]{value: value, ok: true}
}

// Error wraps an error.
func Error[T any](err error) Either[T] {
	return Either[T]{err: err}
}

// Empty returns an Either that holds neither a value nor an error.
func Empty[T any]() Either[T] {
	return Either[T]{}
}

// ValueOrError returns the wrapped value and error. Both are zero for an
// empty Either.
func (e Either[T]) ValueOrError() (T, error) {
	return e.value, e.err
}

// IsSuccess returns true if the Either holds a value.
func (e Either[T]) IsSuccess() bool {
	return e.ok
}

// IsError returns true if the Either holds an error.
func (e Either[T]) IsError() bool {
	return e.err != nil
}

// IsEmpty returns true if the Either holds neither a value nor an error.
func (e Either[T]) IsEmpty() bool {
	return !e.ok && e.err == nil
}
