// Package algorithm holds the pieces every engine shares: the error kinds
// surfaced to callers and the progress/cancellation capability.
package algorithm

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by an engine matches exactly one of
// these through errors.Is.
var (
	// ErrEmptyInput is returned for zero rows, zero columns or an empty volume.
	ErrEmptyInput = errors.New("algorithm: empty input")

	// ErrInconsistent is returned for mixed dimensions across streamed arrays
	// and for invalid parameters such as an unknown lambda.
	ErrInconsistent = errors.New("algorithm: inconsistent input")

	// ErrWrongShape is returned when a multi-dimensional array does not have
	// one of the accepted shapes.
	ErrWrongShape = errors.New("algorithm: wrong array shape")

	// ErrIoFailure covers failed seeks, short writes and upstream reader errors.
	ErrIoFailure = errors.New("algorithm: i/o failure")

	// ErrCancelled is returned after cooperative cancellation was observed.
	ErrCancelled = errors.New("algorithm: cancelled")

	// ErrNumericOverflow exists for completeness; the tiny-denominator guards
	// make it unreachable in practice.
	ErrNumericOverflow = errors.New("algorithm: numeric overflow")
)

// ErrSeekFailure is an IoFailure raised when a sink cannot position at an offset.
var ErrSeekFailure = fmt.Errorf("%w: seek failed", ErrIoFailure)

// Error carries an error kind together with the operation that failed and a
// short human-readable message.
type Error struct {
	Kind error
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	s := e.Kind.Error()
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

// Is matches the error kind.
func (e *Error) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds an *Error of the given kind.
func Errorf(kind error, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error of the given kind around cause. A nil cause yields nil.
// Causes that already carry a kind are returned unchanged.
func Wrap(kind error, op string, cause error) error {
	if cause == nil {
		return nil
	}
	var ae *Error
	if errors.As(cause, &ae) {
		return cause
	}
	if errors.Is(cause, ErrCancelled) {
		return cause
	}
	return &Error{Kind: kind, Op: op, Err: cause}
}

// KindOf returns the error kind carried by err, or nil.
func KindOf(err error) error {
	for _, k := range []error{ErrEmptyInput, ErrInconsistent, ErrWrongShape,
		ErrIoFailure, ErrCancelled, ErrNumericOverflow} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
