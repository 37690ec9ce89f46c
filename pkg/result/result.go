// pkg/result/result.go - outcome and result types shared by the removal packages.

package result

import (
	"context"
	"errors"
)

// Outcome is the tri-state result of a single removal routine.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeDeferred
	OutcomeFailed
)

// String returns the string representation of the Outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeDeferred:
		return "deferred"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Status is what callers of the public entry points see.
type Status int

const (
	StatusSuccess Status = iota
	// StatusDeferred means the work was queued on the scheduler but has not run yet.
	StatusDeferred
	StatusFailed
	StatusCancelled
)

// String returns the string representation of the Status.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusDeferred:
		return "deferred"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Result carries a status, a value and a human readable message.
type Result[T any] struct {
	Status  Status
	Value   T
	Message string
	Err     error
}

// OK reports whether the operation succeeded, counting deferred work as success.
func (r Result[T]) OK() bool {
	return r.Status == StatusSuccess || r.Status == StatusDeferred
}

// Success builds a successful result.
func Success[T any](value T, message string) Result[T] {
	return Result[T]{Status: StatusSuccess, Value: value, Message: message}
}

// Deferred builds a deferred-success result.
func Deferred[T any](value T, message string) Result[T] {
	return Result[T]{Status: StatusDeferred, Value: value, Message: message}
}

// Failure builds a failed result from err. Cancellation errors become StatusCancelled.
func Failure[T any](value T, err error) Result[T] {
	if IsCancelled(err) {
		return Cancelled(value, err)
	}
	msg := "operation failed"
	if err != nil {
		msg = err.Error()
	}
	return Result[T]{Status: StatusFailed, Value: value, Message: msg, Err: err}
}

// Cancelled builds a cancelled result.
func Cancelled[T any](value T, err error) Result[T] {
	if err == nil {
		err = ErrCancelled
	}
	return Result[T]{Status: StatusCancelled, Value: value, Message: "operation was cancelled", Err: err}
}

// IsCancelled reports whether err is a cancellation signal.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}
