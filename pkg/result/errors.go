package result

import (
	"errors"
	"fmt"
)

// Kind classifies failures inside the engine.
type Kind string

const (
	// KindTierFailure is recovered by falling through to the next tier and only ever logged.
	KindTierFailure Kind = "DETECTION_TIER"
	// KindMethodExhausted means every applicable uninstall mechanism failed or none applied.
	KindMethodExhausted Kind = "UNINSTALL_EXHAUSTED"
	// KindPolicyBlocked is converted into a deferred outcome rather than surfaced.
	KindPolicyBlocked Kind = "EXECUTION_POLICY"
	KindCancelled     Kind = "CANCELLED"
	KindUnexpected    Kind = "UNEXPECTED"
)

var (
	ErrTierFailure     = errors.New("detection tier failed")
	ErrMethodExhausted = errors.New("no uninstall method available")
	ErrCancelled       = errors.New("operation cancelled")
)

// Error is a classified engine error naming the item and operation involved.
type Error struct {
	Kind Kind
	Item string
	Op   string
	Err  error
}

// NewError builds an Error.
func NewError(kind Kind, item, op string, err error) *Error {
	return &Error{Kind: kind, Item: item, Op: op, Err: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Item == "" {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Op, e.Err)
	}
	return fmt.Sprintf("[%s] %s %s: %v", e.Kind, e.Op, e.Item, e.Err)
}

// Unwrap exposes the wrapped error to errors.Is/errors.As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is lets errors.Is match the sentinel that corresponds to the Kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrTierFailure:
		return e.Kind == KindTierFailure
	case ErrMethodExhausted:
		return e.Kind == KindMethodExhausted
	case ErrCancelled:
		return e.Kind == KindCancelled
	}
	return false
}

// KindOf returns the Kind of err, or KindUnexpected when err is not classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if IsCancelled(err) {
		return KindCancelled
	}
	return KindUnexpected
}
