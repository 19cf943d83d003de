// Package brokererr categorizes the errors that cross an actor/future
// boundary. Benign absence (no DB open, no latest snapshot) is never
// represented as an error value here: callers return a nil/zero-value
// result instead, per the error-handling design's explicit distinction.
package brokererr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the purposes of partition/controller
// recovery decisions.
type Kind int

const (
	// TransientIO is a local I/O failure. It is returned to the caller as
	// is; nothing in this module retries it automatically.
	TransientIO Kind = iota

	// InvariantViolation means an assumption the code relies on didn't
	// hold (e.g. a computed position has no corresponding indexed log
	// entry). The operation's future fails; callers never retry blindly.
	InvariantViolation

	// Unrecoverable means the partition cannot continue: it must go
	// Inactive, its health must become Dead, and its Raft server must be
	// forced inactive. The process stays up to serve other partitions.
	Unrecoverable
)

func (k Kind) String() string {
	switch k {
	case TransientIO:
		return "transient_io"
	case InvariantViolation:
		return "invariant_violation"
	case Unrecoverable:
		return "unrecoverable"
	default:
		return "unknown"
	}
}

// Error wraps an underlying error with a Kind, so errors.Is/errors.As keep
// working through actor Future boundaries.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap returns an Error of kind k, describing op, wrapping err. Returns nil
// if err is nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// TransientIOError wraps err as a TransientIO-kind Error.
func TransientIOError(op string, err error) error {
	return Wrap(TransientIO, op, err)
}

// InvariantViolationError wraps err as an InvariantViolation-kind Error.
func InvariantViolationError(op string, err error) error {
	return Wrap(InvariantViolation, op, err)
}

// UnrecoverableError wraps err as an Unrecoverable-kind Error.
func UnrecoverableError(op string, err error) error {
	return Wrap(Unrecoverable, op, err)
}

// KindOf reports the Kind of err if it (or something it wraps) is a
// *Error, and ok=false otherwise.
func KindOf(err error) (kind Kind, ok bool) {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind, true
	}
	return 0, false
}

// Is reports whether err is a *Error of kind k.
func Is(err error, k Kind) bool {
	kind, ok := KindOf(err)
	return ok && kind == k
}
