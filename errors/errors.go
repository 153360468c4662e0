// Package errors provides the render worker's error taxonomy. Errors are
// represented as small wrapper types rather than string-matched codes so that
// callers can use errors.As/errors.Is against a stable, typed contract.
package errors

import (
	"errors"
	"fmt"
)

// Kind identifies one of the error categories from the error handling design.
// Only PreconditionFailed and AssemblyFailed ever fail a RenderJob; all other
// kinds are accounted for in ClipStats and never propagate past a clip task.
type Kind string

const (
	KindPreconditionFailed      Kind = "precondition-failed"
	KindCandidateRetryable      Kind = "candidate-retryable"
	KindCandidatePermanent      Kind = "candidate-permanent"
	KindFallbackLocalMissing    Kind = "fallback-local-missing"
	KindFallbackPlaceholderFail Kind = "fallback-placeholder-failed"
	KindAssemblyFailed          Kind = "assembly-failed"
	KindCancelled               Kind = "cancelled"
)

// KindedError carries one of the Kind values above alongside the underlying
// cause, so logs and ClipStats bookkeeping can switch on Kind without
// re-parsing an error string.
type KindedError struct {
	kind  Kind
	cause error
}

func New(kind Kind, cause error) error {
	return KindedError{kind: kind, cause: cause}
}

func Newf(kind Kind, format string, args ...any) error {
	return KindedError{kind: kind, cause: fmt.Errorf(format, args...)}
}

func (e KindedError) Error() string {
	if e.cause == nil {
		return string(e.kind)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.cause)
}

func (e KindedError) Unwrap() error {
	return e.cause
}

// KindOf returns the Kind carried by err, and false if err (or anything it
// wraps) is not a KindedError.
func KindOf(err error) (Kind, bool) {
	var ke KindedError
	if errors.As(err, &ke) {
		return ke.kind, true
	}
	return "", false
}

func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// UnretriableError marks an error that should not be retried regardless of
// the retry budget a caller might otherwise apply (e.g. a 4xx from the
// retrieve service, or a local-file lookup miss).
type UnretriableError struct{ error }

func Unretriable(err error) error {
	return UnretriableError{err}
}

func (e UnretriableError) Unwrap() error {
	return e.error
}

func IsUnretriable(err error) bool {
	var ue UnretriableError
	return errors.As(err, &ue)
}

// ObjectNotFoundError marks a lookup (local-file fallback, cache miss on
// resolve) that found nothing; always unretriable.
type ObjectNotFoundError struct {
	msg   string
	cause error
}

func (e ObjectNotFoundError) Error() string {
	return e.msg
}

func (e ObjectNotFoundError) Unwrap() error {
	return e.cause
}

func NewObjectNotFoundError(msg string, cause error) error {
	if cause != nil {
		msg = fmt.Sprintf("ObjectNotFoundError: %s: %s", msg, cause)
	} else {
		msg = fmt.Sprintf("ObjectNotFoundError: %s", msg)
	}
	return Unretriable(ObjectNotFoundError{msg: msg, cause: cause})
}

func IsObjectNotFound(err error) bool {
	var onfe ObjectNotFoundError
	return errors.As(err, &onfe)
}

var ErrCancelled = New(KindCancelled, errors.New("operation cancelled"))
