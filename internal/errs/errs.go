// Package errs classifies failures so the pipeline can decide whether to retry.
package errs

import (
	"errors"
	"fmt"
)

// Kind is the failure class of an error.
type Kind string

const (
	// KindTransient covers network, timeout and rate-limit failures. Retryable.
	KindTransient Kind = "transient"
	// KindValidation covers malformed input data.
	KindValidation Kind = "validation"
	// KindConflict is a uniqueness violation.
	KindConflict Kind = "conflict"
	// KindUnauthorized is a capability token that did not verify.
	KindUnauthorized Kind = "unauthorized"
	// KindPermanent is anything else that should not be retried.
	KindPermanent Kind = "permanent"
)

// Sentinels for errors.Is checks by kind.
var (
	ErrTransient    = &Error{Kind: KindTransient}
	ErrValidation   = &Error{Kind: KindValidation}
	ErrConflict     = &Error{Kind: KindConflict}
	ErrUnauthorized = &Error{Kind: KindUnauthorized}
	ErrPermanent    = &Error{Kind: KindPermanent}
)

// Error is a kinded error with the operation that produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Err != nil:
		return e.Err.Error()
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	default:
		return string(e.Kind)
	}
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// E builds a kinded error.
func E(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Transient(op string, err error) *Error    { return E(KindTransient, op, err) }
func Validation(op string, err error) *Error   { return E(KindValidation, op, err) }
func Conflict(op string, err error) *Error     { return E(KindConflict, op, err) }
func Unauthorized(op string, err error) *Error { return E(KindUnauthorized, op, err) }
func Permanent(op string, err error) *Error    { return E(KindPermanent, op, err) }

// KindOf returns the kind of the outermost kinded error in the chain.
// Unclassified errors are permanent.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindPermanent
}

// Retryable reports whether err is transient.
func Retryable(err error) bool {
	return err != nil && KindOf(err) == KindTransient
}
