// Package errs defines the error taxonomy shared by the ledger core and its adapters.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can decide whether to retry, reject or alert.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindValidation
	KindNotFound
	KindUnauthorized
	KindInsufficientFunds
	KindConcurrencyConflict
	KindInvariantViolation
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindUnauthorized:
		return "unauthorized"
	case KindInsufficientFunds:
		return "insufficient_funds"
	case KindConcurrencyConflict:
		return "concurrency_conflict"
	case KindInvariantViolation:
		return "invariant_violation"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is comparisons against a kind.
var (
	ErrValidation          = &Error{Kind: KindValidation, Message: "validation failed"}
	ErrNotFound            = &Error{Kind: KindNotFound, Message: "not found"}
	ErrUnauthorized        = &Error{Kind: KindUnauthorized, Message: "unauthorized"}
	ErrInsufficientFunds   = &Error{Kind: KindInsufficientFunds, Message: "insufficient funds"}
	ErrConcurrencyConflict = &Error{Kind: KindConcurrencyConflict, Message: "concurrent modification", Retryable: true}
	ErrInvariantViolation  = &Error{Kind: KindInvariantViolation, Message: "invariant violation"}
)

// Error is a classified failure. Op names the operation that failed, Err is the optional cause.
type Error struct {
	Kind      Kind
	Op        string
	Message   string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, errs.ErrNotFound) match any *Error of that kind. Other targets only match
// by identity.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e == t || (isKindSentinel(t) && t.Kind == e.Kind)
}

func isKindSentinel(t *Error) bool {
	switch t {
	case ErrValidation, ErrNotFound, ErrUnauthorized, ErrInsufficientFunds, ErrConcurrencyConflict, ErrInvariantViolation:
		return true
	}
	return false
}

func newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Validation reports malformed input such as a non-positive amount or a missing account.
func Validation(op, format string, args ...any) *Error {
	return newf(KindValidation, op, format, args...)
}

// NotFound reports an unknown account, chart code, journal entry, loan or installment.
func NotFound(op, format string, args ...any) *Error {
	return newf(KindNotFound, op, format, args...)
}

func Unauthorized(op, format string, args ...any) *Error {
	return newf(KindUnauthorized, op, format, args...)
}

// InsufficientFunds reports a debit that would drive a checked balance negative.
func InsufficientFunds(op, format string, args ...any) *Error {
	return newf(KindInsufficientFunds, op, format, args...)
}

// Conflict reports a lock wait timeout or a stale version. It is retryable.
func Conflict(op string, cause error, format string, args ...any) *Error {
	e := newf(KindConcurrencyConflict, op, format, args...)
	e.Retryable = true
	e.Err = cause
	return e
}

// Invariant reports a broken bookkeeping invariant. It is never retried.
func Invariant(op, format string, args ...any) *Error {
	return newf(KindInvariantViolation, op, format, args...)
}

// Wrap attaches a kind and operation to a lower level error.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err, Retryable: kind == KindConcurrencyConflict}
}

// KindOf returns the kind of the first classified error in the chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether err is a transient conflict worth retrying.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// Terminal strips the retryable flag so an exhausted conflict is not retried again upstream.
func Terminal(err *Error) *Error {
	if err == nil {
		return nil
	}
	cp := *err
	cp.Retryable = false
	return &cp
}
