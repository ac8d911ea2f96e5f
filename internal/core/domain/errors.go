package domain

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind is the closed set of failures surfaced to tool callers.
type ErrorKind string

const (
	InvalidArgument            ErrorKind = "InvalidArgument"
	PaymentLimitExceeded       ErrorKind = "PaymentLimitExceeded"
	DailyLimitExceeded         ErrorKind = "DailyLimitExceeded"
	BackendUnavailable         ErrorKind = "BackendUnavailable"
	BackendInitializationError ErrorKind = "BackendInitializationError"
	BackendTimeout             ErrorKind = "BackendTimeout"
	MalformedInvoice           ErrorKind = "MalformedInvoice"
	NotFound                   ErrorKind = "NotFound"
	ChannelNotFound            ErrorKind = "ChannelNotFound"
	ChannelOpenFailed          ErrorKind = "ChannelOpenFailed"
	PaymentInProgress          ErrorKind = "PaymentInProgress"
	Internal                   ErrorKind = "Internal"
)

// Retryable reports whether the caller may retry after a backoff.
// BackendTimeout is excluded: the outcome is unknown and must be reconciled.
func (k ErrorKind) Retryable() bool {
	return k == BackendUnavailable || k == BackendInitializationError
}

type LimitBound string

const (
	LimitBoundMin LimitBound = "min"
	LimitBoundMax LimitBound = "max"
)

var (
	ErrInvalidArgument            = &Error{Kind: InvalidArgument}
	ErrPaymentLimitExceeded       = &Error{Kind: PaymentLimitExceeded}
	ErrDailyLimitExceeded         = &Error{Kind: DailyLimitExceeded}
	ErrBackendUnavailable         = &Error{Kind: BackendUnavailable}
	ErrBackendInitializationError = &Error{Kind: BackendInitializationError}
	ErrBackendTimeout             = &Error{Kind: BackendTimeout}
	ErrMalformedInvoice           = &Error{Kind: MalformedInvoice}
	ErrNotFound                   = &Error{Kind: NotFound}
	ErrChannelNotFound            = &Error{Kind: ChannelNotFound}
	ErrChannelOpenFailed          = &Error{Kind: ChannelOpenFailed}
	ErrPaymentInProgress          = &Error{Kind: PaymentInProgress}
	ErrInternal                   = &Error{Kind: Internal}
)

// Error is the typed failure every layer below the dispatcher returns.
type Error struct {
	Kind    ErrorKind
	Message string
	// Bound is set only for PaymentLimitExceeded.
	Bound LimitBound
	Err   error
}

func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func WrapError(kind ErrorKind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func NewLimitError(bound LimitBound, amount, limit int64) *Error {
	op := "below minimum"
	if bound == LimitBoundMax {
		op = "above maximum"
	}
	return &Error{
		Kind:    PaymentLimitExceeded,
		Message: fmt.Sprintf("amount %d sat is %s payment of %d sat", amount, op, limit),
		Bound:   bound,
	}
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so the sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of err, or Internal for untyped errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return BackendTimeout
	}
	return Internal
}

// AsError normalizes any error into the taxonomy.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return WrapError(BackendTimeout, err, "backend call timed out, outcome unknown")
	}
	if errors.Is(err, context.Canceled) {
		return WrapError(BackendUnavailable, err, "request canceled")
	}
	return WrapError(Internal, err, "internal error")
}
