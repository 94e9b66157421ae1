package core

import (
	"errors"
	"fmt"
)

// Kind classifies a business failure. Kinds are stable strings: they are
// stored on idempotency records, returned in API error codes, and replayed
// verbatim on duplicate requests.
type Kind string

const (
	KindValidation             Kind = "VALIDATION"
	KindUnbalanced             Kind = "UNBALANCED"
	KindBackdated              Kind = "BACKDATED"
	KindInsufficientStock      Kind = "INSUFFICIENT_STOCK"
	KindPeriodClosed           Kind = "PERIOD_CLOSED"
	KindInvalidState           Kind = "INVALID_STATE"
	KindIdempotencyKeyConflict Kind = "IDEMPOTENCY_KEY_CONFLICT"
	KindNotFound               Kind = "NOT_FOUND"
	KindConflict               Kind = "CONFLICT"
	KindInternal               Kind = "INTERNAL"
)

// Error is a classified business error. Message is stable and safe to return
// to API callers; Details carries structured context (dates, quantities)
// for error payloads.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
}

func (e *Error) Error() string { return e.Message }

// WithDetail attaches a key/value pair to the error payload and returns the
// same error for chaining.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// NewError builds a classified error with a fixed message.
func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Errorf builds a classified error with a formatted message.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the Kind from err. Unclassified errors report KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// DetailsOf returns the structured details attached to err, or nil.
func DetailsOf(err error) map[string]any {
	var e *Error
	if errors.As(err, &e) {
		return e.Details
	}
	return nil
}

// deterministic reports whether a failure of this kind will recur on retry
// with the same input. Deterministic failures are recorded on the idempotency
// row so replays fail identically; transient ones are not, so the caller can
// retry with the same key.
func deterministic(kind Kind) bool {
	switch kind {
	case KindConflict, KindInternal:
		return false
	}
	return true
}
