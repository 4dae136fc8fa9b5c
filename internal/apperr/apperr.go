// Package apperr defines the error kinds surfaced to API callers.
//
// Services translate store and credential failures into an *Error at the
// point of the call. Transport code maps the Kind to a status code and only
// ever shows Message; the wrapped cause is for logs.
package apperr

import (
	"errors"
	"net/http"
)

// Kind classifies a failure.
type Kind int

const (
	Internal Kind = iota
	Validation
	NotFound
	Unauthorized
	Forbidden
	Conflict
	TransactionFailed
	StoreUnavailable
)

var kindNames = map[Kind]string{
	Internal:          "internal",
	Validation:        "validation",
	NotFound:          "not_found",
	Unauthorized:      "unauthorized",
	Forbidden:         "forbidden",
	Conflict:          "conflict",
	TransactionFailed: "transaction_failed",
	StoreUnavailable:  "store_unavailable",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Status returns the HTTP status code for the kind.
func (k Kind) Status() int {
	switch k {
	case Validation, Conflict:
		return http.StatusUnprocessableEntity
	case NotFound:
		return http.StatusNotFound
	case Unauthorized:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified failure with a caller-safe message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// E builds an *Error. err may be nil.
func E(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf reports the kind of the first *Error in err's chain, or Internal.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return Internal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == kind
}

// Message returns the public message for err, or fallback when err carries none.
func Message(err error, fallback string) string {
	var appErr *Error
	if errors.As(err, &appErr) && appErr.Message != "" {
		return appErr.Message
	}
	return fallback
}
