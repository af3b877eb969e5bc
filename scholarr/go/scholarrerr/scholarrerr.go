// Package scholarrerr defines the domain error kinds shared across scholarr
// packages and their mapping onto API error codes and HTTP statuses.
package scholarrerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a domain error.
type Kind int

const (
	Internal Kind = iota
	Validation
	Layout
	Blocked
	Network
	Cooldown
	Conflict
	NotFound
	Unauthorized
	Forbidden
)

// Code returns the default machine-readable code carried in API error
// envelopes for this kind.
func (k Kind) Code() string {
	switch k {
	case Validation:
		return "validation_error"
	case Layout:
		return "parse_failure"
	case Blocked:
		return "blocked_or_captcha"
	case Network:
		return "network_error"
	case Cooldown:
		return "scrape_cooldown_active"
	case Conflict:
		return "run_in_progress"
	case NotFound:
		return "not_found"
	case Unauthorized:
		return "unauthorized"
	case Forbidden:
		return "forbidden"
	}
	return "internal_error"
}

// HTTPStatus returns the HTTP response status for this kind.
func (k Kind) HTTPStatus() int {
	switch k {
	case Validation:
		return http.StatusBadRequest
	case Cooldown, Conflict:
		return http.StatusConflict
	case NotFound:
		return http.StatusNotFound
	case Unauthorized:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

// Error is a domain error. Code and Details are surfaced verbatim in API
// error envelopes; Message is human-readable.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details interface{}
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap supports errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.cause
}

// WithDetails attaches structured context surfaced in the API error
// envelope.
func (e *Error) WithDetails(details interface{}) *Error {
	e.Details = details
	return e
}

// WithCode overrides the kind's default code, e.g. a Forbidden refusal
// reported as "manual_runs_disabled".
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// New returns an Error of the given kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    kind,
		Code:    kind.Code(),
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap returns an Error of the given kind with err as its cause. Returns nil
// if err is nil.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Kind:    kind,
		Code:    kind.Code(),
		Message: fmt.Sprintf(format, args...),
		cause:   err,
	}
}

// KindOf returns the kind of err, or Internal if err carries no domain kind.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// AsError returns err's *Error if it carries one, else nil.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}

// IsKind returns true if err carries the given domain kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
