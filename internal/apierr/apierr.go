// Package apierr defines the server's typed error taxonomy (spec §7) and
// maps each kind to its HTTP status, independent of which component raised
// it.
package apierr

import (
	"errors"
	"net/http"
)

// Kind is the abstract error category a component reports. The router maps
// Kind to an HTTP status; components themselves never know about HTTP.
type Kind int

const (
	KindNone Kind = iota
	KindValidation
	KindAuth
	KindNotFound
	KindConflict
	KindPayloadTooLarge
	KindRate
	KindUnavailable
	KindInternal
)

// Error wraps a Kind with a caller-safe message and an optional underlying
// cause kept out of the response body.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is match a Wrap()-constructed instance against one of this
// package's sentinel errors by Kind and Message: Wrap always allocates a
// fresh *Error to carry a call-site-specific Cause, so without this, a
// wrapped "session store unavailable" error would never compare equal to
// the ErrServiceUnavailable sentinel via plain pointer identity.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Message == t.Message
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Sentinel errors for common outcomes; components compare with errors.Is.
var (
	ErrSessionUnknown           = New(KindAuth, "session unknown or expired")
	ErrTokenUnknown             = New(KindNotFound, "rendezvous token unknown or expired")
	ErrMailboxGone              = New(KindNotFound, "mailbox gone")
	ErrMailboxFull              = New(KindConflict, "mailbox queue is full")
	ErrParticipantLimitExceeded = New(KindConflict, "mailbox already has two participants")
	ErrPayloadTooLarge          = New(KindPayloadTooLarge, "message exceeds maximum size")
	ErrRateLimited              = New(KindRate, "rate limit exceeded")
	ErrServiceUnavailable       = New(KindUnavailable, "backing store unavailable")
)

// HTTPStatus maps an error (ideally an *Error, but falls back to 500 for
// anything untyped, which is itself a signal the component forgot to wrap
// it) to the status code the router should write.
func HTTPStatus(err error) int {
	var e *Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindRate:
		return http.StatusTooManyRequests
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Code returns a short machine-readable code for the JSON error body.
func Code(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return "internal_error"
	}
	switch e.Kind {
	case KindValidation:
		return "validation_error"
	case KindAuth:
		return "unauthorized"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindPayloadTooLarge:
		return "payload_too_large"
	case KindRate:
		return "rate_limited"
	case KindUnavailable:
		return "service_unavailable"
	default:
		return "internal_error"
	}
}
