package types

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an internal failure. Each kind maps to exactly one
// client-facing status code and machine-readable error code.
type Kind int

const (
	// KindInternal is any failure that is not one of the named kinds.
	KindInternal Kind = iota

	// KindUnauthorized means the client credential is unknown or invalid.
	KindUnauthorized

	// KindAccountSuspended means the proxy user or its upstream account is
	// administratively disabled.
	KindAccountSuspended

	// KindUpstreamUnavailable means no cached data exists and the upstream
	// could not be reached.
	KindUpstreamUnavailable

	// KindOverloaded means a concurrency or rate limit was exceeded.
	KindOverloaded

	// KindServiceUnavailable means every eligible upstream was exhausted for
	// a stream start.
	KindServiceUnavailable

	// KindUpstreamProtocol means the upstream answered with a malformed
	// response.
	KindUpstreamProtocol

	// KindInvalidRequest means the request shape could not be understood.
	KindInvalidRequest

	// KindNotFound means no route matches the request.
	KindNotFound
)

// Sentinel errors for errors.Is matching. A *Error matches the sentinel of
// its Kind.
var (
	ErrUnauthorized        = errors.New("unauthorized")
	ErrAccountSuspended    = errors.New("account suspended")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrOverloaded          = errors.New("overloaded")
	ErrServiceUnavailable  = errors.New("service unavailable")
	ErrUpstreamProtocol    = errors.New("upstream protocol error")
	ErrInvalidRequest      = errors.New("invalid request")
	ErrNotFound            = errors.New("not found")
)

// Error codes returned to clients. These are stable and must not change.
const (
	CodeUnauthorized        = "unauthorized"
	CodeAccountSuspended    = "account_suspended"
	CodeUpstreamUnavailable = "upstream_unavailable"
	CodeOverloaded          = "overloaded"
	CodeServiceUnavailable  = "service_unavailable"
	CodeUpstreamProtocol    = "upstream_protocol_error"
	CodeInvalidRequest      = "invalid_request"
	CodeNotFound            = "not_found"
	CodeInternalError       = "internal_error"
)

var kindSentinels = map[Kind]error{
	KindUnauthorized:        ErrUnauthorized,
	KindAccountSuspended:    ErrAccountSuspended,
	KindUpstreamUnavailable: ErrUpstreamUnavailable,
	KindOverloaded:          ErrOverloaded,
	KindServiceUnavailable:  ErrServiceUnavailable,
	KindUpstreamProtocol:    ErrUpstreamProtocol,
	KindInvalidRequest:      ErrInvalidRequest,
	KindNotFound:            ErrNotFound,
}

// String returns the stable error code of the kind.
func (k Kind) String() string {
	return k.Code()
}

// Code returns the machine-readable code sent to clients.
func (k Kind) Code() string {
	switch k {
	case KindUnauthorized:
		return CodeUnauthorized
	case KindAccountSuspended:
		return CodeAccountSuspended
	case KindUpstreamUnavailable:
		return CodeUpstreamUnavailable
	case KindOverloaded:
		return CodeOverloaded
	case KindServiceUnavailable:
		return CodeServiceUnavailable
	case KindUpstreamProtocol:
		return CodeUpstreamProtocol
	case KindInvalidRequest:
		return CodeInvalidRequest
	case KindNotFound:
		return CodeNotFound
	default:
		return CodeInternalError
	}
}

// HTTPStatus returns the HTTP status code for the kind.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindAccountSuspended:
		return http.StatusForbidden
	case KindUpstreamUnavailable, KindUpstreamProtocol:
		return http.StatusBadGateway
	case KindOverloaded:
		return http.StatusTooManyRequests
	case KindServiceUnavailable:
		return http.StatusServiceUnavailable
	case KindInvalidRequest:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Error is the typed error carried between components. Message is safe to
// show to clients; Err holds the internal cause and is only logged.
type Error struct {
	// Kind classifies the failure.
	Kind Kind

	// Op names the operation that failed (e.g. "catalog.get").
	Op string

	// Message is a client-safe description. It never contains upstream
	// credentials or addresses.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.Code()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements error matching for errors.Is().
func (e *Error) Is(target error) bool {
	sentinel, ok := kindSentinels[e.Kind]
	return ok && target == sentinel
}

// E builds an *Error.
func E(kind Kind, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

// KindOf returns the kind of err. Plain sentinels are recognised too.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	for kind, sentinel := range kindSentinels {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return KindInternal
}

// MessageOf returns the client-safe message for err.
func MessageOf(err error) string {
	var typed *Error
	if errors.As(err, &typed) && typed.Message != "" {
		return typed.Message
	}
	switch KindOf(err) {
	case KindUnauthorized:
		return "invalid username or password"
	case KindAccountSuspended:
		return "account is suspended"
	case KindUpstreamUnavailable:
		return "upstream is unavailable"
	case KindOverloaded:
		return "too many requests"
	case KindServiceUnavailable:
		return "no upstream available for this stream"
	case KindUpstreamProtocol:
		return "upstream returned a malformed response"
	case KindInvalidRequest:
		return "invalid request"
	case KindNotFound:
		return "not found"
	default:
		return "an internal error occurred"
	}
}
