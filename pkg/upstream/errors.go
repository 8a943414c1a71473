package upstream

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/rafaalpizar/xtream-proxy/pkg/proxy/types"
)

// StatusError is returned when an upstream answers with a non-2xx status.
type StatusError struct {
	// Account is the upstream account name.
	Account string

	// StatusCode is the HTTP status code returned.
	StatusCode int
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream %s returned status %d", e.Account, e.StatusCode)
}

// Retryable reports whether the same request may succeed on retry.
func (e *StatusError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Failover reports whether another account could serve the request. A 404
// means the content does not exist and mirrors are assumed to agree.
func (e *StatusError) Failover() bool {
	return e.StatusCode != http.StatusNotFound && e.StatusCode != http.StatusRequestedRangeNotSatisfiable
}

// Retryable reports whether err is a transient upstream failure.
func Retryable(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}
	// Transport errors (refused, reset, timeout) are transient.
	return types.KindOf(err) == types.KindUpstreamUnavailable
}

// ShouldFailover reports whether a failed stream open may move on to the
// next candidate account.
func ShouldFailover(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Failover()
	}
	switch types.KindOf(err) {
	case types.KindUpstreamUnavailable, types.KindOverloaded, types.KindUpstreamProtocol:
		return true
	}
	return false
}

// statusToError classifies a non-2xx upstream response.
func statusToError(op, account string, code int) error {
	cause := &StatusError{Account: account, StatusCode: code}
	switch {
	case code == http.StatusNotFound:
		return types.E(types.KindNotFound, op, "stream not found", cause)
	case code == http.StatusRequestedRangeNotSatisfiable:
		return types.E(types.KindInvalidRequest, op, "requested range not satisfiable", cause)
	default:
		return types.E(types.KindUpstreamUnavailable, op, "", cause)
	}
}
