// Package types defines the error kinds shared by every proxy component and
// the JSON error body returned to IPTV clients.
//
// Components return *Error values (or wrap the sentinels) and never write
// HTTP responses themselves. The gateway is the only caller of WriteError.
//
// # Error kinds
//
//	Kind                    HTTP  code
//	KindUnauthorized        401   unauthorized
//	KindAccountSuspended    403   account_suspended
//	KindUpstreamUnavailable 502   upstream_unavailable
//	KindOverloaded          429   overloaded
//	KindServiceUnavailable  503   service_unavailable
//	KindUpstreamProtocol    502   upstream_protocol_error
//	KindInvalidRequest      400   invalid_request
//	KindNotFound            404   not_found
//	KindInternal            500   internal_error
package types
