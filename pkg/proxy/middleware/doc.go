// Package middleware provides the HTTP middleware wrapped around the
// gateway.
//
// The chain, outermost first:
//
//	RequestID(Logging(Recovery(CORS(RateLimit(handler)))))
//
//   - RequestIDMiddleware assigns X-Request-ID and stores it for log records
//   - LoggingMiddleware writes one access log line per request with stream
//     passwords masked
//   - RecoveryMiddleware turns panics into 500 internal_error responses
//   - CORSMiddleware answers browser preflights
//   - RateLimitMiddleware rejects clients over their request rate with 429
//
// The status-capturing writer used for logging implements Unwrap, so
// http.ResponseController in the relay still reaches the connection's
// Flush and SetWriteDeadline.
package middleware
