// Package health serves the proxy's operational endpoints.
//
//   - /health: liveness, always 200 while the process serves HTTP
//   - /ready: readiness, 503 when any registered check fails
//   - /health/upstreams: per-account health from the upstream registry
//   - /version: build information
//
// Readiness checks are plain functions registered on a Checker. The
// upstream check passes while at least the configured number of accounts
// is not down.
package health
