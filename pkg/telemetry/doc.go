// Package telemetry groups the proxy's observability packages.
//
//   - logging: slog setup with credential redaction and request-scoped fields
//   - metrics: Prometheus collector fed by pool, catalog and relay events
//   - tracing: OpenTelemetry provider and the request span middleware
//   - health: liveness, readiness, upstream health and version endpoints
//
// Components never import these packages for their own events; they
// expose small observer interfaces that the metrics collector and the
// history recorder implement.
package telemetry
