// Package tracing sets up OpenTelemetry for the proxy.
//
// New installs a global tracer provider exporting over OTLP gRPC. The
// catalog cache and relay engine obtain their tracers from the global
// provider, so they produce no-op spans until tracing is enabled.
//
// HTTPMiddleware extracts W3C trace context from client requests and opens
// a server span per request. Upstream requests inherit the span through
// their context.
package tracing
