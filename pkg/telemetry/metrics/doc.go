// Package metrics provides Prometheus metrics for the proxy.
//
// # Metrics Categories
//
//   - Request metrics: client requests by route and status code
//   - Upstream metrics: stream slots in use, slot rejections, account health
//   - Catalog metrics: cache lookups by status, upstream fetch latency
//   - Relay metrics: active relays, bytes moved, end reasons, failovers
//   - Routing metrics: candidate selections and exhaustion
//
// # Usage
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//	pool, _ := upstream.NewPool(cfg, upstream.WithObserver(collector))
//	pool.Health().OnTransition(collector.HealthTransition)
//	engine := relay.NewEngine(cfg.Relay, pool, relay.WithObserver(collector))
//	collector.RegisterRouting(selector.Stats())
//
//	mux.Handle(cfg.Telemetry.Metrics.Path, collector.Handler())
//
// The Collector implements upstream.Observer, catalog.Observer and
// relay.Observer, so the components never import this package.
//
// # Cardinality
//
// Per-account labels are bounded by the configured accounts. Per-user
// labels are not used; relay counts are broken down by stream kind only.
package metrics
