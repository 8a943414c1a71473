package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rafaalpizar/xtream-proxy/pkg/config"
	"github.com/rafaalpizar/xtream-proxy/pkg/relay"
	"github.com/rafaalpizar/xtream-proxy/pkg/routing"
)

// RelayMetrics tracks stream relays.
//
// Metrics:
//   - xtream_proxy_relays_active: relays in progress by kind
//   - xtream_proxy_relays_total: finished relays by kind and end reason
//   - xtream_proxy_relay_bytes_total: bytes moved by direction
//   - xtream_proxy_relay_duration_seconds: relay lifetimes
//   - xtream_proxy_relay_reconnects_total, xtream_proxy_relay_failovers_total
type RelayMetrics struct {
	active     *prometheus.GaugeVec
	total      *prometheus.CounterVec
	bytes      *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	reconnects prometheus.Counter
	failovers  prometheus.Counter
}

// NewRelayMetrics creates and registers relay metrics.
func NewRelayMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *RelayMetrics {
	rm := &RelayMetrics{
		active: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "relays_active",
				Help:      "Relays currently in progress",
			},
			[]string{"kind"},
		),
		total: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "relays_total",
				Help:      "Finished relays by kind and end reason",
			},
			[]string{"kind", "reason"},
		),
		bytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "relay_bytes_total",
				Help:      "Bytes relayed; in is read from upstreams, out is written to clients",
			},
			[]string{"direction"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "relay_duration_seconds",
				Help:      "Relay lifetimes in seconds",
				Buckets:   []float64{1, 10, 60, 300, 900, 1800, 3600, 7200, 14400},
			},
			[]string{"kind"},
		),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "relay_reconnects_total",
			Help:      "Mid-stream reconnects to the same upstream",
		}),
		failovers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "relay_failovers_total",
			Help:      "Relays moved to another candidate account",
		}),
	}

	registry.MustRegister(rm.active, rm.total, rm.bytes, rm.duration, rm.reconnects, rm.failovers)
	return rm
}

// Started counts a relay in.
func (rm *RelayMetrics) Started(kind string) {
	rm.active.WithLabelValues(kind).Inc()
}

// Finished counts a relay out and records its totals.
func (rm *RelayMetrics) Finished(h *relay.Handle) {
	rm.active.WithLabelValues(h.Kind).Dec()
	reason := h.EndReason
	if reason == "" {
		reason = "unknown"
	}
	rm.total.WithLabelValues(h.Kind, reason).Inc()
	rm.bytes.WithLabelValues("in").Add(float64(h.BytesIn()))
	rm.bytes.WithLabelValues("out").Add(float64(h.BytesOut()))
	rm.duration.WithLabelValues(h.Kind).Observe(h.Duration().Seconds())
	rm.reconnects.Add(float64(h.Reconnects))
	rm.failovers.Add(float64(h.Failovers))
}

func registerRouting(cfg *config.MetricsConfig, registry *prometheus.Registry, stats *routing.Stats) {
	counter := func(name, help string, value func(routing.StatsSnapshot) int64) prometheus.CounterFunc {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(value(stats.Snapshot())) })
	}
	registry.MustRegister(
		counter("routing_selections_total", "Candidate lists produced for streams",
			func(s routing.StatsSnapshot) int64 { return s.Selections }),
		counter("routing_rerouted_total", "Selections whose first candidate was not the primary account",
			func(s routing.StatsSnapshot) int64 { return s.Rerouted }),
		counter("routing_failovers_total", "Candidate switches during relays",
			func(s routing.StatsSnapshot) int64 { return s.Failovers }),
		counter("routing_exhausted_total", "Selections with no usable account",
			func(s routing.StatsSnapshot) int64 { return s.Exhausted }),
	)
}
