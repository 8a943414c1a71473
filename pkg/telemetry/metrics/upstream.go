package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rafaalpizar/xtream-proxy/pkg/config"
	"github.com/rafaalpizar/xtream-proxy/pkg/upstream"
)

// UpstreamMetrics tracks upstream accounts.
//
// Metrics:
//   - xtream_proxy_upstream_slots_in_use: stream slots held per account
//   - xtream_proxy_upstream_slot_rejections_total: acquisitions that timed out
//   - xtream_proxy_upstream_health_state: 0=healthy, 1=degraded, 2=down
//   - xtream_proxy_upstream_health_transitions_total: state changes
type UpstreamMetrics struct {
	slotsInUse     *prometheus.GaugeVec
	rejections     *prometheus.CounterVec
	healthState    *prometheus.GaugeVec
	transitionsTot *prometheus.CounterVec
}

// NewUpstreamMetrics creates and registers upstream metrics.
func NewUpstreamMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *UpstreamMetrics {
	um := &UpstreamMetrics{
		slotsInUse: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "upstream_slots_in_use",
				Help:      "Stream slots currently held per upstream account",
			},
			[]string{"account"},
		),
		rejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "upstream_slot_rejections_total",
				Help:      "Stream slot acquisitions that gave up waiting",
			},
			[]string{"account"},
		),
		healthState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "upstream_health_state",
				Help:      "Upstream account health (0=healthy, 1=degraded, 2=down)",
			},
			[]string{"account"},
		),
		transitionsTot: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "upstream_health_transitions_total",
				Help:      "Upstream account health state changes",
			},
			[]string{"account", "from", "to"},
		),
	}

	registry.MustRegister(um.slotsInUse, um.rejections, um.healthState, um.transitionsTot)
	return um
}

// SetInUse sets the slot gauge for account.
func (um *UpstreamMetrics) SetInUse(account string, inUse int64) {
	um.slotsInUse.WithLabelValues(account).Set(float64(inUse))
}

// RecordRejected counts a slot rejection.
func (um *UpstreamMetrics) RecordRejected(account string) {
	um.rejections.WithLabelValues(account).Inc()
}

// SetState sets the health gauge for account.
func (um *UpstreamMetrics) SetState(account string, state upstream.State) {
	um.healthState.WithLabelValues(account).Set(float64(state))
}

// RecordTransition counts a health change and updates the gauge.
func (um *UpstreamMetrics) RecordTransition(account string, from, to upstream.State) {
	um.transitionsTot.WithLabelValues(account, from.String(), to.String()).Inc()
	um.SetState(account, to)
}
