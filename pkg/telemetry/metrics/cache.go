package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rafaalpizar/xtream-proxy/pkg/config"
)

// CatalogMetrics tracks the catalog cache.
//
// Metrics:
//   - xtream_proxy_catalog_lookups_total: lookups by kind and cache status
//   - xtream_proxy_catalog_fetches_total: upstream fetches by kind and result
//   - xtream_proxy_catalog_fetch_duration_seconds: upstream fetch latency
type CatalogMetrics struct {
	lookupsTotal  *prometheus.CounterVec
	fetchesTotal  *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
}

// NewCatalogMetrics creates and registers catalog metrics.
func NewCatalogMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *CatalogMetrics {
	cm := &CatalogMetrics{
		lookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "catalog_lookups_total",
				Help:      "Catalog cache lookups by kind and status (fresh, stale, refreshed, miss)",
			},
			[]string{"kind", "status"},
		),
		fetchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "catalog_fetches_total",
				Help:      "Upstream catalog fetches by kind and result",
			},
			[]string{"kind", "result"},
		),
		fetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "catalog_fetch_duration_seconds",
				Help:      "Duration of upstream catalog fetches in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"kind"},
		),
	}

	registry.MustRegister(cm.lookupsTotal, cm.fetchesTotal, cm.fetchDuration)
	return cm
}

// RecordLookup records a cache lookup.
func (cm *CatalogMetrics) RecordLookup(kind, status string) {
	cm.lookupsTotal.WithLabelValues(kind, status).Inc()
}

// RecordFetch records an upstream fetch.
func (cm *CatalogMetrics) RecordFetch(kind string, err error, duration time.Duration) {
	result := "success"
	if err != nil {
		result = "error"
	}
	cm.fetchesTotal.WithLabelValues(kind, result).Inc()
	cm.fetchDuration.WithLabelValues(kind).Observe(duration.Seconds())
}
