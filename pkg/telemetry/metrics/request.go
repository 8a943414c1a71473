package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rafaalpizar/xtream-proxy/pkg/config"
)

// RequestMetrics tracks client requests.
//
// Metrics:
//   - xtream_proxy_requests_total: requests by route and status code
//   - xtream_proxy_request_duration_seconds: time to response completion
type RequestMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// NewRequestMetrics creates and registers request metrics.
func NewRequestMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *RequestMetrics {
	rm := &RequestMetrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "requests_total",
				Help:      "Total number of client requests",
			},
			[]string{"route", "code"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "request_duration_seconds",
				Help:      "Duration of client requests in seconds; streams last as long as playback",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 300, 3600},
			},
			[]string{"route"},
		),
	}

	registry.MustRegister(rm.requestsTotal, rm.requestDuration)
	return rm
}

// Record records one finished request.
func (rm *RequestMetrics) Record(route string, status int, duration time.Duration) {
	rm.requestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	rm.requestDuration.WithLabelValues(route).Observe(duration.Seconds())
}
