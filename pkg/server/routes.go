package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/rafaalpizar/xtream-proxy/pkg/proxy/middleware"
	"github.com/rafaalpizar/xtream-proxy/pkg/telemetry/health"
	"github.com/rafaalpizar/xtream-proxy/pkg/telemetry/metrics"
	"github.com/rafaalpizar/xtream-proxy/pkg/telemetry/tracing"
)

// setupRoutes mounts the operational endpoints and the gateway and wraps
// them in the middleware chain.
func (s *Server) setupRoutes() http.Handler {
	cfg := s.config()
	c := s.comps
	mux := http.NewServeMux()

	var exempt []string
	ops := make(map[string]bool)
	if hc := cfg.Telemetry.Health; hc.Enabled {
		health.Register(mux, hc, c.checker, c.pool.Health(), s.info)
		exempt = append(exempt, hc.LivenessPath, hc.ReadinessPath, hc.UpstreamsPath, hc.VersionPath)
	}
	if mc := cfg.Telemetry.Metrics; mc.Enabled {
		mux.Handle(mc.Path, c.collector.Handler())
		exempt = append(exempt, mc.Path)
	}
	mux.Handle("/", c.gateway)

	var handler http.Handler = mux

	handler = middleware.RateLimitMiddleware(c.limiter, middleware.ClientIP, exempt...)(handler)

	if cfg.Server.CORS.Enabled {
		handler = middleware.CORSMiddleware(middleware.CORSConfig{
			AllowedOrigins: cfg.Server.CORS.AllowedOrigins,
			MaxAge:         cfg.Server.CORS.MaxAge,
		})(handler)
	}

	handler = middleware.RecoveryMiddleware(handler)
	for _, p := range exempt {
		ops[p] = true
	}
	handler = metricsMiddleware(c.collector, ops, handler)
	handler = middleware.LoggingMiddleware(handler)
	handler = middleware.RequestIDMiddleware(handler)

	// Tracing is outermost so the request ID log line carries the trace.
	return tracing.HTTPMiddleware(c.tracer, handler)
}

// metricsMiddleware records one request sample per response under a
// credential-free route label.
func metricsMiddleware(collector *metrics.Collector, ops map[string]bool, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		collector.RecordRequest(routeLabel(r.URL.Path, ops), rec.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (rw *statusRecorder) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.status = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	return rw.ResponseWriter.Write(b)
}

func (rw *statusRecorder) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// routeLabel maps a request path to a fixed metric label. Stream path
// segments are never used because they carry credentials.
func routeLabel(path string, ops map[string]bool) string {
	if ops[path] {
		return path
	}
	trimmed := strings.Trim(path, "/")
	first, _, _ := strings.Cut(trimmed, "/")
	switch first {
	case "player_api.php":
		return "player_api"
	case "get.php":
		return "playlist"
	case "xmltv.php":
		return "xmltv"
	case "live", "movie", "series", "timeshift", "hlsr", "relay":
		return first
	}
	if strings.Count(trimmed, "/") == 2 {
		return "live"
	}
	return "other"
}
