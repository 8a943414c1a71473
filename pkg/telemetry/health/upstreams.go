package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rafaalpizar/xtream-proxy/pkg/upstream"
)

// HealthSource exposes upstream account health.
type HealthSource interface {
	Snapshot() []upstream.AccountHealth
}

// UpstreamsCheck passes while at least min accounts are not down.
func UpstreamsCheck(src HealthSource, min int) CheckFunc {
	return func(context.Context) error {
		snap := src.Snapshot()
		usable := 0
		for _, h := range snap {
			if h.State != upstream.StateDown {
				usable++
			}
		}
		if usable < min {
			return fmt.Errorf("%d of %d upstream accounts usable, need %d", usable, len(snap), min)
		}
		return nil
	}
}

// UpstreamsReport is the /health/upstreams body.
type UpstreamsReport struct {
	Accounts  []upstream.AccountHealth `json:"accounts"`
	Healthy   int                      `json:"healthy"`
	Degraded  int                      `json:"degraded"`
	Down      int                      `json:"down"`
	Timestamp time.Time                `json:"timestamp"`
}

// UpstreamsHandler reports each account's state and last check.
func UpstreamsHandler(src HealthSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r) {
			return
		}
		report := UpstreamsReport{Accounts: src.Snapshot(), Timestamp: time.Now()}
		if report.Accounts == nil {
			report.Accounts = []upstream.AccountHealth{}
		}
		for _, h := range report.Accounts {
			switch h.State {
			case upstream.StateHealthy:
				report.Healthy++
			case upstream.StateDegraded:
				report.Degraded++
			default:
				report.Down++
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if r.Method != http.MethodHead {
			_ = json.NewEncoder(w).Encode(report)
		}
	}
}
