package relay

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// End reasons recorded on a finished Handle.
const (
	ReasonUpstreamEOF   = "upstream_eof"
	ReasonUpstreamError = "upstream_error"
	ReasonUpstreamIdle  = "upstream_idle"
	ReasonClientClosed  = "client_closed"
	ReasonClientTimeout = "client_timeout"
	ReasonShutdown      = "shutdown"
	ReasonOpenFailed    = "open_failed"
	ReasonPlaylist      = "playlist"
)

// Handle describes one relay. It is written by the relay goroutine only;
// byte counters may be read concurrently.
type Handle struct {
	ID      string
	User    string
	Account string
	Kind    string
	// Path is the upstream path with credential placeholders.
	Path string

	Status     int
	StartedAt  time.Time
	EndedAt    time.Time
	EndReason  string
	Err        error
	Reconnects int
	Failovers  int

	bytesIn  atomic.Int64
	bytesOut atomic.Int64
}

func newHandle(req *Request, now time.Time) *Handle {
	return &Handle{
		ID:        uuid.NewString(),
		User:      req.User,
		Kind:      req.Kind,
		Path:      req.Target.Path,
		StartedAt: now,
	}
}

// BytesIn returns the bytes read from the upstream.
func (h *Handle) BytesIn() int64 {
	return h.bytesIn.Load()
}

// BytesOut returns the bytes written to the client.
func (h *Handle) BytesOut() int64 {
	return h.bytesOut.Load()
}

// Duration returns the relay's run time, up to now when still active.
func (h *Handle) Duration() time.Duration {
	if h.EndedAt.IsZero() {
		return time.Since(h.StartedAt)
	}
	return h.EndedAt.Sub(h.StartedAt)
}

func (h *Handle) finish(now time.Time, reason string, err error) {
	h.EndedAt = now
	h.EndReason = reason
	h.Err = err
}

// Snapshot is a read-only copy of an active relay.
type Snapshot struct {
	ID        string    `json:"id"`
	User      string    `json:"user"`
	Account   string    `json:"account"`
	Kind      string    `json:"kind"`
	StartedAt time.Time `json:"started_at"`
	BytesOut  int64     `json:"bytes_out"`
}
