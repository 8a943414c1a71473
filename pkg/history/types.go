package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rafaalpizar/xtream-proxy/pkg/relay"
)

// Record is one finished relay.
type Record struct {
	ID      string `json:"id"`
	User    string `json:"user"`
	Account string `json:"account"`
	Kind    string `json:"kind"`
	// Path is the upstream path with credential placeholders, never the
	// real credentials.
	Path string `json:"path"`

	Status     int       `json:"status"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
	BytesIn    int64     `json:"bytes_in"`
	BytesOut   int64     `json:"bytes_out"`
	EndReason  string    `json:"end_reason"`
	Error      string    `json:"error,omitempty"`
	Reconnects int       `json:"reconnects"`
	Failovers  int       `json:"failovers"`
}

// Duration returns how long the relay ran.
func (r *Record) Duration() time.Duration {
	if r.EndedAt.IsZero() {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// FromHandle snapshots a finished relay handle.
func FromHandle(h *relay.Handle) *Record {
	rec := &Record{
		ID:         h.ID,
		User:       h.User,
		Account:    h.Account,
		Kind:       h.Kind,
		Path:       h.Path,
		Status:     h.Status,
		StartedAt:  h.StartedAt,
		EndedAt:    h.EndedAt,
		BytesIn:    h.BytesIn(),
		BytesOut:   h.BytesOut(),
		EndReason:  h.EndReason,
		Reconnects: h.Reconnects,
		Failovers:  h.Failovers,
	}
	if h.Err != nil {
		rec.Error = h.Err.Error()
	}
	return rec
}

// Query selects records. Zero fields match everything.
type Query struct {
	User    string
	Account string
	Kind    string

	// Since and Until bound StartedAt, inclusive.
	Since *time.Time
	Until *time.Time

	// EndedBefore selects records that finished before the given time.
	EndedBefore *time.Time

	Limit  int
	Offset int
}

// Validate checks the query for contradictions.
func (q *Query) Validate() error {
	if q.Limit < 0 {
		return fmt.Errorf("limit must not be negative")
	}
	if q.Offset < 0 {
		return fmt.Errorf("offset must not be negative")
	}
	if q.Since != nil && q.Until != nil && q.Until.Before(*q.Since) {
		return fmt.Errorf("until is before since")
	}
	return nil
}

func (q *Query) matches(r *Record) bool {
	if q.User != "" && r.User != q.User {
		return false
	}
	if q.Account != "" && r.Account != q.Account {
		return false
	}
	if q.Kind != "" && r.Kind != q.Kind {
		return false
	}
	if q.Since != nil && r.StartedAt.Before(*q.Since) {
		return false
	}
	if q.Until != nil && r.StartedAt.After(*q.Until) {
		return false
	}
	if q.EndedBefore != nil && !r.EndedAt.Before(*q.EndedBefore) {
		return false
	}
	return true
}

// Store persists relay history.
type Store interface {
	// Store saves a record. Storing an existing ID replaces it.
	Store(ctx context.Context, r *Record) error

	// Query returns matching records, newest first.
	Query(ctx context.Context, q *Query) ([]*Record, error)

	// Count returns the number of matching records, ignoring Limit and
	// Offset.
	Count(ctx context.Context, q *Query) (int64, error)

	// Delete removes matching records and returns how many were removed.
	Delete(ctx context.Context, q *Query) (int64, error)

	Close() error
}

// ErrClosed is returned by a store or recorder after Close.
var ErrClosed = errors.New("history: closed")

// StorageError wraps a backend failure.
type StorageError struct {
	Backend   string
	Operation string
	Cause     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("history storage error [backend=%s, operation=%s]: %v", e.Backend, e.Operation, e.Cause)
}

func (e *StorageError) Unwrap() error { return e.Cause }

func storageError(backend, op string, cause error) *StorageError {
	return &StorageError{Backend: backend, Operation: op, Cause: cause}
}
