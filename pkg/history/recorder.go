package history

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rafaalpizar/xtream-proxy/pkg/relay"
)

const (
	defaultBufferSize   = 256
	defaultWriteTimeout = 5 * time.Second
)

// Recorder writes finished relays to a Store. It implements relay.Observer;
// records are queued and written by a single worker goroutine.
type Recorder struct {
	store        Store
	recordChan   chan *Record
	writeTimeout time.Duration
	logger       *slog.Logger

	dropped atomic.Int64
	written atomic.Int64

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
	wg     sync.WaitGroup
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithBufferSize sets how many records may wait for the worker.
func WithBufferSize(n int) RecorderOption {
	return func(r *Recorder) {
		if n > 0 {
			r.recordChan = make(chan *Record, n)
		}
	}
}

// WithWriteTimeout bounds each store write.
func WithWriteTimeout(d time.Duration) RecorderOption {
	return func(r *Recorder) { r.writeTimeout = d }
}

// NewRecorder starts a recorder writing to store.
func NewRecorder(store Store, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store:        store,
		recordChan:   make(chan *Record, defaultBufferSize),
		writeTimeout: defaultWriteTimeout,
		logger:       slog.Default().With("component", "history.recorder"),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.wg.Add(1)
	go r.worker()
	return r
}

var _ relay.Observer = (*Recorder)(nil)

// RelayStarted implements relay.Observer. Only finished relays are kept.
func (r *Recorder) RelayStarted(*relay.Handle) {}

// RelayFinished implements relay.Observer.
func (r *Recorder) RelayFinished(h *relay.Handle) {
	r.Record(FromHandle(h))
}

// Record queues rec for writing. It never blocks; when the queue is full
// the record is dropped.
func (r *Recorder) Record(rec *Record) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return false
	}
	select {
	case r.recordChan <- rec:
		return true
	default:
		n := r.dropped.Add(1)
		r.logger.Warn("history queue full, dropping record", "relay_id", rec.ID, "dropped_total", n)
		return false
	}
}

// Dropped returns how many records were discarded because the queue was full.
func (r *Recorder) Dropped() int64 { return r.dropped.Load() }

// Written returns how many records reached the store.
func (r *Recorder) Written() int64 { return r.written.Load() }

// Store returns the underlying store.
func (r *Recorder) Store() Store { return r.store }

// Close stops accepting records, drains the queue and waits for the worker.
// It does not close the store.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.done)
	r.mu.Unlock()

	r.wg.Wait()
	return nil
}

func (r *Recorder) worker() {
	defer r.wg.Done()

	for {
		select {
		case rec := <-r.recordChan:
			r.write(rec)
		case <-r.done:
			for {
				select {
				case rec := <-r.recordChan:
					r.write(rec)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(rec *Record) {
	ctx, cancel := context.WithTimeout(context.Background(), r.writeTimeout)
	defer cancel()

	if err := r.store.Store(ctx, rec); err != nil {
		r.logger.Error("failed to store relay history", "relay_id", rec.ID, "error", err)
		return
	}
	r.written.Add(1)
}
