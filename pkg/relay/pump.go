package relay

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync/atomic"
)

// pump copies body to w through one pooled buffer. A read is only issued
// after the previous chunk was fully written, so at most one buffer of data
// is held per relay and a slow client slows the upstream read.
func (e *Engine) pump(ctx context.Context, w http.ResponseWriter, h *Handle, body io.ReadCloser) (string, error) {
	bufp := e.buffers.Get().(*[]byte)
	defer e.buffers.Put(bufp)
	buf := *bufp

	rc := http.NewResponseController(w)

	var idle atomic.Bool
	if e.upstreamIdle > 0 {
		t := e.clock.AfterFunc(e.upstreamIdle, func() {
			idle.Store(true)
			body.Close()
		})
		defer t.Stop()
		for {
			reason, done, err := e.step(ctx, w, rc, h, body, buf, &idle)
			if done {
				return reason, err
			}
			t.Reset(e.upstreamIdle)
		}
	}

	for {
		reason, done, err := e.step(ctx, w, rc, h, body, buf, &idle)
		if done {
			return reason, err
		}
	}
}

// step moves one chunk. done is true when the relay must stop.
func (e *Engine) step(ctx context.Context, w http.ResponseWriter, rc *http.ResponseController, h *Handle, body io.Reader, buf []byte, idle *atomic.Bool) (string, bool, error) {
	n, rerr := body.Read(buf)
	if n > 0 {
		h.bytesIn.Add(int64(n))
		if e.clientIdle > 0 {
			_ = rc.SetWriteDeadline(e.clock.Now().Add(e.clientIdle))
		}
		written, werr := w.Write(buf[:n])
		h.bytesOut.Add(int64(written))
		if werr != nil {
			if isDeadline(werr) {
				return ReasonClientTimeout, true, werr
			}
			return ReasonClientClosed, true, werr
		}
		_ = rc.Flush()
	}
	if rerr == nil {
		return "", false, nil
	}

	switch {
	case e.baseCtx.Err() != nil:
		return ReasonShutdown, true, nil
	case ctx.Err() != nil:
		return ReasonClientClosed, true, ctx.Err()
	case idle.Load():
		return ReasonUpstreamIdle, true, errors.New("no data from upstream within idle timeout")
	case errors.Is(rerr, io.EOF):
		return ReasonUpstreamEOF, true, nil
	default:
		return ReasonUpstreamError, true, rerr
	}
}
