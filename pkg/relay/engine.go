package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rafaalpizar/xtream-proxy/pkg/config"
	"github.com/rafaalpizar/xtream-proxy/pkg/proxy/types"
	"github.com/rafaalpizar/xtream-proxy/pkg/upstream"
)

// Slots hands out upstream stream slots.
type Slots interface {
	Acquire(ctx context.Context, acct *upstream.Account) (*upstream.Conn, error)
}

// Observer is told about relay starts and ends. Implementations must not
// block.
type Observer interface {
	RelayStarted(h *Handle)
	RelayFinished(h *Handle)
}

// FailoverRecorder counts candidate switches.
type FailoverRecorder interface {
	RecordFailover(from, to string)
	RecordServed(account string)
}

// Request describes one stream to relay.
type Request struct {
	// Candidates are the accounts to try, in order.
	Candidates []*upstream.Account

	// Target is the upstream resource with credential placeholders.
	Target upstream.Target

	// Header holds the client's request headers. Only a safe subset is
	// forwarded.
	Header http.Header

	// User is the proxy username.
	User string

	// Kind labels the stream (live, movie, series, timeshift, hls, relay).
	Kind string

	// Rewrite carries the proxy-side fields for playlist rewriting. The
	// account fields are filled in by the engine.
	Rewrite RewriteContext
}

// forwardedHeaders are the client headers passed to the upstream.
var forwardedHeaders = []string{"Range", "If-Range", "Accept", "Icy-MetaData"}

// hopHeaders are not copied from upstream responses.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
	"Proxy-Connection",
}

// Engine relays upstream byte streams to clients.
type Engine struct {
	slots    Slots
	hosts    *HostBook
	failover FailoverRecorder
	observer []Observer
	clock    clock.Clock
	tracer   trace.Tracer
	logger   *slog.Logger

	bufferSize       int
	buffers          sync.Pool
	upstreamIdle     time.Duration
	clientIdle       time.Duration
	maxPlaylistBytes int64
	disableReconnect bool

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// mu guards active and closed. closed is set under mu before wg.Wait
	// so no wg.Add can race with it.
	mu     sync.Mutex
	active map[string]*Handle
	closed bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithObserver adds a relay observer.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = append(e.observer, o) }
}

// WithFailoverRecorder sets the failover counter.
func WithFailoverRecorder(r FailoverRecorder) Option {
	return func(e *Engine) { e.failover = r }
}

// WithClock sets the clock used for the idle watchdog and timestamps.
func WithClock(clk clock.Clock) Option {
	return func(e *Engine) { e.clock = clk }
}

// WithHostBook sets the redirect origin book.
func WithHostBook(b *HostBook) Option {
	return func(e *Engine) { e.hosts = b }
}

// NewEngine creates an engine that takes slots from slots.
func NewEngine(cfg config.RelayConfig, slots Slots, opts ...Option) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		slots:            slots,
		clock:            clock.New(),
		tracer:           otel.Tracer("github.com/rafaalpizar/xtream-proxy/pkg/relay"),
		logger:           slog.Default().With("component", "relay"),
		bufferSize:       cfg.BufferSize,
		upstreamIdle:     cfg.UpstreamIdleTimeout,
		clientIdle:       cfg.ClientIdleTimeout,
		maxPlaylistBytes: cfg.MaxPlaylistBytes,
		disableReconnect: cfg.DisableReconnect,
		baseCtx:          ctx,
		cancel:           cancel,
		active:           make(map[string]*Handle),
	}
	if e.bufferSize <= 0 {
		e.bufferSize = config.DefaultRelayBufferSize
	}
	if e.maxPlaylistBytes <= 0 {
		e.maxPlaylistBytes = config.DefaultRelayMaxPlaylistBytes
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.hosts == nil {
		e.hosts = NewHostBook(1024)
	}
	size := e.bufferSize
	e.buffers.New = func() any {
		buf := make([]byte, size)
		return &buf
	}
	return e
}

// Hosts returns the engine's redirect origin book.
func (e *Engine) Hosts() *HostBook {
	return e.hosts
}

// BufferSize returns the per-relay copy buffer size.
func (e *Engine) BufferSize() int {
	return e.bufferSize
}

// Active returns snapshots of running relays.
func (e *Engine) Active() []Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Snapshot, 0, len(e.active))
	for _, h := range e.active {
		out = append(out, Snapshot{
			ID:        h.ID,
			User:      h.User,
			Account:   h.Account,
			Kind:      h.Kind,
			StartedAt: h.StartedAt,
			BytesOut:  h.BytesOut(),
		})
	}
	return out
}

// Shutdown cancels every running relay and waits for them to finish or
// for ctx to expire.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.cancel()
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// enter registers a relay with the shutdown wait group unless the engine is
// closed.
func (e *Engine) enter() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	e.wg.Add(1)
	return true
}

// Relay opens the stream on the first usable candidate and copies it to w
// until either side ends. An error is returned only when nothing was
// written to w; the caller then owns the error response.
func (e *Engine) Relay(ctx context.Context, w http.ResponseWriter, req *Request) (*Handle, error) {
	if !e.enter() {
		return nil, types.E(types.KindServiceUnavailable, "relay.Relay", "shutting down", nil)
	}
	defer e.wg.Done()

	h := newHandle(req, e.clock.Now())

	ctx, span := e.tracer.Start(ctx, "relay.Relay", trace.WithAttributes(
		attribute.String("relay.id", h.ID),
		attribute.String("relay.kind", req.Kind),
	))
	defer span.End()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(e.baseCtx, cancel)
	defer stop()

	conn, resp, err := e.open(ctx, h, req, forwardHeaders(req.Header))
	if err != nil {
		h.finish(e.clock.Now(), ReasonOpenFailed, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		for _, o := range e.observer {
			o.RelayFinished(h)
		}
		return h, err
	}
	defer conn.Release()
	span.SetAttributes(attribute.String("relay.account", h.Account))

	e.mu.Lock()
	e.active[h.ID] = h
	e.mu.Unlock()
	for _, o := range e.observer {
		o.RelayStarted(h)
	}

	err = e.serve(ctx, w, h, req, conn, resp)

	e.mu.Lock()
	delete(e.active, h.ID)
	e.mu.Unlock()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(
		attribute.String("relay.end_reason", h.EndReason),
		attribute.Int64("relay.bytes_out", h.BytesOut()),
	)
	for _, o := range e.observer {
		o.RelayFinished(h)
	}

	e.logger.Info("relay finished",
		"relay_id", h.ID,
		"user", h.User,
		"account", h.Account,
		"kind", h.Kind,
		"reason", h.EndReason,
		"bytes_out", h.BytesOut(),
		"duration", h.EndedAt.Sub(h.StartedAt),
		"reconnects", h.Reconnects,
	)
	if h.Status == 0 {
		return h, err
	}
	return h, nil
}

// open walks the candidates until one answers. A failed open is retried
// once on the same account before moving on.
func (e *Engine) open(ctx context.Context, h *Handle, req *Request, header http.Header) (*upstream.Conn, *http.Response, error) {
	const op = "relay.open"
	var lastErr error
	var prev string

	for _, acct := range req.Candidates {
		if prev != "" {
			h.Failovers++
			if e.failover != nil {
				e.failover.RecordFailover(prev, acct.Name)
			}
		}
		prev = acct.Name

		conn, err := e.slots.Acquire(ctx, acct)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, types.E(types.KindServiceUnavailable, op, "", ctx.Err())
			}
			e.logger.Debug("no slot on candidate", "relay_id", h.ID, "account", acct.Name, "error", err)
			lastErr = err
			continue
		}

		resp, err := conn.Open(ctx, req.Target, header)
		if err != nil && upstream.ShouldFailover(err) && ctx.Err() == nil {
			e.logger.Debug("retrying stream open", "relay_id", h.ID, "account", acct.Name, "error", err)
			resp, err = conn.Open(ctx, req.Target, header)
		}
		if err == nil {
			h.Account = acct.Name
			if e.failover != nil {
				e.failover.RecordServed(acct.Name)
			}
			return conn, resp, nil
		}

		conn.Release()
		if ctx.Err() != nil {
			return nil, nil, types.E(types.KindServiceUnavailable, op, "", ctx.Err())
		}
		if !upstream.ShouldFailover(err) {
			return nil, nil, err
		}
		e.logger.Warn("stream open failed", "relay_id", h.ID, "account", acct.Name, "error", err)
		lastErr = err
	}

	return nil, nil, types.E(types.KindServiceUnavailable, op, "no upstream account can serve this stream", lastErr)
}

func (e *Engine) serve(ctx context.Context, w http.ResponseWriter, h *Handle, req *Request, conn *upstream.Conn, resp *http.Response) error {
	acct := conn.Account()
	rc := e.rewriteContext(req.Rewrite, acct, resp)
	source := resp.Request.URL

	if isPlaylist(resp, req.Target.Path) {
		defer resp.Body.Close()
		return e.servePlaylist(w, h, resp, source, rc)
	}

	writeResponseHeaders(w, resp, source, rc)
	h.Status = resp.StatusCode
	w.WriteHeader(resp.StatusCode)

	resumable := resp.StatusCode == http.StatusPartialContent || resp.Header.Get("Accept-Ranges") == "bytes"
	startOffset := rangeStart(req.Header.Get("Range"))
	body := resp.Body
	reconnected := e.disableReconnect

	for {
		reason, err := e.pump(ctx, w, h, body)
		body.Close()

		if reason != ReasonUpstreamError || reconnected {
			h.finish(e.clock.Now(), reason, err)
			return nil
		}
		reconnected = true

		header := forwardHeaders(req.Header)
		if resumable {
			header.Set("Range", fmt.Sprintf("bytes=%d-", startOffset+h.BytesOut()))
			header.Del("If-Range")
		}
		e.logger.Info("reconnecting stream",
			"relay_id", h.ID,
			"account", acct.Name,
			"bytes_out", h.BytesOut(),
			"error", err,
		)
		next, rerr := conn.Open(ctx, req.Target, header)
		if rerr != nil {
			h.finish(e.clock.Now(), ReasonUpstreamError, rerr)
			return nil
		}
		if resumable && next.StatusCode != http.StatusPartialContent {
			next.Body.Close()
			h.finish(e.clock.Now(), ReasonUpstreamError, fmt.Errorf("upstream did not resume at byte %d", startOffset+h.BytesOut()))
			return nil
		}
		h.Reconnects++
		body = next.Body
	}
}

func (e *Engine) servePlaylist(w http.ResponseWriter, h *Handle, resp *http.Response, source *url.URL, rc RewriteContext) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, e.maxPlaylistBytes+1))
	h.bytesIn.Add(int64(len(body)))
	if err != nil {
		h.finish(e.clock.Now(), ReasonUpstreamError, err)
		return types.E(types.KindUpstreamUnavailable, "relay.playlist", "", err)
	}
	if int64(len(body)) > e.maxPlaylistBytes {
		err := fmt.Errorf("playlist exceeds %d bytes", e.maxPlaylistBytes)
		h.finish(e.clock.Now(), ReasonUpstreamError, err)
		return types.E(types.KindUpstreamProtocol, "relay.playlist", "", err)
	}

	out := RewritePlaylist(body, source, rc)
	writeResponseHeaders(w, resp, source, rc)
	w.Header().Del("Content-Range")
	w.Header().Del("Accept-Ranges")
	w.Header().Set("Content-Length", strconv.Itoa(len(out)))
	w.Header().Set("Cache-Control", "no-cache")

	status := resp.StatusCode
	if status == http.StatusPartialContent {
		status = http.StatusOK
	}
	h.Status = status
	w.WriteHeader(status)
	n, werr := w.Write(out)
	h.bytesOut.Add(int64(n))
	if werr != nil {
		h.finish(e.clock.Now(), ReasonClientClosed, werr)
		return nil
	}
	h.finish(e.clock.Now(), ReasonPlaylist, nil)
	return nil
}

// writeResponseHeaders copies the upstream headers to w once the response
// is committed to being relayed. Location is pointed back at the proxy.
func writeResponseHeaders(w http.ResponseWriter, resp *http.Response, source *url.URL, rc RewriteContext) {
	copyHeaders(w.Header(), resp.Header)
	if loc := resp.Header.Get("Location"); loc != "" {
		w.Header().Set("Location", RewriteURL(loc, source, rc))
	}
}

// rewriteContext completes the proxy-side rewrite context with the serving
// account and the origin the response actually came from.
func (e *Engine) rewriteContext(base RewriteContext, acct *upstream.Account, resp *http.Response) RewriteContext {
	rc := base
	rc.Account = acct.Name
	rc.UpstreamUsername = acct.Username
	rc.UpstreamPassword = acct.Password
	rc.BaseOrigin = acct.Origin()

	if resp.Request != nil && resp.Request.URL != nil {
		final := resp.Request.URL.Scheme + "://" + resp.Request.URL.Host
		if !strings.EqualFold(final, rc.BaseOrigin) {
			e.hosts.Learn(acct.Name, final)
		}
	}
	rc.Origins = e.hosts.Origins(acct.Name)
	return rc
}

func forwardHeaders(in http.Header) http.Header {
	out := http.Header{}
	for _, k := range forwardedHeaders {
		if v := in.Values(k); len(v) > 0 {
			out[http.CanonicalHeaderKey(k)] = append([]string(nil), v...)
		}
	}
	return out
}

func copyHeaders(dst, src http.Header) {
	skip := make(map[string]bool, len(hopHeaders))
	for _, h := range hopHeaders {
		skip[h] = true
	}
	for _, f := range strings.Split(src.Get("Connection"), ",") {
		if f = strings.TrimSpace(f); f != "" {
			skip[http.CanonicalHeaderKey(f)] = true
		}
	}
	for k, vs := range src {
		if skip[k] || k == "Set-Cookie" {
			continue
		}
		dst[k] = append([]string(nil), vs...)
	}
}

func isPlaylist(resp *http.Response, path string) bool {
	ct := strings.ToLower(resp.Header.Get("Content-Type"))
	if strings.Contains(ct, "mpegurl") {
		return true
	}
	p := strings.ToLower(path)
	if resp.Request != nil && resp.Request.URL != nil {
		p = strings.ToLower(resp.Request.URL.Path)
	}
	return strings.HasSuffix(p, ".m3u8") || strings.HasSuffix(p, ".m3u")
}

// rangeStart returns N from "bytes=N-...", or 0.
func rangeStart(v string) int64 {
	v = strings.TrimSpace(v)
	if !strings.HasPrefix(v, "bytes=") {
		return 0
	}
	start, _, _ := strings.Cut(strings.TrimPrefix(v, "bytes="), "-")
	n, err := strconv.ParseInt(strings.TrimSpace(start), 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func isDeadline(err error) bool {
	var ne interface{ Timeout() bool }
	return errors.As(err, &ne) && ne.Timeout()
}
