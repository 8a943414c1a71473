package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/rafaalpizar/xtream-proxy/pkg/config"
	"github.com/rafaalpizar/xtream-proxy/pkg/proxy/types"
)

// maxAPIBody bounds a single catalog response. Full VOD lists of large
// panels run to tens of megabytes.
const maxAPIBody = 256 << 20

// Client performs HTTP requests against upstream panels. Catalog calls use a
// client with a total request timeout; stream opens use a client that only
// bounds connect and response-header time so long-lived bodies are not cut.
type Client struct {
	api        *http.Client
	stream     *http.Client
	userAgent  string
	maxRetries int
	backoff    func(attempt int) time.Duration
	logger     *slog.Logger
}

// NewClient creates a client from pool settings.
func NewClient(cfg config.PoolConfig) *Client {
	dialer := &net.Dialer{
		Timeout:   cfg.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}
	newTransport := func() *http.Transport {
		return &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           dialer.DialContext,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
			IdleConnTimeout:       90 * time.Second,
			ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
			TLSHandshakeTimeout:   cfg.ConnectTimeout,
			// Panels send already-compressed video; let the player see the
			// original bytes.
			DisableCompression: true,
		}
	}

	return &Client{
		api: &http.Client{
			Transport: newTransport(),
			Timeout:   cfg.RequestTimeout,
		},
		stream: &http.Client{
			Transport: newTransport(),
		},
		userAgent:  cfg.UserAgent,
		maxRetries: cfg.MaxRetries,
		backoff: func(attempt int) time.Duration {
			return time.Duration(math.Pow(2, float64(attempt-1))) * 250 * time.Millisecond
		},
		logger: slog.Default().With("component", "upstream.client"),
	}
}

func (c *Client) userAgentFor(acct *Account) string {
	if acct.UserAgent != "" {
		return acct.UserAgent
	}
	if c.userAgent != "" {
		return c.userAgent
	}
	return config.DefaultUserAgent
}

// PlayerAPI calls player_api.php with action and returns the raw JSON body.
// Bodies that are not valid JSON are reported as protocol errors.
func (c *Client) PlayerAPI(ctx context.Context, acct *Account, action string, params url.Values) ([]byte, error) {
	body, err := c.Fetch(ctx, acct, "player_api.php", action, params)
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, types.E(types.KindUpstreamProtocol, "upstream.PlayerAPI",
			"", fmt.Errorf("upstream %s returned invalid JSON for action %q", acct.Name, action))
	}
	return body, nil
}

// XMLTV returns the account's XMLTV guide.
func (c *Client) XMLTV(ctx context.Context, acct *Account) ([]byte, error) {
	return c.Fetch(ctx, acct, "xmltv.php", "", nil)
}

// Fetch performs a GET against script (player_api.php, xmltv.php, get.php)
// and returns the whole body. Transient failures are retried with
// exponential backoff.
func (c *Client) Fetch(ctx context.Context, acct *Account, script, action string, params url.Values) ([]byte, error) {
	const op = "upstream.Fetch"
	target := acct.APIURL(script, action, params)

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.backoff(attempt)
			c.logger.Debug("retrying upstream request",
				"account", acct.Name,
				"script", script,
				"action", action,
				"attempt", attempt,
				"backoff", backoff,
			)
			select {
			case <-ctx.Done():
				return nil, types.E(types.KindUpstreamUnavailable, op, "", ctx.Err())
			case <-time.After(backoff):
			}
		}

		body, err := c.fetchOnce(ctx, acct, target)
		if err == nil {
			return body, nil
		}
		lastErr = err

		if ctx.Err() != nil || !Retryable(err) {
			return nil, err
		}
		c.logger.Warn("upstream request failed",
			"account", acct.Name,
			"script", script,
			"action", action,
			"attempt", attempt+1,
			"error", err,
		)
	}
	return nil, lastErr
}

func (c *Client) fetchOnce(ctx context.Context, acct *Account, target string) ([]byte, error) {
	const op = "upstream.Fetch"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, types.E(types.KindInternal, op, "", fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("User-Agent", c.userAgentFor(acct))
	req.Header.Set("Accept", "*/*")

	resp, err := c.api.Do(req)
	if err != nil {
		return nil, types.E(types.KindUpstreamUnavailable, op, "", redactURLError(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, statusToError(op, acct.Name, resp.StatusCode)
	}

	var buf bytes.Buffer
	n, err := buf.ReadFrom(io.LimitReader(resp.Body, maxAPIBody+1))
	if err != nil {
		return nil, types.E(types.KindUpstreamUnavailable, op, "", redactURLError(err))
	}
	if n > maxAPIBody {
		return nil, types.E(types.KindUpstreamProtocol, op, "",
			fmt.Errorf("upstream %s response exceeds %d bytes", acct.Name, maxAPIBody))
	}
	return buf.Bytes(), nil
}

// Probe checks that acct answers player_api.php with an active login.
func (c *Client) Probe(ctx context.Context, acct *Account) error {
	const op = "upstream.Probe"

	body, err := c.fetchOnce(ctx, acct, acct.APIURL("player_api.php", "", nil))
	if err != nil {
		return err
	}

	var info struct {
		UserInfo struct {
			Auth   json.RawMessage `json:"auth"`
			Status string          `json:"status"`
		} `json:"user_info"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return types.E(types.KindUpstreamProtocol, op, "", fmt.Errorf("decode player info: %w", err))
	}
	// Panels disagree on whether auth is a number or a string.
	auth := string(bytes.Trim(info.UserInfo.Auth, `"`))
	if auth != "1" {
		return types.E(types.KindUpstreamUnavailable, op, "", fmt.Errorf("upstream %s rejected credentials", acct.Name))
	}
	if info.UserInfo.Status != "" && info.UserInfo.Status != "Active" {
		return types.E(types.KindUpstreamUnavailable, op, "",
			fmt.Errorf("upstream %s account status %q", acct.Name, info.UserInfo.Status))
	}
	return nil
}

// OpenStream issues a GET for t on acct and returns the response once
// headers arrive. The caller owns the body. header carries forwarded client
// headers such as Range.
func (c *Client) OpenStream(ctx context.Context, acct *Account, t Target, header http.Header) (*http.Response, error) {
	const op = "upstream.OpenStream"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, acct.URL(t), nil)
	if err != nil {
		return nil, types.E(types.KindInternal, op, "", fmt.Errorf("failed to create request: %w", err))
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("User-Agent", c.userAgentFor(acct))

	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, types.E(types.KindUpstreamUnavailable, op, "", redactURLError(err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, statusToError(op, acct.Name, resp.StatusCode)
	}
	return resp, nil
}

// redactURLError strips the request URL from transport errors so upstream
// credentials do not reach logs.
func redactURLError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("%s: %w", urlErr.Op, urlErr.Err)
	}
	return err
}
