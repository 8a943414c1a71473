package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/rafaalpizar/xtream-proxy/pkg/catalog"
	"github.com/rafaalpizar/xtream-proxy/pkg/config"
	"github.com/rafaalpizar/xtream-proxy/pkg/credentials"
	"github.com/rafaalpizar/xtream-proxy/pkg/limits/ratelimit"
	"github.com/rafaalpizar/xtream-proxy/pkg/proxy/middleware"
	"github.com/rafaalpizar/xtream-proxy/pkg/proxy/types"
	"github.com/rafaalpizar/xtream-proxy/pkg/relay"
	"github.com/rafaalpizar/xtream-proxy/pkg/routing"
	"github.com/rafaalpizar/xtream-proxy/pkg/telemetry/logging"
	"github.com/rafaalpizar/xtream-proxy/pkg/upstream"
)

// Accounts resolves upstream account names.
type Accounts interface {
	Account(name string) (*upstream.Account, bool)
}

// Deps are the components the gateway dispatches to.
type Deps struct {
	Translator *credentials.Translator
	Catalog    *catalog.Cache
	Selector   *routing.Selector
	Engine     *relay.Engine
	Accounts   Accounts

	// Streams enforces per-user concurrent stream limits. Nil disables
	// the limit.
	Streams *ratelimit.StreamLimiter
}

// Gateway is the client-facing Xtream API. It classifies each request,
// resolves the proxy identity and hands the request to the catalog cache or
// the relay engine. It is the only component that writes error responses.
type Gateway struct {
	deps      Deps
	publicURL atomic.Pointer[url.URL]
	logger    *slog.Logger
}

// New creates a gateway.
func New(cfg *config.Config, deps Deps) (*Gateway, error) {
	if deps.Translator == nil || deps.Catalog == nil || deps.Selector == nil || deps.Engine == nil || deps.Accounts == nil {
		return nil, errors.New("gateway: translator, catalog, selector, engine and accounts are required")
	}
	g := &Gateway{
		deps:   deps,
		logger: slog.Default().With("component", "gateway"),
	}
	if err := g.Reconfigure(cfg); err != nil {
		return nil, err
	}
	return g, nil
}

// Reconfigure applies the public URL from cfg.
func (g *Gateway) Reconfigure(cfg *config.Config) error {
	if cfg.Server.PublicURL == "" {
		g.publicURL.Store(nil)
		return nil
	}
	u, err := url.Parse(strings.TrimRight(cfg.Server.PublicURL, "/"))
	if err != nil || u.Host == "" {
		return fmt.Errorf("gateway: invalid public URL %q", cfg.Server.PublicURL)
	}
	g.publicURL.Store(u)
	return nil
}

// ServeHTTP implements http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	route, err := Classify(r)
	if err != nil {
		g.fail(w, r, err)
		return
	}

	switch r.Method {
	case http.MethodGet, http.MethodHead:
	case http.MethodPost:
		if route.Kind != RoutePlayerAPI {
			g.fail(w, r, types.E(types.KindInvalidRequest, "gateway", "method not allowed", nil))
			return
		}
	default:
		g.fail(w, r, types.E(types.KindInvalidRequest, "gateway", "method not allowed", nil))
		return
	}

	res, err := g.resolve(r.Context(), route)
	if err != nil {
		g.fail(w, r, err)
		return
	}

	ctx := logging.WithUser(r.Context(), res.User.Username)
	ctx = logging.WithAccount(ctx, res.Account())
	r = r.WithContext(ctx)
	w.Header().Set(SessionTokenHeader, res.Session.Token)

	switch route.Kind {
	case RoutePlayerAPI:
		err = g.servePlayerAPI(w, r, route, res)
	case RoutePlaylist:
		err = g.servePlaylist(w, r, route, res)
	case RouteXMLTV:
		err = g.serveXMLTV(w, r, res)
	case RouteStream:
		err = g.serveStream(w, r, route, res)
	case RouteRelay:
		err = g.serveRelay(w, r, route, res)
	}
	if err != nil {
		g.fail(w, r, err)
	}
}

// resolve authenticates route's credentials, falling back to its session
// token when no username was given. URLs issued to token-authenticated
// clients carry the token in the password position, so a failed password
// check is retried as a token owned by the same user.
func (g *Gateway) resolve(ctx context.Context, route Route) (*credentials.Resolution, error) {
	if route.Identity.Username != "" {
		res, err := g.deps.Translator.Authenticate(ctx, route.Identity)
		if err == nil || !errors.Is(err, types.ErrUnauthorized) || route.Identity.Password == "" {
			return res, err
		}
		byToken, tokErr := g.deps.Translator.ResolveToken(ctx, route.Identity.Password)
		if tokErr != nil || byToken.User.Username != route.Identity.Username {
			return nil, err
		}
		return byToken, nil
	}
	if route.Token != "" {
		return g.deps.Translator.ResolveToken(ctx, route.Token)
	}
	return nil, types.E(types.KindUnauthorized, "gateway.resolve", "missing credentials", nil)
}

// proxyIdentity is the credential pair written into URLs handed to the
// client. Token-authenticated requests get the user's own username and the
// session token in place of the password so no secret is echoed.
func proxyIdentity(route Route, res *credentials.Resolution) credentials.Identity {
	if route.Identity.Username != "" {
		return route.Identity
	}
	return credentials.Identity{Username: res.User.Username, Password: res.Session.Token}
}

// publicBase returns the URL clients use to reach the proxy.
func (g *Gateway) publicBase(r *http.Request) *url.URL {
	if u := g.publicURL.Load(); u != nil {
		cp := *u
		return &cp
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := r.Header.Get("X-Forwarded-Proto"); p == "http" || p == "https" {
		scheme = p
	}
	return &url.URL{Scheme: scheme, Host: r.Host}
}

// fail maps err to an HTTP error response.
func (g *Gateway) fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, routing.ErrNoCandidates) {
		err = types.E(types.KindServiceUnavailable, "gateway", "no upstream account can serve this stream", err)
	}

	kind := types.KindOf(err)
	level := slog.LevelWarn
	switch kind {
	case types.KindInternal:
		level = slog.LevelError
	case types.KindNotFound, types.KindUnauthorized:
		level = slog.LevelDebug
	}
	g.logger.Log(r.Context(), level, "request failed",
		"code", kind.Code(),
		"error", err,
	)
	types.WriteError(w, err, middleware.GetRequestID(r.Context()))
}
