package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"slices"

	"github.com/rafaalpizar/xtream-proxy/pkg/credentials"
	"github.com/rafaalpizar/xtream-proxy/pkg/proxy/types"
	"github.com/rafaalpizar/xtream-proxy/pkg/relay"
	"github.com/rafaalpizar/xtream-proxy/pkg/upstream"
)

func (g *Gateway) serveStream(w http.ResponseWriter, r *http.Request, route Route, res *credentials.Resolution) error {
	release, err := g.takeStream(res)
	if err != nil {
		return err
	}
	defer release()

	candidates, err := g.deps.Selector.Candidates(res.Account())
	if err != nil {
		return err
	}
	return g.relay(w, r, route, res, candidates, route.Target)
}

// serveRelay serves a resource referenced from a rewritten playlist. The
// named account must be the session account or one of its mirrors, and an
// explicit origin must be one the account redirected to before.
func (g *Gateway) serveRelay(w http.ResponseWriter, r *http.Request, route Route, res *credentials.Resolution) error {
	const op = "gateway.relay"

	if !g.accountAllowed(res.Account(), route.Account) {
		return types.E(types.KindNotFound, op, "", fmt.Errorf("account %s is not reachable for %s", route.Account, res.User.Username))
	}
	acct, ok := g.deps.Accounts.Account(route.Account)
	if !ok {
		return types.E(types.KindNotFound, op, "", nil)
	}

	target, err := relay.ParseRelayPath(route.RelayPath, r.URL.Query(), route.Identity.Username, route.Identity.Password)
	if errors.Is(err, relay.ErrPanelScript) {
		return types.E(types.KindNotFound, op, "", err)
	}
	if err != nil {
		return types.E(types.KindInvalidRequest, op, "invalid relay path", err)
	}
	if target.Origin == "" {
		target.Origin = acct.Origin()
	} else if !g.deps.Engine.Hosts().Known(acct.Name, target.Origin) {
		return types.E(types.KindNotFound, op, "", fmt.Errorf("origin not learned for account %s", acct.Name))
	}

	return g.relay(w, r, route, res, []*upstream.Account{acct}, target)
}

func (g *Gateway) relay(w http.ResponseWriter, r *http.Request, route Route, res *credentials.Resolution, candidates []*upstream.Account, target upstream.Target) error {
	id := proxyIdentity(route, res)
	req := &relay.Request{
		Candidates: candidates,
		Target:     target,
		Header:     r.Header,
		User:       res.User.Username,
		Kind:       route.StreamKind,
		Rewrite: relay.RewriteContext{
			PublicBase:    g.publicBase(r),
			ProxyUsername: id.Username,
			ProxyPassword: id.Password,
		},
	}
	_, err := g.deps.Engine.Relay(r.Context(), w, req)
	return err
}

// takeStream reserves one of the user's concurrent stream slots.
func (g *Gateway) takeStream(res *credentials.Resolution) (func(), error) {
	if g.deps.Streams == nil {
		return func() {}, nil
	}
	release, ok := g.deps.Streams.Acquire(res.User.Username, res.User.MaxConnections)
	if !ok {
		return nil, types.E(types.KindOverloaded, "gateway.stream", "too many concurrent streams",
			fmt.Errorf("user %s reached %d streams", res.User.Username, res.User.MaxConnections))
	}
	return release, nil
}

func (g *Gateway) accountAllowed(primary, name string) bool {
	if name == primary {
		return true
	}
	acct, ok := g.deps.Accounts.Account(primary)
	return ok && slices.Contains(acct.Mirrors, name)
}
