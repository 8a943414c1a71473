package gateway

import (
	"net/http"
	"strings"

	"github.com/rafaalpizar/xtream-proxy/pkg/credentials"
	"github.com/rafaalpizar/xtream-proxy/pkg/proxy/types"
	"github.com/rafaalpizar/xtream-proxy/pkg/upstream"
)

// RouteKind is the shape of an inbound request.
type RouteKind int

const (
	RouteUnknown RouteKind = iota
	RoutePlayerAPI
	RoutePlaylist
	RouteXMLTV
	RouteStream
	RouteRelay
)

func (k RouteKind) String() string {
	switch k {
	case RoutePlayerAPI:
		return "player_api"
	case RoutePlaylist:
		return "playlist"
	case RouteXMLTV:
		return "xmltv"
	case RouteStream:
		return "stream"
	case RouteRelay:
		return "relay"
	default:
		return "unknown"
	}
}

// SessionTokenHeader carries the proxy session token. Clients may send it
// back instead of credentials on player_api.php, get.php and xmltv.php.
const SessionTokenHeader = "X-Session-Token"

// Route is a classified request.
type Route struct {
	Kind RouteKind

	// Identity holds the proxy credentials found in the query or path.
	Identity credentials.Identity

	// Token is a session token from the "token" parameter or the
	// X-Session-Token header.
	Token string

	// StreamKind labels stream routes: live, movie, series, timeshift, hls
	// or relay.
	StreamKind string

	// Target is the upstream resource for stream routes, with credential
	// placeholders in place of the proxy credentials.
	Target upstream.Target

	// Account and RelayPath are set for relay routes.
	Account   string
	RelayPath string
}

// Classify maps a request to a route. It does not authenticate.
func Classify(r *http.Request) (Route, error) {
	const op = "gateway.classify"

	switch r.URL.Path {
	case "/player_api.php":
		return queryRoute(r, RoutePlayerAPI), nil
	case "/get.php":
		return queryRoute(r, RoutePlaylist), nil
	case "/xmltv.php":
		return queryRoute(r, RouteXMLTV), nil
	}

	segs := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	for _, s := range segs {
		if s == "" || s == "." || s == ".." {
			return Route{}, types.E(types.KindNotFound, op, "", nil)
		}
	}

	switch {
	case len(segs) == 4 && (segs[0] == "live" || segs[0] == "movie" || segs[0] == "series"):
		return streamRoute(r, segs[0], segs[1], segs[2], segs[0], segs[3]), nil

	case len(segs) == 6 && segs[0] == "timeshift":
		return streamRoute(r, "timeshift", segs[1], segs[2], "timeshift", segs[3], segs[4], segs[5]), nil

	case len(segs) >= 5 && segs[0] == "hlsr":
		// /hlsr/{token}/{user}/{pass}/... keeps the upstream token in front.
		return streamRoute(r, "hls", segs[2], segs[3], "hlsr/"+segs[1], segs[4:]...), nil

	case len(segs) >= 5 && segs[0] == "relay":
		return Route{
			Kind:       RouteRelay,
			Identity:   credentials.Identity{Username: segs[1], Password: segs[2]},
			StreamKind: "relay",
			Account:    segs[3],
			RelayPath:  "/" + strings.Join(segs[4:], "/"),
		}, nil

	case len(segs) == 3 && !strings.HasSuffix(segs[2], ".php"):
		// Short live form /{user}/{pass}/{id}.
		return streamRoute(r, "live", segs[0], segs[1], "", segs[2]), nil
	}

	return Route{}, types.E(types.KindNotFound, op, "", nil)
}

func queryRoute(r *http.Request, kind RouteKind) Route {
	// ParseForm merges POST form values for clients that post player_api.
	_ = r.ParseForm()
	token := r.Form.Get("token")
	if token == "" {
		token = r.Header.Get(SessionTokenHeader)
	}
	return Route{
		Kind: kind,
		Identity: credentials.Identity{
			Username: r.Form.Get("username"),
			Password: r.Form.Get("password"),
		},
		Token: token,
	}
}

func streamRoute(r *http.Request, kind, user, pass, prefix string, rest ...string) Route {
	parts := []string{}
	if prefix != "" {
		parts = append(parts, prefix)
	}
	parts = append(parts, upstream.PlaceholderUsername, upstream.PlaceholderPassword)
	parts = append(parts, rest...)

	t := upstream.Target{Path: "/" + strings.Join(parts, "/")}
	if q := r.URL.Query(); len(q) > 0 {
		t.Query = q
	}
	return Route{
		Kind:       RouteStream,
		Identity:   credentials.Identity{Username: user, Password: pass},
		StreamKind: kind,
		Target:     t,
	}
}
