package relay

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/rafaalpizar/xtream-proxy/pkg/upstream"
)

// RewriteContext carries what RewritePlaylist needs to point URLs back at
// the proxy.
type RewriteContext struct {
	// PublicBase is the proxy URL clients use, e.g. "http://proxy:8000".
	PublicBase *url.URL

	ProxyUsername string
	ProxyPassword string

	// Account is the upstream account name used in /relay paths.
	Account string

	UpstreamUsername string
	UpstreamPassword string

	// BaseOrigin is the scheme://host of the account base URL.
	BaseOrigin string

	// Origins lists other upstream-controlled origins, such as the host a
	// request was redirected to. URLs on them go through /relay with an
	// explicit origin segment.
	Origins []string
}

// RelayPrefix is the proxy path prefix for rewritten upstream resources.
const RelayPrefix = "/relay/"

// originMarker starts the optional origin segment of a /relay path.
const originMarker = "@"

var uriAttr = regexp.MustCompile(`URI="([^"]*)"`)

// ErrPanelScript is returned by ParseRelayPath for paths naming a panel
// script. Panel responses embed the upstream credentials.
var ErrPanelScript = errors.New("panel scripts are not relayed")

// RewritePlaylist rewrites every URI in an HLS or M3U playlist. source is
// the URL the playlist was fetched from and resolves relative references.
// The function is pure: it only depends on its arguments.
func RewritePlaylist(body []byte, source *url.URL, rc RewriteContext) []byte {
	lines := bytes.Split(body, []byte("\n"))
	for i, line := range lines {
		trimmed := bytes.TrimSpace(line)
		switch {
		case len(trimmed) == 0:
			continue
		case trimmed[0] == '#':
			if !bytes.Contains(trimmed, []byte(`URI="`)) {
				continue
			}
			lines[i] = uriAttr.ReplaceAllFunc(line, func(m []byte) []byte {
				sub := uriAttr.FindSubmatch(m)
				return []byte(`URI="` + RewriteURL(string(sub[1]), source, rc) + `"`)
			})
		default:
			// Keep a trailing \r for CRLF playlists.
			suffix := ""
			if bytes.HasSuffix(line, []byte("\r")) {
				suffix = "\r"
			}
			lines[i] = []byte(RewriteURL(string(trimmed), source, rc) + suffix)
		}
	}
	return bytes.Join(lines, []byte("\n"))
}

// RewriteURL maps one upstream reference to the URL a client should use.
//
//   - Canonical stream paths on the account base host become the same path
//     on the proxy with proxy credentials.
//   - Other URLs on upstream origins become /relay/{user}/{pass}/{account}
//     paths, with an origin segment when not on the base host.
//   - URLs on foreign hosts are kept, with upstream credentials replaced.
func RewriteURL(raw string, source *url.URL, rc RewriteContext) string {
	ref, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	abs := ref
	if source != nil {
		abs = source.ResolveReference(ref)
	}
	if abs.Host == "" {
		return raw
	}

	origin := abs.Scheme + "://" + abs.Host
	segs := splitPath(abs.Path)
	query := swapQuery(abs.Query(), rc.UpstreamUsername, rc.UpstreamPassword, rc.ProxyUsername, rc.ProxyPassword)

	switch {
	case sameOrigin(origin, rc.BaseOrigin) && isCanonical(segs, rc.UpstreamUsername, rc.UpstreamPassword):
		out := publicURL(rc.PublicBase, swapSegments(segs, rc.UpstreamUsername, rc.UpstreamPassword, rc.ProxyUsername, rc.ProxyPassword))
		out.RawQuery = encodeQuery(query)
		return out.String()

	case sameOrigin(origin, rc.BaseOrigin) || containsOrigin(rc.Origins, origin):
		prefix := []string{"relay", rc.ProxyUsername, rc.ProxyPassword, rc.Account}
		if !sameOrigin(origin, rc.BaseOrigin) {
			prefix = append(prefix, originMarker+abs.Scheme+":"+abs.Host)
		}
		rest := swapSegments(segs, rc.UpstreamUsername, rc.UpstreamPassword, rc.ProxyUsername, rc.ProxyPassword)
		out := publicURL(rc.PublicBase, append(prefix, rest...))
		out.RawQuery = encodeQuery(query)
		return out.String()

	default:
		if abs.User != nil {
			abs.User = nil
		}
		abs.Path = "/" + strings.Join(swapSegments(segs, rc.UpstreamUsername, rc.UpstreamPassword, rc.ProxyUsername, rc.ProxyPassword), "/")
		abs.RawPath = ""
		abs.RawQuery = encodeQuery(query)
		return abs.String()
	}
}

// ParseRelayPath reverses the /relay mapping. rest is the path after
// /relay/{user}/{pass}/{account}. Proxy credentials in it are turned back
// into credential placeholders.
func ParseRelayPath(rest string, query url.Values, proxyUser, proxyPass string) (upstream.Target, error) {
	segs := splitPath(rest)
	var t upstream.Target

	if len(segs) > 0 && strings.HasPrefix(segs[0], originMarker) {
		scheme, host, ok := strings.Cut(strings.TrimPrefix(segs[0], originMarker), ":")
		if !ok || (scheme != "http" && scheme != "https") || host == "" {
			return upstream.Target{}, fmt.Errorf("invalid origin segment %q", segs[0])
		}
		t.Origin = scheme + "://" + host
		segs = segs[1:]
	}
	if len(segs) == 0 {
		return upstream.Target{}, fmt.Errorf("empty relay path")
	}
	for _, s := range segs {
		if s == ".." || s == "." {
			return upstream.Target{}, fmt.Errorf("invalid relay path segment %q", s)
		}
		if isPanelScript(s) {
			return upstream.Target{}, fmt.Errorf("%w: %q", ErrPanelScript, s)
		}
	}

	t.Path = "/" + strings.Join(swapSegments(segs, proxyUser, proxyPass, upstream.PlaceholderUsername, upstream.PlaceholderPassword), "/")
	if len(query) > 0 {
		t.Query = swapQuery(query, proxyUser, proxyPass, upstream.PlaceholderUsername, upstream.PlaceholderPassword)
	}
	return t, nil
}

// isPanelScript reports whether seg names a server-side script such as
// player_api.php or get.php.
func isPanelScript(seg string) bool {
	return strings.Contains(strings.ToLower(seg), ".php")
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// isCanonical reports whether segs is an Xtream stream path carrying the
// given credentials: /{live,movie,series}/u/p/id.ext, the short live form
// /u/p/id and /timeshift/u/p/duration/start/id.ext.
func isCanonical(segs []string, user, pass string) bool {
	switch {
	case len(segs) == 4 && (segs[0] == "live" || segs[0] == "movie" || segs[0] == "series"):
		return segs[1] == user && segs[2] == pass
	case len(segs) == 6 && segs[0] == "timeshift":
		return segs[1] == user && segs[2] == pass
	case len(segs) == 3:
		return segs[0] == user && segs[1] == pass
	}
	return false
}

func swapSegments(segs []string, fromUser, fromPass, toUser, toPass string) []string {
	out := make([]string, len(segs))
	for i, s := range segs {
		switch {
		case fromUser != "" && s == fromUser:
			out[i] = toUser
		case fromPass != "" && s == fromPass:
			out[i] = toPass
		default:
			out[i] = s
		}
	}
	return out
}

func swapQuery(q url.Values, fromUser, fromPass, toUser, toPass string) url.Values {
	if len(q) == 0 {
		return q
	}
	out := make(url.Values, len(q))
	for k, vs := range q {
		nv := make([]string, len(vs))
		for i, v := range vs {
			switch {
			case fromUser != "" && v == fromUser:
				nv[i] = toUser
			case fromPass != "" && v == fromPass:
				nv[i] = toPass
			default:
				nv[i] = v
			}
		}
		out[k] = nv
	}
	return out
}

func encodeQuery(q url.Values) string {
	if len(q) == 0 {
		return ""
	}
	return q.Encode()
}

func publicURL(base *url.URL, segs []string) *url.URL {
	out := &url.URL{}
	prefix := ""
	if base != nil {
		out.Scheme = base.Scheme
		out.Host = base.Host
		prefix = strings.TrimRight(base.Path, "/")
	}
	out.Path = prefix + "/" + strings.Join(segs, "/")
	return out
}

func sameOrigin(a, b string) bool {
	return b != "" && strings.EqualFold(a, b)
}

func containsOrigin(list []string, origin string) bool {
	for _, o := range list {
		if sameOrigin(origin, o) {
			return true
		}
	}
	return false
}
