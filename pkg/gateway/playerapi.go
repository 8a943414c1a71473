package gateway

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/rafaalpizar/xtream-proxy/pkg/catalog"
	"github.com/rafaalpizar/xtream-proxy/pkg/credentials"
	"github.com/rafaalpizar/xtream-proxy/pkg/proxy/types"
)

// CacheStatusHeader reports how a catalog response was served.
const CacheStatusHeader = "X-Cache"

// categoryFiltered are the list kinds that honour a category_id parameter.
var categoryFiltered = map[catalog.Kind]bool{
	catalog.KindLiveStreams: true,
	catalog.KindVODStreams:  true,
	catalog.KindSeries:      true,
}

var emptyList = []byte("[]")

func (g *Gateway) servePlayerAPI(w http.ResponseWriter, r *http.Request, route Route, res *credentials.Resolution) error {
	const op = "gateway.player_api"

	action := r.Form.Get("action")
	kind, ok := catalog.KindForAction(action)
	if !ok {
		g.logger.DebugContext(r.Context(), "unknown player_api action", "action", action)
		writeJSON(w, r, emptyList, "")
		return nil
	}

	params := kind.Params()
	if len(params) > 0 && r.Form.Get(params[0]) == "" {
		return types.E(types.KindInvalidRequest, op, "missing "+params[0], nil)
	}

	result, err := g.deps.Catalog.Get(r.Context(), catalog.NewKey(res.Account(), kind, r.Form))
	if err != nil {
		return err
	}
	payload := result.Payload

	switch {
	case kind == catalog.KindPlayerInfo:
		payload, err = rewritePlayerInfo(payload, proxyIdentity(route, res), g.publicBase(r), g.activeStreams(res.User.Username), res.User.MaxConnections)
		if err != nil {
			return types.E(types.KindUpstreamProtocol, op, "", err)
		}
	case categoryFiltered[kind] && r.Form.Get("category_id") != "":
		payload, err = catalog.ByCategory(payload, r.Form.Get("category_id"))
		if err != nil {
			return types.E(types.KindUpstreamProtocol, op, "", err)
		}
	}

	writeJSON(w, r, payload, string(result.Status))
	return nil
}

func (g *Gateway) activeStreams(user string) int64 {
	if g.deps.Streams == nil {
		return 0
	}
	return g.deps.Streams.Active(user)
}

// rewritePlayerInfo replaces the upstream identity in a player info payload
// with the proxy's: credentials, server URL and connection counts. Unknown
// fields are kept.
func rewritePlayerInfo(payload []byte, id credentials.Identity, public *url.URL, active int64, maxConns int) ([]byte, error) {
	var doc map[string]any
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}

	userInfo, _ := doc["user_info"].(map[string]any)
	if userInfo == nil {
		userInfo = map[string]any{}
	}
	userInfo["username"] = id.Username
	userInfo["password"] = id.Password
	userInfo["active_cons"] = strconv.FormatInt(active, 10)
	if maxConns > 0 {
		userInfo["max_connections"] = strconv.Itoa(maxConns)
	}
	doc["user_info"] = userInfo

	serverInfo, _ := doc["server_info"].(map[string]any)
	if serverInfo == nil {
		serverInfo = map[string]any{}
	}
	port := public.Port()
	if port == "" {
		port = "80"
		if public.Scheme == "https" {
			port = "443"
		}
	}
	serverInfo["url"] = public.Hostname()
	serverInfo["server_protocol"] = public.Scheme
	if public.Scheme == "https" {
		serverInfo["https_port"] = port
	} else {
		serverInfo["port"] = port
	}
	doc["server_info"] = serverInfo

	return json.Marshal(doc)
}

func writeJSON(w http.ResponseWriter, r *http.Request, payload []byte, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
	if status != "" {
		w.Header().Set(CacheStatusHeader, status)
	}
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = w.Write(payload)
	}
}
