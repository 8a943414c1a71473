package gateway

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/jamesnetherton/m3u"

	"github.com/rafaalpizar/xtream-proxy/pkg/catalog"
	"github.com/rafaalpizar/xtream-proxy/pkg/credentials"
	"github.com/rafaalpizar/xtream-proxy/pkg/proxy/types"
)

// liveStream is the subset of a get_live_streams item used for playlists.
type liveStream struct {
	Name         string          `json:"name"`
	StreamID     json.RawMessage `json:"stream_id"`
	EPGChannelID string          `json:"epg_channel_id"`
	StreamIcon   string          `json:"stream_icon"`
	CategoryID   json.RawMessage `json:"category_id"`
}

func (g *Gateway) servePlaylist(w http.ResponseWriter, r *http.Request, route Route, res *credentials.Resolution) error {
	const op = "gateway.get"

	listType := r.Form.Get("type")
	switch listType {
	case "":
		listType = "m3u_plus"
	case "m3u", "m3u_plus":
	default:
		return types.E(types.KindInvalidRequest, op, "unsupported playlist type", nil)
	}
	output := r.Form.Get("output")
	switch output {
	case "":
		output = "ts"
	case "ts", "m3u8":
	case "hls":
		output = "m3u8"
	default:
		return types.E(types.KindInvalidRequest, op, "unsupported output format", nil)
	}

	streams, err := g.deps.Catalog.Get(r.Context(), catalog.NewKey(res.Account(), catalog.KindLiveStreams, nil))
	if err != nil {
		return err
	}
	var groups map[string]string
	if cats, err := g.deps.Catalog.Get(r.Context(), catalog.NewKey(res.Account(), catalog.KindLiveCategories, nil)); err == nil {
		groups, _ = catalog.CategoryNames(cats.Payload)
	} else {
		g.logger.WarnContext(r.Context(), "live categories unavailable for playlist export", "error", err)
	}

	playlist, err := BuildPlaylist(streams.Payload, groups, g.publicBase(r), proxyIdentity(route, res), output)
	if err != nil {
		return types.E(types.KindUpstreamProtocol, op, "", err)
	}

	w.Header().Set("Content-Type", "audio/x-mpegurl")
	w.Header().Set("Content-Disposition", `attachment; filename="playlist.m3u"`)
	w.Header().Set(CacheStatusHeader, string(streams.Status))
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return nil
	}
	if err := WritePlaylist(w, playlist, listType == "m3u_plus"); err != nil {
		g.logger.DebugContext(r.Context(), "playlist write aborted", "error", err)
	}
	return nil
}

// BuildPlaylist turns a get_live_streams payload into a playlist whose URLs
// point at the proxy. groups maps category ids to names.
func BuildPlaylist(payload []byte, groups map[string]string, public *url.URL, id credentials.Identity, output string) (*m3u.Playlist, error) {
	var items []liveStream
	if err := json.Unmarshal(payload, &items); err != nil {
		return nil, fmt.Errorf("decode live streams: %w", err)
	}

	base := strings.TrimRight(public.String(), "/")
	prefix := base + "/live/" + url.PathEscape(id.Username) + "/" + url.PathEscape(id.Password) + "/"

	playlist := &m3u.Playlist{Tracks: make([]m3u.Track, 0, len(items))}
	for _, it := range items {
		streamID := rawScalar(it.StreamID)
		if streamID == "" || it.Name == "" {
			continue
		}
		track := m3u.Track{
			Name:   it.Name,
			Length: -1,
			URI:    prefix + streamID + "." + output,
		}
		if it.EPGChannelID != "" {
			track.Tags = append(track.Tags, m3u.Tag{Name: "tvg-id", Value: it.EPGChannelID})
		}
		track.Tags = append(track.Tags, m3u.Tag{Name: "tvg-name", Value: it.Name})
		if it.StreamIcon != "" {
			track.Tags = append(track.Tags, m3u.Tag{Name: "tvg-logo", Value: it.StreamIcon})
		}
		if group := groups[rawScalar(it.CategoryID)]; group != "" {
			track.Tags = append(track.Tags, m3u.Tag{Name: "group-title", Value: group})
		}
		playlist.Tracks = append(playlist.Tracks, track)
	}
	return playlist, nil
}

// WritePlaylist writes p in extended M3U form. Tags are written only when
// withTags is set (the m3u_plus flavour).
func WritePlaylist(w io.Writer, p *m3u.Playlist, withTags bool) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString("#EXTM3U\n"); err != nil {
		return err
	}
	for _, t := range p.Tracks {
		var b strings.Builder
		b.WriteString("#EXTINF:")
		b.WriteString(strconv.Itoa(t.Length))
		if withTags {
			for _, tag := range t.Tags {
				fmt.Fprintf(&b, ` %s="%s"`, tag.Name, strings.ReplaceAll(tag.Value, `"`, "'"))
			}
		}
		b.WriteString(",")
		b.WriteString(strings.NewReplacer("\r", " ", "\n", " ").Replace(t.Name))
		b.WriteString("\n")
		b.WriteString(t.URI)
		b.WriteString("\n")
		if _, err := bw.WriteString(b.String()); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func (g *Gateway) serveXMLTV(w http.ResponseWriter, r *http.Request, res *credentials.Resolution) error {
	result, err := g.deps.Catalog.Get(r.Context(), catalog.NewKey(res.Account(), catalog.KindXMLTV, nil))
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Payload)))
	w.Header().Set(CacheStatusHeader, string(result.Status))
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = w.Write(result.Payload)
	}
	return nil
}

// rawScalar renders a JSON string or number as text.
func rawScalar(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return ""
	}
	if s[0] == '"' {
		var out string
		if err := json.Unmarshal(raw, &out); err != nil {
			return ""
		}
		return out
	}
	return s
}
