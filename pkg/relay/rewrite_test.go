package relay

import (
	"errors"
	"net/url"
	"strings"
	"testing"

	"github.com/rafaalpizar/xtream-proxy/pkg/config"
	"github.com/rafaalpizar/xtream-proxy/pkg/upstream"
)

func testRewriteContext() RewriteContext {
	base, _ := url.Parse("https://iptv.example.com/proxy")
	return RewriteContext{
		PublicBase:       base,
		ProxyUsername:    "alice",
		ProxyPassword:    "secret",
		Account:          "main",
		UpstreamUsername: "up-user",
		UpstreamPassword: "up-pass",
		BaseOrigin:       "http://panel.example:8080",
		Origins:          []string{"http://cdn.example:80"},
	}
}

func TestRewriteURL(t *testing.T) {
	source, _ := url.Parse("http://panel.example:8080/live/up-user/up-pass/10.m3u8")
	rc := testRewriteContext()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "canonical live stream",
			in:   "http://panel.example:8080/live/up-user/up-pass/11.ts",
			want: "https://iptv.example.com/proxy/live/alice/secret/11.ts",
		},
		{
			name: "short live form",
			in:   "/up-user/up-pass/12",
			want: "https://iptv.example.com/proxy/alice/secret/12",
		},
		{
			name: "timeshift",
			in:   "/timeshift/up-user/up-pass/60/2024-01-01:10-00/5.ts",
			want: "https://iptv.example.com/proxy/timeshift/alice/secret/60/2024-01-01:10-00/5.ts",
		},
		{
			name: "relative segment on base host",
			in:   "chunks/0001.ts",
			want: "https://iptv.example.com/proxy/relay/alice/secret/main/live/alice/secret/chunks/0001.ts",
		},
		{
			name: "query credentials",
			in:   "/hls/seg.ts?username=up-user&password=up-pass&t=9",
			want: "https://iptv.example.com/proxy/relay/alice/secret/main/hls/seg.ts?password=secret&t=9&username=alice",
		},
		{
			name: "learned redirect origin",
			in:   "http://cdn.example:80/hlsr/tok/up-user/up-pass/10/1/2.ts",
			want: "https://iptv.example.com/proxy/relay/alice/secret/main/@http:cdn.example:80/hlsr/tok/alice/secret/10/1/2.ts",
		},
		{
			name: "foreign host keeps URL",
			in:   "https://ads.example.net/a/up-pass/x.ts",
			want: "https://ads.example.net/a/secret/x.ts",
		},
		{
			name: "foreign host drops userinfo",
			in:   "https://u:p@ads.example.net/x.ts",
			want: "https://ads.example.net/x.ts",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RewriteURL(tt.in, source, rc)
			if got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestRewritePlaylist_KeepsLineEndingsAndTags(t *testing.T) {
	source, _ := url.Parse("http://panel.example:8080/live/up-user/up-pass/10.m3u8")
	in := "#EXTM3U\r\n#EXT-X-TARGETDURATION:10\r\n#EXT-X-MAP:URI=\"init.mp4\"\r\n#EXTINF:10,\r\nseg1.ts\r\n"

	out := string(RewritePlaylist([]byte(in), source, testRewriteContext()))

	if strings.Count(out, "\r\n") != 5 {
		t.Errorf("expected CRLF line endings preserved, got %q", out)
	}
	if !strings.Contains(out, "#EXT-X-TARGETDURATION:10\r\n") {
		t.Errorf("expected tags untouched, got %q", out)
	}
	if !strings.Contains(out, `URI="https://iptv.example.com/proxy/live/alice/secret/init.mp4"`) {
		t.Errorf("expected URI attribute rewritten, got %q", out)
	}
	if !strings.Contains(out, "https://iptv.example.com/proxy/live/alice/secret/seg1.ts\r\n") {
		t.Errorf("expected segment rewritten, got %q", out)
	}
	if strings.Contains(out, "up-pass") {
		t.Errorf("upstream credentials leaked: %q", out)
	}
}

func TestParseRelayPath(t *testing.T) {
	rc := testRewriteContext()
	source, _ := url.Parse("http://panel.example:8080/live/up-user/up-pass/10.m3u8")

	rewritten, _ := url.Parse(RewriteURL("http://cdn.example:80/hlsr/tok/up-user/up-pass/10/1/2.ts?password=up-pass", source, rc))
	rest := strings.TrimPrefix(rewritten.Path, "/proxy/relay/alice/secret/main")

	target, err := ParseRelayPath(rest, rewritten.Query(), "alice", "secret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if target.Origin != "http://cdn.example:80" {
		t.Errorf("expected cdn origin, got %q", target.Origin)
	}
	if target.Path != "/hlsr/tok/{username}/{password}/10/1/2.ts" {
		t.Errorf("unexpected path %s", target.Path)
	}
	if target.Query.Get("password") != upstream.PlaceholderPassword {
		t.Errorf("expected password placeholder, got %q", target.Query.Get("password"))
	}

	acct, err := upstream.NewAccount("main", config.UpstreamConfig{
		BaseURL:  "http://panel.example:8080",
		Username: "up-user",
		Password: "up-pass",
	})
	if err != nil {
		t.Fatalf("failed to build account: %v", err)
	}
	if got := acct.URL(target); got != "http://cdn.example:80/hlsr/tok/up-user/up-pass/10/1/2.ts?password=up-pass" {
		t.Errorf("unexpected upstream URL %s", got)
	}
}

func TestParseRelayPath_RejectsPanelScripts(t *testing.T) {
	for _, rest := range []string{
		"/player_api.php",
		"/get.php",
		"/panel/XMLTV.PHP",
		"/@http:cdn.example/player_api.php",
		"/api/index.php5",
	} {
		_, err := ParseRelayPath(rest, nil, "alice", "secret")
		if !errors.Is(err, ErrPanelScript) {
			t.Errorf("%s: expected ErrPanelScript, got %v", rest, err)
		}
	}
}

func TestParseRelayPath_Rejects(t *testing.T) {
	for _, rest := range []string{
		"",
		"/@ftp:host/x.ts",
		"/@http:/x.ts",
		"/live/../../etc/passwd",
		"/@http:cdn.example",
	} {
		if _, err := ParseRelayPath(rest, nil, "alice", "secret"); err == nil {
			t.Errorf("expected %q to be rejected", rest)
		}
	}
}
