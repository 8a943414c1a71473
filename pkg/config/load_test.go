package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalConfig = `
upstreams:
  main:
    base_url: "http://panel.example.com:8080"
    username: "real-user"
    password: "real-pass"
users:
  - username: "alice"
    password: "alice-pass"
    upstream: "main"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoadConfig_ValidFile(t *testing.T) {
	path := writeConfig(t, `
server:
  listen_address: "127.0.0.1:9000"
  public_url: "https://tv.example.com"
upstreams:
  main:
    base_url: "http://panel.example.com:8080"
    username: "real-user"
    password: "real-pass"
    max_connections: 3
    mirrors: ["backup"]
  backup:
    base_url: "http://backup.example.com"
    username: "u2"
    password: "p2"
users:
  - username: "alice"
    password: "alice-pass"
    upstream: "main"
    max_connections: 2
catalog:
  ttl:
    lists: "12h"
  filter:
    blacklist: ["Adult"]
relay:
  buffer_size: 65536
telemetry:
  logging:
    level: "debug"
    format: "text"
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Server.ListenAddress != "127.0.0.1:9000" {
		t.Errorf("expected listen address %q, got %q", "127.0.0.1:9000", cfg.Server.ListenAddress)
	}
	main, ok := cfg.Account("main")
	if !ok {
		t.Fatal("expected main upstream")
	}
	if main.MaxConnections != 3 {
		t.Errorf("expected max connections 3, got %d", main.MaxConnections)
	}
	if len(main.Mirrors) != 1 || main.Mirrors[0] != "backup" {
		t.Errorf("expected mirrors [backup], got %v", main.Mirrors)
	}
	if cfg.Catalog.TTL.Lists != 12*time.Hour {
		t.Errorf("expected lists TTL 12h, got %v", cfg.Catalog.TTL.Lists)
	}
	if cfg.Catalog.Filter.Blacklist[0] != "Adult" {
		t.Errorf("expected blacklist [Adult], got %v", cfg.Catalog.Filter.Blacklist)
	}
	if cfg.Relay.BufferSize != 65536 {
		t.Errorf("expected buffer size 65536, got %d", cfg.Relay.BufferSize)
	}
	if cfg.Telemetry.Logging.Level != "debug" {
		t.Errorf("expected logging level %q, got %q", "debug", cfg.Telemetry.Logging.Level)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Server.ListenAddress != DefaultListenAddress {
		t.Errorf("expected default listen address %q, got %q", DefaultListenAddress, cfg.Server.ListenAddress)
	}
	if cfg.Pool.UserAgent != "okhttp/3.14.17" {
		t.Errorf("expected default user agent, got %q", cfg.Pool.UserAgent)
	}
	if cfg.Pool.RequestTimeout != 10*time.Second {
		t.Errorf("expected request timeout 10s, got %v", cfg.Pool.RequestTimeout)
	}
	if cfg.Upstreams["main"].MaxConnections != 1 {
		t.Errorf("expected default max connections 1, got %d", cfg.Upstreams["main"].MaxConnections)
	}
	if got := cfg.Health.DegradedAfter + cfg.Health.DownAfter; got != 3 {
		t.Errorf("expected an account to be down after 3 failures by default, got %d", got)
	}
	if !cfg.Telemetry.Metrics.Enabled {
		t.Error("expected metrics enabled by default")
	}
	if !cfg.Telemetry.Logging.RedactCredentials {
		t.Error("expected credential redaction enabled by default")
	}
	if cfg.Catalog.RefreshSchedule != DefaultCatalogRefreshSchedule {
		t.Errorf("expected default refresh schedule, got %q", cfg.Catalog.RefreshSchedule)
	}
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !strings.Contains(err.Error(), "failed to read configuration file") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "upstreams: [unclosed"))
	if err == nil {
		t.Fatal("expected parse error")
	}
	if !strings.Contains(err.Error(), "failed to parse configuration file") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadConfigWithEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
upstreams:
  main-panel:
    base_url: "http://panel.example.com:8080"
    username: "real-user"
users:
  - username: "alice"
    password: "alice-pass"
    upstream: "main-panel"
`)

	// Password only present in the environment.
	t.Setenv("XTREAM_PROXY_UPSTREAMS_MAIN_PANEL_PASSWORD", "from-env")
	t.Setenv("XTREAM_PROXY_SERVER_LISTEN_ADDRESS", "0.0.0.0:9999")
	t.Setenv("XTREAM_PROXY_TELEMETRY_LOGGING_LEVEL", "warn")

	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Upstreams["main-panel"].Password != "from-env" {
		t.Errorf("expected password from env, got %q", cfg.Upstreams["main-panel"].Password)
	}
	if cfg.Server.ListenAddress != "0.0.0.0:9999" {
		t.Errorf("expected listen address override, got %q", cfg.Server.ListenAddress)
	}
	if cfg.Telemetry.Logging.Level != "warn" {
		t.Errorf("expected level override, got %q", cfg.Telemetry.Logging.Level)
	}

	// Without the env var the same file is invalid.
	if _, err := LoadConfig(path); err == nil {
		t.Error("expected validation error without password")
	}
}
