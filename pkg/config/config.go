package config

import "time"

// Config is the root configuration structure for the Xtream proxy.
// It contains the listening server, the upstream panels and the proxy users
// mapped onto them, plus the cache, relay, limits and telemetry settings.
type Config struct {
	// Server contains HTTP listener configuration.
	Server ServerConfig `yaml:"server"`

	// Upstreams holds every configured upstream panel account.
	// Keys are account names referenced by users and mirror lists.
	Upstreams map[string]UpstreamConfig `yaml:"upstreams"`

	// Users lists the client-facing proxy credentials.
	Users []UserConfig `yaml:"users"`

	// Pool contains outbound connection settings shared by all upstreams.
	Pool PoolConfig `yaml:"pool"`

	// Health contains upstream health probe settings.
	Health HealthCheckConfig `yaml:"health"`

	// Sessions contains proxy session store settings.
	Sessions SessionConfig `yaml:"sessions"`

	// Catalog contains catalog cache settings.
	Catalog CatalogConfig `yaml:"catalog"`

	// Relay contains stream relay settings.
	Relay RelayConfig `yaml:"relay"`

	// Limits contains per-client rate limiting.
	Limits LimitsConfig `yaml:"limits"`

	// History contains relay history storage settings.
	History HistoryConfig `yaml:"history"`

	// Telemetry contains logging, metrics, tracing and health endpoints.
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Security contains TLS settings for the listener.
	Security SecurityConfig `yaml:"security"`
}

// ServerConfig contains configuration for the HTTP listener.
type ServerConfig struct {
	// ListenAddress is the address and port to listen on.
	// Default: "0.0.0.0:8000"
	ListenAddress string `yaml:"listen_address"`

	// PublicURL is the base URL clients use to reach the proxy. It is
	// written into player info, rewritten playlists and get.php exports.
	// When empty the request Host header is used.
	PublicURL string `yaml:"public_url"`

	// ReadHeaderTimeout bounds the time to read request headers.
	// Default: 10s
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`

	// IdleTimeout is the keep-alive idle timeout.
	// Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxHeaderBytes limits request header size.
	// Default: 1048576 (1MB)
	MaxHeaderBytes int `yaml:"max_header_bytes"`

	// CORS enables cross-origin access for browser-based players.
	CORS CORSConfig `yaml:"cors"`
}

// CORSConfig contains cross-origin settings.
type CORSConfig struct {
	// Enabled turns CORS headers on.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// AllowedOrigins lists permitted origins; "*" allows any.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// MaxAge is the preflight cache lifetime.
	// Default: 1h
	MaxAge time.Duration `yaml:"max_age"`
}

// UpstreamConfig describes one upstream panel account.
type UpstreamConfig struct {
	// BaseURL is the panel root, e.g. "http://panel.example.com:8080".
	BaseURL string `yaml:"base_url"`

	// Username is the real upstream username.
	Username string `yaml:"username"`

	// Password is the real upstream password. Never sent to clients.
	Password string `yaml:"password"`

	// MaxConnections is the number of concurrent streams the panel allows
	// for this account.
	// Default: 1
	MaxConnections int `yaml:"max_connections"`

	// Disabled suspends the account administratively.
	Disabled bool `yaml:"disabled"`

	// Mirrors lists other accounts carrying the same content. Streams may
	// fail over to them in order.
	Mirrors []string `yaml:"mirrors"`

	// UserAgent overrides pool.user_agent for this account.
	UserAgent string `yaml:"user_agent"`
}

// UserConfig describes a client-facing proxy credential.
type UserConfig struct {
	// Username is the proxy username given to the client.
	Username string `yaml:"username"`

	// Password is the proxy password given to the client.
	Password string `yaml:"password"`

	// Upstream is the account name this user is mapped to.
	Upstream string `yaml:"upstream"`

	// Suspended rejects the user with account_suspended.
	Suspended bool `yaml:"suspended"`

	// MaxConnections limits concurrent streams for this user (0 = unlimited).
	MaxConnections int `yaml:"max_connections"`
}

// PoolConfig contains outbound connection settings.
type PoolConfig struct {
	// AcquireTimeout is how long a stream start waits for a free slot on a
	// saturated account before failing with overloaded.
	// Default: 5s
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`

	// ConnectTimeout bounds TCP connect to the upstream.
	// Default: 5s
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// ResponseHeaderTimeout bounds the wait for upstream response headers.
	// Default: 10s
	ResponseHeaderTimeout time.Duration `yaml:"response_header_timeout"`

	// RequestTimeout bounds a complete catalog API call.
	// Default: 10s
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// MaxRetries is the number of retries for failed catalog API calls.
	// Default: 1
	MaxRetries int `yaml:"max_retries"`

	// MaxIdleConnsPerHost bounds idle keep-alive connections per panel.
	// Default: 16
	MaxIdleConnsPerHost int `yaml:"max_idle_conns_per_host"`

	// UserAgent is sent on every upstream request.
	// Default: "okhttp/3.14.17"
	UserAgent string `yaml:"user_agent"`
}

// HealthCheckConfig contains upstream health probe settings.
type HealthCheckConfig struct {
	// Interval between probes of one account.
	// Default: 30s
	Interval time.Duration `yaml:"interval"`

	// Timeout bounds a single probe.
	// Default: 5s
	Timeout time.Duration `yaml:"timeout"`

	// DegradedAfter is the number of consecutive failures that moves a
	// healthy account to degraded.
	// Default: 1
	DegradedAfter int `yaml:"degraded_after"`

	// DownAfter is the number of further consecutive failures that moves a
	// degraded account to down.
	// Default: 2
	DownAfter int `yaml:"down_after"`
}

// SessionConfig contains proxy session store settings.
type SessionConfig struct {
	// TTL is the idle lifetime of a session; each use refreshes it.
	// Default: 12h
	TTL time.Duration `yaml:"ttl"`

	// MaxEntries bounds the number of live sessions.
	// Default: 10000
	MaxEntries int `yaml:"max_entries"`
}

// CatalogConfig contains catalog cache settings.
type CatalogConfig struct {
	// TTL contains freshness windows per resource family.
	TTL CatalogTTLConfig `yaml:"ttl"`

	// MaxStale is the hard staleness ceiling. Entries older than this are
	// not served without a synchronous refresh attempt.
	// Default: 72h
	MaxStale time.Duration `yaml:"max_stale"`

	// FetchTimeout bounds one upstream catalog fetch.
	// Default: 30s
	FetchTimeout time.Duration `yaml:"fetch_timeout"`

	// RefreshSchedule is a cron expression for refreshing every cached
	// entry in the background. "off" disables scheduled refresh.
	// Default: "0 4 * * *"
	RefreshSchedule string `yaml:"refresh_schedule"`

	// Snapshot persists catalog entries so a restart can serve stale data
	// while the upstream is down.
	Snapshot SnapshotConfig `yaml:"snapshot"`

	// Filter restricts which categories and streams clients see.
	Filter FilterConfig `yaml:"filter"`
}

// CatalogTTLConfig contains freshness windows.
type CatalogTTLConfig struct {
	// Lists covers server info, categories and stream lists.
	// Default: 24h
	Lists time.Duration `yaml:"lists"`

	// Info covers per-item info (series info, VOD info).
	// Default: 6h
	Info time.Duration `yaml:"info"`

	// EPG covers short EPG, data tables and XMLTV.
	// Default: 1h
	EPG time.Duration `yaml:"epg"`
}

// SnapshotConfig configures the catalog snapshot store.
type SnapshotConfig struct {
	// Enabled turns snapshot persistence on.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Path is the SQLite database file.
	// Default: "data/catalog.db"
	Path string `yaml:"path"`
}

// FilterConfig lists names of streams or categories to keep or drop.
type FilterConfig struct {
	// Whitelist keeps only matching names when non-empty.
	Whitelist []string `yaml:"whitelist"`

	// Blacklist drops matching names.
	Blacklist []string `yaml:"blacklist"`
}

// RelayConfig contains stream relay settings.
type RelayConfig struct {
	// BufferSize is the fixed per-relay copy buffer in bytes.
	// Default: 32768
	BufferSize int `yaml:"buffer_size"`

	// UpstreamIdleTimeout ends a relay when the upstream sends nothing for
	// this long.
	// Default: 20s
	UpstreamIdleTimeout time.Duration `yaml:"upstream_idle_timeout"`

	// ClientIdleTimeout ends a relay when a single client write blocks for
	// this long.
	// Default: 30s
	ClientIdleTimeout time.Duration `yaml:"client_idle_timeout"`

	// MaxPlaylistBytes bounds playlist bodies read for rewriting.
	// Default: 2097152 (2MB)
	MaxPlaylistBytes int64 `yaml:"max_playlist_bytes"`

	// DisableReconnect turns off the single mid-stream reconnect.
	DisableReconnect bool `yaml:"disable_reconnect"`
}

// LimitsConfig contains client rate limiting.
type LimitsConfig struct {
	// RateLimit configures per-client request rate limiting.
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig configures per-client request rate limiting.
type RateLimitConfig struct {
	// Enabled turns rate limiting on.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// RequestsPerSecond is the sustained rate per client.
	// Default: 10
	RequestsPerSecond float64 `yaml:"requests_per_second"`

	// Burst is the bucket capacity per client.
	// Default: 40
	Burst int `yaml:"burst"`

	// IdleTTL evicts buckets of clients not seen for this long.
	// Default: 10m
	IdleTTL time.Duration `yaml:"idle_ttl"`

	// Redis shares counters across proxy instances when Addr is set.
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig configures the shared rate limit store.
type RedisConfig struct {
	// Addr is host:port of the Redis server. Empty keeps limits in memory.
	Addr string `yaml:"addr"`

	// Password authenticates against Redis.
	Password string `yaml:"password"`

	// DB selects the Redis database.
	DB int `yaml:"db"`

	// Prefix namespaces keys.
	// Default: "xtream-proxy:ratelimit"
	Prefix string `yaml:"prefix"`

	// Window is the fixed counting window.
	// Default: 1s
	Window time.Duration `yaml:"window"`
}

// HistoryConfig contains relay history settings.
type HistoryConfig struct {
	// Enabled turns history recording on.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Backend selects "sqlite" or "memory".
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	// SQLite configures the sqlite backend.
	SQLite HistorySQLiteConfig `yaml:"sqlite"`

	// MemoryMaxRecords bounds the memory backend.
	// Default: 1000
	MemoryMaxRecords int `yaml:"memory_max_records"`

	// Retention configures pruning.
	Retention RetentionConfig `yaml:"retention"`
}

// HistorySQLiteConfig configures the sqlite history backend.
type HistorySQLiteConfig struct {
	// Path is the database file.
	// Default: "data/history.db"
	Path string `yaml:"path"`

	// BusyTimeout is how long writers wait on a locked database.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// RetentionConfig configures history pruning.
type RetentionConfig struct {
	// Days is the number of days to keep records (0 = forever).
	// Default: 30
	Days int `yaml:"days"`

	// PruneSchedule is the cron expression for pruning.
	// Default: "0 3 * * *"
	PruneSchedule string `yaml:"prune_schedule"`
}

// TelemetryConfig contains configuration for observability.
type TelemetryConfig struct {
	// Logging contains logging configuration.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics contains metrics collection configuration.
	Metrics MetricsConfig `yaml:"metrics"`

	// Tracing contains distributed tracing configuration.
	Tracing TracingConfig `yaml:"tracing"`

	// Health contains health check endpoint configuration.
	Health HealthConfig `yaml:"health"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level to emit.
	// Options: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level"`

	// Format controls the log output format.
	// Options: "json", "text"
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file and line number in log entries.
	// Default: false
	AddSource bool `yaml:"add_source"`

	// RedactCredentials masks upstream passwords and password query
	// parameters in log output.
	// Default: true
	RedactCredentials bool `yaml:"redact_credentials"`
}

// MetricsConfig contains metrics collection configuration.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is active.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Path is the HTTP path for the Prometheus metrics endpoint.
	// Default: "/metrics"
	Path string `yaml:"path"`

	// Namespace is the metric name prefix.
	// Default: "xtream"
	Namespace string `yaml:"namespace"`

	// Subsystem is the metric subsystem name.
	// Default: "proxy"
	Subsystem string `yaml:"subsystem"`
}

// TracingConfig contains distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether distributed tracing is active.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Sampler determines the sampling strategy.
	// Options: "always", "never", "ratio"
	// Default: "ratio"
	Sampler string `yaml:"sampler"`

	// SampleRatio is the fraction of traces to sample (0.0 to 1.0).
	// Default: 0.1
	SampleRatio float64 `yaml:"sample_ratio"`

	// Endpoint is the OTLP gRPC collector endpoint.
	// Example: "localhost:4317"
	Endpoint string `yaml:"endpoint"`

	// ServiceName is the service name in traces.
	// Default: "xtream-proxy"
	ServiceName string `yaml:"service_name"`

	// Insecure disables TLS for the OTLP connection.
	Insecure bool `yaml:"insecure"`

	// Timeout is the timeout for OTLP exports.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`
}

// HealthConfig contains health check endpoint configuration.
type HealthConfig struct {
	// Enabled controls whether health check endpoints are enabled.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// LivenessPath is the path for the liveness probe endpoint.
	// Default: "/health"
	LivenessPath string `yaml:"liveness_path"`

	// ReadinessPath is the path for the readiness probe endpoint.
	// Default: "/ready"
	ReadinessPath string `yaml:"readiness_path"`

	// UpstreamsPath reports per-account health state.
	// Default: "/health/upstreams"
	UpstreamsPath string `yaml:"upstreams_path"`

	// VersionPath is the path for the version information endpoint.
	// Default: "/version"
	VersionPath string `yaml:"version_path"`

	// MinHealthyUpstreams is the number of non-down accounts required for
	// readiness.
	// Default: 1
	MinHealthyUpstreams int `yaml:"min_healthy_upstreams"`
}

// SecurityConfig contains security-related configuration.
type SecurityConfig struct {
	// TLS contains TLS configuration for the listener.
	TLS TLSConfig `yaml:"tls"`
}

// TLSConfig contains TLS configuration.
type TLSConfig struct {
	// Enabled controls whether TLS is enabled for the listener.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// CertFile is the path to the TLS certificate file.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the TLS private key file.
	KeyFile string `yaml:"key_file"`

	// MinVersion is the minimum TLS version to accept.
	// Options: "1.2", "1.3"
	// Default: "1.2"
	MinVersion string `yaml:"min_version"`
}

// Account returns the upstream account config for name.
func (c *Config) Account(name string) (UpstreamConfig, bool) {
	acct, ok := c.Upstreams[name]
	return acct, ok
}
