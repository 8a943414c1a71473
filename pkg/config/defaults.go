package config

import "time"

// Default values for configuration fields.
const (
	// Server defaults
	DefaultListenAddress     = "0.0.0.0:8000"
	DefaultReadHeaderTimeout = 10 * time.Second
	DefaultIdleTimeout       = 120 * time.Second
	DefaultShutdownTimeout   = 30 * time.Second
	DefaultMaxHeaderBytes    = 1048576 // 1MB
	DefaultCORSMaxAge        = time.Hour

	// Upstream defaults
	DefaultUpstreamMaxConnections = 1

	// Pool defaults
	DefaultAcquireTimeout        = 5 * time.Second
	DefaultConnectTimeout        = 5 * time.Second
	DefaultResponseHeaderTimeout = 10 * time.Second
	DefaultRequestTimeout        = 10 * time.Second
	DefaultMaxRetries            = 1
	DefaultMaxIdleConnsPerHost   = 16
	DefaultUserAgent             = "okhttp/3.14.17"

	// Health defaults
	DefaultHealthInterval      = 30 * time.Second
	DefaultHealthTimeout       = 5 * time.Second
	DefaultHealthDegradedAfter = 1
	DefaultHealthDownAfter     = 2

	// Session defaults
	DefaultSessionTTL        = 12 * time.Hour
	DefaultSessionMaxEntries = 10000

	// Catalog defaults
	DefaultCatalogListsTTL        = 24 * time.Hour
	DefaultCatalogInfoTTL         = 6 * time.Hour
	DefaultCatalogEPGTTL          = time.Hour
	DefaultCatalogMaxStale        = 72 * time.Hour
	DefaultCatalogFetchTimeout    = 30 * time.Second
	DefaultCatalogRefreshSchedule = "0 4 * * *"
	DefaultCatalogSnapshotPath    = "data/catalog.db"

	// Relay defaults
	DefaultRelayBufferSize          = 32 * 1024
	DefaultRelayUpstreamIdleTimeout = 20 * time.Second
	DefaultRelayClientIdleTimeout   = 30 * time.Second
	DefaultRelayMaxPlaylistBytes    = int64(2 << 20)

	// Rate limit defaults
	DefaultRateLimitRPS         = 10.0
	DefaultRateLimitBurst       = 40
	DefaultRateLimitIdleTTL     = 10 * time.Minute
	DefaultRateLimitRedisPrefix = "xtream-proxy:ratelimit"
	DefaultRateLimitRedisWindow = time.Second

	// History defaults
	DefaultHistoryBackend           = "sqlite"
	DefaultHistorySQLitePath        = "data/history.db"
	DefaultHistorySQLiteBusyTimeout = 5 * time.Second
	DefaultHistoryMemoryMaxRecords  = 1000
	DefaultHistoryRetentionDays     = 30
	DefaultHistoryPruneSchedule     = "0 3 * * *"

	// Telemetry defaults
	DefaultLogLevel            = "info"
	DefaultLogFormat           = "json"
	DefaultMetricsPath         = "/metrics"
	DefaultMetricsNamespace    = "xtream"
	DefaultMetricsSubsystem    = "proxy"
	DefaultTracingSampler      = "ratio"
	DefaultTracingSampleRatio  = 0.1
	DefaultTracingServiceName  = "xtream-proxy"
	DefaultTracingTimeout      = 10 * time.Second
	DefaultLivenessPath        = "/health"
	DefaultReadinessPath       = "/ready"
	DefaultUpstreamsHealthPath = "/health/upstreams"
	DefaultVersionPath         = "/version"
	DefaultMinHealthyUpstreams = 1

	// TLS defaults
	DefaultTLSMinVersion = "1.2"
)

// ApplyDefaults applies default values to a Config struct.
// It sets defaults for any fields that have zero values.
// This function is idempotent and safe to call multiple times.
func ApplyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = DefaultListenAddress
	}
	if cfg.Server.ReadHeaderTimeout == 0 {
		cfg.Server.ReadHeaderTimeout = DefaultReadHeaderTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Server.MaxHeaderBytes == 0 {
		cfg.Server.MaxHeaderBytes = DefaultMaxHeaderBytes
	}
	if cfg.Server.CORS.MaxAge == 0 {
		cfg.Server.CORS.MaxAge = DefaultCORSMaxAge
	}

	// Upstream defaults - applied to each account
	for name, acct := range cfg.Upstreams {
		if acct.MaxConnections == 0 {
			acct.MaxConnections = DefaultUpstreamMaxConnections
		}
		cfg.Upstreams[name] = acct
	}

	applyPoolDefaults(&cfg.Pool)
	applyHealthDefaults(&cfg.Health)

	if cfg.Sessions.TTL == 0 {
		cfg.Sessions.TTL = DefaultSessionTTL
	}
	if cfg.Sessions.MaxEntries == 0 {
		cfg.Sessions.MaxEntries = DefaultSessionMaxEntries
	}

	applyCatalogDefaults(&cfg.Catalog)
	applyRelayDefaults(&cfg.Relay)
	applyRateLimitDefaults(&cfg.Limits.RateLimit)
	applyHistoryDefaults(&cfg.History)
	applyTelemetryDefaults(&cfg.Telemetry)

	if cfg.Security.TLS.MinVersion == "" {
		cfg.Security.TLS.MinVersion = DefaultTLSMinVersion
	}
}

func applyPoolDefaults(cfg *PoolConfig) {
	if cfg.AcquireTimeout == 0 {
		cfg.AcquireTimeout = DefaultAcquireTimeout
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.ResponseHeaderTimeout == 0 {
		cfg.ResponseHeaderTimeout = DefaultResponseHeaderTimeout
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.MaxIdleConnsPerHost == 0 {
		cfg.MaxIdleConnsPerHost = DefaultMaxIdleConnsPerHost
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
}

func applyHealthDefaults(cfg *HealthCheckConfig) {
	if cfg.Interval == 0 {
		cfg.Interval = DefaultHealthInterval
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultHealthTimeout
	}
	if cfg.DegradedAfter == 0 {
		cfg.DegradedAfter = DefaultHealthDegradedAfter
	}
	if cfg.DownAfter == 0 {
		cfg.DownAfter = DefaultHealthDownAfter
	}
}

func applyCatalogDefaults(cfg *CatalogConfig) {
	if cfg.TTL.Lists == 0 {
		cfg.TTL.Lists = DefaultCatalogListsTTL
	}
	if cfg.TTL.Info == 0 {
		cfg.TTL.Info = DefaultCatalogInfoTTL
	}
	if cfg.TTL.EPG == 0 {
		cfg.TTL.EPG = DefaultCatalogEPGTTL
	}
	if cfg.MaxStale == 0 {
		cfg.MaxStale = DefaultCatalogMaxStale
	}
	if cfg.FetchTimeout == 0 {
		cfg.FetchTimeout = DefaultCatalogFetchTimeout
	}
	if cfg.RefreshSchedule == "" {
		cfg.RefreshSchedule = DefaultCatalogRefreshSchedule
	}
	if cfg.Snapshot.Path == "" {
		cfg.Snapshot.Path = DefaultCatalogSnapshotPath
	}
}

func applyRelayDefaults(cfg *RelayConfig) {
	if cfg.BufferSize == 0 {
		cfg.BufferSize = DefaultRelayBufferSize
	}
	if cfg.UpstreamIdleTimeout == 0 {
		cfg.UpstreamIdleTimeout = DefaultRelayUpstreamIdleTimeout
	}
	if cfg.ClientIdleTimeout == 0 {
		cfg.ClientIdleTimeout = DefaultRelayClientIdleTimeout
	}
	if cfg.MaxPlaylistBytes == 0 {
		cfg.MaxPlaylistBytes = DefaultRelayMaxPlaylistBytes
	}
}

func applyRateLimitDefaults(cfg *RateLimitConfig) {
	if cfg.RequestsPerSecond == 0 {
		cfg.RequestsPerSecond = DefaultRateLimitRPS
	}
	if cfg.Burst == 0 {
		cfg.Burst = DefaultRateLimitBurst
	}
	if cfg.IdleTTL == 0 {
		cfg.IdleTTL = DefaultRateLimitIdleTTL
	}
	if cfg.Redis.Prefix == "" {
		cfg.Redis.Prefix = DefaultRateLimitRedisPrefix
	}
	if cfg.Redis.Window == 0 {
		cfg.Redis.Window = DefaultRateLimitRedisWindow
	}
}

func applyHistoryDefaults(cfg *HistoryConfig) {
	if cfg.Backend == "" {
		cfg.Backend = DefaultHistoryBackend
	}
	if cfg.SQLite.Path == "" {
		cfg.SQLite.Path = DefaultHistorySQLitePath
	}
	if cfg.SQLite.BusyTimeout == 0 {
		cfg.SQLite.BusyTimeout = DefaultHistorySQLiteBusyTimeout
	}
	if cfg.MemoryMaxRecords == 0 {
		cfg.MemoryMaxRecords = DefaultHistoryMemoryMaxRecords
	}
	if cfg.Retention.Days == 0 {
		cfg.Retention.Days = DefaultHistoryRetentionDays
	}
	if cfg.Retention.PruneSchedule == "" {
		cfg.Retention.PruneSchedule = DefaultHistoryPruneSchedule
	}
}

// applyTelemetryDefaults fills telemetry settings. Boolean switches that
// default to true are only set when their section is entirely unset, so an
// explicit "enabled: false" next to a custom path is respected.
func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Logging.Level == "" && cfg.Logging.Format == "" {
		cfg.Logging.RedactCredentials = true
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = DefaultLogFormat
	}

	if cfg.Metrics.Path == "" && cfg.Metrics.Namespace == "" {
		cfg.Metrics.Enabled = true
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = DefaultMetricsNamespace
	}
	if cfg.Metrics.Subsystem == "" {
		cfg.Metrics.Subsystem = DefaultMetricsSubsystem
	}

	if cfg.Tracing.Sampler == "" {
		cfg.Tracing.Sampler = DefaultTracingSampler
	}
	if cfg.Tracing.SampleRatio == 0 {
		cfg.Tracing.SampleRatio = DefaultTracingSampleRatio
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = DefaultTracingServiceName
	}
	if cfg.Tracing.Timeout == 0 {
		cfg.Tracing.Timeout = DefaultTracingTimeout
	}

	if cfg.Health.LivenessPath == "" && cfg.Health.ReadinessPath == "" {
		cfg.Health.Enabled = true
	}
	if cfg.Health.LivenessPath == "" {
		cfg.Health.LivenessPath = DefaultLivenessPath
	}
	if cfg.Health.ReadinessPath == "" {
		cfg.Health.ReadinessPath = DefaultReadinessPath
	}
	if cfg.Health.UpstreamsPath == "" {
		cfg.Health.UpstreamsPath = DefaultUpstreamsHealthPath
	}
	if cfg.Health.VersionPath == "" {
		cfg.Health.VersionPath = DefaultVersionPath
	}
	if cfg.Health.MinHealthyUpstreams == 0 {
		cfg.Health.MinHealthyUpstreams = DefaultMinHealthyUpstreams
	}
}
