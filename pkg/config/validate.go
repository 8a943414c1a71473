package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "server.listen_address").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
// It implements the error interface and provides access to all field errors.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. It returns nil if the configuration is valid.
// All validation errors are collected and returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateUpstreams(cfg.Upstreams)...)
	errs = append(errs, validateUsers(cfg.Users, cfg.Upstreams)...)
	errs = append(errs, validatePool(&cfg.Pool)...)
	errs = append(errs, validateHealth(&cfg.Health)...)
	errs = append(errs, validateCatalog(&cfg.Catalog)...)
	errs = append(errs, validateRelay(&cfg.Relay)...)
	errs = append(errs, validateRateLimit(&cfg.Limits.RateLimit)...)
	errs = append(errs, validateHistory(&cfg.History)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)
	errs = append(errs, validateSecurity(&cfg.Security)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}

	return nil
}

func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError

	if cfg.ListenAddress == "" {
		errs = append(errs, FieldError{
			Field:   "server.listen_address",
			Message: "listen address is required",
		})
	}
	if cfg.PublicURL != "" {
		if err := validateHTTPURL(cfg.PublicURL); err != nil {
			errs = append(errs, FieldError{Field: "server.public_url", Message: err.Error()})
		}
	}
	if cfg.ReadHeaderTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "server.read_header_timeout",
			Message: "read header timeout must be positive",
		})
	}
	if cfg.ShutdownTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "server.shutdown_timeout",
			Message: "shutdown timeout must be positive",
		})
	}
	if cfg.MaxHeaderBytes < 0 {
		errs = append(errs, FieldError{
			Field:   "server.max_header_bytes",
			Message: "max header bytes must be positive",
		})
	}
	if cfg.CORS.Enabled && len(cfg.CORS.AllowedOrigins) == 0 {
		errs = append(errs, FieldError{
			Field:   "server.cors.allowed_origins",
			Message: "at least one origin is required when CORS is enabled",
		})
	}

	return errs
}

func validateUpstreams(upstreams map[string]UpstreamConfig) []FieldError {
	var errs []FieldError

	if len(upstreams) == 0 {
		errs = append(errs, FieldError{
			Field:   "upstreams",
			Message: "at least one upstream account is required",
		})
		return errs
	}

	for name, acct := range upstreams {
		prefix := fmt.Sprintf("upstreams.%s", name)

		if acct.BaseURL == "" {
			errs = append(errs, FieldError{Field: prefix + ".base_url", Message: "base URL is required"})
		} else if err := validateHTTPURL(acct.BaseURL); err != nil {
			errs = append(errs, FieldError{Field: prefix + ".base_url", Message: err.Error()})
		}
		if acct.Username == "" {
			errs = append(errs, FieldError{Field: prefix + ".username", Message: "username is required"})
		}
		if acct.Password == "" {
			errs = append(errs, FieldError{Field: prefix + ".password", Message: "password is required"})
		}
		if acct.MaxConnections < 1 {
			errs = append(errs, FieldError{Field: prefix + ".max_connections", Message: "max connections must be at least 1"})
		}

		seen := make(map[string]bool)
		for i, mirror := range acct.Mirrors {
			field := fmt.Sprintf("%s.mirrors[%d]", prefix, i)
			switch {
			case mirror == name:
				errs = append(errs, FieldError{Field: field, Message: "account cannot mirror itself"})
			case seen[mirror]:
				errs = append(errs, FieldError{Field: field, Message: fmt.Sprintf("duplicate mirror %q", mirror)})
			default:
				if _, ok := upstreams[mirror]; !ok {
					errs = append(errs, FieldError{Field: field, Message: fmt.Sprintf("unknown upstream %q", mirror)})
				}
			}
			seen[mirror] = true
		}
	}

	return errs
}

func validateUsers(users []UserConfig, upstreams map[string]UpstreamConfig) []FieldError {
	var errs []FieldError

	if len(users) == 0 {
		errs = append(errs, FieldError{Field: "users", Message: "at least one proxy user is required"})
		return errs
	}

	seen := make(map[string]bool)
	for i, user := range users {
		prefix := fmt.Sprintf("users[%d]", i)

		if user.Username == "" {
			errs = append(errs, FieldError{Field: prefix + ".username", Message: "username is required"})
		} else if strings.ContainsAny(user.Username, "/?#&") {
			errs = append(errs, FieldError{Field: prefix + ".username", Message: "username must not contain '/', '?', '#' or '&'"})
		} else if seen[user.Username] {
			errs = append(errs, FieldError{Field: prefix + ".username", Message: fmt.Sprintf("duplicate username %q", user.Username)})
		}
		seen[user.Username] = true

		if user.Password == "" {
			errs = append(errs, FieldError{Field: prefix + ".password", Message: "password is required"})
		} else if strings.ContainsAny(user.Password, "/?#&") {
			errs = append(errs, FieldError{Field: prefix + ".password", Message: "password must not contain '/', '?', '#' or '&'"})
		}

		if user.Upstream == "" {
			errs = append(errs, FieldError{Field: prefix + ".upstream", Message: "upstream is required"})
		} else if _, ok := upstreams[user.Upstream]; !ok {
			errs = append(errs, FieldError{Field: prefix + ".upstream", Message: fmt.Sprintf("unknown upstream %q", user.Upstream)})
		}

		if user.MaxConnections < 0 {
			errs = append(errs, FieldError{Field: prefix + ".max_connections", Message: "max connections must not be negative"})
		}
	}

	return errs
}

func validatePool(cfg *PoolConfig) []FieldError {
	var errs []FieldError

	if cfg.AcquireTimeout <= 0 {
		errs = append(errs, FieldError{Field: "pool.acquire_timeout", Message: "acquire timeout must be positive"})
	}
	if cfg.ConnectTimeout <= 0 {
		errs = append(errs, FieldError{Field: "pool.connect_timeout", Message: "connect timeout must be positive"})
	}
	if cfg.RequestTimeout <= 0 {
		errs = append(errs, FieldError{Field: "pool.request_timeout", Message: "request timeout must be positive"})
	}
	if cfg.MaxRetries < 0 {
		errs = append(errs, FieldError{Field: "pool.max_retries", Message: "max retries must not be negative"})
	}

	return errs
}

func validateHealth(cfg *HealthCheckConfig) []FieldError {
	var errs []FieldError

	if cfg.Interval <= 0 {
		errs = append(errs, FieldError{Field: "health.interval", Message: "interval must be positive"})
	}
	if cfg.Timeout <= 0 {
		errs = append(errs, FieldError{Field: "health.timeout", Message: "timeout must be positive"})
	}
	if cfg.DegradedAfter < 1 {
		errs = append(errs, FieldError{Field: "health.degraded_after", Message: "must be at least 1"})
	}
	if cfg.DownAfter < 1 {
		errs = append(errs, FieldError{Field: "health.down_after", Message: "must be at least 1"})
	}

	return errs
}

func validateCatalog(cfg *CatalogConfig) []FieldError {
	var errs []FieldError

	if cfg.TTL.Lists <= 0 || cfg.TTL.Info <= 0 || cfg.TTL.EPG <= 0 {
		errs = append(errs, FieldError{Field: "catalog.ttl", Message: "all TTLs must be positive"})
	}
	longest := cfg.TTL.Lists
	if cfg.TTL.Info > longest {
		longest = cfg.TTL.Info
	}
	if cfg.TTL.EPG > longest {
		longest = cfg.TTL.EPG
	}
	if cfg.MaxStale < longest {
		errs = append(errs, FieldError{
			Field:   "catalog.max_stale",
			Message: fmt.Sprintf("max stale (%s) must be at least the longest TTL (%s)", cfg.MaxStale, longest),
		})
	}
	if cfg.FetchTimeout <= 0 {
		errs = append(errs, FieldError{Field: "catalog.fetch_timeout", Message: "fetch timeout must be positive"})
	}
	if cfg.RefreshSchedule != "" && cfg.RefreshSchedule != "off" {
		if _, err := cron.ParseStandard(cfg.RefreshSchedule); err != nil {
			errs = append(errs, FieldError{Field: "catalog.refresh_schedule", Message: fmt.Sprintf("invalid cron expression: %v", err)})
		}
	}
	if cfg.Snapshot.Enabled && cfg.Snapshot.Path == "" {
		errs = append(errs, FieldError{Field: "catalog.snapshot.path", Message: "path is required when snapshots are enabled"})
	}

	return errs
}

func validateRelay(cfg *RelayConfig) []FieldError {
	var errs []FieldError

	if cfg.BufferSize < 1024 {
		errs = append(errs, FieldError{Field: "relay.buffer_size", Message: "buffer size must be at least 1024 bytes"})
	}
	if cfg.UpstreamIdleTimeout <= 0 {
		errs = append(errs, FieldError{Field: "relay.upstream_idle_timeout", Message: "upstream idle timeout must be positive"})
	}
	if cfg.ClientIdleTimeout <= 0 {
		errs = append(errs, FieldError{Field: "relay.client_idle_timeout", Message: "client idle timeout must be positive"})
	}
	if cfg.MaxPlaylistBytes <= 0 {
		errs = append(errs, FieldError{Field: "relay.max_playlist_bytes", Message: "max playlist bytes must be positive"})
	}

	return errs
}

func validateRateLimit(cfg *RateLimitConfig) []FieldError {
	var errs []FieldError

	if !cfg.Enabled {
		return errs
	}
	if cfg.RequestsPerSecond <= 0 {
		errs = append(errs, FieldError{Field: "limits.rate_limit.requests_per_second", Message: "must be positive"})
	}
	if cfg.Burst < 1 {
		errs = append(errs, FieldError{Field: "limits.rate_limit.burst", Message: "must be at least 1"})
	}
	if cfg.Redis.Addr != "" && cfg.Redis.Window <= 0 {
		errs = append(errs, FieldError{Field: "limits.rate_limit.redis.window", Message: "window must be positive"})
	}

	return errs
}

func validateHistory(cfg *HistoryConfig) []FieldError {
	var errs []FieldError

	if !cfg.Enabled {
		return errs
	}
	switch cfg.Backend {
	case "sqlite":
		if cfg.SQLite.Path == "" {
			errs = append(errs, FieldError{Field: "history.sqlite.path", Message: "path is required"})
		}
	case "memory":
	default:
		errs = append(errs, FieldError{
			Field:   "history.backend",
			Message: fmt.Sprintf("invalid backend %q (must be sqlite or memory)", cfg.Backend),
		})
	}
	if cfg.Retention.Days < 0 {
		errs = append(errs, FieldError{Field: "history.retention.days", Message: "must not be negative"})
	}
	if _, err := cron.ParseStandard(cfg.Retention.PruneSchedule); err != nil {
		errs = append(errs, FieldError{Field: "history.retention.prune_schedule", Message: fmt.Sprintf("invalid cron expression: %v", err)})
	}

	return errs
}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("invalid log level %q (must be debug, info, warn or error)", cfg.Logging.Level),
		})
	}
	switch cfg.Logging.Format {
	case "json", "text":
	default:
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("invalid log format %q (must be json or text)", cfg.Logging.Format),
		})
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, FieldError{Field: "telemetry.metrics.path", Message: "path must start with '/'"})
	}

	if cfg.Tracing.Enabled {
		switch cfg.Tracing.Sampler {
		case "always", "never", "ratio":
		default:
			errs = append(errs, FieldError{
				Field:   "telemetry.tracing.sampler",
				Message: fmt.Sprintf("invalid sampler %q (must be always, never or ratio)", cfg.Tracing.Sampler),
			})
		}
		if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
			errs = append(errs, FieldError{Field: "telemetry.tracing.sample_ratio", Message: "must be between 0.0 and 1.0"})
		}
		if cfg.Tracing.Endpoint == "" {
			errs = append(errs, FieldError{Field: "telemetry.tracing.endpoint", Message: "endpoint is required when tracing is enabled"})
		}
	}

	if cfg.Health.MinHealthyUpstreams < 0 {
		errs = append(errs, FieldError{Field: "telemetry.health.min_healthy_upstreams", Message: "must not be negative"})
	}

	return errs
}

func validateSecurity(cfg *SecurityConfig) []FieldError {
	var errs []FieldError

	if !cfg.TLS.Enabled {
		return errs
	}
	if cfg.TLS.CertFile == "" {
		errs = append(errs, FieldError{Field: "security.tls.cert_file", Message: "certificate file is required when TLS is enabled"})
	}
	if cfg.TLS.KeyFile == "" {
		errs = append(errs, FieldError{Field: "security.tls.key_file", Message: "key file is required when TLS is enabled"})
	}
	if cfg.TLS.MinVersion != "1.2" && cfg.TLS.MinVersion != "1.3" {
		errs = append(errs, FieldError{Field: "security.tls.min_version", Message: "must be 1.2 or 1.3"})
	}

	return errs
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL must include a host")
	}
	return nil
}
