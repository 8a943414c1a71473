package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// envPrefix is the prefix of every environment variable override.
const envPrefix = "XTREAM_PROXY_"

// LoadConfig loads configuration from a YAML file at the specified path.
// It applies default values, validates the configuration, and returns any errors.
// The configuration is not modified by environment variables; use LoadConfigWithEnvOverrides
// for that functionality.
func LoadConfig(path string) (*Config, error) {
	cfg, err := parseFile(path)
	if err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention XTREAM_PROXY_SECTION_FIELD (e.g., XTREAM_PROXY_SERVER_LISTEN_ADDRESS).
// Environment variables always take precedence over file-based configuration.
//
// The loading sequence is:
// 1. Load YAML from file
// 2. Apply default values
// 3. Apply environment variable overrides
// 4. Validate final configuration
//
// Upstream passwords are commonly supplied only through the environment, so
// validation runs once, after overrides.
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	cfg, err := parseFile(path)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Parse decodes YAML data and applies defaults without validating.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(&cfg)
	return &cfg, nil
}

func parseFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	// Server overrides
	envString("SERVER_LISTEN_ADDRESS", &cfg.Server.ListenAddress)
	envString("SERVER_PUBLIC_URL", &cfg.Server.PublicURL)
	envDuration("SERVER_IDLE_TIMEOUT", &cfg.Server.IdleTimeout)
	envDuration("SERVER_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)

	// Upstream overrides use the account name, upper-cased, with dashes
	// turned into underscores: XTREAM_PROXY_UPSTREAMS_MAIN_PASSWORD.
	for name, acct := range cfg.Upstreams {
		key := "UPSTREAMS_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_")) + "_"
		envString(key+"BASE_URL", &acct.BaseURL)
		envString(key+"USERNAME", &acct.Username)
		envString(key+"PASSWORD", &acct.Password)
		envInt(key+"MAX_CONNECTIONS", &acct.MaxConnections)
		envBool(key+"DISABLED", &acct.Disabled)
		cfg.Upstreams[name] = acct
	}

	// Pool overrides
	envDuration("POOL_ACQUIRE_TIMEOUT", &cfg.Pool.AcquireTimeout)
	envDuration("POOL_REQUEST_TIMEOUT", &cfg.Pool.RequestTimeout)
	envString("POOL_USER_AGENT", &cfg.Pool.UserAgent)

	// Catalog overrides
	envDuration("CATALOG_MAX_STALE", &cfg.Catalog.MaxStale)
	envString("CATALOG_REFRESH_SCHEDULE", &cfg.Catalog.RefreshSchedule)
	envBool("CATALOG_SNAPSHOT_ENABLED", &cfg.Catalog.Snapshot.Enabled)
	envString("CATALOG_SNAPSHOT_PATH", &cfg.Catalog.Snapshot.Path)

	// Rate limit overrides
	envBool("LIMITS_RATE_LIMIT_ENABLED", &cfg.Limits.RateLimit.Enabled)
	envString("LIMITS_RATE_LIMIT_REDIS_ADDR", &cfg.Limits.RateLimit.Redis.Addr)
	envString("LIMITS_RATE_LIMIT_REDIS_PASSWORD", &cfg.Limits.RateLimit.Redis.Password)

	// History overrides
	envBool("HISTORY_ENABLED", &cfg.History.Enabled)
	envString("HISTORY_BACKEND", &cfg.History.Backend)
	envString("HISTORY_SQLITE_PATH", &cfg.History.SQLite.Path)

	// Telemetry overrides
	envString("TELEMETRY_LOGGING_LEVEL", &cfg.Telemetry.Logging.Level)
	envString("TELEMETRY_LOGGING_FORMAT", &cfg.Telemetry.Logging.Format)
	envBool("TELEMETRY_METRICS_ENABLED", &cfg.Telemetry.Metrics.Enabled)
	envString("TELEMETRY_METRICS_PATH", &cfg.Telemetry.Metrics.Path)
	envBool("TELEMETRY_TRACING_ENABLED", &cfg.Telemetry.Tracing.Enabled)
	envString("TELEMETRY_TRACING_ENDPOINT", &cfg.Telemetry.Tracing.Endpoint)
	if val := os.Getenv(envPrefix + "TELEMETRY_TRACING_SAMPLE_RATIO"); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.Telemetry.Tracing.SampleRatio = f
		}
	}

	// Security overrides
	envBool("SECURITY_TLS_ENABLED", &cfg.Security.TLS.Enabled)
	envString("SECURITY_TLS_CERT_FILE", &cfg.Security.TLS.CertFile)
	envString("SECURITY_TLS_KEY_FILE", &cfg.Security.TLS.KeyFile)
}

func envString(key string, dst *string) {
	if val := os.Getenv(envPrefix + key); val != "" {
		*dst = val
	}
}

func envDuration(key string, dst *time.Duration) {
	if val := os.Getenv(envPrefix + key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		}
	}
}

func envInt(key string, dst *int) {
	if val := os.Getenv(envPrefix + key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			*dst = i
		}
	}
}

func envBool(key string, dst *bool) {
	if val := os.Getenv(envPrefix + key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = b
		}
	}
}
