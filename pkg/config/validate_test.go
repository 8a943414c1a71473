package config

import (
	"errors"
	"strings"
	"testing"
)

func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg, err := Parse([]byte(minimalConfig))
	if err != nil {
		t.Fatalf("failed to parse config: %v", err)
	}
	return cfg
}

func TestValidate_Valid(t *testing.T) {
	if err := Validate(validConfig(t)); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cfg *Config)
		field  string
	}{
		{
			name: "missing base url",
			mutate: func(cfg *Config) {
				acct := cfg.Upstreams["main"]
				acct.BaseURL = ""
				cfg.Upstreams["main"] = acct
			},
			field: "upstreams.main.base_url",
		},
		{
			name: "bad scheme",
			mutate: func(cfg *Config) {
				acct := cfg.Upstreams["main"]
				acct.BaseURL = "ftp://panel"
				cfg.Upstreams["main"] = acct
			},
			field: "upstreams.main.base_url",
		},
		{
			name: "unknown mirror",
			mutate: func(cfg *Config) {
				acct := cfg.Upstreams["main"]
				acct.Mirrors = []string{"nowhere"}
				cfg.Upstreams["main"] = acct
			},
			field: "upstreams.main.mirrors[0]",
		},
		{
			name: "self mirror",
			mutate: func(cfg *Config) {
				acct := cfg.Upstreams["main"]
				acct.Mirrors = []string{"main"}
				cfg.Upstreams["main"] = acct
			},
			field: "upstreams.main.mirrors[0]",
		},
		{
			name: "user with unknown upstream",
			mutate: func(cfg *Config) {
				cfg.Users[0].Upstream = "ghost"
			},
			field: "users[0].upstream",
		},
		{
			name: "duplicate user",
			mutate: func(cfg *Config) {
				cfg.Users = append(cfg.Users, cfg.Users[0])
			},
			field: "users[1].username",
		},
		{
			name: "slash in password",
			mutate: func(cfg *Config) {
				cfg.Users[0].Password = "a/b"
			},
			field: "users[0].password",
		},
		{
			name: "max stale below ttl",
			mutate: func(cfg *Config) {
				cfg.Catalog.MaxStale = cfg.Catalog.TTL.Lists / 2
			},
			field: "catalog.max_stale",
		},
		{
			name: "bad refresh schedule",
			mutate: func(cfg *Config) {
				cfg.Catalog.RefreshSchedule = "every day"
			},
			field: "catalog.refresh_schedule",
		},
		{
			name: "tiny buffer",
			mutate: func(cfg *Config) {
				cfg.Relay.BufferSize = 16
			},
			field: "relay.buffer_size",
		},
		{
			name: "bad history backend",
			mutate: func(cfg *Config) {
				cfg.History.Enabled = true
				cfg.History.Backend = "postgres"
			},
			field: "history.backend",
		},
		{
			name: "tls without cert",
			mutate: func(cfg *Config) {
				cfg.Security.TLS.Enabled = true
			},
			field: "security.tls.cert_file",
		},
		{
			name: "bad log level",
			mutate: func(cfg *Config) {
				cfg.Telemetry.Logging.Level = "verbose"
			},
			field: "telemetry.logging.level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)

			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}

			var verr ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %T", err)
			}
			found := false
			for _, fe := range verr.Errors {
				if fe.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("expected error on field %q, got %v", tt.field, verr.Errors)
			}
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := validConfig(t)
	cfg.Users[0].Upstream = ""
	cfg.Relay.BufferSize = 1

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "2 errors") {
		t.Errorf("expected both errors reported, got %v", err)
	}
}

func TestValidate_RefreshScheduleOff(t *testing.T) {
	cfg := validConfig(t)
	cfg.Catalog.RefreshSchedule = "off"
	if err := Validate(cfg); err != nil {
		t.Errorf("expected \"off\" to be accepted, got %v", err)
	}
}
