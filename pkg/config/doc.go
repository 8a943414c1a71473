// Package config provides configuration management for the Xtream proxy.
//
// Configuration is read from a YAML file, completed with defaults, overridden
// from the environment and validated. Every validation failure is collected
// and reported together.
//
// # Loading
//
//	cfg, err := config.LoadConfigWithEnvOverrides("config.yaml")
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention XTREAM_PROXY_SECTION_FIELD:
//
//   - XTREAM_PROXY_SERVER_LISTEN_ADDRESS overrides server.listen_address
//   - XTREAM_PROXY_UPSTREAMS_MAIN_PASSWORD overrides upstreams.main.password
//   - XTREAM_PROXY_TELEMETRY_LOGGING_LEVEL overrides telemetry.logging.level
//
// # Hot Reload
//
// Watcher observes the configuration file with fsnotify and, after a
// debounce period, loads and validates it again. Subscribers (the credential
// translator and the upstream pool) receive the new configuration; an
// invalid file is logged and ignored.
//
// # Example Configuration
//
//	server:
//	  listen_address: "0.0.0.0:8000"
//	  public_url: "http://iptv.example.com:8000"
//
//	upstreams:
//	  main:
//	    base_url: "http://panel.example.com:8080"
//	    username: "real-user"
//	    password: "real-pass"
//	    max_connections: 2
//	    mirrors: ["backup"]
//	  backup:
//	    base_url: "http://backup.example.com"
//	    username: "real-user2"
//	    password: "real-pass2"
//
//	users:
//	  - username: "living-room"
//	    password: "s3cret"
//	    upstream: "main"
//
//	catalog:
//	  filter:
//	    blacklist: ["Adult"]
package config
