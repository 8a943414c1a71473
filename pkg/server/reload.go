package server

import (
	"errors"
	"fmt"

	"github.com/rafaalpizar/xtream-proxy/pkg/catalog"
	"github.com/rafaalpizar/xtream-proxy/pkg/config"
	"github.com/rafaalpizar/xtream-proxy/pkg/telemetry/logging"
)

// Reconfigure applies a reloaded configuration to the running components.
// Listener, TLS, telemetry and history settings only change on restart.
func (s *Server) Reconfigure(cfg *config.Config) error {
	c := s.comps
	var errs []error

	if s.opts.Logger != nil {
		if err := s.opts.Logger.Reconfigure(cfg.Telemetry.Logging, logging.Secrets(cfg)); err != nil {
			errs = append(errs, fmt.Errorf("logging: %w", err))
		}
	}
	if err := c.pool.Reconfigure(cfg); err != nil {
		// The pool keeps its accounts; the rest would refer to missing ones.
		return fmt.Errorf("upstream pool: %w", err)
	}
	for _, h := range c.pool.Health().Snapshot() {
		c.collector.SetAccountState(h.Name, h.State)
	}

	c.translator.Reconfigure(cfg.Users)
	if err := c.gateway.Reconfigure(cfg); err != nil {
		errs = append(errs, fmt.Errorf("gateway: %w", err))
	}
	c.fetcher.SetFilter(catalog.NewFilter(cfg.Catalog.Filter))

	keep := make(map[string]bool)
	for _, name := range c.pool.AccountNames() {
		keep[name] = true
	}
	if n := c.cache.Prune(keep); n > 0 {
		s.logger.Info("dropped catalog entries of removed accounts", "entries", n)
	}

	old := s.config()
	if old.Server.ListenAddress != cfg.Server.ListenAddress || old.Security.TLS != cfg.Security.TLS {
		s.logger.Warn("listener changes apply on restart")
	}

	s.cfgMu.Lock()
	s.cfg = cfg
	s.cfgMu.Unlock()

	s.logger.Info("configuration applied",
		"accounts", len(keep),
		"users", len(cfg.Users),
	)
	return errors.Join(errs...)
}
