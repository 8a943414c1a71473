package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/rafaalpizar/xtream-proxy/pkg/config"
	"github.com/rafaalpizar/xtream-proxy/pkg/telemetry/health"
	"github.com/rafaalpizar/xtream-proxy/pkg/telemetry/logging"
)

// Options carries process-level inputs that are not part of the config file.
type Options struct {
	Version   string
	Commit    string
	BuildTime string

	// ConfigPath enables hot reload of the file it names.
	ConfigPath string

	// Logger is reconfigured on reload when set.
	Logger *logging.Logger

	Clock clock.Clock
}

// Server is the Xtream proxy server.
type Server struct {
	opts    Options
	logger  *slog.Logger
	comps   *components
	info    health.VersionInfo
	handler http.Handler

	cfgMu sync.RWMutex
	cfg   *config.Config

	httpServer *http.Server
	certs      *certReloader
	watcher    *config.Watcher
	cancel     context.CancelFunc
	bg         sync.WaitGroup
	addr       string

	shutdownChan chan struct{}
	shutdownOnce sync.Once
	mu           sync.RWMutex
	isRunning    bool
}

// New builds every component from cfg. Nothing runs until Start.
func New(cfg *config.Config, opts Options) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	comps, err := buildComponents(cfg, opts)
	if err != nil {
		return nil, err
	}

	s := &Server{
		opts:         opts,
		logger:       slog.Default().With("component", "server"),
		comps:        comps,
		info:         health.NewVersionInfo(opts.Version, opts.Commit, opts.BuildTime),
		cfg:          cfg,
		shutdownChan: make(chan struct{}),
	}
	s.handler = s.setupRoutes()
	return s, nil
}

// Start runs the background loops and the listener, and blocks until ctx
// is cancelled, a termination signal arrives, Stop is called or the
// listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.isRunning = true
	s.mu.Unlock()

	cfg := s.config()
	bgCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	if err := s.startBackground(bgCtx, cfg); err != nil {
		s.Shutdown(context.Background())
		return err
	}

	ln, err := net.Listen("tcp", cfg.Server.ListenAddress)
	if err != nil {
		s.Shutdown(context.Background())
		return fmt.Errorf("failed to listen on %s: %w", cfg.Server.ListenAddress, err)
	}

	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		MaxHeaderBytes:    cfg.Server.MaxHeaderBytes,
		BaseContext:       func(net.Listener) context.Context { return bgCtx },
	}

	tlsEnabled := cfg.Security.TLS.Enabled
	if tlsEnabled {
		if err := s.configureTLS(bgCtx, cfg.Security.TLS); err != nil {
			ln.Close()
			s.Shutdown(context.Background())
			return fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting xtream proxy",
			"address", ln.Addr().String(),
			"tls_enabled", tlsEnabled,
			"accounts", len(s.comps.pool.AccountNames()),
			"users", len(cfg.Users),
		)

		var err error
		if tlsEnabled {
			err = s.httpServer.ServeTLS(ln, "", "")
		} else {
			err = s.httpServer.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, initiating shutdown")
		return s.Shutdown(context.Background())
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
		return s.Shutdown(context.Background())
	case err := <-errChan:
		s.Shutdown(context.Background())
		return err
	case <-s.shutdownChan:
		s.logger.Info("shutdown requested")
		return s.Shutdown(context.Background())
	}
}

func (s *Server) startBackground(ctx context.Context, cfg *config.Config) error {
	c := s.comps

	warmed, err := c.cache.Warm(ctx)
	if err != nil {
		s.logger.Warn("catalog snapshot warm-up failed", "error", err)
	} else if warmed > 0 {
		s.logger.Info("catalog warmed from snapshot", "entries", warmed)
	}

	c.prober.Start(ctx)

	if err := c.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("catalog scheduler: %w", err)
	}
	if c.pruner != nil {
		if err := c.pruner.Start(ctx); err != nil {
			return fmt.Errorf("history pruner: %w", err)
		}
	}
	c.limiter.Start(ctx, sweepInterval(cfg.Limits.RateLimit.IdleTTL))

	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		s.purgeSessions(ctx, sweepInterval(cfg.Sessions.TTL))
	}()

	if s.opts.ConfigPath != "" {
		w, err := config.NewWatcher(s.opts.ConfigPath, 0)
		if err != nil {
			return fmt.Errorf("config watcher: %w", err)
		}
		w.Subscribe(s.Reconfigure)
		s.watcher = w
		s.bg.Add(1)
		go func() {
			defer s.bg.Done()
			if err := w.Watch(ctx); err != nil {
				s.logger.Error("config watcher stopped", "error", err)
			}
		}()
	}
	return nil
}

func (s *Server) configureTLS(ctx context.Context, cfg config.TLSConfig) error {
	certs, err := newCertReloader(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return err
	}
	tlsConfig, err := buildTLSConfig(cfg, certs)
	if err != nil {
		return err
	}
	if err := certs.Watch(ctx); err != nil {
		return err
	}
	s.certs = certs
	s.httpServer.TLSConfig = tlsConfig
	return nil
}

// purgeSessions drops expired session tokens every interval.
func (s *Server) purgeSessions(ctx context.Context, interval time.Duration) {
	ticker := s.comps.clock.Ticker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.comps.sessions.PurgeExpired(); n > 0 {
				s.logger.Debug("purged expired sessions", "count", n)
			}
		}
	}
}

// sweepInterval derives a sweep period from a TTL.
func sweepInterval(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return time.Minute
	}
	return max(ttl/2, time.Second)
}

// Stop asks a running Start to shut down.
func (s *Server) Stop() {
	select {
	case <-s.shutdownChan:
	default:
		close(s.shutdownChan)
	}
}

// Shutdown ends active relays, drains the listener and stops every
// background loop. It runs once.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error

	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		if !s.isRunning {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		timeout := s.config().Server.ShutdownTimeout
		s.logger.Info("initiating graceful shutdown", "timeout", timeout.String())

		shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		c := s.comps
		if err := c.engine.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("relay shutdown: %w", err))
		}
		if s.httpServer != nil {
			if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("server shutdown: %w", err))
			}
		}

		if s.cancel != nil {
			s.cancel()
		}
		c.prober.Stop()
		c.scheduler.Stop()
		if c.pruner != nil {
			c.pruner.Stop()
		}
		c.limiter.Stop()
		if s.watcher != nil {
			if err := s.watcher.Stop(); err != nil {
				errs = append(errs, err)
			}
		}
		s.bg.Wait()
		if s.certs != nil {
			s.certs.Wait()
		}

		c.close()
		if err := c.tracer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("tracer shutdown: %w", err))
		}

		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()

		for _, err := range errs {
			s.logger.Error("error during shutdown", "error", err)
		}
		s.logger.Info("xtream proxy stopped")
	})

	return errors.Join(errs...)
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Addr returns the bound listener address once Start is serving.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) config() *config.Config {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.cfg
}
