package server

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/rafaalpizar/xtream-proxy/pkg/config"
)

// certExpiryWarning is how close to expiry a loaded certificate is logged
// at warn level.
const certExpiryWarning = 30 * 24 * time.Hour

// certReloader serves the current certificate pair and reloads it when
// either file changes, so renewed certificates apply without a restart.
type certReloader struct {
	certFile string
	keyFile  string
	logger   *slog.Logger

	mu   sync.RWMutex
	cert *tls.Certificate

	watcher *fsnotify.Watcher
	done    chan struct{}
}

func newCertReloader(certFile, keyFile string) (*certReloader, error) {
	r := &certReloader{
		certFile: certFile,
		keyFile:  keyFile,
		logger:   slog.Default().With("component", "server.tls"),
		done:     make(chan struct{}),
	}
	if err := r.reload(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *certReloader) reload() error {
	cert, err := tls.LoadX509KeyPair(r.certFile, r.keyFile)
	if err != nil {
		return fmt.Errorf("failed to load certificate pair: %w", err)
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return fmt.Errorf("failed to parse certificate: %w", err)
	}
	if time.Now().After(leaf.NotAfter) {
		return fmt.Errorf("certificate expired on %s", leaf.NotAfter.Format(time.DateOnly))
	}
	cert.Leaf = leaf

	r.mu.Lock()
	r.cert = &cert
	r.mu.Unlock()

	r.logCertificate(leaf)
	return nil
}

func (r *certReloader) logCertificate(leaf *x509.Certificate) {
	left := time.Until(leaf.NotAfter)
	attrs := []any{
		"subject", leaf.Subject.CommonName,
		"expires_in_days", int(left.Hours() / 24),
		"expires_at", leaf.NotAfter.Format(time.RFC3339),
	}
	if left < certExpiryWarning {
		r.logger.Warn("certificate expiring soon", attrs...)
		return
	}
	r.logger.Info("certificate loaded", append(attrs, "issuer", leaf.Issuer.CommonName)...)
}

// GetCertificate implements tls.Config.GetCertificate.
func (r *certReloader) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cert, nil
}

// Watch reloads the pair on file events until ctx is done. The parent
// directories are watched so rename-based renewals are seen.
func (r *certReloader) Watch(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create certificate watcher: %w", err)
	}
	dirs := map[string]bool{filepath.Dir(r.certFile): true, filepath.Dir(r.keyFile): true}
	for dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return fmt.Errorf("failed to watch %q: %w", dir, err)
		}
	}
	r.watcher = fsw

	go func() {
		defer close(r.done)
		defer fsw.Close()
		certAbs, _ := filepath.Abs(r.certFile)
		keyAbs, _ := filepath.Abs(r.keyFile)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				name, _ := filepath.Abs(ev.Name)
				if name != certAbs && name != keyAbs {
					continue
				}
				if err := r.reload(); err != nil {
					// A renewal writes two files; the first event may see a
					// mismatched pair. The previous certificate stays active.
					r.logger.Debug("certificate reload deferred", "error", err)
				}
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				r.logger.Error("certificate watcher error", "error", err)
			}
		}
	}()
	return nil
}

// Wait blocks until the watch loop has exited.
func (r *certReloader) Wait() {
	if r.watcher != nil {
		<-r.done
	}
}

// buildTLSConfig returns the listener TLS configuration.
func buildTLSConfig(cfg config.TLSConfig, r *certReloader) (*tls.Config, error) {
	minVersion, err := parseTLSVersion(cfg.MinVersion)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		MinVersion:     minVersion,
		GetCertificate: r.GetCertificate,
	}, nil
}

func parseTLSVersion(v string) (uint16, error) {
	switch v {
	case "", "1.2":
		return tls.VersionTLS12, nil
	case "1.3":
		return tls.VersionTLS13, nil
	default:
		return 0, fmt.Errorf("unsupported TLS min_version %q", v)
	}
}
