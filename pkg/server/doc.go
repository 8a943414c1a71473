// Package server assembles the proxy: it builds every component from the
// configuration, mounts the gateway and the operational endpoints behind
// the middleware chain, runs the background loops and applies hot reloads.
//
//	srv, err := server.New(cfg, server.Options{ConfigPath: path, Logger: logger})
//	if err != nil { ... }
//	err = srv.Start(ctx) // blocks until ctx is cancelled or SIGTERM
//
// Background work started by Start and stopped by Shutdown:
//
//   - upstream health prober
//   - scheduled catalog refresh (robfig/cron)
//   - relay history pruning (robfig/cron), when history is enabled
//   - rate limiter bucket eviction and session expiry sweeps
//   - config file watcher, when a config path is given
package server
