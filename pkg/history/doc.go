// Package history keeps a log of finished relays.
//
// A Recorder is registered as a relay observer and writes one Record per
// finished relay to a Store on a background goroutine, so relay teardown
// never waits on storage. Two stores exist: SQLiteStore for durable
// history and MemoryStore, a bounded in-memory log for tests and small
// deployments.
//
// Pruner deletes records older than the configured retention on a cron
// schedule.
package history
