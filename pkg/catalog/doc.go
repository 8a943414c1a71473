// Package catalog caches upstream catalog payloads (player info, category
// and stream lists, series and VOD info, EPG) per upstream account.
//
// Reads follow stale-while-revalidate: a fresh entry is returned as is, a
// stale one is returned immediately while one background refresh runs, and
// a missing one is fetched synchronously. Concurrent fetches of one key are
// collapsed with singleflight and run detached from the caller's context.
//
// Payloads are stored as the exact bytes the upstream returned unless a
// whitelist or blacklist Filter is configured.
package catalog
