// Package upstream talks to Xtream-Codes panels.
//
// A Pool holds one Account per configured upstream. Each account has a
// fixed number of stream slots guarded by a weighted semaphore; Acquire waits
// a bounded time for a slot and reports Overloaded when none frees up.
// Catalog requests (player_api.php, xmltv.php, get.php) go through Client
// and never consume a slot.
//
// HealthRegistry tracks a healthy/degraded/down state per account from
// probe results, and Prober feeds it on a fixed interval.
package upstream
