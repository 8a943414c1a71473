// Package ratelimit throttles clients.
//
// Limiter applies a per-client request rate. Counters live in process
// memory as token buckets, or in Redis as fixed windows when several proxy
// instances must share them:
//
//	limiter, _ := ratelimit.New(cfg.Limits.RateLimit)
//	if res := limiter.Allow(ctx, clientIP); !res.Allowed {
//	    // 429 with Retry-After: res.RetryAfter
//	}
//
// StreamLimiter caps concurrent streams per proxy user:
//
//	release, ok := streams.Acquire(user, maxConnections)
//	if ok {
//	    defer release()
//	}
package ratelimit
