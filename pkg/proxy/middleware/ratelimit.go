package middleware

import (
	"errors"
	"math"
	"net"
	"net/http"
	"strconv"

	"github.com/rafaalpizar/xtream-proxy/pkg/limits/ratelimit"
	"github.com/rafaalpizar/xtream-proxy/pkg/proxy/types"
)

// KeyFunc extracts the rate limit key of a request.
type KeyFunc func(r *http.Request) string

// ClientIP keys requests by remote IP address.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimitMiddleware rejects requests over the client's rate with 429
// overloaded and a Retry-After header. Requests whose key is empty, or
// whose path is in exempt, are not counted.
//
//	handler = RateLimitMiddleware(limiter, ClientIP, "/health", "/metrics")(handler)
func RateLimitMiddleware(limiter *ratelimit.Limiter, key KeyFunc, exempt ...string) func(http.Handler) http.Handler {
	skip := make(map[string]bool, len(exempt))
	for _, p := range exempt {
		skip[p] = true
	}
	return func(next http.Handler) http.Handler {
		if limiter == nil || !limiter.Enabled() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := key(r)
			if k == "" || skip[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			res := limiter.Allow(r.Context(), k)
			if res.Limit > 0 {
				w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(res.Limit, 10))
				w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
			}
			if !res.Allowed {
				if secs := int(math.Ceil(res.RetryAfter.Seconds())); secs > 0 {
					w.Header().Set("Retry-After", strconv.Itoa(secs))
				}
				err := types.E(types.KindOverloaded, "http.ratelimit", "too many requests", errors.New(res.Reason))
				types.WriteError(w, err, GetRequestID(r.Context()))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
