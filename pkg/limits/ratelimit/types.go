package ratelimit

import (
	"context"
	"time"
)

// CheckResult is the outcome of one rate limit check.
type CheckResult struct {
	// Allowed indicates if the request is permitted.
	Allowed bool

	// Reason explains why the request was rejected (if Allowed=false).
	Reason string

	// Limit is the configured limit value.
	Limit int64

	// Remaining is how many requests remain before rejection.
	Remaining int64

	// RetryAfter suggests how long to wait before retrying.
	RetryAfter time.Duration
}

// Backend decides whether one more request from key is allowed.
type Backend interface {
	Allow(ctx context.Context, key string) (*CheckResult, error)
}
