package domain

import (
	"context"
	"time"
)

// RateLimitKey scopes a request budget to one route and one caller. The
// subject is the requester address when known and the client IP otherwise.
type RateLimitKey struct {
	Route   string
	Subject string
}

func (k RateLimitKey) String() string {
	return k.Route + "/" + k.Subject
}

type RateLimitDecision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is how long a denied caller should wait, rounded up to whole
// seconds and never negative.
func (d RateLimitDecision) RetryAfter(now time.Time) time.Duration {
	if d.ResetAt.IsZero() || !d.ResetAt.After(now) {
		return 0
	}
	return d.ResetAt.Sub(now).Truncate(time.Second) + time.Second
}

type RateLimiter interface {
	Allow(ctx context.Context, key RateLimitKey, limit int, window time.Duration) (RateLimitDecision, error)
}
