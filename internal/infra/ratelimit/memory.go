// Package ratelimit holds the fixed-window limiters that guard the
// certificate routes: an in-process one and a Redis-backed one shared across
// replicas.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"certledger/internal/domain"
)

var ErrCapacityExceeded = errors.New("rate limiter capacity exceeded")

const defaultMaxKeys = 10000

type window struct {
	used int
	ends time.Time
}

// MemoryLimiter tracks at most MaxKeys open windows. When full, expired
// windows are swept before a new caller is refused.
type MemoryLimiter struct {
	mu      sync.Mutex
	now     func() time.Time
	windows map[domain.RateLimitKey]window
	maxKeys int
}

type MemoryLimiterConfig struct {
	Now     func() time.Time
	MaxKeys int
}

func NewMemoryLimiter(cfg MemoryLimiterConfig) *MemoryLimiter {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = defaultMaxKeys
	}
	return &MemoryLimiter{
		now:     cfg.Now,
		windows: make(map[domain.RateLimitKey]window),
		maxKeys: cfg.MaxKeys,
	}
}

func (m *MemoryLimiter) Allow(_ context.Context, key domain.RateLimitKey, limit int, length time.Duration) (domain.RateLimitDecision, error) {
	if limit <= 0 {
		return domain.RateLimitDecision{Allowed: true, Limit: limit, Remaining: limit}, nil
	}
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	w, open := m.windows[key]
	if !open || !now.Before(w.ends) {
		if !open && len(m.windows) >= m.maxKeys && m.sweep(now) == 0 {
			return domain.RateLimitDecision{}, ErrCapacityExceeded
		}
		w = window{ends: now.Add(length)}
	}

	decision := domain.RateLimitDecision{Limit: limit, ResetAt: w.ends}
	if w.used < limit {
		w.used++
		decision.Allowed = true
		decision.Remaining = limit - w.used
	}
	m.windows[key] = w
	return decision, nil
}

// Len reports the number of tracked windows, expired ones included.
func (m *MemoryLimiter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.windows)
}

// sweep drops closed windows and reports how many were removed. Called with
// the lock held.
func (m *MemoryLimiter) sweep(now time.Time) int {
	removed := 0
	for key, w := range m.windows {
		if !now.Before(w.ends) {
			delete(m.windows, key)
			removed++
		}
	}
	return removed
}

var _ domain.RateLimiter = (*MemoryLimiter)(nil)
