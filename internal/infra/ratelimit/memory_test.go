package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"certledger/internal/domain"
)

func key(route, subject string) domain.RateLimitKey {
	return domain.RateLimitKey{Route: route, Subject: subject}
}

func TestMemoryLimiterWindow(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	limiter := NewMemoryLimiter(MemoryLimiterConfig{Now: func() time.Time { return now }})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		decision, err := limiter.Allow(ctx, key("issue", "0xISSUER"), 3, time.Minute)
		if err != nil {
			t.Fatalf("allow %d: %v", i, err)
		}
		if !decision.Allowed || decision.Remaining != 2-i {
			t.Fatalf("unexpected decision %d: %+v", i, decision)
		}
	}
	decision, err := limiter.Allow(ctx, key("issue", "0xISSUER"), 3, time.Minute)
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if decision.Allowed || !decision.ResetAt.Equal(now.Add(time.Minute)) {
		t.Fatalf("expected denial until window end, got %+v", decision)
	}

	other, _ := limiter.Allow(ctx, key("issue", "0xOTHER"), 3, time.Minute)
	if !other.Allowed {
		t.Fatal("keys must be limited independently")
	}

	now = now.Add(time.Minute + time.Second)
	decision, _ = limiter.Allow(ctx, key("issue", "0xISSUER"), 3, time.Minute)
	if !decision.Allowed || decision.Remaining != 2 {
		t.Fatalf("expected fresh window, got %+v", decision)
	}
}

func TestMemoryLimiterDisabled(t *testing.T) {
	limiter := NewMemoryLimiter(MemoryLimiterConfig{})
	decision, err := limiter.Allow(context.Background(), key("read", "k"), 0, time.Minute)
	if err != nil || !decision.Allowed {
		t.Fatalf("limit 0 should disable limiting, got %+v %v", decision, err)
	}
}

func TestMemoryLimiterCapacity(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	limiter := NewMemoryLimiter(MemoryLimiterConfig{Now: func() time.Time { return now }, MaxKeys: 2})
	ctx := context.Background()

	if _, err := limiter.Allow(ctx, key("read", "a"), 1, time.Minute); err != nil {
		t.Fatalf("a: %v", err)
	}
	if _, err := limiter.Allow(ctx, key("read", "b"), 1, time.Minute); err != nil {
		t.Fatalf("b: %v", err)
	}
	if _, err := limiter.Allow(ctx, key("read", "c"), 1, time.Minute); !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("expected capacity error, got %v", err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := limiter.Allow(ctx, key("read", "c"), 1, time.Minute); err != nil {
		t.Fatalf("expired keys should be collected, got %v", err)
	}
	if limiter.Len() != 1 {
		t.Fatalf("expected one tracked window after sweep, got %d", limiter.Len())
	}
}

func TestMemoryLimiterRoutesAreIndependent(t *testing.T) {
	limiter := NewMemoryLimiter(MemoryLimiterConfig{})
	ctx := context.Background()
	if d, _ := limiter.Allow(ctx, key("issue", "0xA"), 1, time.Minute); !d.Allowed {
		t.Fatal("first issue should pass")
	}
	if d, _ := limiter.Allow(ctx, key("revoke", "0xA"), 1, time.Minute); !d.Allowed {
		t.Fatal("revoke budget must not share the issue budget")
	}
	if d, _ := limiter.Allow(ctx, key("issue", "0xA"), 1, time.Minute); d.Allowed {
		t.Fatal("second issue should be limited")
	}
}

func TestRetryAfterRoundsUp(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	d := domain.RateLimitDecision{ResetAt: now.Add(1500 * time.Millisecond)}
	if got := d.RetryAfter(now); got != 2*time.Second {
		t.Fatalf("expected 2s, got %s", got)
	}
	if got := d.RetryAfter(now.Add(time.Hour)); got != 0 {
		t.Fatalf("expected 0 after reset, got %s", got)
	}
}
