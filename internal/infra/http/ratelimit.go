package http

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"certledger/internal/domain"

	"github.com/gin-gonic/gin"
)

const (
	routeCertificatesIssue  = "certificates:issue"
	routeCertificatesRevoke = "certificates:revoke"
	routeCertificatesRead   = "certificates:read"
	routeLedgerRead         = "ledger:read"
)

// enforceRateLimit keys on the requester address when known and on the
// client IP otherwise.
func (s *Server) enforceRateLimit(c *gin.Context, routeID string, requester domain.Requester) bool {
	if s.rateLimiter == nil || s.rateLimitRequests <= 0 {
		return true
	}
	key := domain.RateLimitKey{Route: routeID, Subject: "ip:" + c.ClientIP()}
	if requester.Address != "" {
		key.Subject = "addr:" + strings.ToLower(requester.Address)
	}

	decision, err := s.rateLimiter.Allow(c.Request.Context(), key, s.rateLimitRequests, s.rateLimitWindow)
	if err != nil {
		if s.rateLimitFailClosed {
			s.metrics.IncrementRateLimited(routeID)
			writeErrorCode(c, http.StatusTooManyRequests, "", "RATE_LIMIT_UNAVAILABLE", "rate limiter unavailable")
			return false
		}
		return true
	}
	writeRateLimitHeaders(c, decision)
	if !decision.Allowed {
		s.metrics.IncrementRateLimited(routeID)
		writeErrorCode(c, http.StatusTooManyRequests, "", "RATE_LIMITED", "rate limit exceeded")
		return false
	}
	return true
}

func writeRateLimitHeaders(c *gin.Context, decision domain.RateLimitDecision) {
	if decision.Limit > 0 {
		c.Header("RateLimit-Limit", strconv.Itoa(decision.Limit))
	}
	if decision.Remaining >= 0 {
		c.Header("RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	}
	if !decision.ResetAt.IsZero() {
		c.Header("RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))
		if !decision.Allowed {
			retryAfter := decision.RetryAfter(time.Now())
			c.Header("Retry-After", strconv.FormatInt(int64(retryAfter/time.Second), 10))
		}
	}
}
