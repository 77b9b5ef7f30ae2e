package http

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"certledger/internal/domain"

	"github.com/gin-gonic/gin"
)

const (
	requesterContextKey = "requester"
	adminKeyHeader      = "X-Admin-Key"
)

type bearerAuthenticator struct {
	auth domain.Authenticator
}

func (b bearerAuthenticator) Authenticate(c *gin.Context) (domain.Requester, error) {
	token := extractBearerToken(c.GetHeader("Authorization"))
	if token == "" {
		return domain.Requester{}, domain.ErrUnauthorized
	}
	return b.auth.Authenticate(c.Request.Context(), token)
}

// requireAuth resolves the caller and attaches the relay signer. It writes
// the failure response itself.
func (s *Server) requireAuth(c *gin.Context) (domain.Requester, bool) {
	if s.authInitErr != nil || s.authenticator == nil {
		writeErrorCode(c, http.StatusInternalServerError, domain.KindUnauthorized, "AUTH_CONFIG_ERROR", "auth configuration error")
		return domain.Requester{}, false
	}
	var requester domain.Requester
	if key := strings.TrimSpace(c.GetHeader(adminKeyHeader)); key != "" {
		if s.adminAPIKey == "" || subtle.ConstantTimeCompare([]byte(key), []byte(s.adminAPIKey)) != 1 {
			writeErrorCode(c, http.StatusUnauthorized, domain.KindUnauthorized, "UNAUTHORIZED", "invalid admin key")
			return domain.Requester{}, false
		}
		requester = domain.Requester{Address: s.adminAddress, Roles: []domain.Role{domain.RoleAdmin}}
	} else {
		authenticated, err := s.authenticator.Authenticate(c)
		if err != nil {
			writeErrorCode(c, http.StatusUnauthorized, domain.KindUnauthorized, "UNAUTHORIZED", "missing or invalid credentials")
			return domain.Requester{}, false
		}
		requester = authenticated
	}
	requester.Signer = s.relay
	c.Set(requesterContextKey, requester)
	return requester, true
}

func extractBearerToken(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if !strings.HasPrefix(strings.ToLower(value), "bearer ") {
		return ""
	}
	return strings.TrimSpace(value[len("bearer "):])
}

func getRequester(c *gin.Context) (domain.Requester, bool) {
	raw, ok := c.Get(requesterContextKey)
	if !ok {
		return domain.Requester{}, false
	}
	requester, ok := raw.(domain.Requester)
	return requester, ok
}
