package header

import (
	"strings"

	"certledger/internal/domain"

	"github.com/gin-gonic/gin"
)

const (
	AddressHeader = "X-Requester-Address"
	RolesHeader   = "X-Requester-Roles"
)

// Authenticator trusts identity headers set by an upstream gateway.
type Authenticator struct{}

func NewAuthenticator() *Authenticator {
	return &Authenticator{}
}

func (h *Authenticator) Authenticate(c *gin.Context) (domain.Requester, error) {
	address := strings.TrimSpace(c.GetHeader(AddressHeader))
	if address == "" {
		return domain.Requester{}, domain.ErrUnauthorized
	}
	requester := domain.Requester{Address: address}
	if roles := strings.TrimSpace(c.GetHeader(RolesHeader)); roles != "" {
		for _, value := range splitCSV(roles) {
			if role, ok := domain.ParseRole(value); ok && !requester.HasRole(role) {
				requester.Roles = append(requester.Roles, role)
			}
		}
	}
	return requester, nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}
