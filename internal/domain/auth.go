package domain

import (
	"context"
	"strings"
)

type Role string

const (
	RoleUser   Role = "user"
	RoleIssuer Role = "issuer"
	RoleAdmin  Role = "admin"
)

func ParseRole(value string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(value))) {
	case RoleUser:
		return RoleUser, true
	case RoleIssuer:
		return RoleIssuer, true
	case RoleAdmin:
		return RoleAdmin, true
	}
	return "", false
}

// Requester is the caller identity for an authorized operation: a ledger
// address, the roles an external authority vouched for, and the signer that
// authorizes transactions on the address's behalf.
type Requester struct {
	Address string
	Roles   []Role
	Signer  Signer
}

func (r Requester) HasRole(role Role) bool {
	for _, have := range r.Roles {
		if have == role {
			return true
		}
	}
	return false
}

// SameAddress compares ledger addresses; hex addresses are case-insensitive.
func SameAddress(a, b string) bool {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	return a != "" && strings.EqualFold(a, b)
}

type Action string

const (
	ActionIssue  Action = "certificate:issue"
	ActionRevoke Action = "certificate:revoke"
)

type AuthzRequest struct {
	Action    Action
	Requester Requester
	// Issuer is the recorded issuer of the target certificate; empty for issuance.
	Issuer string
}

type Authorizer interface {
	Authorize(ctx context.Context, req AuthzRequest) error
}

// Authenticator resolves a bearer credential into a requester identity. The
// returned Requester has no Signer; transports attach one.
type Authenticator interface {
	Authenticate(ctx context.Context, bearerToken string) (Requester, error)
}
