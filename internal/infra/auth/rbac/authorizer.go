package rbac

import (
	"context"
	"errors"

	"certledger/internal/domain"
)

const (
	CodeMissingIdentity = "MISSING_IDENTITY"
	CodeMissingRole     = "MISSING_ROLE"
	CodeNotIssuer       = "NOT_ISSUER"
	CodeUnknownAction   = "UNKNOWN_ACTION"
)

type AuthzError struct {
	Code string
	Err  error
}

func (e *AuthzError) Error() string {
	if e == nil {
		return ""
	}
	return e.Code
}

func (e *AuthzError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Authorizer enforces the certificate role rules: issuance needs the issuer
// or admin role, revocation needs the recorded issuer's address or the admin
// role. An optional policy is consulted only after the rules allow.
type Authorizer struct {
	policy domain.Authorizer
}

func NewAuthorizer() *Authorizer {
	return &Authorizer{}
}

// WithPolicy returns an authorizer that also requires policy to allow.
func (a *Authorizer) WithPolicy(policy domain.Authorizer) *Authorizer {
	return &Authorizer{policy: policy}
}

func (a *Authorizer) Authorize(ctx context.Context, req domain.AuthzRequest) error {
	requester := req.Requester
	if requester.Address == "" {
		return &AuthzError{Code: CodeMissingIdentity, Err: domain.ErrUnauthorized}
	}
	switch req.Action {
	case domain.ActionIssue:
		if !requester.HasRole(domain.RoleIssuer) && !requester.HasRole(domain.RoleAdmin) {
			return &AuthzError{Code: CodeMissingRole, Err: domain.ErrUnauthorized}
		}
	case domain.ActionRevoke:
		if !requester.HasRole(domain.RoleAdmin) && !domain.SameAddress(requester.Address, req.Issuer) {
			return &AuthzError{Code: CodeNotIssuer, Err: domain.ErrUnauthorized}
		}
	default:
		return &AuthzError{Code: CodeUnknownAction, Err: domain.ErrUnauthorized}
	}
	if a != nil && a.policy != nil {
		return a.policy.Authorize(ctx, req)
	}
	return nil
}

func IsAuthzError(err error) (*AuthzError, bool) {
	var authz *AuthzError
	if errors.As(err, &authz) {
		return authz, true
	}
	return nil, false
}

var _ domain.Authorizer = (*Authorizer)(nil)
