package policyopa

import (
	"context"
	"fmt"
	"strings"

	"certledger/internal/domain"
)

// DenyError carries the policy's deny entries for a refused request.
type DenyError struct {
	BundleHash string
	Deny       []domain.PolicyDeny
}

func (e *DenyError) Error() string {
	if e == nil {
		return ""
	}
	codes := make([]string, 0, len(e.Deny))
	for _, d := range e.Deny {
		codes = append(codes, d.Code)
	}
	if len(codes) == 0 {
		return "policy denied"
	}
	return "policy denied: " + strings.Join(codes, ", ")
}

func (e *DenyError) Unwrap() error {
	return domain.ErrUnauthorized
}

// Authorizer adapts an Engine to domain.Authorizer.
type Authorizer struct {
	engine *Engine
}

func NewAuthorizer(engine *Engine) *Authorizer {
	return &Authorizer{engine: engine}
}

func (a *Authorizer) Authorize(ctx context.Context, req domain.AuthzRequest) error {
	if a == nil || a.engine == nil {
		return fmt.Errorf("%w: policy engine not configured", domain.ErrUnauthorized)
	}
	eval, err := a.engine.Evaluate(ctx, PolicyInputFor(req))
	if err != nil {
		return fmt.Errorf("%w: policy evaluation failed: %v", domain.ErrUnauthorized, err)
	}
	if !eval.Result.Allow {
		return &DenyError{BundleHash: eval.BundleHash, Deny: eval.Result.Deny}
	}
	return nil
}

func PolicyInputFor(req domain.AuthzRequest) domain.PolicyInput {
	roles := make([]string, 0, len(req.Requester.Roles))
	for _, role := range req.Requester.Roles {
		roles = append(roles, string(role))
	}
	input := domain.PolicyInput{
		Action: req.Action,
		Requester: domain.PolicyRequester{
			Address: req.Requester.Address,
			Roles:   roles,
		},
	}
	if req.Action == domain.ActionRevoke {
		input.Target = &domain.PolicyTarget{Issuer: req.Issuer}
	}
	return input
}

var _ domain.Authorizer = (*Authorizer)(nil)
