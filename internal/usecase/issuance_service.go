package usecase

import (
	"context"
	"errors"

	"certledger/internal/domain"
)

type IssuanceService struct {
	Certificates CertificateRepository
	Authz        domain.Authorizer
	Clock        Clock
}

func NewIssuanceService(certs CertificateRepository, authz domain.Authorizer, clock Clock) *IssuanceService {
	return &IssuanceService{
		Certificates: certs,
		Authz:        authz,
		Clock:        clock,
	}
}

// Issue commits a new active certificate with requester as its issuer and
// returns the ledger reference of the write. Re-submitting an existing id
// fails with ErrDuplicateID.
func (s *IssuanceService) Issue(ctx context.Context, requester domain.Requester, in domain.IssueInput) (domain.TxRef, error) {
	if s == nil {
		return "", errors.New("issuance service is nil")
	}
	if s.Certificates == nil {
		return "", errors.New("certificate repository is required")
	}
	if err := validateIssueInput(in); err != nil {
		return "", err
	}
	if err := authorize(ctx, s.Authz, domain.AuthzRequest{
		Action:    domain.ActionIssue,
		Requester: requester,
	}); err != nil {
		return "", err
	}

	cert := domain.Certificate{
		ID:        in.ID,
		Name:      in.Name,
		Recipient: in.Recipient,
		Issuer:    requester.Address,
		Status:    domain.StatusActive,
		IssuedAt:  now(s.Clock),
	}
	return s.Certificates.Put(ctx, requester, cert)
}
