package usecase

import (
	"context"
	"errors"
	"fmt"

	"certledger/internal/domain"
)

type RevocationService struct {
	Certificates CertificateRepository
	Authz        domain.Authorizer
	Clock        Clock
}

func NewRevocationService(certs CertificateRepository, authz domain.Authorizer, clock Clock) *RevocationService {
	return &RevocationService{
		Certificates: certs,
		Authz:        authz,
		Clock:        clock,
	}
}

// Revoke is the only path that moves a certificate out of active. Failures
// are reported in order: invalid id, unknown id, unauthorized requester,
// already revoked.
func (s *RevocationService) Revoke(ctx context.Context, requester domain.Requester, id string) (domain.TxRef, error) {
	if s == nil {
		return "", errors.New("revocation service is nil")
	}
	if s.Certificates == nil {
		return "", errors.New("certificate repository is required")
	}
	if err := validateID(id); err != nil {
		return "", err
	}

	cert, err := s.Certificates.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if err := authorize(ctx, s.Authz, domain.AuthzRequest{
		Action:    domain.ActionRevoke,
		Requester: requester,
		Issuer:    cert.Issuer,
	}); err != nil {
		return "", err
	}
	if !cert.IsActive() {
		return "", fmt.Errorf("%w: %s", domain.ErrAlreadyRevoked, id)
	}
	return s.Certificates.SetRevoked(ctx, requester, id, now(s.Clock))
}
