package usecase

import (
	"context"
	"errors"

	"certledger/internal/domain"
)

type VerificationService struct {
	Certificates CertificateRepository
}

func NewVerificationService(certs CertificateRepository) *VerificationService {
	return &VerificationService{Certificates: certs}
}

// Verify returns the current committed record for id. Callers tell active,
// revoked and unknown certificates apart by Status and ErrNotFound.
func (s *VerificationService) Verify(ctx context.Context, id string) (domain.Certificate, error) {
	if err := s.ready(); err != nil {
		return domain.Certificate{}, err
	}
	if err := validateID(id); err != nil {
		return domain.Certificate{}, err
	}
	return s.Certificates.Get(ctx, id)
}

func (s *VerificationService) History(ctx context.Context, id string) ([]domain.CommittedTx, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if err := validateID(id); err != nil {
		return nil, err
	}
	return s.Certificates.History(ctx, id)
}

func (s *VerificationService) ready() error {
	if s == nil {
		return errors.New("verification service is nil")
	}
	if s.Certificates == nil {
		return errors.New("certificate repository is required")
	}
	return nil
}
