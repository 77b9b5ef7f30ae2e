package crypto

import "certledger/internal/domain"

// Service exposes the package functions through the usecase CryptoService port.
type Service struct{}

func (Service) CanonicalTransaction(tx domain.Transaction) ([]byte, error) {
	return CanonicalTransaction(tx)
}

func (Service) VerifyTransaction(stx domain.SignedTransaction) error {
	return VerifyTransaction(stx)
}
