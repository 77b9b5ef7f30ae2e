package usecase

import (
	"context"
	"time"

	"certledger/internal/domain"
)

type Clock func() time.Time

// CertificateRepository is the store contract the services depend on.
// *CertificateStore is the ledger-backed implementation.
type CertificateRepository interface {
	Put(ctx context.Context, author domain.Requester, cert domain.Certificate) (domain.TxRef, error)
	Get(ctx context.Context, id string) (domain.Certificate, error)
	SetRevoked(ctx context.Context, author domain.Requester, id string, revokedAt time.Time) (domain.TxRef, error)
	History(ctx context.Context, id string) ([]domain.CommittedTx, error)
}

type CryptoService interface {
	CanonicalTransaction(tx domain.Transaction) ([]byte, error)
}

// OutcomeRecorder observes every controller call. kind is empty on success.
type OutcomeRecorder interface {
	ObserveOutcome(op string, kind domain.ErrorKind, elapsed time.Duration)
}

func now(clock Clock) time.Time {
	if clock != nil {
		return clock().UTC()
	}
	return time.Now().UTC()
}
