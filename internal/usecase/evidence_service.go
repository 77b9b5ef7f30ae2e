package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"certledger/internal/domain"
)

// InclusionProver is the part of the ledger's proof surface evidence needs.
type InclusionProver interface {
	InclusionProof(ctx context.Context, ref domain.TxRef) (int64, domain.STH, domain.InclusionProof, error)
}

// EvidenceService gathers everything needed to check a certificate offline.
type EvidenceService struct {
	Certificates CertificateRepository
	Transactions domain.TransactionReader
	Proofs       InclusionProver
}

func NewEvidenceService(certs CertificateRepository, txs domain.TransactionReader, proofs InclusionProver) *EvidenceService {
	return &EvidenceService{Certificates: certs, Transactions: txs, Proofs: proofs}
}

// Collect returns every committed transaction for id with its inclusion
// proof. The certificate is decoded from the last transaction rather than
// read separately, so it always agrees with the returned history.
func (s *EvidenceService) Collect(ctx context.Context, id string) (domain.CertificateEvidence, error) {
	if err := s.ready(); err != nil {
		return domain.CertificateEvidence{}, err
	}
	if err := validateID(id); err != nil {
		return domain.CertificateEvidence{}, err
	}
	history, err := s.Certificates.History(ctx, id)
	if err != nil {
		return domain.CertificateEvidence{}, err
	}
	if len(history) == 0 {
		return domain.CertificateEvidence{}, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}

	out := domain.CertificateEvidence{Transactions: make([]domain.TxEvidence, 0, len(history))}
	for _, committed := range history {
		stx, err := s.Transactions.Transaction(ctx, committed.TxRef)
		if err != nil {
			return domain.CertificateEvidence{}, inconsistent("transaction", committed.TxRef, err)
		}
		index, sth, proof, err := s.Proofs.InclusionProof(ctx, committed.TxRef)
		if err != nil {
			return domain.CertificateEvidence{}, inconsistent("inclusion", committed.TxRef, err)
		}
		out.Transactions = append(out.Transactions, domain.TxEvidence{
			TxRef:     committed.TxRef,
			Tx:        stx,
			LeafIndex: index,
			STH:       sth,
			Inclusion: proof,
		})
	}

	last := out.Transactions[len(out.Transactions)-1].Tx
	if err := json.Unmarshal(last.Tx.Value, &out.Certificate); err != nil {
		return domain.CertificateEvidence{}, domain.NewLedgerError("evidence", fmt.Errorf("decode certificate %s: %w", id, err))
	}
	if out.Certificate.ID != id {
		return domain.CertificateEvidence{}, domain.NewLedgerError("evidence", fmt.Errorf("malformed certificate record under %s", id))
	}
	return out, nil
}

// inconsistent reports a history entry the ledger cannot back up. A missing
// transaction here is a ledger fault, not an unknown certificate.
func inconsistent(op string, ref domain.TxRef, err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return domain.NewLedgerError(op, fmt.Errorf("history lists %s but the ledger does not", ref))
	}
	return domain.NewLedgerError(op, err)
}

func (s *EvidenceService) ready() error {
	if s == nil {
		return errors.New("evidence service is nil")
	}
	if s.Certificates == nil {
		return errors.New("certificate repository is required")
	}
	if s.Transactions == nil || s.Proofs == nil {
		return domain.NewLedgerError("evidence", errors.New("ledger does not expose transactions and proofs"))
	}
	return nil
}
