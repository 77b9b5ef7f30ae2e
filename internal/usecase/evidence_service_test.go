package usecase

import (
	"context"
	"errors"
	"testing"

	"certledger/internal/domain"
	"certledger/internal/infra/crypto"
	"certledger/internal/infra/merkle"
)

func TestEvidence_CollectsHistoryWithProofs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	issued := f.issue(t, "C1")
	f.issue(t, "C2")
	revoked, err := f.controller.Revocation.Revoke(ctx, f.issuer, "C1")
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}

	svc := NewEvidenceService(f.store, f.ledger, f.ledger)
	evidence, err := svc.Collect(ctx, "C1")
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if evidence.Certificate.ID != "C1" || evidence.Certificate.Status != domain.StatusRevoked {
		t.Fatalf("unexpected certificate: %+v", evidence.Certificate)
	}
	if len(evidence.Transactions) != 2 {
		t.Fatalf("expected two transactions, got %d", len(evidence.Transactions))
	}
	if evidence.Transactions[0].TxRef != issued || evidence.Transactions[1].TxRef != revoked {
		t.Fatalf("transactions out of order: %+v", evidence.Transactions)
	}
	if evidence.Transactions[0].LeafIndex != 0 || evidence.Transactions[1].LeafIndex != 2 {
		t.Fatalf("unexpected leaf indices: %d %d", evidence.Transactions[0].LeafIndex, evidence.Transactions[1].LeafIndex)
	}

	for _, item := range evidence.Transactions {
		leaf, err := crypto.LeafHash(item.Tx)
		if err != nil {
			t.Fatalf("leaf hash: %v", err)
		}
		if crypto.TxRefFromLeaf(leaf) != item.TxRef {
			t.Fatalf("transaction does not hash to %s", item.TxRef)
		}
		ok, err := merkle.VerifyInclusion(leaf, int(item.LeafIndex), int(item.STH.TreeSize), item.Inclusion.Path, item.STH.RootHash)
		if err != nil || !ok {
			t.Fatalf("inclusion proof for %s did not verify: %v", item.TxRef, err)
		}
	}
}

func TestEvidence_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := NewEvidenceService(f.store, f.ledger, f.ledger)

	_, err := svc.Collect(ctx, "")
	if domain.KindOf(err) != domain.KindInvalidInput {
		t.Fatalf("expected invalid input, got %v", err)
	}
	_, err = svc.Collect(ctx, "missing")
	if domain.KindOf(err) != domain.KindNotFound {
		t.Fatalf("expected not found, got %v", err)
	}

	f.issue(t, "C1")
	noProofs := NewEvidenceService(f.store, f.ledger, nil)
	_, err = noProofs.Collect(ctx, "C1")
	if !errors.Is(err, domain.ErrLedger) {
		t.Fatalf("expected ledger error without a prover, got %v", err)
	}

	broken := NewEvidenceService(f.store, missingTxReader{}, f.ledger)
	_, err = broken.Collect(ctx, "C1")
	if domain.KindOf(err) != domain.KindLedgerError {
		t.Fatalf("expected ledger error for a history entry without a transaction, got %v", err)
	}
}

type missingTxReader struct{}

func (missingTxReader) Transaction(ctx context.Context, ref domain.TxRef) (domain.SignedTransaction, error) {
	return domain.SignedTransaction{}, domain.ErrNotFound
}
