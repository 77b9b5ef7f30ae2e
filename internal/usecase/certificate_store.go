package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"certledger/internal/domain"

	"github.com/google/uuid"
)

var errHistoryUnsupported = errors.New("ledger does not expose transaction history")

// CertificateStore maps certificate ids to records held in the ledger. It
// keeps no state of its own; every read goes to the ledger and every write is
// one signed transaction whose precondition the ledger checks atomically.
type CertificateStore struct {
	Ledger   domain.LedgerClient
	Log      domain.HistoryReader
	Crypto   CryptoService
	Clock    Clock
	NewNonce func() string
}

func NewCertificateStore(ledger domain.LedgerClient, crypto CryptoService, clock Clock) *CertificateStore {
	history, _ := ledger.(domain.HistoryReader)
	return &CertificateStore{
		Ledger:   ledger,
		Log:      history,
		Crypto:   crypto,
		Clock:    clock,
		NewNonce: uuid.NewString,
	}
}

// Put records cert as a new certificate. An existing record under the same id
// is never overwritten; the ledger rejects the write and Put reports
// ErrDuplicateID.
func (s *CertificateStore) Put(ctx context.Context, author domain.Requester, cert domain.Certificate) (domain.TxRef, error) {
	if err := s.ready(); err != nil {
		return "", err
	}
	value, err := json.Marshal(cert)
	if err != nil {
		return "", fmt.Errorf("encode certificate: %w", err)
	}
	stx, err := s.sign(ctx, author, domain.Transaction{
		Kind:         domain.TxKindIssue,
		Key:          domain.CertificateKey(cert.ID),
		Value:        value,
		Precondition: domain.Precondition{ExpectAbsent: true},
	})
	if err != nil {
		return "", err
	}

	receipt, err := s.Ledger.Submit(ctx, stx)
	if err != nil {
		if rejected, ok := domain.IsTxRejected(err); ok && rejected.Reason == domain.RejectKeyExists {
			return "", fmt.Errorf("%w: %s", domain.ErrDuplicateID, cert.ID)
		}
		return "", domain.NewLedgerError("put", err)
	}
	return receipt.TxRef, nil
}

func (s *CertificateStore) Get(ctx context.Context, id string) (domain.Certificate, error) {
	cert, _, err := s.load(ctx, id)
	return cert, err
}

// SetRevoked moves an active certificate to revoked. The write is conditioned
// on the version that was read, so a concurrent revocation makes exactly one
// of the two writers fail with ErrAlreadyRevoked.
func (s *CertificateStore) SetRevoked(ctx context.Context, author domain.Requester, id string, revokedAt time.Time) (domain.TxRef, error) {
	if err := s.ready(); err != nil {
		return "", err
	}
	cert, version, err := s.load(ctx, id)
	if err != nil {
		return "", err
	}
	if !cert.IsActive() {
		return "", fmt.Errorf("%w: %s", domain.ErrAlreadyRevoked, id)
	}

	revokedAt = revokedAt.UTC()
	cert.Status = domain.StatusRevoked
	cert.RevokedAt = &revokedAt
	value, err := json.Marshal(cert)
	if err != nil {
		return "", fmt.Errorf("encode certificate: %w", err)
	}
	stx, err := s.sign(ctx, author, domain.Transaction{
		Kind:         domain.TxKindRevoke,
		Key:          domain.CertificateKey(id),
		Value:        value,
		Precondition: domain.Precondition{ExpectVersion: version},
	})
	if err != nil {
		return "", err
	}

	receipt, err := s.Ledger.Submit(ctx, stx)
	if err == nil {
		return receipt.TxRef, nil
	}
	rejected, ok := domain.IsTxRejected(err)
	if !ok {
		return "", domain.NewLedgerError("set_revoked", err)
	}
	switch rejected.Reason {
	case domain.RejectKeyMissing:
		return "", fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	case domain.RejectVersionMismatch:
		// Someone else committed first. The only transition out of active is
		// revocation, so a revoked record means we lost that race.
		current, _, readErr := s.load(ctx, id)
		if readErr != nil {
			return "", readErr
		}
		if !current.IsActive() {
			return "", fmt.Errorf("%w: %s", domain.ErrAlreadyRevoked, id)
		}
	}
	return "", domain.NewLedgerError("set_revoked", err)
}

// History lists the committed transactions for id in commit order.
func (s *CertificateStore) History(ctx context.Context, id string) ([]domain.CommittedTx, error) {
	if s == nil || s.Log == nil {
		return nil, domain.NewLedgerError("history", errHistoryUnsupported)
	}
	txs, err := s.Log.History(ctx, domain.CertificateKey(id))
	if err != nil {
		return nil, domain.NewLedgerError("history", err)
	}
	if len(txs) == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	return txs, nil
}

func (s *CertificateStore) load(ctx context.Context, id string) (domain.Certificate, int64, error) {
	if err := s.ready(); err != nil {
		return domain.Certificate{}, 0, err
	}
	entry, err := s.Ledger.Read(ctx, domain.CertificateKey(id))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Certificate{}, 0, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
		}
		return domain.Certificate{}, 0, domain.NewLedgerError("read", err)
	}
	var cert domain.Certificate
	if err := json.Unmarshal(entry.Value, &cert); err != nil {
		return domain.Certificate{}, 0, domain.NewLedgerError("read", fmt.Errorf("decode certificate %s: %w", id, err))
	}
	if cert.ID != id || !cert.Status.Valid() {
		return domain.Certificate{}, 0, domain.NewLedgerError("read", fmt.Errorf("malformed certificate record under %s", id))
	}
	return cert, entry.Version, nil
}

// sign builds and signs a transaction on behalf of author. The store never
// supplies an identity of its own.
func (s *CertificateStore) sign(ctx context.Context, author domain.Requester, tx domain.Transaction) (domain.SignedTransaction, error) {
	if author.Signer == nil || author.Address == "" {
		return domain.SignedTransaction{}, fmt.Errorf("%w: requester has no signer", domain.ErrUnauthorized)
	}
	tx.Sender = author.Address
	tx.Nonce = s.nonce()
	tx.SubmittedAt = now(s.Clock)

	payload, err := s.Crypto.CanonicalTransaction(tx)
	if err != nil {
		return domain.SignedTransaction{}, fmt.Errorf("canonicalize transaction: %w", err)
	}
	sig, err := author.Signer.Sign(ctx, payload)
	if err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			return domain.SignedTransaction{}, err
		}
		return domain.SignedTransaction{}, domain.NewLedgerError("sign", err)
	}
	return domain.SignedTransaction{Tx: tx, Signature: sig}, nil
}

func (s *CertificateStore) nonce() string {
	if s.NewNonce != nil {
		return s.NewNonce()
	}
	return uuid.NewString()
}

func (s *CertificateStore) ready() error {
	if s == nil {
		return errors.New("certificate store is nil")
	}
	if s.Ledger == nil {
		return errors.New("ledger client is required")
	}
	if s.Crypto == nil {
		return errors.New("crypto service is required")
	}
	return nil
}
