package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"certledger/internal/domain"
	"certledger/internal/infra/auth/rbac"
)

type stubCertRepo struct {
	certs       map[string]domain.Certificate
	getErr      error
	revokeCalls int
	revokedBy   domain.Requester
	revokedAt   time.Time
}

func (r *stubCertRepo) Put(ctx context.Context, author domain.Requester, cert domain.Certificate) (domain.TxRef, error) {
	return "", errors.New("not implemented")
}

func (r *stubCertRepo) Get(ctx context.Context, id string) (domain.Certificate, error) {
	if r.getErr != nil {
		return domain.Certificate{}, r.getErr
	}
	cert, ok := r.certs[id]
	if !ok {
		return domain.Certificate{}, domain.ErrNotFound
	}
	return cert, nil
}

func (r *stubCertRepo) SetRevoked(ctx context.Context, author domain.Requester, id string, revokedAt time.Time) (domain.TxRef, error) {
	r.revokeCalls++
	r.revokedBy = author
	r.revokedAt = revokedAt
	return "ref-" + domain.TxRef(id), nil
}

func (r *stubCertRepo) History(ctx context.Context, id string) ([]domain.CommittedTx, error) {
	return nil, domain.ErrNotFound
}

type nopSigner struct{}

func (nopSigner) Sign(ctx context.Context, payload []byte) (domain.Signature, error) {
	return domain.Signature{}, nil
}

func newStubRepo() *stubCertRepo {
	return &stubCertRepo{certs: map[string]domain.Certificate{
		"active":  {ID: "active", Issuer: "0xISSUER", Status: domain.StatusActive},
		"revoked": {ID: "revoked", Issuer: "0xISSUER", Status: domain.StatusRevoked},
	}}
}

func TestRevocationService_RevokeByIssuerAndAdmin(t *testing.T) {
	for _, requester := range []domain.Requester{
		{Address: "0xissuer", Roles: []domain.Role{domain.RoleIssuer}, Signer: nopSigner{}},
		{Address: "0xADMIN", Roles: []domain.Role{domain.RoleAdmin}, Signer: nopSigner{}},
	} {
		repo := newStubRepo()
		svc := NewRevocationService(repo, rbac.NewAuthorizer(), fixedClock)
		ref, err := svc.Revoke(context.Background(), requester, "active")
		if err != nil {
			t.Fatalf("%s: revoke: %v", requester.Address, err)
		}
		if ref != "ref-active" || repo.revokeCalls != 1 {
			t.Fatalf("%s: unexpected result ref=%s calls=%d", requester.Address, ref, repo.revokeCalls)
		}
		if repo.revokedBy.Address != requester.Address || !repo.revokedAt.Equal(fixedTime) {
			t.Fatalf("%s: store saw author=%s at=%s", requester.Address, repo.revokedBy.Address, repo.revokedAt)
		}
	}
}

func TestRevocationService_RejectionsSkipWrite(t *testing.T) {
	issuer := domain.Requester{Address: "0xISSUER", Roles: []domain.Role{domain.RoleIssuer}, Signer: nopSigner{}}
	other := domain.Requester{Address: "0xOTHER", Roles: []domain.Role{domain.RoleIssuer}, Signer: nopSigner{}}
	cases := []struct {
		name      string
		requester domain.Requester
		id        string
		authz     domain.Authorizer
		kind      domain.ErrorKind
	}{
		{"blank id", issuer, "  ", rbac.NewAuthorizer(), domain.KindInvalidInput},
		{"unknown id", issuer, "missing", rbac.NewAuthorizer(), domain.KindNotFound},
		{"other issuer", other, "active", rbac.NewAuthorizer(), domain.KindUnauthorized},
		{"plain user", domain.Requester{Address: "0xUSER", Roles: []domain.Role{domain.RoleUser}, Signer: nopSigner{}}, "active", rbac.NewAuthorizer(), domain.KindUnauthorized},
		{"no signer", domain.Requester{Address: "0xISSUER", Roles: []domain.Role{domain.RoleIssuer}}, "active", rbac.NewAuthorizer(), domain.KindUnauthorized},
		{"no authorizer", issuer, "active", nil, domain.KindUnauthorized},
		{"already revoked", issuer, "revoked", rbac.NewAuthorizer(), domain.KindAlreadyRevoked},
		{"unauthorized before already revoked", other, "revoked", rbac.NewAuthorizer(), domain.KindUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := newStubRepo()
			svc := NewRevocationService(repo, tc.authz, fixedClock)
			_, err := svc.Revoke(context.Background(), tc.requester, tc.id)
			if got := domain.KindOf(err); got != tc.kind {
				t.Fatalf("expected %s, got %s (%v)", tc.kind, got, err)
			}
			if repo.revokeCalls != 0 {
				t.Fatalf("expected no write, got %d", repo.revokeCalls)
			}
		})
	}
}

func TestRevocationService_ReadFailureIsLedgerError(t *testing.T) {
	repo := newStubRepo()
	repo.getErr = domain.NewLedgerError("read", errors.New("connection reset"))
	svc := NewRevocationService(repo, rbac.NewAuthorizer(), fixedClock)
	_, err := svc.Revoke(context.Background(), domain.Requester{Address: "0xADMIN", Roles: []domain.Role{domain.RoleAdmin}, Signer: nopSigner{}}, "active")
	if !errors.Is(err, domain.ErrLedger) {
		t.Fatalf("expected ledger error, got %v", err)
	}
	if repo.revokeCalls != 0 {
		t.Fatal("write attempted after failed read")
	}
}
