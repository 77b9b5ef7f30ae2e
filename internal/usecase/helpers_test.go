package usecase

import (
	"context"
	"testing"
	"time"

	"certledger/internal/domain"
	"certledger/internal/infra/auth/rbac"
	"certledger/internal/infra/crypto"
	"certledger/internal/infra/ledgermem"
	"certledger/internal/infra/signer"
)

const testSeedHex = "0404040404040404040404040404040404040404040404040404040404040404"

var fixedTime = time.Date(2026, 4, 1, 9, 30, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedTime }

type fixture struct {
	ledger     *ledgermem.Ledger
	store      *CertificateStore
	controller *LifecycleController
	issuer     domain.Requester
	other      domain.Requester
	admin      domain.Requester
	user       domain.Requester
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := signer.FromString(testSeedHex)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	ledger := ledgermem.New(ledgermem.WithClock(fixedClock))
	store := NewCertificateStore(ledger, crypto.Service{}, fixedClock)
	return &fixture{
		ledger:     ledger,
		store:      store,
		controller: NewLifecycleController(store, rbac.NewAuthorizer(), fixedClock, nil, nil),
		issuer:     domain.Requester{Address: "0xISSUER", Roles: []domain.Role{domain.RoleIssuer}, Signer: s},
		other:      domain.Requester{Address: "0xOTHER", Roles: []domain.Role{domain.RoleIssuer}, Signer: s},
		admin:      domain.Requester{Address: "0xADMIN", Roles: []domain.Role{domain.RoleAdmin}, Signer: s},
		user:       domain.Requester{Address: "0xUSER", Roles: []domain.Role{domain.RoleUser}, Signer: s},
	}
}

func (f *fixture) issue(t *testing.T, id string) domain.TxRef {
	t.Helper()
	ref, err := f.controller.Issuance.Issue(context.Background(), f.issuer, domain.IssueInput{
		ID:        id,
		Name:      "CS101",
		Recipient: "0xAAA",
	})
	if err != nil {
		t.Fatalf("issue %s: %v", id, err)
	}
	return ref
}

// failingLedger wraps a ledger and fails selected calls.
type failingLedger struct {
	domain.LedgerClient
	submitErr error
	readErr   error
	submits   int
}

func (l *failingLedger) Submit(ctx context.Context, stx domain.SignedTransaction) (domain.Receipt, error) {
	l.submits++
	if l.submitErr != nil {
		return domain.Receipt{}, l.submitErr
	}
	return l.LedgerClient.Submit(ctx, stx)
}

func (l *failingLedger) Read(ctx context.Context, key string) (domain.Entry, error) {
	if l.readErr != nil {
		return domain.Entry{}, l.readErr
	}
	return l.LedgerClient.Read(ctx, key)
}

type recordedOutcome struct {
	op   string
	kind domain.ErrorKind
}

type stubRecorder struct {
	outcomes []recordedOutcome
}

func (r *stubRecorder) ObserveOutcome(op string, kind domain.ErrorKind, elapsed time.Duration) {
	r.outcomes = append(r.outcomes, recordedOutcome{op: op, kind: kind})
}
