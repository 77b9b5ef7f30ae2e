package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"certledger/internal/domain"
	"certledger/internal/infra/crypto"

	"golang.org/x/sync/errgroup"
)

func TestLifecycle_IssueVerifyRevokeScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.controller

	issued := c.IssueCertificate(ctx, f.issuer, domain.IssueInput{ID: "C1", Name: "CS101", Recipient: "0xAAA"})
	if !issued.OK || issued.Value == "" || issued.Error != nil {
		t.Fatalf("issue: %+v", issued)
	}

	verified := c.VerifyCertificate(ctx, "C1")
	if !verified.OK {
		t.Fatalf("verify: %+v", verified.Error)
	}
	cert := verified.Value
	if cert.Status != domain.StatusActive || cert.Name != "CS101" || cert.Recipient != "0xAAA" || cert.Issuer != "0xISSUER" {
		t.Fatalf("unexpected record after issue: %+v", cert)
	}
	if !cert.IssuedAt.Equal(fixedTime) || cert.RevokedAt != nil {
		t.Fatalf("unexpected timestamps: %+v", cert)
	}

	revoked := c.RevokeCertificate(ctx, f.issuer, "C1")
	if !revoked.OK || revoked.Value == "" || revoked.Value == issued.Value {
		t.Fatalf("revoke: %+v", revoked)
	}

	verified = c.VerifyCertificate(ctx, "C1")
	if !verified.OK || verified.Value.Status != domain.StatusRevoked {
		t.Fatalf("expected revoked record, got %+v", verified)
	}
	if verified.Value.RevokedAt == nil || !verified.Value.RevokedAt.Equal(fixedTime) {
		t.Fatalf("expected revoked_at to be set, got %+v", verified.Value.RevokedAt)
	}

	again := c.RevokeCertificate(ctx, f.issuer, "C1")
	assertKind(t, again.Error, domain.KindAlreadyRevoked)

	history := c.CertificateHistory(ctx, "C1")
	if !history.OK || len(history.Value) != 2 {
		t.Fatalf("expected two history entries, got %+v", history)
	}
	if history.Value[0].TxRef != issued.Value || history.Value[1].TxRef != revoked.Value {
		t.Fatalf("history does not match receipts: %+v", history.Value)
	}
}

func TestLifecycle_IssueTwiceIsDuplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := domain.IssueInput{ID: "C1", Name: "CS101", Recipient: "0xAAA"}

	if res := f.controller.IssueCertificate(ctx, f.issuer, in); !res.OK {
		t.Fatalf("first issue: %+v", res.Error)
	}
	res := f.controller.IssueCertificate(ctx, f.issuer, in)
	assertKind(t, res.Error, domain.KindDuplicateID)

	res = f.controller.IssueCertificate(ctx, f.admin, domain.IssueInput{ID: "C1", Name: "Other", Recipient: "0xBBB"})
	assertKind(t, res.Error, domain.KindDuplicateID)

	cert := f.controller.VerifyCertificate(ctx, "C1").Value
	if cert.Name != "CS101" || cert.Issuer != "0xISSUER" {
		t.Fatalf("duplicate issue overwrote record: %+v", cert)
	}
}

func TestLifecycle_ConcurrentIssueHasOneWinner(t *testing.T) {
	f := newFixture(t)
	const callers = 16

	var wins, duplicates atomic.Int32
	var g errgroup.Group
	for i := 0; i < callers; i++ {
		in := domain.IssueInput{ID: "C1", Name: fmt.Sprintf("CS10%d", i), Recipient: "0xAAA"}
		g.Go(func() error {
			res := f.controller.IssueCertificate(context.Background(), f.issuer, in)
			switch {
			case res.OK:
				wins.Add(1)
			case res.Error.Kind == domain.KindDuplicateID:
				duplicates.Add(1)
			default:
				return fmt.Errorf("unexpected failure: %+v", res.Error)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	if wins.Load() != 1 || duplicates.Load() != callers-1 {
		t.Fatalf("expected one winner, got wins=%d duplicates=%d", wins.Load(), duplicates.Load())
	}
	history, err := f.store.History(context.Background(), "C1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected a single record for C1, got %d transactions", len(history))
	}
}

func TestLifecycle_ConcurrentRevokeHasOneWinner(t *testing.T) {
	f := newFixture(t)
	f.issue(t, "C1")
	const callers = 16

	var wins, already atomic.Int32
	var g errgroup.Group
	for i := 0; i < callers; i++ {
		requester := f.issuer
		if i%2 == 1 {
			requester = f.admin
		}
		g.Go(func() error {
			res := f.controller.RevokeCertificate(context.Background(), requester, "C1")
			switch {
			case res.OK:
				wins.Add(1)
			case res.Error.Kind == domain.KindAlreadyRevoked:
				already.Add(1)
			default:
				return fmt.Errorf("unexpected failure: %+v", res.Error)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	if wins.Load() != 1 || already.Load() != callers-1 {
		t.Fatalf("expected one winner, got wins=%d already=%d", wins.Load(), already.Load())
	}
}

func TestLifecycle_UnauthorizedRevokeLeavesStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.issue(t, "C1")

	for _, requester := range []domain.Requester{f.other, f.user} {
		res := f.controller.RevokeCertificate(ctx, requester, "C1")
		assertKind(t, res.Error, domain.KindUnauthorized)
	}
	if status := f.controller.VerifyCertificate(ctx, "C1").Value.Status; status != domain.StatusActive {
		t.Fatalf("status changed after unauthorized revoke: %s", status)
	}

	if res := f.controller.RevokeCertificate(ctx, f.admin, "C1"); !res.OK {
		t.Fatalf("admin revoke: %+v", res.Error)
	}
}

func TestLifecycle_RevokeCheckOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.issue(t, "C1")
	if res := f.controller.RevokeCertificate(ctx, f.issuer, "C1"); !res.OK {
		t.Fatalf("revoke: %+v", res.Error)
	}

	assertKind(t, f.controller.RevokeCertificate(ctx, f.user, " ").Error, domain.KindInvalidInput)
	assertKind(t, f.controller.RevokeCertificate(ctx, f.user, "missing").Error, domain.KindNotFound)
	// A stranger learns nothing about the status of a revoked certificate.
	assertKind(t, f.controller.RevokeCertificate(ctx, f.user, "C1").Error, domain.KindUnauthorized)
	assertKind(t, f.controller.RevokeCertificate(ctx, f.issuer, "C1").Error, domain.KindAlreadyRevoked)
}

func TestLifecycle_IssueValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name string
		in   domain.IssueInput
	}{
		{"empty id", domain.IssueInput{Name: "CS101", Recipient: "0xAAA"}},
		{"blank name", domain.IssueInput{ID: "C1", Name: "   ", Recipient: "0xAAA"}},
		{"empty recipient", domain.IssueInput{ID: "C1", Name: "CS101"}},
		{"control characters", domain.IssueInput{ID: "C\n1", Name: "CS101", Recipient: "0xAAA"}},
		{"oversized id", domain.IssueInput{ID: strings.Repeat("x", maxIDLen+1), Name: "CS101", Recipient: "0xAAA"}},
		{"invalid utf8", domain.IssueInput{ID: "C1", Name: "\xff", Recipient: "0xAAA"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := f.controller.IssueCertificate(ctx, f.issuer, tc.in)
			assertKind(t, res.Error, domain.KindInvalidInput)
		})
	}
	sth, err := f.ledger.LatestSTH(ctx)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("rejected input must not reach the ledger, got sth %+v err %v", sth, err)
	}
}

func TestLifecycle_IssueStoresFieldsVerbatim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := domain.IssueInput{ID: " C1 ", Name: " Intro to Ledgers ", Recipient: "0xAAA"}
	if res := f.controller.IssueCertificate(ctx, f.issuer, in); !res.OK {
		t.Fatalf("issue: %+v", res.Error)
	}
	cert := f.controller.VerifyCertificate(ctx, " C1 ").Value
	if cert.ID != " C1 " || cert.Name != " Intro to Ledgers " {
		t.Fatalf("fields were altered: %+v", cert)
	}
	assertKind(t, f.controller.VerifyCertificate(ctx, "C1").Error, domain.KindNotFound)
}

func TestLifecycle_IssueRequiresIssuerRoleAndIdentity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := domain.IssueInput{ID: "C1", Name: "CS101", Recipient: "0xAAA"}

	assertKind(t, f.controller.IssueCertificate(ctx, f.user, in).Error, domain.KindUnauthorized)

	anonymous := domain.Requester{Roles: []domain.Role{domain.RoleAdmin}, Signer: f.issuer.Signer}
	assertKind(t, f.controller.IssueCertificate(ctx, anonymous, in).Error, domain.KindUnauthorized)

	unsigned := domain.Requester{Address: "0xISSUER", Roles: []domain.Role{domain.RoleIssuer}}
	assertKind(t, f.controller.IssueCertificate(ctx, unsigned, in).Error, domain.KindUnauthorized)

	assertKind(t, f.controller.VerifyCertificate(ctx, "C1").Error, domain.KindNotFound)

	if res := f.controller.IssueCertificate(ctx, f.admin, in); !res.OK {
		t.Fatalf("admin issue: %+v", res.Error)
	}
}

func TestLifecycle_MissingAuthorizerDenies(t *testing.T) {
	f := newFixture(t)
	c := NewLifecycleController(f.store, nil, fixedClock, nil, nil)
	res := c.IssueCertificate(context.Background(), f.issuer, domain.IssueInput{ID: "C1", Name: "CS101", Recipient: "0xAAA"})
	assertKind(t, res.Error, domain.KindUnauthorized)
}

func TestLifecycle_PolicyFailureDenies(t *testing.T) {
	f := newFixture(t)
	c := NewLifecycleController(f.store, erroringAuthorizer{err: errors.New("policy engine offline")}, fixedClock, nil, nil)
	res := c.IssueCertificate(context.Background(), f.issuer, domain.IssueInput{ID: "C1", Name: "CS101", Recipient: "0xAAA"})
	assertKind(t, res.Error, domain.KindUnauthorized)
}

func TestLifecycle_VerifyOutcomes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assertKind(t, f.controller.VerifyCertificate(ctx, "").Error, domain.KindInvalidInput)
	assertKind(t, f.controller.VerifyCertificate(ctx, "\t").Error, domain.KindInvalidInput)

	missing := f.controller.VerifyCertificate(ctx, "C404")
	assertKind(t, missing.Error, domain.KindNotFound)
	if missing.Value != (domain.Certificate{}) {
		t.Fatalf("not found must not carry a record: %+v", missing.Value)
	}

	f.issue(t, "C1")
	first := f.controller.VerifyCertificate(ctx, "C1")
	second := f.controller.VerifyCertificate(ctx, "C1")
	if !first.OK || !second.OK || first.Value.Status != second.Value.Status {
		t.Fatalf("verify should be repeatable: %+v %+v", first, second)
	}
}

func TestLifecycle_LedgerErrorSurfaces(t *testing.T) {
	f := newFixture(t)
	failing := &failingLedger{LedgerClient: f.ledger, submitErr: errors.New("ledger unavailable")}
	store := NewCertificateStore(failing, crypto.Service{}, fixedClock)
	recorder := &stubRecorder{}
	c := NewLifecycleController(store, f.controller.Issuance.Authz, fixedClock, nil, recorder)

	res := c.IssueCertificate(context.Background(), f.issuer, domain.IssueInput{ID: "C1", Name: "CS101", Recipient: "0xAAA"})
	assertKind(t, res.Error, domain.KindLedgerError)
	if !strings.Contains(res.Error.Message, "ledger unavailable") {
		t.Fatalf("expected cause in message, got %q", res.Error.Message)
	}
	if failing.submits != 1 {
		t.Fatalf("ledger failures must not be retried, submits=%d", failing.submits)
	}
	if len(recorder.outcomes) != 1 || recorder.outcomes[0] != (recordedOutcome{op: OpIssue, kind: domain.KindLedgerError}) {
		t.Fatalf("unexpected recorded outcomes: %+v", recorder.outcomes)
	}
}

func TestLifecycle_RecordsOutcomes(t *testing.T) {
	f := newFixture(t)
	recorder := &stubRecorder{}
	f.controller.Metrics = recorder
	ctx := context.Background()

	f.controller.IssueCertificate(ctx, f.issuer, domain.IssueInput{ID: "C1", Name: "CS101", Recipient: "0xAAA"})
	f.controller.VerifyCertificate(ctx, "C2")
	f.controller.RevokeCertificate(ctx, f.issuer, "C1")

	want := []recordedOutcome{
		{op: OpIssue},
		{op: OpVerify, kind: domain.KindNotFound},
		{op: OpRevoke},
	}
	if len(recorder.outcomes) != len(want) {
		t.Fatalf("expected %d outcomes, got %+v", len(want), recorder.outcomes)
	}
	for i := range want {
		if recorder.outcomes[i] != want[i] {
			t.Fatalf("outcome %d: expected %+v, got %+v", i, want[i], recorder.outcomes[i])
		}
	}
}

type erroringAuthorizer struct {
	err error
}

func (a erroringAuthorizer) Authorize(ctx context.Context, req domain.AuthzRequest) error {
	return a.err
}

func assertKind(t *testing.T, got *Error, want domain.ErrorKind) {
	t.Helper()
	if got == nil {
		t.Fatalf("expected %s error, got success", want)
	}
	if got.Kind != want {
		t.Fatalf("expected %s, got %s (%s)", want, got.Kind, got.Message)
	}
}

func TestLifecycle_RejectsMalformedRequesterAddress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := domain.IssueInput{ID: "C1", Name: "CS101", Recipient: "0xAAA"}

	for _, address := range []string{"0x\xffISSUER", "0xISS\x00UER", strings.Repeat("a", 129)} {
		requester := f.issuer
		requester.Address = address
		res := f.controller.IssueCertificate(ctx, requester, in)
		assertKind(t, res.Error, domain.KindInvalidInput)
	}
	if res := f.controller.VerifyCertificate(ctx, "C1"); res.Error == nil || res.Error.Kind != domain.KindNotFound {
		t.Fatalf("malformed requester must not commit, got %+v", res)
	}

	f.issue(t, "C2")
	requester := f.issuer
	requester.Address = "0x\xffISSUER"
	assertKind(t, f.controller.RevokeCertificate(ctx, requester, "C2").Error, domain.KindInvalidInput)
	if got := f.controller.VerifyCertificate(ctx, "C2").Value.Status; got != domain.StatusActive {
		t.Fatalf("status changed to %s", got)
	}
}

func TestLifecycle_RejectsSlashInID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.controller.IssueCertificate(ctx, f.issuer, domain.IssueInput{ID: "dept/C1", Name: "CS101", Recipient: "0xAAA"})
	assertKind(t, res.Error, domain.KindInvalidInput)
	assertKind(t, f.controller.VerifyCertificate(ctx, "dept/C1").Error, domain.KindInvalidInput)
	assertKind(t, f.controller.RevokeCertificate(ctx, f.issuer, "dept/C1").Error, domain.KindInvalidInput)
}
