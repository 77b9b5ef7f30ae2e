package policyopa

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"certledger/internal/domain"
)

func newEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := NewDefaultEngine(context.Background())
	if err != nil {
		t.Fatalf("default engine: %v", err)
	}
	return engine
}

func TestDefaultPolicyDecisions(t *testing.T) {
	engine := newEngine(t)

	tests := []struct {
		name  string
		input domain.PolicyInput
		deny  []string
	}{
		{
			name:  "issuer issues",
			input: domain.PolicyInput{Action: domain.ActionIssue, Requester: domain.PolicyRequester{Address: "0xISSUER", Roles: []string{"issuer"}}},
		},
		{
			name:  "admin issues",
			input: domain.PolicyInput{Action: domain.ActionIssue, Requester: domain.PolicyRequester{Address: "0xADMIN", Roles: []string{"admin"}}},
		},
		{
			name:  "user cannot issue",
			input: domain.PolicyInput{Action: domain.ActionIssue, Requester: domain.PolicyRequester{Address: "0xUSER", Roles: []string{"user"}}},
			deny:  []string{"MISSING_ROLE"},
		},
		{
			name: "recorded issuer revokes",
			input: domain.PolicyInput{
				Action:    domain.ActionRevoke,
				Requester: domain.PolicyRequester{Address: "0xISSUER", Roles: []string{}},
				Target:    &domain.PolicyTarget{Issuer: "0xissuer"},
			},
		},
		{
			name: "other issuer cannot revoke",
			input: domain.PolicyInput{
				Action:    domain.ActionRevoke,
				Requester: domain.PolicyRequester{Address: "0xOTHER", Roles: []string{"issuer"}},
				Target:    &domain.PolicyTarget{Issuer: "0xISSUER"},
			},
			deny: []string{"NOT_ISSUER"},
		},
		{
			name: "admin revokes",
			input: domain.PolicyInput{
				Action:    domain.ActionRevoke,
				Requester: domain.PolicyRequester{Address: "0xADMIN", Roles: []string{"admin"}},
				Target:    &domain.PolicyTarget{Issuer: "0xISSUER"},
			},
		},
		{
			name:  "unknown action",
			input: domain.PolicyInput{Action: "certificate:delete", Requester: domain.PolicyRequester{Address: "0xADMIN", Roles: []string{"admin"}}},
			deny:  []string{"UNKNOWN_ACTION"},
		},
		{
			name:  "anonymous",
			input: domain.PolicyInput{Action: domain.ActionIssue, Requester: domain.PolicyRequester{Roles: []string{"issuer"}}},
			deny:  []string{"MISSING_IDENTITY"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eval, err := engine.Evaluate(context.Background(), tt.input)
			if err != nil {
				t.Fatalf("evaluate: %v", err)
			}
			if eval.Result.Allow != (len(tt.deny) == 0) {
				t.Fatalf("unexpected allow=%v deny=%+v", eval.Result.Allow, eval.Result.Deny)
			}
			var codes []string
			for _, d := range eval.Result.Deny {
				codes = append(codes, d.Code)
			}
			if !reflect.DeepEqual(codes, tt.deny) {
				t.Fatalf("expected deny %v, got %v", tt.deny, codes)
			}
		})
	}
}

func TestEngineDeterministic(t *testing.T) {
	engine := newEngine(t)
	input := domain.PolicyInput{Action: domain.ActionIssue, Requester: domain.PolicyRequester{Address: "0xUSER"}}

	first, err := engine.Evaluate(context.Background(), input)
	if err != nil {
		t.Fatalf("evaluate first: %v", err)
	}
	second, err := engine.Evaluate(context.Background(), input)
	if err != nil {
		t.Fatalf("evaluate second: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected deterministic policy evaluation")
	}
	if first.BundleHash == "" || first.BundleID != DefaultBundleID {
		t.Fatalf("expected bundle metadata, got %+v", first)
	}
}

func TestEngineFromBundlePath(t *testing.T) {
	dir := t.TempDir()
	policy := `package certledger.authz

result := {"allow": false, "deny": [{"code": "FROZEN", "message": "ledger frozen"}]}
`
	if err := os.WriteFile(filepath.Join(dir, "policy.rego"), []byte(policy), 0o644); err != nil {
		t.Fatalf("write policy: %v", err)
	}
	engine, err := NewEngineFromBundlePath(context.Background(), dir, "frozen")
	if err != nil {
		t.Fatalf("bundle engine: %v", err)
	}
	hash, _ := DigestBundleDir(dir)
	if engine.BundleHash() != hash {
		t.Fatalf("bundle hash mismatch")
	}

	err = NewAuthorizer(engine).Authorize(context.Background(), domain.AuthzRequest{
		Action:    domain.ActionIssue,
		Requester: domain.Requester{Address: "0xADMIN", Roles: []domain.Role{domain.RoleAdmin}},
	})
	var deny *DenyError
	if !errors.As(err, &deny) || len(deny.Deny) != 1 || deny.Deny[0].Code != "FROZEN" {
		t.Fatalf("expected FROZEN denial, got %v", err)
	}
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("denial must be unauthorized, got %v", err)
	}
}

func TestEngineRejectsForbiddenBuiltins(t *testing.T) {
	dir := t.TempDir()
	policy := `package certledger.authz

result := {"allow": time.now_ns() > 0, "deny": []}
`
	if err := os.WriteFile(filepath.Join(dir, "policy.rego"), []byte(policy), 0o644); err != nil {
		t.Fatalf("write policy: %v", err)
	}
	_, err := NewEngineFromBundlePath(context.Background(), dir, "clock")
	if err == nil {
		t.Fatal("expected policy using time.now_ns to be rejected")
	}
	if !strings.Contains(err.Error(), "time.now_ns") {
		t.Fatalf("expected error to name the builtin, got %v", err)
	}
}

func TestAuthorizerUsesDefaultPolicy(t *testing.T) {
	authz := NewAuthorizer(newEngine(t))
	ctx := context.Background()

	issuer := domain.Requester{Address: "0xISSUER", Roles: []domain.Role{domain.RoleIssuer}}
	if err := authz.Authorize(ctx, domain.AuthzRequest{Action: domain.ActionIssue, Requester: issuer}); err != nil {
		t.Fatalf("issuer issue: %v", err)
	}
	err := authz.Authorize(ctx, domain.AuthzRequest{Action: domain.ActionRevoke, Requester: issuer, Issuer: "0xOTHER"})
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if !strings.Contains(err.Error(), "NOT_ISSUER") {
		t.Fatalf("expected deny code in message, got %q", err.Error())
	}

	var nilAuthz *Authorizer
	if err := nilAuthz.Authorize(ctx, domain.AuthzRequest{Action: domain.ActionIssue, Requester: issuer}); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("unconfigured authorizer must deny, got %v", err)
	}
}

func TestResultFromValue(t *testing.T) {
	got, err := resultFromValue(map[string]any{
		"allow": true,
		"deny": []any{
			map[string]any{"code": "B", "message": "second"},
			map[string]any{"code": "A"},
		},
	})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := domain.PolicyResult{Allow: false, Deny: []domain.PolicyDeny{{Code: "A"}, {Code: "B", Message: "second"}}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %+v, got %+v", want, got)
	}

	for _, bad := range []any{
		"allow",
		map[string]any{"allow": "yes"},
		map[string]any{"deny": "nope"},
		map[string]any{"deny": []any{map[string]any{"message": "no code"}}},
	} {
		if _, err := resultFromValue(bad); err == nil {
			t.Fatalf("expected %v to be rejected", bad)
		}
	}
}
