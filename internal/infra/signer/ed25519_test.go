package signer

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
	"time"

	"certledger/internal/domain"
	"certledger/internal/infra/crypto"
)

const seedHex = "0101010101010101010101010101010101010101010101010101010101010101"

func TestParseKeyFormats(t *testing.T) {
	fromHex, err := ParseKey(seedHex)
	if err != nil {
		t.Fatalf("hex seed: %v", err)
	}
	seed, _ := hex.DecodeString(seedHex)
	fromB64, err := ParseKey(base64.StdEncoding.EncodeToString(seed))
	if err != nil {
		t.Fatalf("base64 seed: %v", err)
	}
	if !fromHex.Equal(fromB64) {
		t.Fatal("hex and base64 seeds should produce the same key")
	}
	fromFull, err := ParseKey(base64.StdEncoding.EncodeToString(fromHex))
	if err != nil {
		t.Fatalf("base64 private key: %v", err)
	}
	if !fromFull.Equal(fromHex) {
		t.Fatal("full private key should round trip")
	}
	for _, bad := range []string{"", "abcd", "not base64 !!"} {
		if _, err := ParseKey(bad); !errors.Is(err, ErrInvalidKey) {
			t.Fatalf("expected ErrInvalidKey for %q, got %v", bad, err)
		}
	}
}

func TestSignProducesVerifiableTransaction(t *testing.T) {
	s, err := FromString(seedHex)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	tx := domain.Transaction{Kind: domain.TxKindIssue, Key: "C1", Sender: s.Address(), Nonce: "n", SubmittedAt: time.Now()}
	canonical, err := crypto.CanonicalTransaction(tx)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	sig, err := s.Sign(context.Background(), canonical)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := crypto.VerifyTransaction(domain.SignedTransaction{Tx: tx, Signature: sig}); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestSignRespectsCancellation(t *testing.T) {
	s, _ := FromString(seedHex)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Sign(ctx, []byte("x")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestAddressIsStable(t *testing.T) {
	a, _ := FromString(seedHex)
	b, _ := FromString(seedHex)
	if a.Address() != b.Address() {
		t.Fatal("address must be deterministic")
	}
	if !strings.HasPrefix(a.Address(), "0x") || len(a.Address()) != 66 {
		t.Fatalf("unexpected address format %q", a.Address())
	}
}
