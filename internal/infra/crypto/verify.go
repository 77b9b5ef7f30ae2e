package crypto

import (
	"crypto/ed25519"
	"fmt"
	"strings"

	"certledger/internal/domain"
)

const AlgEd25519 = "ed25519"

// VerifyTransaction checks that the signature covers the canonical form of the
// transaction and was produced by the embedded public key.
func VerifyTransaction(stx domain.SignedTransaction) error {
	canonical, err := CanonicalTransaction(stx.Tx)
	if err != nil {
		return fmt.Errorf("canonicalize transaction: %w", err)
	}
	return verifyEd25519(canonical, stx.Signature.Alg, stx.Signature.PublicKey, stx.Signature.Value)
}

func VerifySTHSignature(sth domain.STH, pubKey []byte) error {
	canonical, err := CanonicalSTH(sth)
	if err != nil {
		return err
	}
	return verifyEd25519(canonical, AlgEd25519, pubKey, sth.Signature)
}

func verifyEd25519(payload []byte, alg string, pubKey, sig []byte) error {
	if !strings.EqualFold(alg, AlgEd25519) {
		return fmt.Errorf("%w: unsupported alg %q", domain.ErrSignatureInvalid, alg)
	}
	if len(pubKey) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: invalid public key", domain.ErrSignatureInvalid)
	}
	if len(sig) != ed25519.SignatureSize || !ed25519.Verify(ed25519.PublicKey(pubKey), payload, sig) {
		return domain.ErrSignatureInvalid
	}
	return nil
}
