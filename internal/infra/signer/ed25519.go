// Package signer holds in-process ed25519 signers for ledger transactions and
// tree heads. Key material is supplied by the operator; this package never
// generates or persists keys on its own.
package signer

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"certledger/internal/domain"
	"certledger/internal/infra/crypto"
)

var ErrInvalidKey = errors.New("invalid ed25519 key")

type Ed25519 struct {
	priv ed25519.PrivateKey
}

func NewEd25519(priv ed25519.PrivateKey) (*Ed25519, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, ErrInvalidKey
	}
	return &Ed25519{priv: priv}, nil
}

// ParseKey accepts a hex seed, or a base64 seed or private key.
func ParseKey(value string) (ed25519.PrivateKey, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, ErrInvalidKey
	}
	if raw, err := hex.DecodeString(value); err == nil {
		if len(raw) == ed25519.SeedSize {
			return ed25519.NewKeyFromSeed(raw), nil
		}
		return nil, fmt.Errorf("%w: hex seed must be %d bytes", ErrInvalidKey, ed25519.SeedSize)
	}
	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, ErrInvalidKey
	}
	switch len(raw) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(raw), nil
	}
	return nil, ErrInvalidKey
}

func FromString(value string) (*Ed25519, error) {
	priv, err := ParseKey(value)
	if err != nil {
		return nil, err
	}
	return NewEd25519(priv)
}

func (s *Ed25519) PublicKey() ed25519.PublicKey {
	return s.priv.Public().(ed25519.PublicKey)
}

// Address derives an account address from the public key: the SHA-256 of
// the key followed by the single-signer scheme byte.
func (s *Ed25519) Address() string {
	sum := sha256.Sum256(append(append([]byte{}, s.PublicKey()...), 0x00))
	return "0x" + hex.EncodeToString(sum[:])
}

func (s *Ed25519) Sign(ctx context.Context, payload []byte) (domain.Signature, error) {
	if err := ctx.Err(); err != nil {
		return domain.Signature{}, err
	}
	return domain.Signature{
		Alg:       crypto.AlgEd25519,
		PublicKey: append([]byte{}, s.PublicKey()...),
		Value:     ed25519.Sign(s.priv, payload),
	}, nil
}

// SignSTH signs the canonical tree head.
func (s *Ed25519) SignSTH(sth domain.STH) ([]byte, error) {
	canonical, err := crypto.CanonicalSTH(sth)
	if err != nil {
		return nil, err
	}
	return ed25519.Sign(s.priv, canonical), nil
}

var _ domain.Signer = (*Ed25519)(nil)
