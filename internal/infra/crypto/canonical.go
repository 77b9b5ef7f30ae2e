package crypto

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"certledger/internal/domain"
	"certledger/internal/infra/merkle"
)

var ErrInvalidTxRef = errors.New("invalid transaction reference")

type txPayload struct {
	Kind          string `json:"kind"`
	Key           string `json:"key"`
	Value         []byte `json:"value"`
	ExpectAbsent  bool   `json:"expect_absent"`
	ExpectVersion int64  `json:"expect_version"`
	Sender        string `json:"sender"`
	Nonce         string `json:"nonce"`
	SubmittedAt   string `json:"submitted_at"`
}

type signedTxPayload struct {
	Tx        txPayload `json:"tx"`
	Alg       string    `json:"alg"`
	PublicKey []byte    `json:"public_key"`
	Signature []byte    `json:"signature"`
}

type sthPayload struct {
	TreeSize int64  `json:"tree_size"`
	RootHash string `json:"root_hash"`
	IssuedAt string `json:"issued_at"`
}

// CanonicalTransaction is the byte string a signer signs. Field order is fixed
// by the payload struct, so equal transactions encode identically.
func CanonicalTransaction(tx domain.Transaction) ([]byte, error) {
	return json.Marshal(buildTxPayload(tx))
}

func CanonicalSignedTransaction(stx domain.SignedTransaction) ([]byte, error) {
	return json.Marshal(signedTxPayload{
		Tx:        buildTxPayload(stx.Tx),
		Alg:       stx.Signature.Alg,
		PublicKey: stx.Signature.PublicKey,
		Signature: stx.Signature.Value,
	})
}

// LeafHash is the transparency-log leaf for a signed transaction.
func LeafHash(stx domain.SignedTransaction) ([]byte, error) {
	canonical, err := CanonicalSignedTransaction(stx)
	if err != nil {
		return nil, fmt.Errorf("canonicalize transaction: %w", err)
	}
	return merkle.LeafHash(canonical), nil
}

func TxRefFromLeaf(leafHash []byte) domain.TxRef {
	return domain.TxRef(hex.EncodeToString(leafHash))
}

func LeafFromTxRef(ref domain.TxRef) ([]byte, error) {
	raw, err := hex.DecodeString(string(ref))
	if err != nil || len(raw) != merkle.HashSize {
		return nil, ErrInvalidTxRef
	}
	return raw, nil
}

func CanonicalSTH(sth domain.STH) ([]byte, error) {
	return json.Marshal(sthPayload{
		TreeSize: sth.TreeSize,
		RootHash: hex.EncodeToString(sth.RootHash),
		IssuedAt: sth.IssuedAt.UTC().Format(time.RFC3339Nano),
	})
}

func buildTxPayload(tx domain.Transaction) txPayload {
	return txPayload{
		Kind:          string(tx.Kind),
		Key:           tx.Key,
		Value:         tx.Value,
		ExpectAbsent:  tx.Precondition.ExpectAbsent,
		ExpectVersion: tx.Precondition.ExpectVersion,
		Sender:        tx.Sender,
		Nonce:         tx.Nonce,
		SubmittedAt:   tx.SubmittedAt.UTC().Format(time.RFC3339Nano),
	}
}

// DecodeSignedTransaction parses the canonical form produced by
// CanonicalSignedTransaction. Re-encoding the result yields the same bytes.
func DecodeSignedTransaction(canonical []byte) (domain.SignedTransaction, error) {
	var payload signedTxPayload
	if err := json.Unmarshal(canonical, &payload); err != nil {
		return domain.SignedTransaction{}, fmt.Errorf("decode signed transaction: %w", err)
	}
	submittedAt, err := time.Parse(time.RFC3339Nano, payload.Tx.SubmittedAt)
	if err != nil {
		return domain.SignedTransaction{}, fmt.Errorf("decode submitted_at: %w", err)
	}
	return domain.SignedTransaction{
		Tx: domain.Transaction{
			Kind:  domain.TxKind(payload.Tx.Kind),
			Key:   payload.Tx.Key,
			Value: payload.Tx.Value,
			Precondition: domain.Precondition{
				ExpectAbsent:  payload.Tx.ExpectAbsent,
				ExpectVersion: payload.Tx.ExpectVersion,
			},
			Sender:      payload.Tx.Sender,
			Nonce:       payload.Tx.Nonce,
			SubmittedAt: submittedAt.UTC(),
		},
		Signature: domain.Signature{
			Alg:       payload.Alg,
			PublicKey: payload.PublicKey,
			Value:     payload.Signature,
		},
	}, nil
}
