package domain

import (
	"context"
	"time"
)

type TxKind string

const (
	TxKindIssue  TxKind = "certificate.issue"
	TxKindRevoke TxKind = "certificate.revoke"
)

// Precondition is checked by the ledger atomically with the write. Exactly
// one of the two forms is used per transaction.
type Precondition struct {
	ExpectAbsent  bool  `json:"expect_absent,omitempty"`
	ExpectVersion int64 `json:"expect_version,omitempty"`
}

// Transaction replaces the committed value under Key when Precondition holds.
type Transaction struct {
	Kind         TxKind       `json:"kind"`
	Key          string       `json:"key"`
	Value        []byte       `json:"value"`
	Precondition Precondition `json:"precondition"`
	Sender       string       `json:"sender"`
	Nonce        string       `json:"nonce"`
	SubmittedAt  time.Time    `json:"submitted_at"`
}

type Signature struct {
	Alg       string `json:"alg"`
	PublicKey []byte `json:"public_key"`
	Value     []byte `json:"value"`
}

type SignedTransaction struct {
	Tx        Transaction `json:"tx"`
	Signature Signature   `json:"signature"`
}

type Receipt struct {
	TxRef       TxRef
	Sequence    int64
	Version     int64
	CommittedAt time.Time
}

// Entry is the committed state under a key. Version counts committed writes.
type Entry struct {
	Key         string
	Value       []byte
	Version     int64
	TxRef       TxRef
	CommittedAt time.Time
}

type CommittedTx struct {
	TxRef       TxRef     `json:"tx_ref"`
	Sequence    int64     `json:"sequence"`
	Kind        TxKind    `json:"kind"`
	Key         string    `json:"key"`
	Sender      string    `json:"sender"`
	Version     int64     `json:"version"`
	CommittedAt time.Time `json:"committed_at"`
}

// LedgerClient is the narrow view of the append-only ledger the core needs.
// Read never returns uncommitted state; a missing key yields ErrNotFound.
type LedgerClient interface {
	Submit(ctx context.Context, stx SignedTransaction) (Receipt, error)
	Read(ctx context.Context, key string) (Entry, error)
}

type HistoryReader interface {
	History(ctx context.Context, key string) ([]CommittedTx, error)
}

type ProofReader interface {
	LatestSTH(ctx context.Context) (STH, error)
	InclusionProof(ctx context.Context, ref TxRef) (int64, STH, InclusionProof, error)
	ConsistencyProof(ctx context.Context, fromSize, toSize int64) (ConsistencyProof, error)
}

// Signer authorizes a canonical transaction payload on behalf of an account.
type Signer interface {
	Sign(ctx context.Context, payload []byte) (Signature, error)
}
