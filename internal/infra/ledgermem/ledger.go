// Package ledgermem is an in-process append-only ledger. Every committed
// transaction becomes a leaf of a Merkle transparency log; the key/value state
// is derived from the log and only ever changes under the ledger's lock, so a
// transaction's precondition check and write are atomic.
package ledgermem

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"certledger/internal/domain"
	"certledger/internal/infra/crypto"
	"certledger/internal/infra/merkle"
)

var errInvalidPrecondition = errors.New("transaction has no precondition")

type Ledger struct {
	mu          sync.RWMutex
	leaves      [][]byte
	txs         []domain.CommittedTx
	signed      []domain.SignedTransaction
	indexByLeaf map[string]int64
	state       map[string]domain.Entry
	byKey       map[string][]int64
	sth         domain.STH
	clock       func() time.Time
	signSTH     func(domain.STH) ([]byte, error)
	verifyTx    func(domain.SignedTransaction) error
}

type Option func(*Ledger)

func WithClock(clock func() time.Time) Option {
	return func(l *Ledger) {
		if clock != nil {
			l.clock = clock
		}
	}
}

func WithSTHSigner(sign func(domain.STH) ([]byte, error)) Option {
	return func(l *Ledger) {
		l.signSTH = sign
	}
}

// WithTxVerifier replaces the signature check applied to every submission.
func WithTxVerifier(verify func(domain.SignedTransaction) error) Option {
	return func(l *Ledger) {
		if verify != nil {
			l.verifyTx = verify
		}
	}
}

func New(opts ...Option) *Ledger {
	l := &Ledger{
		indexByLeaf: make(map[string]int64),
		state:       make(map[string]domain.Entry),
		byKey:       make(map[string][]int64),
		clock:       time.Now,
		verifyTx:    crypto.VerifyTransaction,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) Submit(ctx context.Context, stx domain.SignedTransaction) (domain.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return domain.Receipt{}, domain.NewLedgerError("submit", err)
	}
	if err := l.verifyTx(stx); err != nil {
		return domain.Receipt{}, domain.NewLedgerError("submit", err)
	}
	leaf, err := crypto.LeafHash(stx)
	if err != nil {
		return domain.Receipt{}, domain.NewLedgerError("submit", err)
	}
	tx := stx.Tx
	if !tx.Precondition.ExpectAbsent && tx.Precondition.ExpectVersion <= 0 {
		return domain.Receipt{}, domain.NewLedgerError("submit", errInvalidPrecondition)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	leafKey := hex.EncodeToString(leaf)
	if seq, ok := l.indexByLeaf[leafKey]; ok {
		committed := l.txs[seq]
		return domain.Receipt{
			TxRef:       committed.TxRef,
			Sequence:    committed.Sequence,
			Version:     committed.Version,
			CommittedAt: committed.CommittedAt,
		}, nil
	}

	current, exists := l.state[tx.Key]
	switch {
	case tx.Precondition.ExpectAbsent && exists:
		return domain.Receipt{}, &domain.TxRejectedError{Key: tx.Key, Reason: domain.RejectKeyExists}
	case !tx.Precondition.ExpectAbsent && !exists:
		return domain.Receipt{}, &domain.TxRejectedError{Key: tx.Key, Reason: domain.RejectKeyMissing}
	case !tx.Precondition.ExpectAbsent && current.Version != tx.Precondition.ExpectVersion:
		return domain.Receipt{}, &domain.TxRejectedError{Key: tx.Key, Reason: domain.RejectVersionMismatch}
	}

	now := l.clock().UTC()
	seq := int64(len(l.leaves))
	leaves := append(l.leaves, leaf)
	sth, err := l.buildSTH(leaves, now)
	if err != nil {
		return domain.Receipt{}, domain.NewLedgerError("submit", err)
	}

	ref := crypto.TxRefFromLeaf(leaf)
	committed := domain.CommittedTx{
		TxRef:       ref,
		Sequence:    seq,
		Kind:        tx.Kind,
		Key:         tx.Key,
		Sender:      tx.Sender,
		Version:     current.Version + 1,
		CommittedAt: now,
	}
	l.leaves = leaves
	l.txs = append(l.txs, committed)
	l.signed = append(l.signed, cloneSignedTx(stx))
	l.indexByLeaf[leafKey] = seq
	l.byKey[tx.Key] = append(l.byKey[tx.Key], seq)
	l.state[tx.Key] = domain.Entry{
		Key:         tx.Key,
		Value:       cloneBytes(tx.Value),
		Version:     committed.Version,
		TxRef:       ref,
		CommittedAt: now,
	}
	l.sth = sth

	return domain.Receipt{
		TxRef:       ref,
		Sequence:    seq,
		Version:     committed.Version,
		CommittedAt: now,
	}, nil
}

func (l *Ledger) Read(ctx context.Context, key string) (domain.Entry, error) {
	if err := ctx.Err(); err != nil {
		return domain.Entry{}, domain.NewLedgerError("read", err)
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	entry, ok := l.state[key]
	if !ok {
		return domain.Entry{}, domain.ErrNotFound
	}
	entry.Value = cloneBytes(entry.Value)
	return entry, nil
}

func (l *Ledger) History(ctx context.Context, key string) ([]domain.CommittedTx, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.NewLedgerError("history", err)
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	seqs := l.byKey[key]
	out := make([]domain.CommittedTx, 0, len(seqs))
	for _, seq := range seqs {
		out = append(out, l.txs[seq])
	}
	return out, nil
}

func (l *Ledger) Transaction(ctx context.Context, ref domain.TxRef) (domain.SignedTransaction, error) {
	if err := ctx.Err(); err != nil {
		return domain.SignedTransaction{}, domain.NewLedgerError("transaction", err)
	}
	leaf, err := crypto.LeafFromTxRef(ref)
	if err != nil {
		return domain.SignedTransaction{}, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	seq, ok := l.indexByLeaf[hex.EncodeToString(leaf)]
	if !ok {
		return domain.SignedTransaction{}, domain.ErrNotFound
	}
	return cloneSignedTx(l.signed[seq]), nil
}

func (l *Ledger) LatestSTH(ctx context.Context) (domain.STH, error) {
	if err := ctx.Err(); err != nil {
		return domain.STH{}, domain.NewLedgerError("sth", err)
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.leaves) == 0 {
		return domain.STH{}, domain.ErrNotFound
	}
	return cloneSTH(l.sth), nil
}

func (l *Ledger) InclusionProof(ctx context.Context, ref domain.TxRef) (int64, domain.STH, domain.InclusionProof, error) {
	if err := ctx.Err(); err != nil {
		return 0, domain.STH{}, domain.InclusionProof{}, domain.NewLedgerError("inclusion", err)
	}
	leaf, err := crypto.LeafFromTxRef(ref)
	if err != nil {
		return 0, domain.STH{}, domain.InclusionProof{}, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	index, ok := l.indexByLeaf[hex.EncodeToString(leaf)]
	if !ok {
		return 0, domain.STH{}, domain.InclusionProof{}, domain.ErrNotFound
	}
	path, err := merkle.InclusionProof(l.leaves, int(index))
	if err != nil {
		return 0, domain.STH{}, domain.InclusionProof{}, domain.NewLedgerError("inclusion", err)
	}
	sth := cloneSTH(l.sth)
	return index, sth, domain.InclusionProof{
		LeafIndex:   index,
		Path:        path,
		STHTreeSize: sth.TreeSize,
		STHRootHash: cloneBytes(sth.RootHash),
	}, nil
}

func (l *Ledger) ConsistencyProof(ctx context.Context, fromSize, toSize int64) (domain.ConsistencyProof, error) {
	if err := ctx.Err(); err != nil {
		return domain.ConsistencyProof{}, domain.NewLedgerError("consistency", err)
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if fromSize <= 0 || fromSize > toSize || toSize > int64(len(l.leaves)) {
		return domain.ConsistencyProof{}, fmt.Errorf("%w: %v", domain.ErrInvalidInput, merkle.ErrInvalidSize)
	}
	path, err := merkle.ConsistencyProof(l.leaves, int(fromSize), int(toSize))
	if err != nil {
		return domain.ConsistencyProof{}, domain.NewLedgerError("consistency", err)
	}
	return domain.ConsistencyProof{FromSize: fromSize, ToSize: toSize, Path: path}, nil
}

// buildSTH is called with the lock held and must not mutate ledger state.
func (l *Ledger) buildSTH(leaves [][]byte, now time.Time) (domain.STH, error) {
	root, err := merkle.Root(leaves)
	if err != nil {
		return domain.STH{}, err
	}
	sth := domain.STH{
		TreeSize: int64(len(leaves)),
		RootHash: root,
		IssuedAt: now,
	}
	if l.signSTH != nil {
		sig, err := l.signSTH(sth)
		if err != nil {
			return domain.STH{}, fmt.Errorf("sign tree head: %w", err)
		}
		sth.Signature = sig
	}
	return sth, nil
}

func cloneSTH(sth domain.STH) domain.STH {
	sth.RootHash = cloneBytes(sth.RootHash)
	sth.Signature = cloneBytes(sth.Signature)
	return sth
}

func cloneBytes(in []byte) []byte {
	if in == nil {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}

func cloneSignedTx(stx domain.SignedTransaction) domain.SignedTransaction {
	stx.Tx.Value = cloneBytes(stx.Tx.Value)
	stx.Signature.PublicKey = cloneBytes(stx.Signature.PublicKey)
	stx.Signature.Value = cloneBytes(stx.Signature.Value)
	return stx
}

var (
	_ domain.LedgerClient      = (*Ledger)(nil)
	_ domain.HistoryReader     = (*Ledger)(nil)
	_ domain.ProofReader       = (*Ledger)(nil)
	_ domain.TransactionReader = (*Ledger)(nil)
)
