// Package ledgerdb is the Postgres-backed ledger. Transactions and the
// key/value state they produce are written in one database transaction;
// tree heads are computed lazily from the stored leaves.
package ledgerdb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"certledger/internal/domain"
	"certledger/internal/infra/crypto"
	"certledger/internal/infra/db"
	"certledger/internal/infra/merkle"
)

var errRepoRequired = errors.New("ledger repository required")

type Ledger struct {
	ledger   *db.LedgerRepository
	tree     *db.TreeRepository
	clock    func() time.Time
	signSTH  func(domain.STH) ([]byte, error)
	verifyTx func(domain.SignedTransaction) error
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

func New(ledger *db.LedgerRepository, tree *db.TreeRepository, opts ...Option) *Ledger {
	l := &Ledger{
		ledger:   ledger,
		tree:     tree,
		clock:    time.Now,
		verifyTx: crypto.VerifyTransaction,
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
	if l.ledger == nil {
		return domain.Receipt{}, domain.NewLedgerError("submit", errRepoRequired)
	}
	if err := l.verifyTx(stx); err != nil {
		return domain.Receipt{}, domain.NewLedgerError("submit", err)
	}
	payload, err := crypto.CanonicalSignedTransaction(stx)
	if err != nil {
		return domain.Receipt{}, domain.NewLedgerError("submit", err)
	}
	leaf, err := crypto.LeafHash(stx)
	if err != nil {
		return domain.Receipt{}, domain.NewLedgerError("submit", err)
	}

	committed, _, err := l.ledger.Append(ctx, db.AppendInput{
		Tx:          stx.Tx,
		TxRef:       crypto.TxRefFromLeaf(leaf).String(),
		LeafHash:    leaf,
		Payload:     payload,
		CommittedAt: l.now(),
	})
	if err != nil {
		if _, ok := domain.IsTxRejected(err); ok {
			return domain.Receipt{}, err
		}
		return domain.Receipt{}, domain.NewLedgerError("submit", err)
	}
	return domain.Receipt{
		TxRef:       domain.TxRef(committed.TxRef),
		Sequence:    committed.Seq,
		Version:     committed.Version,
		CommittedAt: committed.CommittedAt,
	}, nil
}

func (l *Ledger) Read(ctx context.Context, key string) (domain.Entry, error) {
	if err := ctx.Err(); err != nil {
		return domain.Entry{}, domain.NewLedgerError("read", err)
	}
	if l.ledger == nil {
		return domain.Entry{}, domain.NewLedgerError("read", errRepoRequired)
	}
	entry, err := l.ledger.GetEntry(ctx, key)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Entry{}, domain.ErrNotFound
		}
		return domain.Entry{}, domain.NewLedgerError("read", err)
	}
	return domain.Entry{
		Key:         entry.Key,
		Value:       entry.Value,
		Version:     entry.Version,
		TxRef:       domain.TxRef(entry.TxRef),
		CommittedAt: entry.CommittedAt,
	}, nil
}

func (l *Ledger) History(ctx context.Context, key string) ([]domain.CommittedTx, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.NewLedgerError("history", err)
	}
	if l.ledger == nil {
		return nil, domain.NewLedgerError("history", errRepoRequired)
	}
	rows, err := l.ledger.ListByKey(ctx, key)
	if err != nil {
		return nil, domain.NewLedgerError("history", err)
	}
	out := make([]domain.CommittedTx, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.CommittedTx{
			TxRef:       domain.TxRef(row.TxRef),
			Sequence:    row.Seq,
			Kind:        domain.TxKind(row.Kind),
			Key:         row.Key,
			Sender:      row.Sender,
			Version:     row.Version,
			CommittedAt: row.CommittedAt,
		})
	}
	return out, nil
}

func (l *Ledger) Transaction(ctx context.Context, ref domain.TxRef) (domain.SignedTransaction, error) {
	if err := ctx.Err(); err != nil {
		return domain.SignedTransaction{}, domain.NewLedgerError("transaction", err)
	}
	if l.ledger == nil {
		return domain.SignedTransaction{}, domain.NewLedgerError("transaction", errRepoRequired)
	}
	if _, err := crypto.LeafFromTxRef(ref); err != nil {
		return domain.SignedTransaction{}, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	row, err := l.ledger.GetByTxRef(ctx, string(ref))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.SignedTransaction{}, domain.ErrNotFound
		}
		return domain.SignedTransaction{}, domain.NewLedgerError("transaction", err)
	}
	stx, err := crypto.DecodeSignedTransaction(row.Payload)
	if err != nil {
		return domain.SignedTransaction{}, domain.NewLedgerError("transaction", err)
	}
	return stx, nil
}

func (l *Ledger) LatestSTH(ctx context.Context) (domain.STH, error) {
	if err := ctx.Err(); err != nil {
		return domain.STH{}, domain.NewLedgerError("sth", err)
	}
	if l.tree == nil {
		return domain.STH{}, domain.NewLedgerError("sth", errRepoRequired)
	}
	size, err := l.tree.Size(ctx)
	if err != nil {
		return domain.STH{}, domain.NewLedgerError("sth", err)
	}
	if size == 0 {
		return domain.STH{}, domain.ErrNotFound
	}
	sth, err := l.sthForSize(ctx, size)
	if err != nil {
		return domain.STH{}, domain.NewLedgerError("sth", err)
	}
	return sth, nil
}

func (l *Ledger) InclusionProof(ctx context.Context, ref domain.TxRef) (int64, domain.STH, domain.InclusionProof, error) {
	if err := ctx.Err(); err != nil {
		return 0, domain.STH{}, domain.InclusionProof{}, domain.NewLedgerError("inclusion", err)
	}
	if l.tree == nil {
		return 0, domain.STH{}, domain.InclusionProof{}, domain.NewLedgerError("inclusion", errRepoRequired)
	}
	leaf, err := crypto.LeafFromTxRef(ref)
	if err != nil {
		return 0, domain.STH{}, domain.InclusionProof{}, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	index, err := l.tree.LeafIndex(ctx, leaf)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return 0, domain.STH{}, domain.InclusionProof{}, domain.ErrNotFound
		}
		return 0, domain.STH{}, domain.InclusionProof{}, domain.NewLedgerError("inclusion", err)
	}
	size, err := l.tree.Size(ctx)
	if err != nil {
		return 0, domain.STH{}, domain.InclusionProof{}, domain.NewLedgerError("inclusion", err)
	}

	leaves, err := l.leavesForSize(ctx, size)
	if err != nil {
		return 0, domain.STH{}, domain.InclusionProof{}, domain.NewLedgerError("inclusion", err)
	}
	path, err := merkle.InclusionProof(leaves, int(index))
	if err != nil {
		return 0, domain.STH{}, domain.InclusionProof{}, domain.NewLedgerError("inclusion", err)
	}
	sth, err := l.sthForSize(ctx, size)
	if err != nil {
		return 0, domain.STH{}, domain.InclusionProof{}, domain.NewLedgerError("inclusion", err)
	}
	return index, sth, domain.InclusionProof{
		LeafIndex:   index,
		Path:        path,
		STHTreeSize: sth.TreeSize,
		STHRootHash: sth.RootHash,
	}, nil
}

func (l *Ledger) ConsistencyProof(ctx context.Context, fromSize, toSize int64) (domain.ConsistencyProof, error) {
	if err := ctx.Err(); err != nil {
		return domain.ConsistencyProof{}, domain.NewLedgerError("consistency", err)
	}
	if l.tree == nil {
		return domain.ConsistencyProof{}, domain.NewLedgerError("consistency", errRepoRequired)
	}
	size, err := l.tree.Size(ctx)
	if err != nil {
		return domain.ConsistencyProof{}, domain.NewLedgerError("consistency", err)
	}
	if fromSize <= 0 || fromSize > toSize || toSize > size {
		return domain.ConsistencyProof{}, fmt.Errorf("%w: %v", domain.ErrInvalidInput, merkle.ErrInvalidSize)
	}
	leaves, err := l.leavesForSize(ctx, toSize)
	if err != nil {
		return domain.ConsistencyProof{}, domain.NewLedgerError("consistency", err)
	}
	path, err := merkle.ConsistencyProof(leaves, int(fromSize), int(toSize))
	if err != nil {
		return domain.ConsistencyProof{}, domain.NewLedgerError("consistency", err)
	}
	return domain.ConsistencyProof{FromSize: fromSize, ToSize: toSize, Path: path}, nil
}

// now is truncated to the precision Postgres stores, so a signed tree head
// still verifies after it is read back.
func (l *Ledger) now() time.Time {
	return l.clock().UTC().Truncate(time.Microsecond)
}

func (l *Ledger) leavesForSize(ctx context.Context, treeSize int64) ([][]byte, error) {
	leaves, err := l.tree.Leaves(ctx, treeSize)
	if err != nil {
		return nil, err
	}
	if int64(len(leaves)) != treeSize {
		return nil, merkle.ErrInvalidSize
	}
	return leaves, nil
}

// sthForSize returns the stored head for treeSize, building and storing one
// on first use. Concurrent builders converge on whichever head was stored first.
func (l *Ledger) sthForSize(ctx context.Context, treeSize int64) (domain.STH, error) {
	head, err := l.tree.Head(ctx, treeSize)
	if !errors.Is(err, domain.ErrNotFound) {
		return head, err
	}

	leaves, err := l.leavesForSize(ctx, treeSize)
	if err != nil {
		return domain.STH{}, err
	}
	root, err := merkle.Root(leaves)
	if err != nil {
		return domain.STH{}, err
	}
	built := domain.STH{
		TreeSize: treeSize,
		RootHash: root,
		IssuedAt: l.now(),
	}
	if l.signSTH != nil {
		sig, err := l.signSTH(built)
		if err != nil {
			return domain.STH{}, fmt.Errorf("sign tree head: %w", err)
		}
		built.Signature = sig
	}
	if err := l.tree.SaveHead(ctx, built); err != nil {
		return domain.STH{}, err
	}
	return l.tree.Head(ctx, treeSize)
}

var (
	_ domain.LedgerClient      = (*Ledger)(nil)
	_ domain.HistoryReader     = (*Ledger)(nil)
	_ domain.ProofReader       = (*Ledger)(nil)
	_ domain.TransactionReader = (*Ledger)(nil)
)
