package db

import (
	"bytes"
	"context"
	"errors"

	"certledger/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var errDBUnavailable = errors.New("db unavailable")

// TreeRepository reads the Merkle view of the ledger: leaves in append order
// and the signed heads cached per tree size.
type TreeRepository struct {
	db *gorm.DB
}

func NewTreeRepository(db *gorm.DB) *TreeRepository {
	return &TreeRepository{db: db}
}

// Size is the number of committed leaves.
func (r *TreeRepository) Size(ctx context.Context) (int64, error) {
	if r.db == nil {
		return 0, errDBUnavailable
	}
	var sizes []int64
	err := r.db.WithContext(ctx).
		Model(&LedgerHeadModel{}).
		Where("id = ?", ledgerHeadID).
		Pluck("tree_size", &sizes).Error
	if err != nil {
		return 0, err
	}
	if len(sizes) == 0 {
		return 0, errLedgerHeadMissing
	}
	return sizes[0], nil
}

func (r *TreeRepository) LeafIndex(ctx context.Context, leafHash []byte) (int64, error) {
	if r.db == nil {
		return 0, errDBUnavailable
	}
	var seqs []int64
	err := r.db.WithContext(ctx).
		Model(&LedgerTransactionModel{}).
		Where("leaf_hash = ?", leafHash).
		Limit(1).
		Pluck("seq", &seqs).Error
	if err != nil {
		return 0, err
	}
	if len(seqs) == 0 {
		return 0, domain.ErrNotFound
	}
	return seqs[0], nil
}

// Leaves returns the first n leaf hashes in append order.
func (r *TreeRepository) Leaves(ctx context.Context, n int64) ([][]byte, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	if n <= 0 {
		return nil, nil
	}
	var leaves [][]byte
	err := r.db.WithContext(ctx).
		Model(&LedgerTransactionModel{}).
		Where("seq < ?", n).
		Order("seq").
		Pluck("leaf_hash", &leaves).Error
	if err != nil {
		return nil, err
	}
	return leaves, nil
}

// SaveHead stores sth unless a head for the same size already exists. The
// first stored head wins, so every reader sees one signature per size.
func (r *TreeRepository) SaveHead(ctx context.Context, sth domain.STH) error {
	if r.db == nil {
		return errDBUnavailable
	}
	row := TreeHeadModel{
		TreeSize:  sth.TreeSize,
		RootHash:  bytes.Clone(sth.RootHash),
		IssuedAt:  sth.IssuedAt,
		Signature: append([]byte{}, sth.Signature...),
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row).Error
}

func (r *TreeRepository) Head(ctx context.Context, size int64) (domain.STH, error) {
	if r.db == nil {
		return domain.STH{}, errDBUnavailable
	}
	var row TreeHeadModel
	err := r.db.WithContext(ctx).Take(&row, "tree_size = ?", size).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.STH{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.STH{}, err
	}
	head := domain.STH{
		TreeSize: row.TreeSize,
		RootHash: row.RootHash,
		IssuedAt: row.IssuedAt.UTC(),
	}
	if len(row.Signature) > 0 {
		head.Signature = row.Signature
	}
	return head, nil
}
