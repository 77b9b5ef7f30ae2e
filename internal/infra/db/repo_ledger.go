package db

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"certledger/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const ledgerHeadID = 1

var errLedgerHeadMissing = errors.New("ledger head row missing; apply migrations")

type LedgerRepository struct {
	db *gorm.DB
}

func NewLedgerRepository(db *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

type AppendInput struct {
	Tx          domain.Transaction
	TxRef       string
	LeafHash    []byte
	Payload     []byte
	CommittedAt time.Time
}

// Append commits one transaction. The ledger head row is locked for the
// duration so the precondition check, the log append and the state write are
// serialized against every other writer. replayed is true when the same
// signed transaction was already committed; nothing is written in that case.
func (r *LedgerRepository) Append(ctx context.Context, in AppendInput) (committed LedgerTransactionModel, replayed bool, err error) {
	if r.db == nil {
		return LedgerTransactionModel{}, false, errDBUnavailable
	}
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var head LedgerHeadModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&head, "id = ?", ledgerHeadID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errLedgerHeadMissing
			}
			return err
		}

		var existing LedgerTransactionModel
		err := tx.Where("leaf_hash = ?", in.LeafHash).First(&existing).Error
		if err == nil {
			committed = existing
			replayed = true
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		var current LedgerEntryModel
		exists := true
		if err := tx.Where("entry_key = ?", in.Tx.Key).First(&current).Error; err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			exists = false
		}
		if err := checkPrecondition(in.Tx, current, exists); err != nil {
			return err
		}

		committed = LedgerTransactionModel{
			Seq:         head.TreeSize,
			TxRef:       in.TxRef,
			LeafHash:    bytes.Clone(in.LeafHash),
			Kind:        string(in.Tx.Kind),
			Key:         in.Tx.Key,
			Sender:      in.Tx.Sender,
			Version:     current.Version + 1,
			Payload:     bytes.Clone(in.Payload),
			CommittedAt: in.CommittedAt,
		}
		if err := tx.Create(&committed).Error; err != nil {
			return err
		}

		entry := LedgerEntryModel{
			Key:         in.Tx.Key,
			Value:       bytes.Clone(in.Tx.Value),
			Version:     committed.Version,
			TxRef:       in.TxRef,
			CommittedAt: in.CommittedAt,
		}
		if !exists {
			if err := tx.Create(&entry).Error; err != nil {
				return err
			}
		} else {
			res := tx.Model(&LedgerEntryModel{}).
				Where("entry_key = ? AND version = ?", in.Tx.Key, current.Version).
				Updates(map[string]any{
					"value":        entry.Value,
					"version":      entry.Version,
					"tx_ref":       entry.TxRef,
					"committed_at": entry.CommittedAt,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected != 1 {
				return &domain.TxRejectedError{Key: in.Tx.Key, Reason: domain.RejectVersionMismatch}
			}
		}

		return tx.Model(&LedgerHeadModel{}).
			Where("id = ?", ledgerHeadID).
			Updates(map[string]any{"tree_size": head.TreeSize + 1, "updated_at": in.CommittedAt}).Error
	})
	if err != nil {
		return LedgerTransactionModel{}, false, err
	}
	return committed, replayed, nil
}

func checkPrecondition(tx domain.Transaction, current LedgerEntryModel, exists bool) error {
	pre := tx.Precondition
	switch {
	case pre.ExpectAbsent && exists:
		return &domain.TxRejectedError{Key: tx.Key, Reason: domain.RejectKeyExists}
	case pre.ExpectAbsent:
		return nil
	case pre.ExpectVersion <= 0:
		return fmt.Errorf("transaction for key %q has no precondition", tx.Key)
	case !exists:
		return &domain.TxRejectedError{Key: tx.Key, Reason: domain.RejectKeyMissing}
	case current.Version != pre.ExpectVersion:
		return &domain.TxRejectedError{Key: tx.Key, Reason: domain.RejectVersionMismatch}
	}
	return nil
}

func (r *LedgerRepository) GetEntry(ctx context.Context, key string) (LedgerEntryModel, error) {
	if r.db == nil {
		return LedgerEntryModel{}, errDBUnavailable
	}
	var entry LedgerEntryModel
	err := r.db.WithContext(ctx).Where("entry_key = ?", key).First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return LedgerEntryModel{}, domain.ErrNotFound
		}
		return LedgerEntryModel{}, err
	}
	return entry, nil
}

func (r *LedgerRepository) GetByTxRef(ctx context.Context, txRef string) (LedgerTransactionModel, error) {
	if r.db == nil {
		return LedgerTransactionModel{}, errDBUnavailable
	}
	var row LedgerTransactionModel
	err := r.db.WithContext(ctx).Where("tx_ref = ?", txRef).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return LedgerTransactionModel{}, domain.ErrNotFound
		}
		return LedgerTransactionModel{}, err
	}
	return row, nil
}

func (r *LedgerRepository) ListByKey(ctx context.Context, key string) ([]LedgerTransactionModel, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var txs []LedgerTransactionModel
	if err := r.db.WithContext(ctx).
		Where("entry_key = ?", key).
		Order("seq ASC").
		Find(&txs).Error; err != nil {
		return nil, err
	}
	return txs, nil
}
