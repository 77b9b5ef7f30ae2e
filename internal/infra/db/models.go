package db

import "time"

// LedgerHeadModel is a single-row table whose lock serializes appends.
type LedgerHeadModel struct {
	ID        int16     `gorm:"primaryKey"`
	TreeSize  int64     `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (LedgerHeadModel) TableName() string { return "ledger_head" }

type LedgerTransactionModel struct {
	Seq         int64     `gorm:"primaryKey;autoIncrement:false"`
	TxRef       string    `gorm:"uniqueIndex;not null"`
	LeafHash    []byte    `gorm:"type:bytea;uniqueIndex;not null"`
	Kind        string    `gorm:"not null"`
	Key         string    `gorm:"column:entry_key;index;not null"`
	Sender      string    `gorm:"not null"`
	Version     int64     `gorm:"not null"`
	Payload     []byte    `gorm:"type:jsonb;not null"`
	CommittedAt time.Time `gorm:"not null"`
}

func (LedgerTransactionModel) TableName() string { return "ledger_transactions" }

type LedgerEntryModel struct {
	Key         string    `gorm:"column:entry_key;primaryKey"`
	Value       []byte    `gorm:"type:bytea;not null"`
	Version     int64     `gorm:"not null"`
	TxRef       string    `gorm:"not null"`
	CommittedAt time.Time `gorm:"not null"`
}

func (LedgerEntryModel) TableName() string { return "ledger_entries" }

type TreeHeadModel struct {
	TreeSize  int64     `gorm:"primaryKey;autoIncrement:false"`
	RootHash  []byte    `gorm:"type:bytea;not null"`
	IssuedAt  time.Time `gorm:"not null"`
	Signature []byte    `gorm:"column:sth_signature;type:bytea;not null"`
}

func (TreeHeadModel) TableName() string { return "tree_heads" }
