package gormstore

import (
	"time"

	"github.com/shopspring/decimal"

	"custodex.com/internal/ledger/domain"
)

// BalanceRow 余额表，version 做乐观锁
type BalanceRow struct {
	Owner     string          `gorm:"primaryKey;size:42"`
	Asset     string          `gorm:"primaryKey;size:42"`
	Amount    decimal.Decimal `gorm:"type:decimal(65,30);not null;default:0"`
	Version   int64           `gorm:"not null;default:0"`
	UpdatedAt time.Time
}

func (BalanceRow) TableName() string { return "ledger_balances" }

// RecordRow 交易记录表，seq 只用于排序
type RecordRow struct {
	Seq          uint64          `gorm:"primaryKey;autoIncrement"`
	RecordID     string          `gorm:"column:record_id;size:36;uniqueIndex"`
	ExternalID   string          `gorm:"size:100;index"`
	Leg          int             `gorm:"not null;default:0"`
	Kind         string          `gorm:"size:20;not null"`
	Owner        string          `gorm:"size:42;index"`
	Counterparty string          `gorm:"size:42"`
	Asset        string          `gorm:"size:42;index"`
	Amount       decimal.Decimal `gorm:"type:decimal(65,30);not null;default:0"`
	Status       string          `gorm:"size:10;index"`
	BlockNumber  uint64
	BlockHash    string `gorm:"size:66"`
	CreatedAt    time.Time
	ResolvedAt   *time.Time
}

func (RecordRow) TableName() string { return "ledger_records" }

// AssetRow 受支持资产，seq 保持插入顺序
type AssetRow struct {
	Seq       uint64 `gorm:"primaryKey;autoIncrement"`
	Asset     string `gorm:"size:42;uniqueIndex"`
	CreatedAt time.Time
}

func (AssetRow) TableName() string { return "ledger_assets" }

func toRow(rec *domain.TransactionRecord) RecordRow {
	row := RecordRow{
		RecordID:     rec.ID,
		ExternalID:   rec.ExternalID,
		Leg:          rec.Leg,
		Kind:         string(rec.Kind),
		Owner:        rec.Owner,
		Counterparty: rec.Counterparty,
		Asset:        rec.Asset,
		Amount:       rec.Amount,
		Status:       string(rec.Status),
		CreatedAt:    rec.CreatedAt,
		ResolvedAt:   rec.ResolvedAt,
	}
	if rec.Block != nil {
		row.BlockNumber = rec.Block.Number
		row.BlockHash = rec.Block.Hash
	}
	return row
}

func (row RecordRow) toDomain() domain.TransactionRecord {
	rec := domain.TransactionRecord{
		ID:           row.RecordID,
		ExternalID:   row.ExternalID,
		Leg:          row.Leg,
		Kind:         domain.TxKind(row.Kind),
		Owner:        row.Owner,
		Counterparty: row.Counterparty,
		Asset:        row.Asset,
		Amount:       row.Amount,
		Status:       domain.TxStatus(row.Status),
		CreatedAt:    row.CreatedAt,
		ResolvedAt:   row.ResolvedAt,
	}
	if row.BlockHash != "" || row.BlockNumber != 0 {
		rec.Block = &domain.BlockInfo{Number: row.BlockNumber, Hash: row.BlockHash}
	}
	return rec
}
