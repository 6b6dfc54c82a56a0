package service

import (
	"github.com/shopspring/decimal"

	"custodex.com/internal/ledger/domain"
)

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 500
)

// Submission 变更类操作的返回：结算层 handle + pending，不等待确认
type Submission struct {
	Handle  string                     `json:"handle"`
	Status  domain.TxStatus            `json:"status"`
	Records []domain.TransactionRecord `json:"records"`
}

// AssetAdded AddSupportedAsset 的返回；已存在时 Handle 为空
type AssetAdded struct {
	Asset            string          `json:"asset"`
	AlreadySupported bool            `json:"alreadySupported"`
	Handle           string          `json:"handle,omitempty"`
	Status           domain.TxStatus `json:"status,omitempty"`
}

type BalanceView struct {
	Asset    string          `json:"asset"`
	Amount   decimal.Decimal `json:"amount"`
	Symbol   string          `json:"symbol,omitempty"`
	Decimals int32           `json:"decimals"`
}

// AssetBalanceResult 批量读的单项结果：Err 非空时该资产被省略
type AssetBalanceResult struct {
	Balance BalanceView
	Err     error
}

type OperationStatus struct {
	Handle  string                     `json:"handle"`
	Status  domain.TxStatus            `json:"status"`
	Block   *domain.BlockInfo          `json:"block,omitempty"`
	Records []domain.TransactionRecord `json:"records"`
}
