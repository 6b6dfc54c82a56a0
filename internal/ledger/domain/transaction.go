package domain

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TxKind string

const (
	KindDeposit     TxKind = "deposit"
	KindWithdraw    TxKind = "withdraw"
	KindTransferIn  TxKind = "transfer-in"
	KindTransferOut TxKind = "transfer-out"
	KindAssetAdded  TxKind = "asset-added"
)

type TxStatus string

const (
	StatusPending TxStatus = "pending"
	StatusSuccess TxStatus = "success"
	StatusFailed  TxStatus = "failed"
)

func (s TxStatus) Terminal() bool { return s == StatusSuccess || s == StatusFailed }

// BlockInfo 结算层确认时的区块信息
type BlockInfo struct {
	Number uint64 `json:"number"`
	Hash   string `json:"hash"`
}

// TransactionRecord 审计记录：pending 创建，只会被终结一次，永不删除
// 同一次结算提交的多条记录共享 ExternalID (handle)
type TransactionRecord struct {
	ID           string          `json:"id"`
	ExternalID   string          `json:"externalId"`
	Leg          int             `json:"leg"`
	Kind         TxKind          `json:"kind"`
	Owner        string          `json:"owner"`
	Counterparty string          `json:"counterparty,omitempty"`
	Asset        string          `json:"asset"`
	Amount       decimal.Decimal `json:"amount"`
	Status       TxStatus        `json:"status"`
	Block        *BlockInfo      `json:"block,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	ResolvedAt   *time.Time      `json:"resolvedAt,omitempty"`
}

var recordNamespace = uuid.MustParse("5b8e4a4e-8f0c-4f5c-9d4b-1f3d2f6c0a11")

// RecordID 由 (handle, leg, kind, owner, asset) 派生，重复写入同一条记录幂等
func RecordID(externalID string, leg int, kind TxKind, owner, asset string) string {
	seed := externalID + "|" + strconv.Itoa(leg) + "|" + string(kind) + "|" + owner + "|" + asset
	return uuid.NewSHA1(recordNamespace, []byte(seed)).String()
}

// RecordRepo 交易记录持久化
type RecordRepo interface {
	// Insert 按 ID 幂等
	Insert(ctx context.Context, recs ...*TransactionRecord) error
	// Resolve 只更新仍为 pending 的记录，返回受影响行数
	Resolve(ctx context.Context, externalID string, status TxStatus, block *BlockInfo, at time.Time) (int64, error)
	// ListByOwner 新的在前
	ListByOwner(ctx context.Context, owner string, limit, offset int) ([]TransactionRecord, error)
	ListByExternalID(ctx context.Context, externalID string) ([]TransactionRecord, error)
	// ListByAsset 某资产上某类记录，旧的在前
	ListByAsset(ctx context.Context, kind TxKind, asset string) ([]TransactionRecord, error)
	// ListPending 旧的在前，offset 用于翻过还没结果的记录
	ListPending(ctx context.Context, limit, offset int) ([]TransactionRecord, error)
}
