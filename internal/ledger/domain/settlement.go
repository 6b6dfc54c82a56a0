package domain

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
)

type OpKind string

const (
	OpDeposit        OpKind = "deposit"
	OpDepositNative  OpKind = "deposit-native"
	OpWithdraw       OpKind = "withdraw"
	OpWithdrawNative OpKind = "withdraw-native"
	OpTransfer       OpKind = "transfer"
	OpAddAsset       OpKind = "add-asset"
)

// Operation 提交给结算层的一次变更
// deposit 可以带多个资产（批量），其余类型只有一个
type Operation struct {
	Kind         OpKind
	Owner        string
	Counterparty string
	Assets       []string
	Amounts      []decimal.Decimal
}

// StatusReport 结算层对某个 handle 的最新判断
type StatusReport struct {
	Status TxStatus
	Block  *BlockInfo
}

// SettlementAdapter 外部结算层（托管合约）
type SettlementAdapter interface {
	Submit(ctx context.Context, op Operation) (handle string, err error)
	// AdminIdentity 每次都实时查询，不缓存
	AdminIdentity(ctx context.Context) (string, error)
	Status(ctx context.Context, handle string) (StatusReport, error)
}

// AssetDescriber 查询资产的 symbol / decimals
type AssetDescriber interface {
	Describe(ctx context.Context, asset string) (AssetInfo, error)
}

// LedgerIdentity 对外暴露结算层身份，调用方不需要读 adapter 配置
type LedgerIdentity struct {
	Kind     string `json:"kind"`
	ChainID  string `json:"chainId,omitempty"`
	Contract string `json:"contract,omitempty"`
	Endpoint string `json:"endpoint,omitempty"`
}

type IdentityReporter interface {
	Identity() LedgerIdentity
}

// LocalHandlePrefix 提交失败时本地生成的 handle 前缀
const LocalHandlePrefix = "local:"

func IsLocalHandle(h string) bool { return strings.HasPrefix(h, LocalHandlePrefix) }
