package domain

import (
	"context"

	"github.com/shopspring/decimal"

	"custodex.com/pkg/xerr"
)

// BalanceStore 按 (owner, asset) 维护余额，余额永不为负
// 同一个 key 上的修改可线性化，不同 key 之间不保证顺序
type BalanceStore interface {
	// Get 不存在时返回 0，不报错
	Get(ctx context.Context, owner, asset string) (decimal.Decimal, error)
	Credit(ctx context.Context, owner, asset string, amount decimal.Decimal) error
	// Debit 余额不足返回 InsufficientBalance，且不做任何修改
	Debit(ctx context.Context, owner, asset string, amount decimal.Decimal) error
	// Transfer 先扣后加；加款失败时回补发送方
	Transfer(ctx context.Context, from, to, asset string, amount decimal.Decimal) error
}

func ErrInsufficientBalance(owner, asset string, have, want decimal.Decimal) error {
	ce := &xerr.CodeError{Code: xerr.InsufficientBalance, Msg: xerr.MapErrMsg(xerr.InsufficientBalance)}
	return ce.WithField("owner", owner).
		WithField("asset", asset).
		WithField("available", have.String()).
		WithField("requested", want.String())
}

// BalanceKey 锁 / 缓存用的复合 key
func BalanceKey(owner, asset string) string {
	return owner + "|" + asset
}
