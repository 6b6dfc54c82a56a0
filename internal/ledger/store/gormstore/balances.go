package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"custodex.com/internal/ledger/domain"
	"custodex.com/pkg/xerr"
)

// CAS 冲突最多重试次数
const maxCASRetries = 16

type Balances struct{ *Repo }

var _ domain.BalanceStore = (*Balances)(nil)

// Get 查无此记录不是错误，返回 0
func (b *Balances) Get(ctx context.Context, owner, asset string) (decimal.Decimal, error) {
	row, _, err := b.load(ctx, owner, asset)
	if err != nil {
		return decimal.Zero, err
	}
	return row.Amount, nil
}

func (b *Balances) Credit(ctx context.Context, owner, asset string, amount decimal.Decimal) error {
	return b.mutate(ctx, owner, asset, func(cur decimal.Decimal) (decimal.Decimal, error) {
		return cur.Add(amount), nil
	})
}

func (b *Balances) Debit(ctx context.Context, owner, asset string, amount decimal.Decimal) error {
	return b.mutate(ctx, owner, asset, func(cur decimal.Decimal) (decimal.Decimal, error) {
		if cur.LessThan(amount) {
			return cur, domain.ErrInsufficientBalance(owner, asset, cur, amount)
		}
		return cur.Sub(amount), nil
	})
}

// Transfer 同一个事务里先扣后加，加款失败时事务回滚即回补发送方
func (b *Balances) Transfer(ctx context.Context, from, to, asset string, amount decimal.Decimal) error {
	return b.Transaction(ctx, func(txCtx context.Context) error {
		if err := b.Debit(txCtx, from, asset, amount); err != nil {
			return err
		}
		return b.Credit(txCtx, to, asset, amount)
	})
}

func (b *Balances) load(ctx context.Context, owner, asset string) (BalanceRow, bool, error) {
	var row BalanceRow
	err := b.reader(ctx).Where("owner = ? AND asset = ?", owner, asset).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return BalanceRow{Owner: owner, Asset: asset, Amount: decimal.Zero}, false, nil
		}
		return row, false, xerr.Wrap(err, xerr.DbError, "get balance failed")
	}
	return row, true, nil
}

// reader 事务内用 FOR UPDATE 当前读：RR 下快照读拿到的 version 可能已过期，CAS 会一直失败
// SQLite 方言会忽略锁子句
func (b *Balances) reader(ctx context.Context) *gorm.DB {
	db := b.getDb(ctx)
	if inTx(ctx) {
		return db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return db
}

// mutate 读 -> 计算 -> 带版本号条件更新，RowsAffected == 0 说明被别人改过，重读重试
// 行不存在时用 DoNothing 插入，插入被抢先同样重试
func (b *Balances) mutate(ctx context.Context, owner, asset string, fn func(cur decimal.Decimal) (decimal.Decimal, error)) error {
	for attempt := 0; attempt < maxCASRetries; attempt++ {
		row, found, err := b.load(ctx, owner, asset)
		if err != nil {
			return err
		}
		next, err := fn(row.Amount)
		if err != nil {
			return err
		}
		db := b.getDb(ctx)

		if !found {
			res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&BalanceRow{
				Owner:     owner,
				Asset:     asset,
				Amount:    next,
				Version:   1,
				UpdatedAt: time.Now().UTC(),
			})
			if res.Error != nil {
				return xerr.Wrap(res.Error, xerr.DbError, "create balance failed")
			}
			if res.RowsAffected == 1 {
				return nil
			}
			continue
		}

		res := db.Model(&BalanceRow{}).
			Where("owner = ? AND asset = ? AND version = ?", owner, asset, row.Version).
			Updates(map[string]interface{}{
				"amount":     next,
				"version":    gorm.Expr("version + 1"),
				"updated_at": time.Now().UTC(),
			})
		if res.Error != nil {
			return xerr.Wrap(res.Error, xerr.DbError, "update balance failed")
		}
		if res.RowsAffected == 1 {
			return nil
		}
	}
	return xerr.New(xerr.DbError, "并发冲突，请重试")
}
