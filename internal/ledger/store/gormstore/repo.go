package gormstore

import (
	"context"

	"gorm.io/gorm"
)

type txKey struct{}

// Repo gorm 持久化的公共部分：连接 + ctx 携带事务
type Repo struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Repo { return &Repo{db: db} }

// AutoMigrate 建表，生产环境可以关掉改用迁移脚本
func (r *Repo) AutoMigrate() error {
	return r.db.AutoMigrate(&BalanceRow{}, &RecordRow{}, &AssetRow{})
}

// Transaction 实现事务，tx 注入到 ctx 里，内部的仓储调用自动复用
func (r *Repo) Transaction(ctx context.Context, fn func(txCtx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		// 已经在事务里：直接复用
		return fn(ctx)
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txCtx := context.WithValue(ctx, txKey{}, tx)
		return fn(txCtx)
	})
}

func inTx(ctx context.Context) bool {
	tx, ok := ctx.Value(txKey{}).(*gorm.DB)
	return ok && tx != nil
}

// getDb 获取数据库连接，如果 context 中有事务则使用事务，否则使用普通连接
func (r *Repo) getDb(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok && tx != nil {
		return tx
	}
	return r.db.WithContext(ctx)
}

func (r *Repo) Balances() *Balances { return &Balances{r} }
func (r *Repo) Records() *Records   { return &Records{r} }
func (r *Repo) Assets() *Assets     { return &Assets{r} }
