package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"custodex.com/internal/ledger/domain"
)

// Balances 内存余额表，每个 (owner, asset) 一把锁
type Balances struct {
	mu    sync.Mutex // 只保护 map 结构
	cells map[string]*cell
}

type cell struct {
	mu     sync.Mutex
	amount decimal.Decimal
}

var _ domain.BalanceStore = (*Balances)(nil)

func NewBalances() *Balances {
	return &Balances{cells: make(map[string]*cell, 256)}
}

func (b *Balances) cell(owner, asset string) *cell {
	key := domain.BalanceKey(owner, asset)
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.cells[key]
	if !ok {
		c = &cell{amount: decimal.Zero}
		b.cells[key] = c
	}
	return c
}

func (b *Balances) Get(_ context.Context, owner, asset string) (decimal.Decimal, error) {
	key := domain.BalanceKey(owner, asset)
	b.mu.Lock()
	c, ok := b.cells[key]
	b.mu.Unlock()
	if !ok {
		return decimal.Zero, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.amount, nil
}

func (b *Balances) Credit(_ context.Context, owner, asset string, amount decimal.Decimal) error {
	c := b.cell(owner, asset)
	c.mu.Lock()
	c.amount = c.amount.Add(amount)
	c.mu.Unlock()
	return nil
}

func (b *Balances) Debit(_ context.Context, owner, asset string, amount decimal.Decimal) error {
	c := b.cell(owner, asset)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.amount.LessThan(amount) {
		return domain.ErrInsufficientBalance(owner, asset, c.amount, amount)
	}
	c.amount = c.amount.Sub(amount)
	return nil
}

// Transfer 两个 key 按字典序加锁，避免 A->B 和 B->A 同时进行时死锁
func (b *Balances) Transfer(_ context.Context, from, to, asset string, amount decimal.Decimal) error {
	src, dst := b.cell(from, asset), b.cell(to, asset)
	if src == dst {
		// 自己转自己：只做余额检查
		src.mu.Lock()
		defer src.mu.Unlock()
		if src.amount.LessThan(amount) {
			return domain.ErrInsufficientBalance(from, asset, src.amount, amount)
		}
		return nil
	}

	keys := []string{domain.BalanceKey(from, asset), domain.BalanceKey(to, asset)}
	locks := map[string]*cell{keys[0]: src, keys[1]: dst}
	sort.Strings(keys)
	for _, k := range keys {
		locks[k].mu.Lock()
	}
	defer func() {
		for _, k := range keys {
			locks[k].mu.Unlock()
		}
	}()

	if src.amount.LessThan(amount) {
		return domain.ErrInsufficientBalance(from, asset, src.amount, amount)
	}
	src.amount = src.amount.Sub(amount)
	dst.amount = dst.amount.Add(amount)
	return nil
}
