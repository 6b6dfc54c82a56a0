package memstore

import (
	"context"
	"sync"

	"custodex.com/internal/ledger/domain"
)

// Assets 受支持资产，保持插入顺序
type Assets struct {
	mu    sync.RWMutex
	order []string
	set   map[string]struct{}
}

var _ domain.AssetRegistry = (*Assets)(nil)

func NewAssets(initial ...string) *Assets {
	a := &Assets{set: make(map[string]struct{})}
	for _, s := range initial {
		_, _ = a.Add(context.Background(), s)
	}
	return a
}

func (a *Assets) List(context.Context) ([]string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, len(a.order))
	copy(out, a.order)
	return out, nil
}

func (a *Assets) Contains(_ context.Context, asset string) (bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.set[asset]
	return ok, nil
}

func (a *Assets) Add(_ context.Context, asset string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.set[asset]; ok {
		return false, nil
	}
	a.set[asset] = struct{}{}
	a.order = append(a.order, asset)
	return true, nil
}
