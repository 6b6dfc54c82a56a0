package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"custodex.com/internal/ledger/domain"
)

// Records 内存交易记录，只追加
type Records struct {
	mu    sync.RWMutex
	byID  map[string]int
	items []domain.TransactionRecord
}

var _ domain.RecordRepo = (*Records)(nil)

func NewRecords() *Records {
	return &Records{byID: make(map[string]int, 256)}
}

func (r *Records) Insert(_ context.Context, recs ...*domain.TransactionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range recs {
		if _, ok := r.byID[rec.ID]; ok {
			continue
		}
		r.byID[rec.ID] = len(r.items)
		r.items = append(r.items, *rec)
	}
	return nil
}

func (r *Records) Resolve(_ context.Context, externalID string, status domain.TxStatus, block *domain.BlockInfo, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for i := range r.items {
		it := &r.items[i]
		if it.ExternalID != externalID || it.Status != domain.StatusPending {
			continue
		}
		it.Status = status
		if block != nil {
			b := *block
			it.Block = &b
		}
		ts := at
		it.ResolvedAt = &ts
		n++
	}
	return n, nil
}

func (r *Records) ListByOwner(_ context.Context, owner string, limit, offset int) ([]domain.TransactionRecord, error) {
	r.mu.RLock()
	var out []domain.TransactionRecord
	// 倒序遍历即新的在前
	for i := len(r.items) - 1; i >= 0; i-- {
		if r.items[i].Owner == owner {
			out = append(out, r.items[i])
		}
	}
	r.mu.RUnlock()
	return page(out, limit, offset), nil
}

func (r *Records) ListByExternalID(_ context.Context, externalID string) ([]domain.TransactionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.TransactionRecord
	for _, it := range r.items {
		if it.ExternalID == externalID {
			out = append(out, it)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Leg < out[j].Leg })
	return out, nil
}

func (r *Records) ListByAsset(_ context.Context, kind domain.TxKind, asset string) ([]domain.TransactionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.TransactionRecord
	for _, it := range r.items {
		if it.Kind == kind && it.Asset == asset {
			out = append(out, it)
		}
	}
	return out, nil
}

func (r *Records) ListPending(_ context.Context, limit, offset int) ([]domain.TransactionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.TransactionRecord
	for _, it := range r.items {
		if it.Status == domain.StatusPending {
			out = append(out, it)
		}
	}
	return page(out, limit, offset), nil
}

func page(in []domain.TransactionRecord, limit, offset int) []domain.TransactionRecord {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(in) {
		return nil
	}
	in = in[offset:]
	if limit > 0 && limit < len(in) {
		in = in[:limit]
	}
	return in
}
