package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"custodex.com/internal/ledger/domain"
	"custodex.com/internal/ledger/txlog"
	"custodex.com/pkg/logger"
	"custodex.com/pkg/metrics"
)

// Locker 多副本选主，nil 表示单实例
type Locker interface {
	TryAcquire(ctx context.Context, ttl time.Duration) (bool, error)
}

type ReconcilerConfig struct {
	Interval   time.Duration
	LocalGrace time.Duration // 本地 handle 超过这个时间仍未提交成功，判定失败
	// PendingTimeout 已提交但结算层一直查不到（没进块）的 handle 判定失败，0 不启用
	PendingTimeout time.Duration
	BatchSize      int
	Lease          time.Duration
}

// Reconciler 轮询 pending 记录，向结算层要结果并终结记录
type Reconciler struct {
	ledger  *txlog.Ledger
	adapter domain.SettlementAdapter
	lock    Locker
	cfg     ReconcilerConfig
	now     func() time.Time

	// cursor 跳过上一轮还没结果的 pending 记录，翻到末尾后回到 0
	cursor int
}

func NewReconciler(l *txlog.Ledger, adapter domain.SettlementAdapter, lock Locker, cfg ReconcilerConfig) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.Lease <= 0 {
		cfg.Lease = 3 * cfg.Interval
	}
	return &Reconciler{
		ledger:  l,
		adapter: adapter,
		lock:    lock,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// RunOnce 处理一批 pending 记录，返回终结的 handle 数
func (r *Reconciler) RunOnce(ctx context.Context) (int, error) {
	if r.lock != nil {
		leader, err := r.lock.TryAcquire(ctx, r.cfg.Lease)
		if err != nil {
			return 0, err
		}
		if !leader {
			return 0, nil
		}
	}

	pending, err := r.ledger.Pending(ctx, r.cfg.BatchSize, r.cursor)
	if err != nil {
		return 0, err
	}
	metrics.PendingRecords.Set(float64(len(pending)))

	// 同一个 handle 只查一次，记录按创建时间升序，第一次出现即最早
	var handles []string
	oldest := make(map[string]time.Time, len(pending))
	legs := make(map[string]int, len(pending))
	for _, rec := range pending {
		if _, seen := oldest[rec.ExternalID]; !seen {
			oldest[rec.ExternalID] = rec.CreatedAt
			handles = append(handles, rec.ExternalID)
		}
		legs[rec.ExternalID]++
	}

	resolved, left := 0, len(pending)
	defer func() { r.advance(len(pending), left) }()
	for _, h := range handles {
		if ctx.Err() != nil {
			return resolved, ctx.Err()
		}
		status, block, ok := r.check(ctx, h, r.now().Sub(oldest[h]))
		if !ok {
			continue
		}
		if err := r.ledger.RecordResolved(ctx, h, status, block); err != nil {
			logger.Warn(ctx, "record resolution failed", zap.String("handle", h), zap.Error(err))
			continue
		}
		if status == domain.StatusFailed && !domain.IsLocalHandle(h) {
			// 余额是提交时就改的，失败需要人工对账
			logger.Error(ctx, "🚨 settlement failed after local balance update, reconciliation required",
				zap.String("handle", h))
		}
		resolved++
		left -= legs[h]
	}
	return resolved, nil
}

// check 返回 handle 的终态；ok=false 表示这轮先不动
func (r *Reconciler) check(ctx context.Context, h string, age time.Duration) (domain.TxStatus, *domain.BlockInfo, bool) {
	if domain.IsLocalHandle(h) {
		if age < r.cfg.LocalGrace {
			return "", nil, false
		}
		logger.Error(ctx, "🚨 local handle never reached settlement, failing it; reconciliation required",
			zap.String("handle", h))
		return domain.StatusFailed, nil, true
	}

	rep, err := r.adapter.Status(ctx, h)
	if err != nil {
		logger.Warn(ctx, "settlement status query failed", zap.String("handle", h), zap.Error(err))
		return "", nil, false
	}
	if rep.Status.Terminal() {
		return rep.Status, rep.Block, true
	}
	// 已进块只是确认数不够，继续等
	if rep.Block != nil || r.cfg.PendingTimeout <= 0 || age < r.cfg.PendingTimeout {
		return "", nil, false
	}
	logger.Error(ctx, "🚨 submitted handle never showed up on chain, failing it; reconciliation required",
		zap.String("handle", h), zap.Duration("age", age))
	return domain.StatusFailed, nil, true
}

// advance 下一轮从还没处理过的位置开始；本页不满说明到底了
func (r *Reconciler) advance(fetched, left int) {
	if fetched < r.cfg.BatchSize {
		r.cursor = 0
		return
	}
	r.cursor += left
}

// Run 定时执行，ctx 取消后退出
func (r *Reconciler) Run(ctx context.Context) {
	t := time.NewTicker(r.cfg.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := r.RunOnce(ctx)
			if err != nil && ctx.Err() == nil {
				logger.Warn(ctx, "reconcile pass failed", zap.Int("resolved", n), zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Info(ctx, "reconcile pass done", zap.Int("resolved", n))
			}
		}
	}
}
