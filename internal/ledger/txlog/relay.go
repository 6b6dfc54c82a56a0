package txlog

import (
	"context"
	"time"

	"go.uber.org/zap"

	"custodex.com/internal/ledger/domain"
	"custodex.com/pkg/logger"
	"custodex.com/pkg/metrics"
)

// Relay 把 outbox 里的记录重放进仓储
type Relay struct {
	outbox *Outbox
	repo   domain.RecordRepo
}

func NewRelay(o *Outbox, repo domain.RecordRepo) *Relay {
	return &Relay{outbox: o, repo: repo}
}

// RunOnce 重放一轮，返回成功重放的批次数
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	return r.outbox.Drain(func(recs []domain.TransactionRecord) error {
		ptrs := make([]*domain.TransactionRecord, 0, len(recs))
		for i := range recs {
			ptrs = append(ptrs, &recs[i])
		}
		if err := r.repo.Insert(ctx, ptrs...); err != nil {
			return err
		}
		metrics.OutboxRelayed.Add(float64(len(recs)))
		return nil
	})
}

// Run 定时重放，ctx 取消后退出
func (r *Relay) Run(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := r.RunOnce(ctx)
			if err != nil {
				logger.Warn(ctx, "outbox relay failed", zap.Int("relayed", n), zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Info(ctx, "outbox relayed", zap.Int("batches", n))
			}
		}
	}
}
