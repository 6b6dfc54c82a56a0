package txlog

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"custodex.com/internal/ledger/domain"
	"custodex.com/internal/ledger/events"
	"custodex.com/pkg/logger"
	"custodex.com/pkg/metrics"
	"custodex.com/pkg/xerr"
)

// Entry 一条待记录的余额变动
type Entry struct {
	Kind         domain.TxKind
	Owner        string
	Counterparty string
	Asset        string
	Amount       decimal.Decimal
}

// Ledger 交易审计日志：pending -> success | failed
type Ledger struct {
	repo    domain.RecordRepo
	outbox  *Outbox
	pub     *events.Publisher
	retries int
	backoff time.Duration
	now     func() time.Time
}

type Option func(*Ledger)

func WithOutbox(o *Outbox) Option              { return func(l *Ledger) { l.outbox = o } }
func WithPublisher(p *events.Publisher) Option { return func(l *Ledger) { l.pub = p } }
func WithRetries(n int, backoff time.Duration) Option {
	return func(l *Ledger) { l.retries, l.backoff = n, backoff }
}
func WithClock(now func() time.Time) Option { return func(l *Ledger) { l.now = now } }

func New(repo domain.RecordRepo, opts ...Option) *Ledger {
	l := &Ledger{
		repo:    repo,
		retries: 3,
		backoff: 50 * time.Millisecond,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// RecordInitiated 为一次结算提交写 pending 记录，所有 entry 共享 handle
// 仓储写失败会重试，仍失败则落到 outbox；两者都失败才返回错误
func (l *Ledger) RecordInitiated(ctx context.Context, handle string, entries ...Entry) ([]domain.TransactionRecord, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	now := l.now()
	recs := make([]domain.TransactionRecord, 0, len(entries))
	ptrs := make([]*domain.TransactionRecord, 0, len(entries))
	for i, e := range entries {
		recs = append(recs, domain.TransactionRecord{
			ID:           domain.RecordID(handle, i, e.Kind, e.Owner, e.Asset),
			ExternalID:   handle,
			Leg:          i,
			Kind:         e.Kind,
			Owner:        e.Owner,
			Counterparty: e.Counterparty,
			Asset:        e.Asset,
			Amount:       e.Amount,
			Status:       domain.StatusPending,
			CreatedAt:    now,
		})
	}
	for i := range recs {
		ptrs = append(ptrs, &recs[i])
	}

	err := l.insertWithRetry(ctx, ptrs)
	if err != nil {
		if l.outbox == nil {
			return nil, err
		}
		logger.Error(ctx, "record insert failed, spilling to outbox",
			zap.String("handle", handle), zap.Int("records", len(recs)), zap.Error(err))
		if oerr := l.outbox.Append(recs); oerr != nil {
			logger.Error(ctx, "🚨 outbox append failed, ledger and balances may diverge",
				zap.String("handle", handle), zap.Error(oerr))
			return nil, xerr.Wrap(oerr, xerr.DbError, "record transaction failed")
		}
	}

	l.pub.Initiated(ctx, recs)
	return recs, nil
}

func (l *Ledger) insertWithRetry(ctx context.Context, recs []*domain.TransactionRecord) error {
	var err error
	for attempt := 0; attempt < l.retries; attempt++ {
		if err = l.repo.Insert(ctx, recs...); err == nil {
			return nil
		}
		if attempt == l.retries-1 {
			break
		}
		select {
		case <-ctx.Done():
			// 调用方已经放弃，但余额已经改了：不能丢记录，交给 outbox
			return err
		case <-time.After(l.backoff * time.Duration(attempt+1)):
		}
	}
	return err
}

// RecordResolved 把 handle 下仍为 pending 的记录终结
// 未知 handle、已终结、非终态参数都只记日志，不返回错误
func (l *Ledger) RecordResolved(ctx context.Context, handle string, status domain.TxStatus, block *domain.BlockInfo) error {
	if !status.Terminal() {
		logger.Warn(ctx, "ignore non-terminal resolution", zap.String("handle", handle), zap.String("status", string(status)))
		return nil
	}
	n, err := l.repo.Resolve(ctx, handle, status, block, l.now())
	if err != nil {
		return err
	}
	if n == 0 {
		logger.Info(ctx, "resolution ignored: unknown or already terminal handle",
			zap.String("handle", handle), zap.String("status", string(status)))
		return nil
	}
	metrics.RecordsResolved.WithLabelValues(string(status)).Add(float64(n))
	logger.Info(ctx, "records resolved",
		zap.String("handle", handle), zap.String("status", string(status)), zap.Int64("records", n))
	l.pub.Resolved(ctx, handle, status, block)
	return nil
}

func (l *Ledger) ListForOwner(ctx context.Context, owner string, limit, offset int) ([]domain.TransactionRecord, error) {
	return l.repo.ListByOwner(ctx, owner, limit, offset)
}

func (l *Ledger) ByHandle(ctx context.Context, handle string) ([]domain.TransactionRecord, error) {
	return l.repo.ListByExternalID(ctx, handle)
}

// AssetHistory 某资产上的 kind 类记录
func (l *Ledger) AssetHistory(ctx context.Context, kind domain.TxKind, asset string) ([]domain.TransactionRecord, error) {
	return l.repo.ListByAsset(ctx, kind, asset)
}

func (l *Ledger) Pending(ctx context.Context, limit, offset int) ([]domain.TransactionRecord, error) {
	return l.repo.ListPending(ctx, limit, offset)
}
