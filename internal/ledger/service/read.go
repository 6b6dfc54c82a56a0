package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"custodex.com/internal/ledger/domain"
	"custodex.com/pkg/logger"
	"custodex.com/pkg/xerr"
)

const balanceFanout = 8

// GetBalance 本人或管理员可读
func (s *Service) GetBalance(ctx context.Context, caller, owner, asset string) (view *BalanceView, err error) {
	defer observe("GetBalance", time.Now(), &err)
	f := fieldErrs{}
	owner = f.address("owner", owner)
	asset = f.address("asset", asset)
	if err := f.err(); err != nil {
		return nil, err
	}
	if err := s.gate.RequireRead(ctx, caller, owner, "GetBalance"); err != nil {
		return nil, err
	}
	v, err := s.balanceOf(ctx, owner, asset)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// GetAllBalances 原生币 + 所有受支持资产；单个资产读失败只省略该项
func (s *Service) GetAllBalances(ctx context.Context, caller, owner string) (views []BalanceView, err error) {
	defer observe("GetAllBalances", time.Now(), &err)
	f := fieldErrs{}
	owner = f.address("owner", owner)
	if err := f.err(); err != nil {
		return nil, err
	}
	if err := s.gate.RequireRead(ctx, caller, owner, "GetAllBalances"); err != nil {
		return nil, err
	}
	assets, err := s.supported(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]AssetBalanceResult, len(assets))
	var g errgroup.Group
	g.SetLimit(balanceFanout)
	for i, asset := range assets {
		g.Go(func() error {
			v, err := s.balanceOf(ctx, owner, asset)
			results[i] = AssetBalanceResult{Balance: v, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	views = make([]BalanceView, 0, len(results))
	for i, r := range results {
		if r.Err != nil {
			logger.Warn(ctx, "balance read failed, omitting asset",
				zap.String("owner", owner), zap.String("asset", assets[i]), zap.Error(r.Err))
			continue
		}
		views = append(views, r.Balance)
	}
	return views, nil
}

func (s *Service) balanceOf(ctx context.Context, owner, asset string) (BalanceView, error) {
	amt, err := s.balances.Get(ctx, owner, asset)
	if err != nil {
		return BalanceView{}, xerr.Wrap(err, xerr.DbError, "read balance")
	}
	v := BalanceView{Asset: asset, Amount: amt}
	if s.meta != nil {
		// 元信息只是展示用，失败不影响余额
		if info, err := s.meta.Describe(ctx, asset); err == nil {
			v.Symbol, v.Decimals = info.Symbol, info.Decimals
		}
	}
	return v, nil
}

// GetSupportedAssets 公开接口，原生币排第一
func (s *Service) GetSupportedAssets(ctx context.Context) (assets []string, err error) {
	defer observe("GetSupportedAssets", time.Now(), &err)
	return s.supported(ctx)
}

func (s *Service) supported(ctx context.Context) ([]string, error) {
	list, err := s.assets.List(ctx)
	if err != nil {
		return nil, xerr.Wrap(err, xerr.DbError, "load supported assets")
	}
	out := make([]string, 0, len(list)+1)
	out = append(out, domain.NativeAsset)
	for _, a := range list {
		if !domain.IsNative(a) {
			out = append(out, a)
		}
	}
	return out, nil
}

// GetOperationStatus 参与方或管理员可查；仍 pending 时实时问一次结算层
// 不存在的 handle 只对管理员返回 RecordNotFound，其他人一律 Forbidden
func (s *Service) GetOperationStatus(ctx context.Context, caller, handle string) (st *OperationStatus, err error) {
	defer observe("GetOperationStatus", time.Now(), &err)
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return nil, xerr.Validation(map[string]string{"handle": "must not be empty"})
	}
	recs, err := s.ledger.ByHandle(ctx, handle)
	if err != nil {
		return nil, xerr.Wrap(err, xerr.DbError, "load records")
	}
	if !involves(recs, caller) {
		if err := s.gate.RequireAdmin(ctx, caller, "GetOperationStatus"); err != nil {
			return nil, err
		}
	}
	if len(recs) == 0 {
		return nil, xerr.NewErrCode(xerr.RecordNotFound)
	}

	if recs[0].Status == domain.StatusPending && !domain.IsLocalHandle(handle) {
		rep, err := s.adapter.Status(ctx, handle)
		switch {
		case err != nil:
			logger.Warn(ctx, "live status query failed, serving stored status", zap.String("handle", handle), zap.Error(err))
		case rep.Status.Terminal():
			if err := s.ledger.RecordResolved(ctx, handle, rep.Status, rep.Block); err != nil {
				logger.Warn(ctx, "record resolution failed", zap.String("handle", handle), zap.Error(err))
			} else if fresh, err := s.ledger.ByHandle(ctx, handle); err == nil {
				recs = fresh
			}
		}
	}
	return &OperationStatus{Handle: handle, Status: recs[0].Status, Block: recs[0].Block, Records: recs}, nil
}

// RequireAdmin 给传输层在解析请求体之前用，非管理员不管输入是否合法都是 Forbidden
func (s *Service) RequireAdmin(ctx context.Context, caller, op string) error {
	return s.gate.RequireAdmin(ctx, caller, op)
}

func involves(recs []domain.TransactionRecord, caller string) bool {
	caller = domain.NormalizeOwner(caller)
	if caller == "" {
		return false
	}
	for _, r := range recs {
		if r.Owner == caller || r.Counterparty == caller {
			return true
		}
	}
	return false
}

// ListTransactions 按时间倒序分页
func (s *Service) ListTransactions(ctx context.Context, caller, owner string, limit, offset int) (recs []domain.TransactionRecord, err error) {
	defer observe("ListTransactions", time.Now(), &err)
	f := fieldErrs{}
	owner = f.address("owner", owner)
	if limit < 0 || limit > MaxPageLimit {
		f["limit"] = "out of range"
	}
	if offset < 0 {
		f["offset"] = "must not be negative"
	}
	if err := f.err(); err != nil {
		return nil, err
	}
	if err := s.gate.RequireRead(ctx, caller, owner, "ListTransactions"); err != nil {
		return nil, err
	}
	if limit == 0 {
		limit = DefaultPageLimit
	}
	recs, err = s.ledger.ListForOwner(ctx, owner, limit, offset)
	if err != nil {
		return nil, xerr.Wrap(err, xerr.DbError, "list records")
	}
	return recs, nil
}

// LedgerIdentity 结算层身份，不暴露 adapter 配置
func (s *Service) LedgerIdentity() domain.LedgerIdentity {
	if r, ok := s.adapter.(domain.IdentityReporter); ok {
		return r.Identity()
	}
	return domain.LedgerIdentity{Kind: "unknown"}
}
