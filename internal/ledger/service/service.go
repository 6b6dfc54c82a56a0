package service

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"custodex.com/internal/ledger/auth"
	"custodex.com/internal/ledger/domain"
	"custodex.com/internal/ledger/txlog"
	"custodex.com/pkg/logger"
	"custodex.com/pkg/metrics"
	"custodex.com/pkg/xerr"
)

type Deps struct {
	Balances domain.BalanceStore
	Assets   domain.AssetRegistry
	Ledger   *txlog.Ledger
	Adapter  domain.SettlementAdapter
	Gate     *auth.Gate
	// Meta 可选，只用于展示和精度校验
	Meta domain.AssetDescriber
}

// Service 托管账本门面：校验 -> 鉴权 -> 改余额 -> 提交结算 -> 写 pending 记录
// 余额在提交时就更新（本地认定余额），结算结果只体现在记录状态上
type Service struct {
	balances domain.BalanceStore
	assets   domain.AssetRegistry
	ledger   *txlog.Ledger
	adapter  domain.SettlementAdapter
	gate     *auth.Gate
	meta     domain.AssetDescriber
}

func New(d Deps) *Service {
	return &Service{
		balances: d.Balances,
		assets:   d.Assets,
		ledger:   d.Ledger,
		adapter:  d.Adapter,
		gate:     d.Gate,
		meta:     d.Meta,
	}
}

// Deposit 单资产入账（管理员）
func (s *Service) Deposit(ctx context.Context, caller, owner, asset, amount string) (*Submission, error) {
	return s.depositBatch(ctx, "Deposit", caller, owner, []string{asset}, []string{amount})
}

// DepositBatch 先全部校验再逐个入账；中途失败时已入账的部分不回滚，照样提交并记账
func (s *Service) DepositBatch(ctx context.Context, caller, owner string, assets, amounts []string) (*Submission, error) {
	return s.depositBatch(ctx, "DepositBatch", caller, owner, assets, amounts)
}

func (s *Service) depositBatch(ctx context.Context, op, caller, owner string, rawAssets, amounts []string) (sub *Submission, err error) {
	defer observe(op, time.Now(), &err)
	if err := s.gate.RequireAdmin(ctx, caller, op); err != nil {
		return nil, err
	}

	f := fieldErrs{}
	owner = f.address("owner", owner)
	switch {
	case len(rawAssets) == 0:
		f["assets"] = "must not be empty"
	case len(rawAssets) != len(amounts):
		f["amounts"] = "length must match assets"
	}
	if err := f.err(); err != nil {
		return nil, err
	}
	assets := make([]string, len(rawAssets))
	parsed := make([]decimal.Decimal, len(rawAssets))
	for i := range rawAssets {
		af, mf := "assets["+strconv.Itoa(i)+"]", "amounts["+strconv.Itoa(i)+"]"
		assets[i] = f.address(af, rawAssets[i])
		parsed[i] = f.amount(mf, amounts[i])
		if err := s.checkSupported(ctx, f, af, assets[i]); err != nil {
			return nil, err
		}
		s.checkPrecision(ctx, f, mf, assets[i], parsed[i])
	}
	if err := f.err(); err != nil {
		return nil, err
	}

	entries := make([]txlog.Entry, 0, len(assets))
	var creditErr error
	for i, asset := range assets {
		if creditErr = s.balances.Credit(ctx, owner, asset, parsed[i]); creditErr != nil {
			logger.Error(ctx, "deposit credit failed, keeping earlier credits",
				zap.String("owner", owner), zap.String("asset", asset), zap.Int("applied", i), zap.Error(creditErr))
			break
		}
		entries = append(entries, txlog.Entry{Kind: domain.KindDeposit, Owner: owner, Asset: asset, Amount: parsed[i]})
	}
	if len(entries) == 0 {
		return nil, xerr.Wrap(creditErr, xerr.DbError, "credit balance")
	}

	opKind := domain.OpDeposit
	if len(entries) == 1 && domain.IsNative(entries[0].Asset) {
		opKind = domain.OpDepositNative
	}
	sub, err = s.settle(ctx, domain.Operation{
		Kind:    opKind,
		Owner:   owner,
		Assets:  assets[:len(entries)],
		Amounts: parsed[:len(entries)],
	}, entries)
	if err == nil && creditErr != nil {
		ce := &xerr.CodeError{Code: xerr.DbError, Msg: "batch partially applied", Cause: creditErr}
		err = ce.WithField("handle", sub.Handle).WithField("applied", strconv.Itoa(len(entries)))
	}
	return sub, err
}

// DepositNative 原生币入账（管理员）
func (s *Service) DepositNative(ctx context.Context, caller, owner, amount string) (*Submission, error) {
	return s.depositBatch(ctx, "DepositNative", caller, owner, []string{domain.NativeAsset}, []string{amount})
}

// Withdraw 扣减余额（管理员），余额不足直接失败，不产生记录
func (s *Service) Withdraw(ctx context.Context, caller, asset, owner, amount string) (*Submission, error) {
	return s.withdraw(ctx, "Withdraw", caller, asset, owner, amount)
}

func (s *Service) WithdrawNative(ctx context.Context, caller, owner, amount string) (*Submission, error) {
	return s.withdraw(ctx, "WithdrawNative", caller, domain.NativeAsset, owner, amount)
}

func (s *Service) withdraw(ctx context.Context, op, caller, asset, owner, amount string) (sub *Submission, err error) {
	defer observe(op, time.Now(), &err)
	if err := s.gate.RequireAdmin(ctx, caller, op); err != nil {
		return nil, err
	}

	f := fieldErrs{}
	asset = f.address("asset", asset)
	owner = f.address("owner", owner)
	amt := f.amount("amount", amount)
	if err := s.checkSupported(ctx, f, "asset", asset); err != nil {
		return nil, err
	}
	s.checkPrecision(ctx, f, "amount", asset, amt)
	if err := f.err(); err != nil {
		return nil, err
	}

	// 充足性检查在 Debit 内部原子完成
	if err := s.balances.Debit(ctx, owner, asset, amt); err != nil {
		return nil, storeErr(err, "debit balance")
	}

	opKind := domain.OpWithdraw
	if domain.IsNative(asset) {
		opKind = domain.OpWithdrawNative
	}
	return s.settle(ctx, domain.Operation{
		Kind:    opKind,
		Owner:   owner,
		Assets:  []string{asset},
		Amounts: []decimal.Decimal{amt},
	}, []txlog.Entry{{Kind: domain.KindWithdraw, Owner: owner, Asset: asset, Amount: amt}})
}

// Transfer 管理员在两个账户间划转，记录 transfer-out / transfer-in 两条，共享 handle
func (s *Service) Transfer(ctx context.Context, caller, asset, from, to, amount string) (sub *Submission, err error) {
	defer observe("Transfer", time.Now(), &err)
	if err := s.gate.RequireAdmin(ctx, caller, "Transfer"); err != nil {
		return nil, err
	}

	f := fieldErrs{}
	asset = f.address("asset", asset)
	from = f.address("from", from)
	to = f.address("to", to)
	amt := f.amount("amount", amount)
	if _, bad := f["to"]; !bad && from == to {
		f["to"] = "must differ from sender"
	}
	if err := s.checkSupported(ctx, f, "asset", asset); err != nil {
		return nil, err
	}
	s.checkPrecision(ctx, f, "amount", asset, amt)
	if err := f.err(); err != nil {
		return nil, err
	}

	if err := s.balances.Transfer(ctx, from, to, asset, amt); err != nil {
		return nil, storeErr(err, "transfer balance")
	}

	return s.settle(ctx, domain.Operation{
		Kind:         domain.OpTransfer,
		Owner:        from,
		Counterparty: to,
		Assets:       []string{asset},
		Amounts:      []decimal.Decimal{amt},
	}, []txlog.Entry{
		{Kind: domain.KindTransferOut, Owner: from, Counterparty: to, Asset: asset, Amount: amt},
		{Kind: domain.KindTransferIn, Owner: to, Counterparty: from, Asset: asset, Amount: amt},
	})
}

// AddSupportedAsset 幂等：已存在且结算层已接受（或启动时预置）直接成功，不再提交
// 上一次提交没到结算层或链上失败的，重新提交
func (s *Service) AddSupportedAsset(ctx context.Context, caller, asset string) (res *AssetAdded, err error) {
	defer observe("AddSupportedAsset", time.Now(), &err)
	if err := s.gate.RequireAdmin(ctx, caller, "AddSupportedAsset"); err != nil {
		return nil, err
	}
	f := fieldErrs{}
	asset = f.address("asset", asset)
	if err := f.err(); err != nil {
		return nil, err
	}
	if domain.IsNative(asset) {
		return &AssetAdded{Asset: asset, AlreadySupported: true}, nil
	}

	added, err := s.assets.Add(ctx, asset)
	if err != nil {
		return nil, xerr.Wrap(err, xerr.DbError, "add supported asset")
	}
	if !added {
		settled, err := s.assetSettled(ctx, asset)
		if err != nil {
			return nil, err
		}
		if settled {
			return &AssetAdded{Asset: asset, AlreadySupported: true}, nil
		}
		logger.Warn(ctx, "asset known locally but never accepted by settlement, resubmitting", zap.String("asset", asset))
	}

	sub, err := s.settle(ctx, domain.Operation{
		Kind:    domain.OpAddAsset,
		Owner:   domain.NormalizeOwner(caller),
		Assets:  []string{asset},
		Amounts: []decimal.Decimal{decimal.Zero},
	}, []txlog.Entry{{Kind: domain.KindAssetAdded, Owner: domain.NormalizeOwner(caller), Asset: asset, Amount: decimal.Zero}})
	if sub == nil {
		return nil, err
	}
	logger.Info(ctx, "supported asset added", zap.String("asset", asset), zap.String("handle", sub.Handle))
	return &AssetAdded{Asset: asset, Handle: sub.Handle, Status: sub.Status}, err
}

// assetSettled 没有 asset-added 记录说明是预置资产；有记录时要求至少一次提交到了结算层且没失败
func (s *Service) assetSettled(ctx context.Context, asset string) (bool, error) {
	history, err := s.ledger.AssetHistory(ctx, domain.KindAssetAdded, asset)
	if err != nil {
		return false, xerr.Wrap(err, xerr.DbError, "load asset history")
	}
	if len(history) == 0 {
		return true, nil
	}
	for _, rec := range history {
		if !domain.IsLocalHandle(rec.ExternalID) && rec.Status != domain.StatusFailed {
			return true, nil
		}
	}
	return false, nil
}

// settle 余额已改完：提交结算并写 pending 记录
// 提交失败时用本地 handle 记账，返回 AdapterUnavailable（带 handle），余额不回滚
func (s *Service) settle(ctx context.Context, op domain.Operation, entries []txlog.Entry) (*Submission, error) {
	handle, serr := s.adapter.Submit(ctx, op)
	if serr != nil {
		handle = domain.LocalHandlePrefix + uuid.NewString()
		logger.Error(ctx, "⚠️ settlement submit failed, recording under local handle",
			zap.String("op", string(op.Kind)),
			zap.String("owner", op.Owner),
			zap.String("handle", handle),
			zap.Error(serr))
	}

	// 调用方取消也要把记录写完
	recs, err := s.ledger.RecordInitiated(context.WithoutCancel(ctx), handle, entries...)
	if err != nil {
		return nil, err
	}
	sub := &Submission{Handle: handle, Status: domain.StatusPending, Records: recs}
	if serr != nil {
		ce := &xerr.CodeError{Code: xerr.AdapterUnavailable, Msg: xerr.MapErrMsg(xerr.AdapterUnavailable), Cause: serr}
		return sub, ce.WithField("handle", handle)
	}
	return sub, nil
}

// storeErr 余额不足原样返回，其他存储错误统一 DbError
func storeErr(err error, msg string) error {
	if _, ok := xerr.As(err); ok {
		return err
	}
	return xerr.Wrap(err, xerr.DbError, msg)
}

func observe(op string, start time.Time, errp *error) {
	metrics.LedgerOpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	metrics.LedgerOps.WithLabelValues(op, resultLabel(*errp)).Inc()
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	ce, ok := xerr.As(err)
	if !ok {
		return "internal"
	}
	switch ce.Code {
	case xerr.ValidationError:
		return "invalid"
	case xerr.Forbidden:
		return "forbidden"
	case xerr.InsufficientBalance:
		return "insufficient"
	case xerr.AdapterUnavailable:
		return "adapter_unavailable"
	case xerr.RecordNotFound:
		return "not_found"
	default:
		return "internal"
	}
}
