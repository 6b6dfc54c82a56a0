package service

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custodex.com/internal/ledger/auth"
	"custodex.com/internal/ledger/domain"
	"custodex.com/internal/ledger/settlement"
	"custodex.com/internal/ledger/store/memstore"
	"custodex.com/internal/ledger/txlog"
	"custodex.com/pkg/xerr"
)

const (
	adminAddr = "0xA11CE00000000000000000000000000000000001"
	ownerA    = "0xAAAAaaaaAAAAaaaaAAAAaaaaAAAAaaaaAAAAaaaa"
	ownerB    = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	ownerC    = "0xcccccccccccccccccccccccccccccccccccccccc"
	tokenT    = "0x7070707070707070707070707070707070707070"
	tokenT2   = "0x7171717171717171717171717171717171717171"
)

type fixture struct {
	svc      *Service
	sim      *settlement.Simulated
	balances domain.BalanceStore
	records  *memstore.Records
	ledger   *txlog.Ledger
}

type option func(*Deps)

func newFixture(t *testing.T, opts ...option) *fixture {
	t.Helper()
	sim := settlement.NewSimulated(adminAddr, domain.AssetInfo{Symbol: "ETH", Decimals: 18})
	sim.RegisterAsset(domain.AssetInfo{Asset: tokenT, Symbol: "TT", Decimals: 6})
	records := memstore.NewRecords()
	ledger := txlog.New(records)
	d := Deps{
		Balances: memstore.NewBalances(),
		Assets:   memstore.NewAssets(tokenT, tokenT2),
		Ledger:   ledger,
		Adapter:  sim,
		Gate:     auth.NewGate(sim),
		Meta:     sim,
	}
	for _, o := range opts {
		o(&d)
	}
	return &fixture{svc: New(d), sim: sim, balances: d.Balances, records: records, ledger: ledger}
}

func (f *fixture) balance(t *testing.T, owner, asset string) string {
	t.Helper()
	v, err := f.svc.GetBalance(context.Background(), adminAddr, owner, asset)
	require.NoError(t, err)
	return v.Amount.String()
}

func (f *fixture) deposit(t *testing.T, owner, asset, amount string) *Submission {
	t.Helper()
	sub, err := f.svc.Deposit(context.Background(), adminAddr, owner, asset, amount)
	require.NoError(t, err)
	return sub
}

func TestScenario_DepositCreditsAndRecords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sub := f.deposit(t, ownerA, tokenT, "100")
	assert.Equal(t, domain.StatusPending, sub.Status)
	assert.NotEmpty(t, sub.Handle)

	// owner 大小写不敏感
	v, err := f.svc.GetBalance(ctx, strings.ToLower(ownerA), ownerA, tokenT)
	require.NoError(t, err)
	assert.Equal(t, "100", v.Amount.String())
	assert.Equal(t, "TT", v.Symbol)

	recs, err := f.svc.ListTransactions(ctx, ownerA, ownerA, 0, 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, domain.KindDeposit, recs[0].Kind)
	assert.Equal(t, domain.StatusPending, recs[0].Status)
	assert.Equal(t, sub.Handle, recs[0].ExternalID)
}

func TestScenario_OverdrawFailsWithoutRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.deposit(t, ownerA, tokenT, "100")

	_, err := f.svc.Withdraw(ctx, adminAddr, tokenT, ownerA, "150")
	require.Error(t, err)
	assert.True(t, xerr.IsCode(err, xerr.InsufficientBalance))
	assert.Equal(t, "100", f.balance(t, ownerA, tokenT))

	recs, err := f.svc.ListTransactions(ctx, adminAddr, ownerA, 0, 0)
	require.NoError(t, err)
	require.Len(t, recs, 1, "failed withdraw creates no record")
	assert.Equal(t, domain.KindDeposit, recs[0].Kind)
	assert.Len(t, f.sim.Submitted(), 1)
}

func TestScenario_TransferTwoLegsShareHandle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.deposit(t, ownerA, tokenT, "100")

	sub, err := f.svc.Transfer(ctx, adminAddr, tokenT, ownerA, ownerB, "30")
	require.NoError(t, err)
	assert.Equal(t, "70", f.balance(t, ownerA, tokenT))
	assert.Equal(t, "30", f.balance(t, ownerB, tokenT))

	legs, err := f.ledger.ByHandle(ctx, sub.Handle)
	require.NoError(t, err)
	require.Len(t, legs, 2)
	assert.Equal(t, domain.KindTransferOut, legs[0].Kind)
	assert.Equal(t, domain.NormalizeOwner(ownerA), legs[0].Owner)
	assert.Equal(t, ownerB, legs[0].Counterparty)
	assert.Equal(t, domain.KindTransferIn, legs[1].Kind)
	assert.Equal(t, ownerB, legs[1].Owner)

	// 接收方能在自己的流水里看到 in 腿
	recs, err := f.svc.ListTransactions(ctx, ownerB, ownerB, 10, 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, domain.KindTransferIn, recs[0].Kind)
}

func TestScenario_TransferInsufficientLeavesRecipient(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, ownerA, tokenT, "10")

	_, err := f.svc.Transfer(context.Background(), adminAddr, tokenT, ownerA, ownerB, "30")
	assert.True(t, xerr.IsCode(err, xerr.InsufficientBalance))
	assert.Equal(t, "10", f.balance(t, ownerA, tokenT))
	assert.Equal(t, "0", f.balance(t, ownerB, tokenT))
}

func TestScenario_NonAdminForbiddenRegardlessOfInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.deposit(t, ownerA, tokenT, "100")

	calls := []struct {
		name string
		fn   func() error
	}{
		{"withdraw", func() error { _, err := f.svc.Withdraw(ctx, ownerC, tokenT, ownerA, "10"); return err }},
		{"withdraw bad input", func() error { _, err := f.svc.Withdraw(ctx, ownerC, "nope", "nope", "-1"); return err }},
		{"withdraw native", func() error { _, err := f.svc.WithdrawNative(ctx, ownerC, ownerA, "1"); return err }},
		{"transfer", func() error { _, err := f.svc.Transfer(ctx, ownerC, tokenT, ownerA, ownerC, "10"); return err }},
		{"transfer bad input", func() error { _, err := f.svc.Transfer(ctx, ownerC, "", "", "", "x"); return err }},
		{"deposit", func() error { _, err := f.svc.Deposit(ctx, ownerC, ownerC, tokenT, "10"); return err }},
		{"deposit batch mismatch", func() error {
			_, err := f.svc.DepositBatch(ctx, ownerC, ownerC, []string{tokenT}, nil)
			return err
		}},
		{"deposit native", func() error { _, err := f.svc.DepositNative(ctx, ownerC, ownerC, "1"); return err }},
		{"add asset", func() error { _, err := f.svc.AddSupportedAsset(ctx, ownerC, "0x1234"); return err }},
		{"anonymous", func() error { _, err := f.svc.Withdraw(ctx, "", tokenT, ownerA, "10"); return err }},
	}
	for _, c := range calls {
		t.Run(c.name, func(t *testing.T) {
			err := c.fn()
			require.Error(t, err)
			assert.True(t, xerr.IsCode(err, xerr.Forbidden), "got %v", err)
		})
	}
	assert.Equal(t, "100", f.balance(t, ownerA, tokenT))
	assert.Len(t, f.sim.Submitted(), 1)
}

func TestScenario_BatchValidatesAllBeforeApplying(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.DepositBatch(ctx, adminAddr, ownerA, []string{tokenT, tokenT2}, []string{"10", "bad"})
	require.Error(t, err)
	ce, ok := xerr.As(err)
	require.True(t, ok)
	assert.Equal(t, xerr.ValidationError, ce.Code)
	assert.Contains(t, ce.Fields, "amounts[1]")
	assert.Equal(t, "0", f.balance(t, ownerA, tokenT))
	assert.Equal(t, "0", f.balance(t, ownerA, tokenT2))

	_, err = f.svc.DepositBatch(ctx, adminAddr, ownerA, []string{tokenT, tokenT2}, []string{"10"})
	assert.True(t, xerr.IsCode(err, xerr.ValidationError))
	_, err = f.svc.DepositBatch(ctx, adminAddr, ownerA, nil, nil)
	assert.True(t, xerr.IsCode(err, xerr.ValidationError))
	assert.Empty(t, f.sim.Submitted())
}

func TestDepositBatch_OneSubmissionManyRecords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sub, err := f.svc.DepositBatch(ctx, adminAddr, ownerA,
		[]string{tokenT, domain.NativeAsset, tokenT2}, []string{"10", "0.5", "7"})
	require.NoError(t, err)
	require.Len(t, sub.Records, 3)
	for _, r := range sub.Records {
		assert.Equal(t, sub.Handle, r.ExternalID)
	}
	assert.Equal(t, "0.5", f.balance(t, ownerA, domain.NativeAsset))
	require.Len(t, f.sim.Submitted(), 1)
	assert.Equal(t, domain.OpDeposit, f.sim.Submitted()[0].Kind)
}

func TestScenario_ConcurrentWithdrawalsOnlyOneWins(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, ownerA, tokenT, "100")

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok, lost int
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Withdraw(context.Background(), adminAddr, tokenT, ownerA, "60")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
			} else if xerr.IsCode(err, xerr.InsufficientBalance) {
				lost++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, lost)
	assert.Equal(t, "40", f.balance(t, ownerA, tokenT))
}

func TestValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.deposit(t, ownerA, tokenT, "100")
	unsupported := "0x9999999999999999999999999999999999999999"

	tests := []struct {
		name  string
		fn    func() error
		field string
	}{
		{"bad owner", func() error { _, err := f.svc.Deposit(ctx, adminAddr, "alice", tokenT, "1"); return err }, "owner"},
		{"zero amount", func() error { _, err := f.svc.Withdraw(ctx, adminAddr, tokenT, ownerA, "0"); return err }, "amount"},
		{"negative amount", func() error { _, err := f.svc.WithdrawNative(ctx, adminAddr, ownerA, "-3"); return err }, "amount"},
		{"unsupported asset", func() error { _, err := f.svc.Deposit(ctx, adminAddr, ownerA, unsupported, "1"); return err }, "assets[0]"},
		{"self transfer", func() error { _, err := f.svc.Transfer(ctx, adminAddr, tokenT, ownerA, ownerA, "1"); return err }, "to"},
		{"too precise", func() error { _, err := f.svc.Withdraw(ctx, adminAddr, tokenT, ownerA, "1.0000001"); return err }, "amount"},
		{"bad read owner", func() error { _, err := f.svc.GetBalance(ctx, adminAddr, "0x12", tokenT); return err }, "owner"},
		{"page too large", func() error { _, err := f.svc.ListTransactions(ctx, adminAddr, ownerA, 10_000, 0); return err }, "limit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.fn()
			ce, ok := xerr.As(err)
			require.True(t, ok, "got %v", err)
			assert.Equal(t, xerr.ValidationError, ce.Code)
			assert.Contains(t, ce.Fields, tt.field)
		})
	}
	assert.Equal(t, "100", f.balance(t, ownerA, tokenT))
}

func TestAmountScaleBoundedWithoutMetadata(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// tokenT2 查不到元信息，跳过资产精度校验，但仍受存储精度限制
	_, err := f.svc.Deposit(ctx, adminAddr, ownerA, tokenT2, "1."+strings.Repeat("0", 30)+"1")
	require.True(t, xerr.IsCode(err, xerr.ValidationError), "got %v", err)
	f.deposit(t, ownerA, tokenT2, "1."+strings.Repeat("0", 29)+"1")

	// 24 位精度的资产按原值入账
	f.sim.RegisterAsset(domain.AssetInfo{Asset: tokenT2, Symbol: "T24", Decimals: 24})
	tiny := "0.000000000000000000000001"
	f.deposit(t, ownerB, tokenT2, tiny)
	f.deposit(t, ownerB, tokenT2, tiny)
	assert.Equal(t, "0.000000000000000000000002", f.balance(t, ownerB, tokenT2))

	_, err = f.svc.Deposit(ctx, adminAddr, ownerB, tokenT2, "0.0000000000000000000000001")
	assert.True(t, xerr.IsCode(err, xerr.ValidationError))
}

func TestSelfAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.deposit(t, ownerA, tokenT, "5")

	_, err := f.svc.GetBalance(ctx, ownerA, ownerA, tokenT)
	assert.NoError(t, err)
	_, err = f.svc.GetAllBalances(ctx, ownerA, ownerA)
	assert.NoError(t, err)

	_, err = f.svc.GetBalance(ctx, ownerA, ownerB, tokenT)
	assert.True(t, xerr.IsCode(err, xerr.Forbidden))
	_, err = f.svc.GetAllBalances(ctx, ownerB, ownerA)
	assert.True(t, xerr.IsCode(err, xerr.Forbidden))
	_, err = f.svc.ListTransactions(ctx, ownerB, ownerA, 0, 0)
	assert.True(t, xerr.IsCode(err, xerr.Forbidden))

	_, err = f.svc.GetBalance(ctx, adminAddr, ownerB, tokenT)
	assert.NoError(t, err)
}

func TestAdminRotationObservedImmediately(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.deposit(t, ownerA, tokenT, "5")

	f.sim.SetAdmin(ownerC)
	_, err := f.svc.Withdraw(ctx, adminAddr, tokenT, ownerA, "1")
	assert.True(t, xerr.IsCode(err, xerr.Forbidden))
	_, err = f.svc.Withdraw(ctx, ownerC, tokenT, ownerA, "1")
	assert.NoError(t, err)

	// 查询失败按非管理员处理
	f.sim.FailAdmin(errors.New("rpc down"))
	_, err = f.svc.Withdraw(ctx, ownerC, tokenT, ownerA, "1")
	assert.True(t, xerr.IsCode(err, xerr.Forbidden))
	// 本人读不依赖 admin 查询
	_, err = f.svc.GetBalance(ctx, ownerA, ownerA, tokenT)
	assert.NoError(t, err)
}

type flakyBalances struct {
	domain.BalanceStore
	failAsset string
}

func (f flakyBalances) Get(ctx context.Context, owner, asset string) (decimal.Decimal, error) {
	if asset == f.failAsset {
		return decimal.Zero, errors.New("disk I/O error")
	}
	return f.BalanceStore.Get(ctx, owner, asset)
}

func TestGetAllBalances_OmitsFailedAsset(t *testing.T) {
	f := newFixture(t, func(d *Deps) {
		d.Balances = flakyBalances{BalanceStore: d.Balances, failAsset: tokenT2}
	})
	f.deposit(t, ownerA, tokenT, "12.5")

	views, err := f.svc.GetAllBalances(context.Background(), ownerA, ownerA)
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, domain.NativeAsset, views[0].Asset)
	assert.Equal(t, "ETH", views[0].Symbol)
	assert.True(t, views[0].Amount.IsZero())
	assert.Equal(t, tokenT, views[1].Asset)
	assert.Equal(t, "12.5", views[1].Amount.String())
	assert.Equal(t, int32(6), views[1].Decimals)
}

func TestSupportedAssets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	newAsset := "0x4a4a4a4a4a4a4a4a4a4a4a4a4a4a4a4a4a4a4a4a"

	first, err := f.svc.GetSupportedAssets(ctx)
	require.NoError(t, err)
	second, err := f.svc.GetSupportedAssets(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, []string{domain.NativeAsset, tokenT, tokenT2}, first)

	res, err := f.svc.AddSupportedAsset(ctx, adminAddr, "0x"+strings.ToUpper(newAsset[2:]))
	require.NoError(t, err)
	assert.False(t, res.AlreadySupported)
	assert.NotEmpty(t, res.Handle)

	again, err := f.svc.AddSupportedAsset(ctx, adminAddr, newAsset)
	require.NoError(t, err)
	assert.True(t, again.AlreadySupported)
	assert.Empty(t, again.Handle)

	native, err := f.svc.AddSupportedAsset(ctx, adminAddr, domain.NativeAsset)
	require.NoError(t, err)
	assert.True(t, native.AlreadySupported)

	list, err := f.svc.GetSupportedAssets(ctx)
	require.NoError(t, err)
	assert.Equal(t, newAsset, list[len(list)-1])
	assert.Len(t, f.sim.Submitted(), 1)

	recs, err := f.ledger.ByHandle(ctx, res.Handle)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, domain.KindAssetAdded, recs[0].Kind)
}

func TestAddSupportedAsset_ResubmitsUntilSettlementAccepts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	newAsset := "0x4b4b4b4b4b4b4b4b4b4b4b4b4b4b4b4b4b4b4b4b"

	f.sim.FailSubmits(errors.New("connection refused"))
	res, err := f.svc.AddSupportedAsset(ctx, adminAddr, newAsset)
	require.True(t, xerr.IsCode(err, xerr.AdapterUnavailable))
	require.NotNil(t, res)
	assert.True(t, domain.IsLocalHandle(res.Handle))

	// 结算层恢复后重试必须真正提交
	f.sim.FailSubmits(nil)
	retry, err := f.svc.AddSupportedAsset(ctx, adminAddr, newAsset)
	require.NoError(t, err)
	assert.False(t, retry.AlreadySupported)
	assert.False(t, domain.IsLocalHandle(retry.Handle))
	require.Len(t, f.sim.Submitted(), 1)
	assert.Equal(t, domain.OpAddAsset, f.sim.Submitted()[0].Kind)

	again, err := f.svc.AddSupportedAsset(ctx, adminAddr, newAsset)
	require.NoError(t, err)
	assert.True(t, again.AlreadySupported)
	assert.Len(t, f.sim.Submitted(), 1)

	// 链上失败后也允许重新提交
	require.NoError(t, f.ledger.RecordResolved(ctx, retry.Handle, domain.StatusFailed, nil))
	third, err := f.svc.AddSupportedAsset(ctx, adminAddr, newAsset)
	require.NoError(t, err)
	assert.False(t, third.AlreadySupported)
	assert.Len(t, f.sim.Submitted(), 2)

	list, err := f.svc.GetSupportedAssets(ctx)
	require.NoError(t, err)
	count := 0
	for _, a := range list {
		if a == newAsset {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestAdapterFailure_RecordsLocalHandle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.sim.FailSubmits(errors.New("dial tcp: connection refused"))

	sub, err := f.svc.Deposit(ctx, adminAddr, ownerA, tokenT, "20")
	require.Error(t, err)
	ce, ok := xerr.As(err)
	require.True(t, ok)
	assert.Equal(t, xerr.AdapterUnavailable, ce.Code)
	require.NotNil(t, sub)
	assert.True(t, domain.IsLocalHandle(sub.Handle))
	assert.Equal(t, sub.Handle, ce.Fields["handle"])

	// 余额不回滚，记录仍为 pending
	assert.Equal(t, "20", f.balance(t, ownerA, tokenT))
	recs, err := f.ledger.ByHandle(ctx, sub.Handle)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, domain.StatusPending, recs[0].Status)

	// 宽限期内不处理，过期后判失败
	r := NewReconciler(f.ledger, f.sim, nil, ReconcilerConfig{LocalGrace: time.Minute})
	n, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	r.now = func() time.Time { return time.Now().UTC().Add(2 * time.Minute) }
	n, err = r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	recs, _ = f.ledger.ByHandle(ctx, sub.Handle)
	assert.Equal(t, domain.StatusFailed, recs[0].Status)
}

func TestGetOperationStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.deposit(t, ownerA, tokenT, "100")
	sub, err := f.svc.Transfer(ctx, adminAddr, tokenT, ownerA, ownerB, "1")
	require.NoError(t, err)

	st, err := f.svc.GetOperationStatus(ctx, ownerB, sub.Handle)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, st.Status)

	_, err = f.svc.GetOperationStatus(ctx, ownerC, sub.Handle)
	assert.True(t, xerr.IsCode(err, xerr.Forbidden))
	// 非管理员查不存在的 handle 和查别人的一样是 Forbidden
	_, err = f.svc.GetOperationStatus(ctx, ownerA, "0xdoesnotexist")
	assert.True(t, xerr.IsCode(err, xerr.Forbidden))
	_, err = f.svc.GetOperationStatus(ctx, adminAddr, "0xdoesnotexist")
	assert.True(t, xerr.IsCode(err, xerr.RecordNotFound))
	_, err = f.svc.GetOperationStatus(ctx, ownerA, " ")
	assert.True(t, xerr.IsCode(err, xerr.ValidationError))

	require.NoError(t, f.sim.Resolve(sub.Handle, domain.StatusSuccess))
	st, err = f.svc.GetOperationStatus(ctx, adminAddr, sub.Handle)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, st.Status)
	require.NotNil(t, st.Block)
	for _, r := range st.Records {
		assert.Equal(t, domain.StatusSuccess, r.Status)
		assert.NotNil(t, r.ResolvedAt)
	}
}

func TestReconciler_ResolvesTerminalHandles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ok := f.deposit(t, ownerA, tokenT, "10")
	bad := f.deposit(t, ownerB, tokenT, "10")
	still := f.deposit(t, ownerC, tokenT, "10")

	require.NoError(t, f.sim.Resolve(ok.Handle, domain.StatusSuccess))
	require.NoError(t, f.sim.Resolve(bad.Handle, domain.StatusFailed))

	r := NewReconciler(f.ledger, f.sim, nil, ReconcilerConfig{})
	n, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for handle, want := range map[string]domain.TxStatus{
		ok.Handle:    domain.StatusSuccess,
		bad.Handle:   domain.StatusFailed,
		still.Handle: domain.StatusPending,
	} {
		recs, err := f.ledger.ByHandle(ctx, handle)
		require.NoError(t, err)
		assert.Equal(t, want, recs[0].Status)
	}

	// 第二轮：已终结的不再处理
	n, err = r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

type fixedLock struct{ leader bool }

func (l fixedLock) TryAcquire(context.Context, time.Duration) (bool, error) { return l.leader, nil }

func TestReconciler_FollowerSkips(t *testing.T) {
	f := newFixture(t)
	sub := f.deposit(t, ownerA, tokenT, "10")
	require.NoError(t, f.sim.Resolve(sub.Handle, domain.StatusSuccess))

	r := NewReconciler(f.ledger, f.sim, fixedLock{leader: false}, ReconcilerConfig{})
	n, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestReconciler_PagesPastUnresolvedHandles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, owner := range []string{ownerA, ownerB, ownerC} {
		f.deposit(t, owner, tokenT, "1")
	}
	late := f.deposit(t, ownerA, tokenT, "2")
	require.NoError(t, f.sim.Resolve(late.Handle, domain.StatusSuccess))

	// 前三条一直没结果，第二轮要翻到后面
	r := NewReconciler(f.ledger, f.sim, nil, ReconcilerConfig{BatchSize: 3})
	n, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	n, err = r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	recs, err := f.ledger.ByHandle(ctx, late.Handle)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, recs[0].Status)
	assert.Equal(t, 0, r.cursor, "翻到末尾后回到开头")
}

func TestReconciler_FailsHandlesNeverSeenOnChain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := f.deposit(t, ownerA, tokenT, "5")

	r := NewReconciler(f.ledger, f.sim, nil, ReconcilerConfig{PendingTimeout: time.Hour})
	n, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	r.now = func() time.Time { return time.Now().UTC().Add(2 * time.Hour) }
	n, err = r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	recs, err := f.ledger.ByHandle(ctx, sub.Handle)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, recs[0].Status)
	// 余额不回滚
	assert.Equal(t, "5", f.balance(t, ownerA, tokenT))
}

func TestBalanceConservation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owners := []string{ownerA, ownerB, ownerC}
	rng := rand.New(rand.NewSource(42))

	net := map[string]decimal.Decimal{}
	for i := 0; i < 300; i++ {
		amt := decimal.NewFromInt(int64(rng.Intn(50) + 1))
		o := owners[rng.Intn(len(owners))]
		switch rng.Intn(3) {
		case 0:
			_, err := f.svc.Deposit(ctx, adminAddr, o, tokenT, amt.String())
			require.NoError(t, err)
			net[o] = net[o].Add(amt)
		case 1:
			if _, err := f.svc.Withdraw(ctx, adminAddr, tokenT, o, amt.String()); err == nil {
				net[o] = net[o].Sub(amt)
			} else {
				require.True(t, xerr.IsCode(err, xerr.InsufficientBalance))
			}
		case 2:
			to := owners[(rng.Intn(2)+1+indexOf(owners, o))%len(owners)]
			if _, err := f.svc.Transfer(ctx, adminAddr, tokenT, o, to, amt.String()); err == nil {
				net[o] = net[o].Sub(amt)
				net[to] = net[to].Add(amt)
			} else {
				require.True(t, xerr.IsCode(err, xerr.InsufficientBalance))
			}
		}
	}
	for _, o := range owners {
		v, err := f.svc.GetBalance(ctx, adminAddr, o, tokenT)
		require.NoError(t, err)
		assert.False(t, v.Amount.IsNegative())
		assert.True(t, net[o].Equal(v.Amount), "owner %s: want %s got %s", o, net[o], v.Amount)
	}
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}

func TestLedgerIdentity(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, "simulated", f.svc.LedgerIdentity().Kind)
}
