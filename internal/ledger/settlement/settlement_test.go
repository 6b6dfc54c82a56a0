package settlement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custodex.com/internal/ledger/domain"
	"custodex.com/pkg/ratelimit"
	"custodex.com/pkg/xerr"
)

const (
	adminAddr = "0xAAAAaaaaAAAAaaaaAAAAaaaaAAAAaaaaAAAAaaaa"
	userAddr  = "0x2222222222222222222222222222222222222222"
)

func depositOp() domain.Operation {
	return domain.Operation{
		Kind:    domain.OpDepositNative,
		Owner:   userAddr,
		Assets:  []string{domain.NativeAsset},
		Amounts: []decimal.Decimal{decimal.NewFromInt(1)},
	}
}

func TestSimulated_Lifecycle(t *testing.T) {
	sim := NewSimulated(adminAddr, domain.AssetInfo{Symbol: "ETH", Decimals: 18})
	ctx := context.Background()

	admin, err := sim.AdminIdentity(ctx)
	require.NoError(t, err)
	assert.Equal(t, "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", admin)

	h1, err := sim.Submit(ctx, depositOp())
	require.NoError(t, err)
	h2, err := sim.Submit(ctx, depositOp())
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)

	rep, err := sim.Status(ctx, h1)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, rep.Status)

	require.NoError(t, sim.Resolve(h1, domain.StatusSuccess))
	rep, err = sim.Status(ctx, h1)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, rep.Status)
	require.NotNil(t, rep.Block)

	_, err = sim.Status(ctx, "0xnope")
	assert.True(t, xerr.IsCode(err, xerr.RecordNotFound))
	assert.Len(t, sim.Submitted(), 2)
}

func TestSimulated_AutoConfirmAndFailures(t *testing.T) {
	sim := NewSimulated(adminAddr, domain.AssetInfo{Symbol: "ETH", Decimals: 18})
	ctx := context.Background()

	sim.AutoConfirm(true)
	h, err := sim.Submit(ctx, depositOp())
	require.NoError(t, err)
	rep, _ := sim.Status(ctx, h)
	assert.Equal(t, domain.StatusSuccess, rep.Status)

	sim.FailSubmits(errors.New("rpc down"))
	_, err = sim.Submit(ctx, depositOp())
	assert.Error(t, err)

	sim.FailAdmin(errors.New("rpc down"))
	_, err = sim.AdminIdentity(ctx)
	assert.Error(t, err)
}

func TestSimulated_Describe(t *testing.T) {
	sim := NewSimulated(adminAddr, domain.AssetInfo{Symbol: "ETH", Decimals: 18})
	sim.RegisterAsset(domain.AssetInfo{Asset: "0xDAC17F958D2ee523a2206206994597C13D831ec7", Symbol: "USDT", Decimals: 6})

	info, err := sim.Describe(context.Background(), "0xdac17f958d2ee523a2206206994597c13d831ec7")
	require.NoError(t, err)
	assert.Equal(t, "USDT", info.Symbol)

	native, err := sim.Describe(context.Background(), domain.NativeAsset)
	require.NoError(t, err)
	assert.Equal(t, domain.NativeAsset, native.Asset)
}

func newGuard(inner domain.SettlementAdapter, trips uint32) *Guard {
	mgr := ratelimit.NewManager(ratelimit.Rule{
		TripConsecutiveFailures: trips,
		Timeout:                 time.Minute,
	}, nil)
	return NewGuard(inner, mgr, time.Second)
}

func TestGuard_MapsErrorsToAdapterUnavailable(t *testing.T) {
	sim := NewSimulated(adminAddr, domain.AssetInfo{Symbol: "ETH", Decimals: 18})
	g := newGuard(sim, 100)
	ctx := context.Background()
	require.NoError(t, g.Healthy())

	sim.FailSubmits(errors.New("dial tcp: connection refused"))
	_, err := g.Submit(ctx, depositOp())
	require.Error(t, err)
	assert.True(t, xerr.IsCode(err, xerr.AdapterUnavailable))

	// 业务错误保持原样
	_, err = g.Status(ctx, "0xmissing")
	assert.True(t, xerr.IsCode(err, xerr.RecordNotFound))

	sim.FailSubmits(nil)
	h, err := g.Submit(ctx, depositOp())
	require.NoError(t, err)
	assert.NotEmpty(t, h)
	assert.Equal(t, "simulated", g.Identity().Kind)
}

func TestGuard_OpensAfterConsecutiveFailures(t *testing.T) {
	sim := NewSimulated(adminAddr, domain.AssetInfo{Symbol: "ETH", Decimals: 18})
	g := newGuard(sim, 2)
	ctx := context.Background()

	sim.FailAdmin(errors.New("timeout"))
	for i := 0; i < 2; i++ {
		_, err := g.AdminIdentity(ctx)
		require.Error(t, err)
	}

	// 依赖恢复，但熔断仍打开
	sim.FailAdmin(nil)
	_, err := g.AdminIdentity(ctx)
	require.Error(t, err)
	assert.True(t, xerr.IsCode(err, xerr.AdapterUnavailable))
	assert.ErrorContains(t, g.Healthy(), "AdminIdentity")

	// 其他方法有独立的熔断器
	_, err = g.Submit(ctx, depositOp())
	assert.NoError(t, err)
}

type slowAdapter struct{ domain.SettlementAdapter }

func (slowAdapter) AdminIdentity(ctx context.Context) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestGuard_PerCallTimeout(t *testing.T) {
	mgr := ratelimit.NewManager(ratelimit.Rule{TripConsecutiveFailures: 10}, nil)
	g := NewGuard(slowAdapter{}, mgr, 20*time.Millisecond)

	start := time.Now()
	_, err := g.AdminIdentity(context.Background())
	require.Error(t, err)
	assert.True(t, xerr.IsCode(err, xerr.AdapterUnavailable))
	assert.Less(t, time.Since(start), time.Second)
}
