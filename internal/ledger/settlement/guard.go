package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"custodex.com/internal/ledger/domain"
	"custodex.com/pkg/logger"
	"custodex.com/pkg/metrics"
	"custodex.com/pkg/ratelimit"
	"custodex.com/pkg/xerr"
)

// Guard 包一层熔断 + 单次调用超时，所有依赖错误统一成 AdapterUnavailable
type Guard struct {
	inner   domain.SettlementAdapter
	mgr     *ratelimit.Manager
	timeout time.Duration
}

var _ domain.SettlementAdapter = (*Guard)(nil)

func NewGuard(inner domain.SettlementAdapter, mgr *ratelimit.Manager, timeout time.Duration) *Guard {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	mgr.OnStateChange(func(name string, from, to gobreaker.State) {
		// gobreaker.State: closed=0 half-open=1 open=2
		metrics.BreakerState.WithLabelValues(name).Set(float64(to))
		logger.Warn(context.Background(), "settlement breaker state changed",
			zap.String("method", name), zap.String("from", from.String()), zap.String("to", to.String()))
	})
	return &Guard{inner: inner, mgr: mgr, timeout: timeout}
}

func (g *Guard) Submit(ctx context.Context, op domain.Operation) (string, error) {
	return call(ctx, g, "Submit", func(ctx context.Context) (string, error) {
		return g.inner.Submit(ctx, op)
	})
}

func (g *Guard) AdminIdentity(ctx context.Context) (string, error) {
	return call(ctx, g, "AdminIdentity", g.inner.AdminIdentity)
}

func (g *Guard) Status(ctx context.Context, handle string) (domain.StatusReport, error) {
	return call(ctx, g, "Status", func(ctx context.Context) (domain.StatusReport, error) {
		return g.inner.Status(ctx, handle)
	})
}

// Describe 透传给底层 adapter（如果支持）
func (g *Guard) Describe(ctx context.Context, asset string) (domain.AssetInfo, error) {
	d, ok := g.inner.(domain.AssetDescriber)
	if !ok {
		return domain.AssetInfo{}, xerr.New(xerr.AdapterUnavailable, "adapter cannot describe assets")
	}
	return call(ctx, g, "Describe", func(ctx context.Context) (domain.AssetInfo, error) {
		return d.Describe(ctx, asset)
	})
}

// Healthy 有方法处于熔断打开状态时返回错误，给 /healthz 用
func (g *Guard) Healthy() error {
	if open := g.mgr.Open(); len(open) > 0 {
		return fmt.Errorf("settlement breaker open: %s", strings.Join(open, ","))
	}
	return nil
}

func (g *Guard) Identity() domain.LedgerIdentity {
	if r, ok := g.inner.(domain.IdentityReporter); ok {
		return r.Identity()
	}
	return domain.LedgerIdentity{Kind: "unknown"}
}

func call[T any](ctx context.Context, g *Guard, method string, fn func(ctx context.Context) (T, error)) (T, error) {
	start := time.Now()
	var out T
	_, err := g.mgr.Get(method).Execute(func() (struct{}, error) {
		cctx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()
		v, err := fn(cctx)
		out = v
		return struct{}{}, err
	})
	metrics.AdapterDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if err == nil {
		return out, nil
	}

	metrics.AdapterErrors.WithLabelValues(method).Inc()
	switch {
	case errors.Is(err, gobreaker.ErrOpenState):
		metrics.BreakerRejectTotal.WithLabelValues(method, "open").Inc()
		return out, xerr.Wrap(err, xerr.AdapterUnavailable, "settlement circuit open")
	case errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.BreakerRejectTotal.WithLabelValues(method, "half_open_limit").Inc()
		return out, xerr.Wrap(err, xerr.AdapterUnavailable, "settlement circuit half-open")
	}
	// 业务错误（参数、找不到）原样返回
	if ce, ok := xerr.As(err); ok && ce.Code != xerr.ServerCommonError {
		return out, err
	}
	return out, xerr.Wrap(err, xerr.AdapterUnavailable, "settlement adapter call failed")
}
