package auth

import (
	"context"

	"go.uber.org/zap"

	"custodex.com/internal/ledger/domain"
	"custodex.com/pkg/logger"
	"custodex.com/pkg/metrics"
	"custodex.com/pkg/xerr"
)

// AdminSource 管理员身份来源（结算层），每次实时查询
type AdminSource interface {
	AdminIdentity(ctx context.Context) (string, error)
}

// Gate 无状态的权限判断：读自己或管理员，变更只允许管理员
type Gate struct {
	src AdminSource
}

func NewGate(src AdminSource) *Gate { return &Gate{src: src} }

// IsAdmin 查询失败按非管理员处理（fail closed）
func (g *Gate) IsAdmin(ctx context.Context, caller string) bool {
	caller = domain.NormalizeOwner(caller)
	if caller == "" {
		return false
	}
	admin, err := g.src.AdminIdentity(ctx)
	if err != nil {
		logger.Warn(ctx, "admin identity lookup failed, treating caller as non-admin",
			zap.String("caller", caller), zap.Error(err))
		return false
	}
	admin = domain.NormalizeOwner(admin)
	return admin != "" && admin == caller
}

// RequireAdmin 非管理员返回 Forbidden，并记一条安全日志
func (g *Gate) RequireAdmin(ctx context.Context, caller, op string) error {
	if g.IsAdmin(ctx, caller) {
		return nil
	}
	return denied(ctx, caller, "", op)
}

func (g *Gate) CanReadBalance(ctx context.Context, caller, target string) bool {
	caller = domain.NormalizeOwner(caller)
	if caller != "" && caller == domain.NormalizeOwner(target) {
		return true
	}
	return g.IsAdmin(ctx, caller)
}

// RequireRead 读自己或管理员
func (g *Gate) RequireRead(ctx context.Context, caller, target, op string) error {
	if g.CanReadBalance(ctx, caller, target) {
		return nil
	}
	return denied(ctx, caller, target, op)
}

func denied(ctx context.Context, caller, target, op string) error {
	metrics.ForbiddenTotal.WithLabelValues(op).Inc()
	logger.Warn(ctx, "🚫 security: access denied",
		zap.String("op", op),
		zap.String("caller", domain.NormalizeOwner(caller)),
		zap.String("target", domain.NormalizeOwner(target)),
	)
	return xerr.NewErrCode(xerr.Forbidden)
}
