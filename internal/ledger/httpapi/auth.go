package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"custodex.com/internal/ledger/auth"
	"custodex.com/internal/ledger/service"
	"custodex.com/pkg/common"
	"custodex.com/pkg/logger"
	"custodex.com/pkg/xerr"
)

const ctxKeyCaller = "caller"

// authenticate 解析调用方；没带凭证的请求继续往下走，由 requireCaller 决定
func authenticate(res auth.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		if res == nil {
			c.Next()
			return
		}
		caller, err := res.Resolve(c.Request)
		if err != nil {
			logger.Warn(c, "authentication failed",
				zap.String("request_id", common.RequestIDFromGin(c)),
				zap.String("ip", c.ClientIP()),
				zap.Error(err))
			common.FailFromErr(c, err)
			c.Abort()
			return
		}
		if caller != "" {
			c.Set(ctxKeyCaller, caller)
			c.Request = c.Request.WithContext(logger.WithCaller(c.Request.Context(), caller))
		}
		c.Next()
	}
}

func requireCaller() gin.HandlerFunc {
	return func(c *gin.Context) {
		if callerOf(c) == "" {
			common.Fail(c, http.StatusUnauthorized, xerr.Unauthenticated, xerr.MapErrMsg(xerr.Unauthenticated))
			c.Abort()
			return
		}
		c.Next()
	}
}

// requireAdmin 变更类接口在 bind 之前鉴权
func requireAdmin(svc *service.Service, op string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := svc.RequireAdmin(c.Request.Context(), callerOf(c), op); err != nil {
			common.FailFromErr(c, err)
			c.Abort()
			return
		}
		c.Next()
	}
}

func callerOf(c *gin.Context) string {
	return c.GetString(ctxKeyCaller)
}
