package middleware

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"custodex.com/pkg/common"
	"custodex.com/pkg/logger"
	"custodex.com/pkg/metrics"
	"custodex.com/pkg/ratelimit"
	"custodex.com/pkg/xerr"
)

// KeyFunc 决定限流维度
type KeyFunc func(c *gin.Context) string

func route(c *gin.Context) string {
	if r := c.FullPath(); r != "" {
		return r
	}
	return c.Request.URL.Path
}

// ByIPRoute 默认维度：客户端 ip + 路由模板
func ByIPRoute(c *gin.Context) string { return c.ClientIP() + ":" + route(c) }

// RateLimit 令牌桶限流，key 为 nil 时按 ip + route
func RateLimit(service string, store *ratelimit.Store, key ...KeyFunc) gin.HandlerFunc {
	keyFn := KeyFunc(ByIPRoute)
	if len(key) > 0 && key[0] != nil {
		keyFn = key[0]
	}
	return func(c *gin.Context) {
		if store.Allow(keyFn(c)) {
			c.Next()
			return
		}
		r := route(c)
		// 可控拒绝，不打堆栈
		logger.Warn(c, "http rate limited",
			zap.String("service", service),
			zap.String("request_id", common.RequestIDFromGin(c)),
			zap.String("ip", c.ClientIP()),
			zap.String("route", r),
		)
		metrics.RateLimitBlockTotal.WithLabelValues(r).Inc()
		common.FailFromErr(c, xerr.NewErrCode(xerr.TooManyRequests))
		c.Abort()
	}
}
