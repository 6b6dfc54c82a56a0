package middleware

import (
	"errors"
	"net"
	"net/http"
	"os"
	"runtime/debug"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"custodex.com/pkg/common"
	"custodex.com/pkg/logger"
	"custodex.com/pkg/xerr"
)

// Recover 兜底 handler panic：记日志 + 统一 500，客户端断开时不再写响应
func Recover() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			rid := common.RequestIDFromGin(c)
			if brokenPipe(r) {
				logger.Warn(c, "client gone", zap.String("request_id", rid), zap.Any("err", r))
				c.Abort()
				return
			}
			logger.Error(c, "🚨 http panic",
				zap.String("request_id", rid),
				zap.String("method", c.Request.Method),
				zap.String("path", c.Request.URL.Path),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			c.AbortWithStatusJSON(http.StatusInternalServerError, common.Response{
				Code:    xerr.ServerCommonError,
				Message: xerr.MapErrMsg(xerr.ServerCommonError),
				Data:    map[string]string{"request_id": rid},
			})
		}()
		c.Next()
	}
}

func brokenPipe(r any) bool {
	err, ok := r.(error)
	if !ok {
		return false
	}
	var opErr *net.OpError
	if !errors.As(err, &opErr) {
		return false
	}
	var sysErr *os.SyscallError
	if errors.As(opErr, &sysErr) {
		return errors.Is(sysErr.Err, syscall.EPIPE) || errors.Is(sysErr.Err, syscall.ECONNRESET)
	}
	return false
}
