package middleware

import (
	"context"

	"github.com/gin-gonic/gin"

	"custodex.com/pkg/common"
	"custodex.com/pkg/logger"
)

// ReqId 透传或生成 request id，同时写进 gin 和 request context
func ReqId() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := common.RequestID(c.GetHeader(common.HeaderRequestID))
		c.Set(common.CtxKeyRequestID, rid)
		c.Header(common.HeaderRequestID, rid)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), logger.RequestIdKey, rid))
		c.Next()
	}
}
