package common

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	HeaderRequestID = "X-Request-Id"
	CtxKeyRequestID = "request_id"

	maxRequestIDLen = 64
)

// RequestID 复用上游传入的 id；为空或不合法时生成 uuid
func RequestID(incoming string) string {
	if validRequestID(incoming) {
		return incoming
	}
	return uuid.NewString()
}

// 只接受可打印 ascii，避免日志注入
func validRequestID(s string) bool {
	if s == "" || len(s) > maxRequestIDLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < 0x21 || s[i] > 0x7e {
			return false
		}
	}
	return true
}

func RequestIDFromGin(c *gin.Context) string {
	if s := c.GetString(CtxKeyRequestID); s != "" {
		return s
	}
	return c.GetHeader(HeaderRequestID)
}
