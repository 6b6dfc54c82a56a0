package common

import (
	"net/http"
	"runtime/debug"

	"custodex.com/pkg/logger"
	"custodex.com/pkg/xerr"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// 定义http返回格式
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

func Success(ctx *gin.Context, data interface{}) {
	ctx.JSON(http.StatusOK, Response{
		Code:    http.StatusOK,
		Message: http.StatusText(http.StatusOK),
		Data:    data,
	})
}

func Fail(c *gin.Context, httpStatus int, code int, message string) {
	FailWithData(c, httpStatus, code, message, nil)
}

func FailWithData(c *gin.Context, httpStatus int, code int, message string, data interface{}) {
	c.JSON(httpStatus, Response{
		Code:    code,
		Message: message,
		Data:    data,
	})
}

func FailLogged(c *gin.Context, httpStatus int, code int, msg string, err error) {
	logger.Warn(c, "http error",
		zap.String("request_id", RequestIDFromGin(c)),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Int("biz_code", code),
		zap.String("message", msg),
		zap.Error(err),
		zap.ByteString("stack", debug.Stack()),
	)
	Fail(c, httpStatus, code, msg)
}

// FailFromErr 业务错误 -> http 响应
// 业务码直接透出，字段明细放在 data 里；非 CodeError 一律 500 并记录堆栈
func FailFromErr(c *gin.Context, err error) {
	ce, ok := xerr.As(err)
	if !ok {
		FailLogged(c, http.StatusInternalServerError, xerr.ServerCommonError, xerr.MapErrMsg(xerr.ServerCommonError), err)
		return
	}
	httpStatus := xerr.HTTPStatus(err)
	if httpStatus >= http.StatusInternalServerError {
		logger.Warn(c, "http error",
			zap.String("request_id", RequestIDFromGin(c)),
			zap.String("path", c.Request.URL.Path),
			zap.Int("biz_code", ce.Code),
			zap.Error(err),
		)
	}
	var data interface{}
	if len(ce.Fields) > 0 {
		data = ce.Fields
	}
	FailWithData(c, httpStatus, ce.Code, ce.Msg, data)
}
