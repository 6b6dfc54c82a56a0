package xerr

import (
	"errors"
	"fmt"
	"net/http"
)

// 常用错误码定义
const (
	OK                  = 200
	ValidationError     = 400
	Unauthenticated     = 401
	Forbidden           = 403
	RecordNotFound      = 404
	InsufficientBalance = 409
	TooManyRequests     = 429
	ServerCommonError   = 500
	DbError             = 501
	AdapterUnavailable  = 503

	// 兼容旧调用
	RequestParamsError = ValidationError
)

type CodeError struct {
	Code   int               `json:"code"`
	Msg    string            `json:"msg"`
	Fields map[string]string `json:"fields,omitempty"` // 字段级错误 / 附加信息 (如 handle)
	Cause  error             `json:"-"`
}

func (e *CodeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("ErrCode:%d, Msg:%s, Cause:%v", e.Code, e.Msg, e.Cause)
	}
	return fmt.Sprintf("ErrCode:%d, Msg:%s", e.Code, e.Msg)
}

func (e *CodeError) Unwrap() error { return e.Cause }

// WithField 追加字段信息，返回自身方便链式调用
func (e *CodeError) WithField(k, v string) *CodeError {
	if e.Fields == nil {
		e.Fields = make(map[string]string, 2)
	}
	e.Fields[k] = v
	return e
}

func New(code int, msg string) error {
	return &CodeError{Code: code, Msg: msg}
}

func NewErrCode(code int) error {
	return &CodeError{Code: code, Msg: MapErrMsg(code)}
}

// Wrap 保留底层错误，对外只暴露 code + msg
func Wrap(err error, code int, msg string) error {
	if err == nil {
		return nil
	}
	return &CodeError{Code: code, Msg: msg, Cause: err}
}

// Validation 生成带字段明细的参数错误
func Validation(fields map[string]string) error {
	return &CodeError{Code: ValidationError, Msg: MapErrMsg(ValidationError), Fields: fields}
}

func As(err error) (*CodeError, bool) {
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// IsCode 判断错误链上是否有指定业务码
func IsCode(err error, code int) bool {
	ce, ok := As(err)
	return ok && ce.Code == code
}

// HTTPStatus 业务码 -> http 状态码，未知错误统一 500
func HTTPStatus(err error) int {
	ce, ok := As(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch ce.Code {
	case ValidationError:
		return http.StatusBadRequest
	case Unauthenticated:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case RecordNotFound:
		return http.StatusNotFound
	case InsufficientBalance:
		return http.StatusConflict
	case TooManyRequests:
		return http.StatusTooManyRequests
	case AdapterUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func MapErrMsg(code int) string {
	switch code {
	case ServerCommonError:
		return "服务器开小差了"
	case ValidationError:
		return "参数错误"
	case Unauthenticated:
		return "未登录"
	case Forbidden:
		return "无权限"
	case InsufficientBalance:
		return "可用余额不足"
	case TooManyRequests:
		return "请求过于频繁"
	case AdapterUnavailable:
		return "结算服务暂不可用"
	case DbError:
		return "数据库繁忙"
	case RecordNotFound:
		return "记录不存在"
	default:
		return "未知错误"
	}
}
