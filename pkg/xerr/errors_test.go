package xerr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"参数错误", NewErrCode(ValidationError), http.StatusBadRequest},
		{"无权限", NewErrCode(Forbidden), http.StatusForbidden},
		{"余额不足", NewErrCode(InsufficientBalance), http.StatusConflict},
		{"结算不可用", Wrap(errors.New("dial tcp"), AdapterUnavailable, "down"), http.StatusServiceUnavailable},
		{"被 fmt 包装", fmt.Errorf("outer: %w", NewErrCode(RecordNotFound)), http.StatusNotFound},
		{"普通错误", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(cause, AdapterUnavailable, "settlement down")

	require.True(t, errors.Is(err, cause))
	assert.True(t, IsCode(err, AdapterUnavailable))
	assert.False(t, IsCode(err, Forbidden))
	assert.Nil(t, Wrap(nil, DbError, "noop"))
}

func TestValidationFields(t *testing.T) {
	err := Validation(map[string]string{"amounts[1]": "must be a positive decimal"})
	ce, ok := As(err)
	require.True(t, ok)
	assert.Equal(t, ValidationError, ce.Code)
	assert.Equal(t, "must be a positive decimal", ce.Fields["amounts[1]"])

	ce.WithField("handle", "0xabc")
	assert.Equal(t, "0xabc", ce.Fields["handle"])
}
