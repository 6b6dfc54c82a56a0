package domain

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// NativeAsset 链上原生币的哨兵地址，永远是受支持资产
const NativeAsset = "0x0000000000000000000000000000000000000000"

// AssetInfo 资产展示信息
type AssetInfo struct {
	Asset    string `json:"asset"`
	Symbol   string `json:"symbol"`
	Decimals int32  `json:"decimals"`
}

// AssetRegistry 受支持资产集合：有序、只追加
// 原生币不存储在这里，由调用方隐式处理
type AssetRegistry interface {
	List(ctx context.Context) ([]string, error)
	Contains(ctx context.Context, asset string) (bool, error)
	// Add 已存在时返回 false，不报错
	Add(ctx context.Context, asset string) (bool, error)
}

// NormalizeOwner 所有入口统一小写 + 去空白
func NormalizeOwner(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeAsset 资产地址和 owner 一样按小写比较
func NormalizeAsset(s string) string {
	return NormalizeOwner(s)
}

// ValidAddress 0x 开头的 20 字节十六进制地址
func ValidAddress(s string) bool {
	return strings.HasPrefix(s, "0x") && common.IsHexAddress(s)
}

func IsNative(asset string) bool {
	return NormalizeAsset(asset) == NativeAsset
}

// MaxAmountScale 存储层金额列的小数位，超出的金额任何资产都不接受
const MaxAmountScale int32 = 30

// ExceedsScale 去掉末尾 0 之后小数位是否超过 places
func ExceedsScale(d decimal.Decimal, places int32) bool {
	scaled := d.Shift(places)
	return !scaled.Equal(scaled.Truncate(0))
}

// ParseAmount 解析边界上的金额字符串，必须 > 0
func ParseAmount(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil || !d.IsPositive() {
		return decimal.Zero, false
	}
	return d, true
}
