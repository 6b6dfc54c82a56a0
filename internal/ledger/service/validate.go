package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"custodex.com/internal/ledger/domain"
	"custodex.com/pkg/xerr"
)

// fieldErrs 收集字段级错误，一次性返回
type fieldErrs map[string]string

func (f fieldErrs) address(field, v string) string {
	v = domain.NormalizeOwner(v)
	if !domain.ValidAddress(v) {
		f[field] = "must be a 0x-prefixed 20-byte hex address"
	}
	return v
}

func (f fieldErrs) amount(field, v string) decimal.Decimal {
	d, ok := domain.ParseAmount(v)
	switch {
	case !ok:
		f[field] = "must be a positive decimal"
	case domain.ExceedsScale(d, domain.MaxAmountScale):
		f[field] = fmt.Sprintf("at most %d decimal places", domain.MaxAmountScale)
	}
	return d
}

func (f fieldErrs) err() error {
	if len(f) == 0 {
		return nil
	}
	return xerr.Validation(f)
}

// checkSupported 原生币永远受支持
func (s *Service) checkSupported(ctx context.Context, f fieldErrs, field, asset string) error {
	if _, bad := f[field]; bad || domain.IsNative(asset) {
		return nil
	}
	ok, err := s.assets.Contains(ctx, asset)
	if err != nil {
		return xerr.Wrap(err, xerr.DbError, "load supported assets")
	}
	if !ok {
		f[field] = "asset is not supported"
	}
	return nil
}

// checkPrecision 金额小数位不能超过资产精度；元信息查不到时跳过
func (s *Service) checkPrecision(ctx context.Context, f fieldErrs, field, asset string, amount decimal.Decimal) {
	if s.meta == nil {
		return
	}
	if _, bad := f[field]; bad {
		return
	}
	info, err := s.meta.Describe(ctx, asset)
	if err != nil || info.Decimals <= 0 {
		return
	}
	if domain.ExceedsScale(amount, info.Decimals) {
		f[field] = fmt.Sprintf("at most %d decimal places", info.Decimals)
	}
}
