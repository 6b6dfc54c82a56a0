package assetmeta

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"custodex.com/internal/ledger/domain"
	"custodex.com/pkg/logger"
)

// Provider 资产元信息（symbol/decimals），缓存 + singleflight 防击穿
// 元信息只用于展示，查不到不影响记账
type Provider struct {
	src   domain.AssetDescriber
	cache Cache
	sf    singleflight.Group
	ttl   time.Duration
}

var _ domain.AssetDescriber = (*Provider)(nil)

func NewProvider(src domain.AssetDescriber, cache Cache, ttl time.Duration) *Provider {
	if cache == nil {
		cache = NewMemCache()
	}
	return &Provider{src: src, cache: cache, ttl: ttl}
}

func (p *Provider) Describe(ctx context.Context, asset string) (domain.AssetInfo, error) {
	asset = domain.NormalizeAsset(asset)
	if info, ok, err := p.cache.Get(ctx, asset); err == nil && ok {
		return info, nil
	} else if err != nil {
		logger.Warn(ctx, "asset meta cache read failed", zap.String("asset", asset), zap.Error(err))
	}

	v, err, _ := p.sf.Do(asset, func() (interface{}, error) {
		info, err := p.src.Describe(ctx, asset)
		if err != nil {
			return nil, err
		}
		info.Asset = asset
		if err := p.cache.Set(ctx, info, p.ttl); err != nil {
			logger.Warn(ctx, "asset meta cache write failed", zap.String("asset", asset), zap.Error(err))
		}
		return info, nil
	})
	if err != nil {
		return domain.AssetInfo{}, err
	}
	return v.(domain.AssetInfo), nil
}

// DescribeAll 批量查询，失败的资产只给地址
func (p *Provider) DescribeAll(ctx context.Context, assets []string) []domain.AssetInfo {
	out := make([]domain.AssetInfo, 0, len(assets))
	for _, a := range assets {
		info, err := p.Describe(ctx, a)
		if err != nil {
			logger.Warn(ctx, "asset meta unavailable", zap.String("asset", a), zap.Error(err))
			info = domain.AssetInfo{Asset: domain.NormalizeAsset(a)}
		}
		out = append(out, info)
	}
	return out
}

// Forget 资产信息变更后清缓存
func (p *Provider) Forget(ctx context.Context, asset string) error {
	return p.cache.Del(ctx, asset)
}
