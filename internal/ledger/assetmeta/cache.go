package assetmeta

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"custodex.com/internal/ledger/domain"
)

type Cache interface {
	Get(ctx context.Context, asset string) (domain.AssetInfo, bool, error)
	Set(ctx context.Context, info domain.AssetInfo, ttl time.Duration) error
	Del(ctx context.Context, asset string) error
}

type redisCache struct {
	client *redis.Client
	prefix string
}

func NewRedisCache(c *redis.Client, prefix string) Cache {
	if prefix == "" {
		prefix = "ledger:asset"
	}
	return &redisCache{client: c, prefix: prefix}
}

func (r *redisCache) Get(ctx context.Context, asset string) (domain.AssetInfo, bool, error) {
	key := r.key(asset)
	b, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return domain.AssetInfo{}, false, nil
	}
	if err != nil {
		return domain.AssetInfo{}, false, err
	}
	var info domain.AssetInfo
	if err := json.Unmarshal(b, &info); err != nil {
		// 缓存脏了就删掉，避免持续命中错误
		_ = r.client.Del(ctx, key).Err()
		return domain.AssetInfo{}, false, err
	}
	return info, true, nil
}

func (r *redisCache) Set(ctx context.Context, info domain.AssetInfo, ttl time.Duration) error {
	b, err := json.Marshal(info)
	if err != nil {
		return err
	}
	// 加入随机时间 防止同时过期
	return r.client.Set(ctx, r.key(info.Asset), b, withJitter(ttl, ttl/10)).Err()
}

func (r *redisCache) Del(ctx context.Context, asset string) error {
	return r.client.Del(ctx, r.key(asset)).Err()
}

func (r *redisCache) key(asset string) string {
	return r.prefix + ":" + domain.NormalizeAsset(asset)
}

type memEntry struct {
	info    domain.AssetInfo
	expires time.Time
}

type memCache struct {
	mu  sync.RWMutex
	m   map[string]memEntry
	now func() time.Time
}

func NewMemCache() Cache {
	return &memCache{m: make(map[string]memEntry), now: time.Now}
}

func (c *memCache) Get(_ context.Context, asset string) (domain.AssetInfo, bool, error) {
	c.mu.RLock()
	e, ok := c.m[domain.NormalizeAsset(asset)]
	c.mu.RUnlock()
	if !ok || (!e.expires.IsZero() && c.now().After(e.expires)) {
		return domain.AssetInfo{}, false, nil
	}
	return e.info, true, nil
}

func (c *memCache) Set(_ context.Context, info domain.AssetInfo, ttl time.Duration) error {
	e := memEntry{info: info}
	if ttl > 0 {
		e.expires = c.now().Add(ttl)
	}
	c.mu.Lock()
	c.m[domain.NormalizeAsset(info.Asset)] = e
	c.mu.Unlock()
	return nil
}

func (c *memCache) Del(_ context.Context, asset string) error {
	c.mu.Lock()
	delete(c.m, domain.NormalizeAsset(asset))
	c.mu.Unlock()
	return nil
}

func withJitter(ttl time.Duration, jitter time.Duration) time.Duration {
	if ttl <= 0 || jitter <= 0 {
		return ttl
	}
	// [0, jitter) 的随机
	return ttl + time.Duration(rand.Int63n(int64(jitter)))
}
