package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"custodex.com/pkg/safe"
)

// bucket 一个 key 的令牌桶；lastSeen 在 Store.mu 下读写
type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Store 按 key（ip+route）维护令牌桶，长时间不活跃的 key 由 janitor 回收
type Store struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    rate.Limit
	burst   int
	ttl     time.Duration
	now     func() time.Time
}

func NewStore(r rate.Limit, burst int, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if burst <= 0 {
		burst = 1
	}
	return &Store{
		buckets: make(map[string]*bucket, 1024),
		rate:    r,
		burst:   burst,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Allow 取一个令牌，桶空返回 false
func (s *Store) Allow(key string) bool {
	now := s.now()
	s.mu.Lock()
	b, ok := s.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(s.rate, s.burst)}
		s.buckets[key] = b
	}
	b.lastSeen = now
	s.mu.Unlock()
	return b.limiter.AllowN(now, 1)
}

// Len 当前跟踪的 key 数
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}

// StartJanitor 后台定期回收过期 key，ctx 取消后退出
func (s *Store) StartJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	safe.GoCtx(ctx, func(ctx context.Context) {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.evict()
			}
		}
	})
}

// evict 删除 ttl 内没出现过的 key，返回删除数量
func (s *Store) evict() int {
	cut := s.now().Add(-s.ttl)
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, b := range s.buckets {
		if b.lastSeen.Before(cut) {
			delete(s.buckets, k)
			n++
		}
	}
	return n
}
