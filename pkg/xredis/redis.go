package xredis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"custodex.com/pkg/metrics"
)

type Config struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
}

func NewRedis(ctx context.Context, c *Config) (*redis.Client, error) {
	poolSize := c.PoolSize
	if poolSize <= 0 {
		poolSize = 100
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         c.Addr,
		Password:     c.Password,
		DB:           c.DB,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     poolSize, // 连接池大小
		MinIdleConns: c.MinIdleConns,
	})
	rdb.AddHook(metricsHook{})

	// 启动时 Ping 一下，确保连接通畅
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	return rdb, nil
}

// WatchPoolStats 定时把 redis 连接池状态写到 prometheus
func WatchPoolStats(ctx context.Context, rdb *redis.Client, every time.Duration) {
	if every <= 0 {
		every = 5 * time.Second
	}
	t := time.NewTicker(every)
	defer t.Stop()

	var lastWait uint32
	var lastWaitNs int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			st := rdb.PoolStats()
			metrics.ObservePool("redis", int(st.TotalConns), int(st.IdleConns), int(st.TotalConns-st.IdleConns),
				int64(st.WaitCount-lastWait), time.Duration(st.WaitDurationNs-lastWaitNs).Seconds())
			lastWait, lastWaitNs = st.WaitCount, st.WaitDurationNs
		}
	}
}

// metricsHook 记录每个命令的耗时与错误
type metricsHook struct{}

func (metricsHook) DialHook(next redis.DialHook) redis.DialHook { return next }

func (metricsHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmd)
		status := "ok"
		if err != nil && err != redis.Nil {
			status = "error"
			metrics.RedisErrors.WithLabelValues(cmd.Name()).Inc()
		}
		metrics.RedisCmdDuration.WithLabelValues(cmd.Name(), status).Observe(time.Since(start).Seconds())
		return err
	}
}

func (metricsHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}
