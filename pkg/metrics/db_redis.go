package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 连接池指标，pool 取值 mysql / redis
var (
	PoolConns = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "custodex",
		Name:      "pool_conns",
		Help:      "Connection pool size by state (open/idle/inuse).",
	}, []string{"pool", "state"})

	PoolWaitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "custodex",
		Name:      "pool_wait_total",
		Help:      "Times a caller waited for a pooled connection.",
	}, []string{"pool"})

	PoolWaitSeconds = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "custodex",
		Name:      "pool_wait_seconds_total",
		Help:      "Total time spent waiting for a pooled connection.",
	}, []string{"pool"})

	RedisCmdDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "custodex",
		Name:      "redis_cmd_duration_seconds",
		Help:      "Redis command latency",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms ~ 4s
	}, []string{"cmd", "status"})

	RedisErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "custodex",
		Name:      "redis_errors_total",
		Help:      "Redis command errors (redis.Nil excluded).",
	}, []string{"cmd"})
)

// ObservePool 上报一次连接池快照；wait 相关是增量
func ObservePool(pool string, open, idle, inuse int, waitDelta int64, waitSecondsDelta float64) {
	PoolConns.WithLabelValues(pool, "open").Set(float64(open))
	PoolConns.WithLabelValues(pool, "idle").Set(float64(idle))
	PoolConns.WithLabelValues(pool, "inuse").Set(float64(inuse))
	if waitDelta > 0 {
		PoolWaitTotal.WithLabelValues(pool).Add(float64(waitDelta))
	}
	if waitSecondsDelta > 0 {
		PoolWaitSeconds.WithLabelValues(pool).Add(waitSecondsDelta)
	}
}
