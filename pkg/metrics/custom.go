package metrics

import "github.com/prometheus/client_golang/prometheus"

// 需要手动注册的治理类指标；测试里可以不注册直接用
var (
	RateLimitBlockTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "custodex",
			Name:      "http_ratelimit_block_total",
			Help:      "Requests rejected by the per ip+route limiter.",
		},
		[]string{"route"},
	)

	BreakerRejectTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "custodex",
			Name:      "settlement_breaker_reject_total",
			Help:      "Settlement calls rejected without reaching the adapter.",
		},
		[]string{"method", "reason"}, // reason: open / half_open_limit
	)

	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "custodex",
			Name:      "settlement_breaker_state",
			Help:      "Breaker state per adapter method: 0 closed, 1 half-open, 2 open.",
		},
		[]string{"method"},
	)
)

// MustRegister 注册到默认 registry，进程内只能调用一次
func MustRegister() {
	prometheus.MustRegister(RateLimitBlockTotal, BreakerRejectTotal, BreakerState)
}
