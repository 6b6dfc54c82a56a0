package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LedgerOps 每个 facade 操作的结果: ok / validation / forbidden / insufficient / adapter / error
	LedgerOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "custodex",
		Name:      "ledger_ops_total",
		Help:      "Ledger facade operations by result.",
	}, []string{"op", "result"})

	LedgerOpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "custodex",
		Name:      "ledger_op_duration_seconds",
		Help:      "Ledger facade operation latency.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
	}, []string{"op"})

	ForbiddenTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "custodex",
		Name:      "ledger_forbidden_total",
		Help:      "Authorization denials (security events).",
	}, []string{"op"})

	RecordsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "custodex",
		Name:      "ledger_records_resolved_total",
		Help:      "Transaction records moved to a terminal status.",
	}, []string{"status"})

	// PendingRecords 最近一次对账时还未终结的记录数
	PendingRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "custodex",
		Name:      "ledger_pending_records",
		Help:      "Pending transaction records seen by the last reconcile pass.",
	})

	OutboxAppends = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "custodex",
		Name:      "ledger_outbox_appends_total",
		Help:      "Transaction records spilled to the durable outbox.",
	})

	OutboxRelayed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "custodex",
		Name:      "ledger_outbox_relayed_total",
		Help:      "Outbox records re-inserted into the repository.",
	})

	AdapterErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "custodex",
		Name:      "settlement_adapter_errors_total",
		Help:      "Settlement adapter call failures.",
	}, []string{"method"})

	AdapterDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "custodex",
		Name:      "settlement_adapter_duration_seconds",
		Help:      "Settlement adapter call latency.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
	}, []string{"method"})

	EventPublishErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "custodex",
		Name:      "ledger_event_publish_errors_total",
		Help:      "Best-effort event publications that failed.",
	}, []string{"topic"})
)
