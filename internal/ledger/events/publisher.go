package events

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"custodex.com/internal/ledger/domain"
	"custodex.com/pkg/logger"
	"custodex.com/pkg/metrics"
)

const (
	TopicRecordInitiated = "ledger:record:initiated"
	TopicRecordResolved  = "ledger:record:resolved"
)

// RecordEvent 交易记录生命周期事件
type RecordEvent struct {
	Handle  string                     `json:"handle"`
	Status  domain.TxStatus            `json:"status"`
	Block   *domain.BlockInfo          `json:"block,omitempty"`
	Records []domain.TransactionRecord `json:"records,omitempty"`
	At      time.Time                  `json:"at"`
}

// Publisher 尽力而为：发布失败只记日志和指标，不影响主流程
type Publisher struct {
	broker Broker
}

func NewPublisher(b Broker) *Publisher { return &Publisher{broker: b} }

func (p *Publisher) Initiated(ctx context.Context, recs []domain.TransactionRecord) {
	if p == nil || len(recs) == 0 {
		return
	}
	p.publish(ctx, TopicRecordInitiated, RecordEvent{
		Handle:  recs[0].ExternalID,
		Status:  domain.StatusPending,
		Records: recs,
		At:      time.Now().UTC(),
	})
}

func (p *Publisher) Resolved(ctx context.Context, handle string, status domain.TxStatus, block *domain.BlockInfo) {
	if p == nil {
		return
	}
	p.publish(ctx, TopicRecordResolved, RecordEvent{
		Handle: handle,
		Status: status,
		Block:  block,
		At:     time.Now().UTC(),
	})
}

func (p *Publisher) publish(ctx context.Context, topic string, ev RecordEvent) {
	payload, err := json.Marshal(ev)
	if err == nil {
		err = p.broker.Publish(ctx, topic, payload)
	}
	if err != nil {
		metrics.EventPublishErrors.WithLabelValues(topic).Inc()
		logger.Warn(ctx, "publish ledger event failed",
			zap.String("topic", topic), zap.String("handle", ev.Handle), zap.Error(err))
	}
}
