package events

import "context"

type Message struct {
	Topic   string
	Payload []byte
}

// Broker 账本只发布事件，消费方在服务外部订阅
type Broker interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Close() error
}
