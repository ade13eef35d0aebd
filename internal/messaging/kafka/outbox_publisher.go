package kafka

import (
	"cmp"
	"context"

	"github.com/cockroachdb/errors"

	"github.com/vladislavdragonenkov/skyshop/internal/domain"
)

// Publisher пишет outbox-сообщения в один topic. Ключ партиционирования: id заказа,
// так события одного заказа сохраняют порядок.
type Publisher struct {
	producer *Producer
	topic    string
}

// NewPublisher привязывает producer к topic; пустой topic означает TopicOrderEvents.
func NewPublisher(producer *Producer, topic string) *Publisher {
	return &Publisher{producer: producer, topic: cmp.Or(topic, TopicOrderEvents)}
}

func (p *Publisher) Publish(ctx context.Context, msg domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return errors.New("kafka: publisher has no producer")
	}
	body, err := msg.Envelope(p.producer.now())
	if err != nil {
		return errors.Wrapf(err, "kafka: encode outbox message %s", msg.ID)
	}
	return p.producer.Send(ctx, Record{
		Topic: p.topic,
		Key:   cmp.Or(msg.AggregateID, msg.ID),
		Value: body,
		Headers: map[string]string{
			HeaderMessageID:     msg.ID,
			HeaderEventType:     msg.EventType,
			HeaderAggregateType: msg.AggregateType,
		},
	})
}

var _ domain.OutboxPublisher = (*Publisher)(nil)
