package rabbit

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/skyshop/internal/domain"
)

// DefaultExchange: topic exchange для событий заказов.
const DefaultExchange = "skyshop.events"

// Channel: часть *amqp.Channel, нужная издателю.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher публикует outbox-сообщения в topic exchange.
// Routing key: тип события, например payment.succeeded.
type Publisher struct {
	ch       Channel
	conn     *amqp.Connection
	exchange string
	logger   *log.Entry
	now      func() time.Time
}

// Dial подключается к RabbitMQ и объявляет exchange.
func Dial(url, exchange string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, errors.Wrap(err, "dial rabbitmq")
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "open rabbitmq channel")
	}

	p, err := NewPublisher(ch, exchange)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

// NewPublisher объявляет durable topic exchange на канале ch.
func NewPublisher(ch Channel, exchange string) (*Publisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return nil, errors.Wrapf(err, "declare exchange %s", exchange)
	}
	return &Publisher{
		ch:       ch,
		exchange: exchange,
		logger:   log.WithField("component", "rabbit-publisher"),
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Publish реализует domain.OutboxPublisher.
func (p *Publisher) Publish(ctx context.Context, event domain.OutboxMessage) error {
	now := p.now()
	body, err := event.Envelope(now)
	if err != nil {
		return errors.Wrap(err, "marshal outbox envelope")
	}

	msg := amqp.Publishing{
		MessageId:    event.ID,
		Type:         event.EventType,
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    now,
		Body:         body,
	}
	if err := p.ch.PublishWithContext(ctx, p.exchange, event.EventType, false, false, msg); err != nil {
		return errors.Wrapf(err, "publish %s to %s", event.EventType, p.exchange)
	}

	p.logger.WithFields(log.Fields{
		"exchange":   p.exchange,
		"event_type": event.EventType,
		"outbox_id":  event.ID,
	}).Debug("message sent to rabbitmq")
	return nil
}

// Close закрывает канал и соединение, если оно открыто через Dial.
func (p *Publisher) Close() error {
	err := p.ch.Close()
	if p.conn != nil {
		err = errors.CombineErrors(err, p.conn.Close())
	}
	return errors.Wrap(err, "close rabbitmq publisher")
}

var _ domain.OutboxPublisher = (*Publisher)(nil)
