package app

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/skyshop/internal/domain"
	"github.com/vladislavdragonenkov/skyshop/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/skyshop/internal/messaging/rabbit"
	"github.com/vladislavdragonenkov/skyshop/internal/service/outbox"
)

// publishers: получатели outbox-событий. Пустой набор отключает outbox.
type publishers struct {
	primary domain.OutboxPublisher
	dlq     domain.OutboxPublisher
	closers []namedCloser
}

// initPublishers подключает Kafka и RabbitMQ. Недоступный брокер не мешает старту:
// сервис продолжает работу без соответствующего получателя.
func initPublishers(cfg Config, logger *log.Entry) *publishers {
	p := &publishers{}
	var sinks []domain.OutboxPublisher

	if len(cfg.KafkaBrokers) > 0 {
		producer, err := kafka.NewProducer(cfg.KafkaBrokers)
		if err != nil {
			logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		} else {
			p.closers = append(p.closers, namedCloser{name: "kafka", fn: func(context.Context) error { return producer.Close() }})
			sinks = append(sinks, kafka.NewPublisher(producer, cfg.KafkaTopic))
			p.dlq = kafka.NewPublisher(producer, kafka.TopicDeadLetterQueue)
			logger.WithField("brokers", cfg.KafkaBrokers).Info("kafka producer initialized")
		}
	}

	if cfg.RabbitURL != "" {
		publisher, err := rabbit.Dial(cfg.RabbitURL, cfg.RabbitExchange)
		if err != nil {
			logger.WithError(err).Warn("failed to connect to rabbitmq, continuing without rabbitmq")
		} else {
			p.closers = append(p.closers, namedCloser{name: "rabbitmq", fn: func(context.Context) error { return publisher.Close() }})
			sinks = append(sinks, publisher)
			logger.WithField("exchange", cfg.RabbitExchange).Info("rabbitmq publisher initialized")
		}
	}

	if len(sinks) > 0 {
		p.primary = outbox.NewFanout(sinks...)
	}
	return p
}

func (p *publishers) enabled() bool {
	return p != nil && p.primary != nil
}

func (p *publishers) Close(logger *log.Entry) {
	if p == nil {
		return
	}
	for i := len(p.closers) - 1; i >= 0; i-- {
		c := p.closers[i]
		if err := c.fn(context.Background()); err != nil {
			logger.WithError(err).WithField("resource", c.name).Warn("close failed")
		} else {
			logger.WithField("resource", c.name).Info("publisher closed")
		}
	}
	p.closers = nil
}
