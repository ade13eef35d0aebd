package kafka

import (
	"context"
	"maps"
	"slices"
	"time"

	"github.com/IBM/sarama"
	"github.com/cockroachdb/errors"
	log "github.com/sirupsen/logrus"
)

const clientID = "skyshop"

// Record: одно сообщение для Kafka. Заголовки уходят в порядке сортировки ключей.
type Record struct {
	Topic   string
	Key     string
	Value   []byte
	Headers map[string]string
}

func (r Record) message(at time.Time) *sarama.ProducerMessage {
	msg := &sarama.ProducerMessage{
		Topic:     r.Topic,
		Key:       sarama.StringEncoder(r.Key),
		Value:     sarama.ByteEncoder(r.Value),
		Timestamp: at,
	}
	for _, name := range slices.Sorted(maps.Keys(r.Headers)) {
		msg.Headers = append(msg.Headers, sarama.RecordHeader{Key: []byte(name), Value: []byte(r.Headers[name])})
	}
	return msg
}

// Producer отправляет записи синхронно и ждёт подтверждения от всех in-sync реплик.
type Producer struct {
	client sarama.SyncProducer
	logger *log.Entry
	now    func() time.Time
}

// producerConfig: идемпотентная доставка с ретраями на стороне sarama.
func producerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = clientID
	cfg.Producer.Idempotent = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Return.Successes = true
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Retry.Backoff = 100 * time.Millisecond
	cfg.Producer.Compression = sarama.CompressionSnappy
	// idempotent producer в sarama допускает только один запрос в полёте.
	cfg.Net.MaxOpenRequests = 1
	return cfg
}

// NewProducer подключается к брокерам.
func NewProducer(brokers []string) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	client, err := sarama.NewSyncProducer(brokers, producerConfig())
	if err != nil {
		return nil, errors.Wrapf(err, "kafka: connect to %v", brokers)
	}
	return wrapProducer(client), nil
}

func wrapProducer(client sarama.SyncProducer) *Producer {
	return &Producer{
		client: client,
		logger: log.WithField("component", "kafka-producer"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Send отправляет запись. Уже отменённый ctx не доходит до брокера;
// после начала отправки sarama сам ограничивает её ретраями.
func (p *Producer) Send(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrapf(err, "kafka: send to %s", rec.Topic)
	}

	entry := p.logger.WithFields(log.Fields{"topic": rec.Topic, "key": rec.Key})
	partition, offset, err := p.client.SendMessage(rec.message(p.now()))
	if err != nil {
		entry.WithError(err).Error("kafka send failed")
		return errors.Wrapf(err, "kafka: send to %s", rec.Topic)
	}
	entry.WithFields(log.Fields{"partition": partition, "offset": offset}).Debug("kafka record acknowledged")
	return nil
}

func (p *Producer) Close() error {
	return errors.Wrap(p.client.Close(), "kafka: close producer")
}
