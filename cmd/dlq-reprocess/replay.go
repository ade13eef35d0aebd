package main

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/IBM/sarama"
	"github.com/cockroachdb/errors"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/skyshop/internal/domain"
)

// dlqMessage: конверт outbox, в payload которого лежит описание неудачной публикации.
type dlqMessage struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
}

type dlqPayload struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishError  string          `json:"publish_error"`
}

type replayStats struct {
	processed int
	replayed  int
	skipped   int
}

func (s *replayStats) add(other replayStats) {
	s.processed += other.processed
	s.replayed += other.replayed
	s.skipped += other.skipped
}

func runReplay(ctx context.Context, cfg config, deps *replayDependencies) (replayStats, error) {
	var total replayStats
	if deps.client == nil || deps.consumer == nil {
		return total, errors.New("kafka client and consumer are required")
	}
	if cfg.execute && deps.publisher == nil {
		return total, errors.New("publisher is required in execute mode")
	}

	partitions, err := deps.client.Partitions(cfg.sourceTopic)
	if err != nil {
		return total, errors.Wrapf(err, "get partitions for topic %s", cfg.sourceTopic)
	}
	if len(partitions) == 0 {
		log.WithField("topic", cfg.sourceTopic).Warn("source topic has no partitions")
		return total, nil
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	for _, partition := range partitions {
		if total.processed >= cfg.limit {
			break
		}
		stats, err := processPartition(ctx, cfg, deps, partition, cfg.limit-total.processed)
		total.add(stats)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func processPartition(ctx context.Context, cfg config, deps *replayDependencies, partition int32, limit int) (replayStats, error) {
	var stats replayStats

	oldest, err := deps.client.GetOffset(cfg.sourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return stats, errors.Wrapf(err, "get oldest offset for partition %d", partition)
	}
	newest, err := deps.client.GetOffset(cfg.sourceTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return stats, errors.Wrapf(err, "get newest offset for partition %d", partition)
	}
	if newest <= oldest {
		return stats, nil
	}

	start := oldest
	if cfg.fromNewest {
		start = max(newest-int64(limit), oldest)
	}

	pc, err := deps.consumer.ConsumePartition(cfg.sourceTopic, partition, start)
	if err != nil {
		return stats, errors.Wrapf(err, "consume partition %d", partition)
	}
	defer func() { _ = pc.Close() }()

	idle := time.NewTimer(cfg.idleTimeout)
	defer idle.Stop()

	for stats.processed < limit {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case cerr := <-pc.Errors():
			if cerr != nil {
				return stats, errors.Wrapf(cerr, "partition %d consumer error", partition)
			}
		case <-idle.C:
			return stats, nil
		case msg, ok := <-pc.Messages():
			if !ok || msg == nil || msg.Offset >= newest {
				return stats, nil
			}
			idle.Reset(cfg.idleTimeout)

			stats.processed++
			event, err := decodeDLQMessage(msg.Value)
			if err != nil {
				stats.skipped++
				log.WithError(err).WithFields(log.Fields{
					"partition": msg.Partition,
					"offset":    msg.Offset,
				}).Warn("skip unsupported dlq message")
			} else if err := replay(ctx, cfg, deps.publisher, event, msg); err != nil {
				return stats, err
			} else {
				stats.replayed++
			}

			if msg.Offset+1 >= newest {
				return stats, nil
			}
		}
	}
	return stats, nil
}

func replay(ctx context.Context, cfg config, publisher domain.OutboxPublisher, event domain.OutboxMessage, msg *sarama.ConsumerMessage) error {
	fields := log.Fields{
		"partition":    msg.Partition,
		"offset":       msg.Offset,
		"target_topic": cfg.targetTopic,
		"outbox_id":    event.ID,
		"event_type":   event.EventType,
	}
	if !cfg.execute {
		log.WithFields(fields).Info("dlq replay candidate")
		return nil
	}
	if err := publisher.Publish(ctx, event); err != nil {
		return errors.Wrapf(err, "replay outbox message %s", event.ID)
	}
	log.WithFields(fields).Info("dlq message replayed")
	return nil
}

// decodeDLQMessage восстанавливает исходное outbox-сообщение с тем же ID,
// чтобы получатели могли дедуплицировать повтор.
func decodeDLQMessage(value []byte) (domain.OutboxMessage, error) {
	var envelope dlqMessage
	if err := json.Unmarshal(value, &envelope); err != nil {
		return domain.OutboxMessage{}, errors.Wrap(err, "decode dlq envelope")
	}
	if len(envelope.Payload) == 0 {
		return domain.OutboxMessage{}, errors.New("dlq envelope has no payload")
	}

	var payload dlqPayload
	if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
		return domain.OutboxMessage{}, errors.Wrap(err, "decode dlq payload")
	}
	if len(payload.Payload) == 0 || string(payload.Payload) == "null" {
		return domain.OutboxMessage{}, errors.New("dlq payload does not contain original event payload")
	}

	return domain.OutboxMessage{
		ID:            firstNonEmpty(payload.OutboxID, envelope.ID),
		AggregateType: firstNonEmpty(payload.AggregateType, envelope.AggregateType),
		AggregateID:   firstNonEmpty(payload.AggregateID, envelope.AggregateID),
		EventType:     firstNonEmpty(payload.EventType, envelope.EventType),
		Payload:       []byte(payload.Payload),
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
