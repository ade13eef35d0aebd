package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/skyshop/internal/domain"
)

type outboxStatus string

const (
	outboxPending outboxStatus = "pending"
	outboxSent    outboxStatus = "sent"
	outboxFailed  outboxStatus = "failed"

	defaultOutboxBatch = 100
)

// OutboxRepository хранит события outbox в таблице outbox_messages.
// Выборка не блокирует строки: воркер один на процесс.
type OutboxRepository struct {
	store *Store
	now   func() time.Time
}

// NewOutboxRepository создаёт PostgreSQL-реализацию OutboxRepository.
func NewOutboxRepository(store *Store) *OutboxRepository {
	return &OutboxRepository{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// Enqueue сохраняет сообщение в статусе pending и возвращает его с назначенным ID.
func (r *OutboxRepository) Enqueue(ctx context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	created := r.now()
	_, err := r.store.DB().ExecContext(ctx,
		`INSERT INTO outbox_messages (id, aggregate_type, aggregate_id, event_type, payload, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
		msg.ID, msg.AggregateType, msg.AggregateID, msg.EventType, jsonbPayload(msg.Payload), string(outboxPending), created,
	)
	if err != nil {
		return domain.OutboxMessage{}, errors.Wrapf(err, "insert outbox message %s", msg.ID)
	}
	return msg, nil
}

// PullPending возвращает самые старые pending-сообщения. Статус меняют MarkSent и MarkFailed.
func (r *OutboxRepository) PullPending(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = defaultOutboxBatch
	}
	rows, err := r.store.DB().QueryContext(ctx,
		`SELECT id, aggregate_type, aggregate_id, event_type, payload
		 FROM outbox_messages WHERE status = $1 ORDER BY created_at, id LIMIT $2`,
		string(outboxPending), limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "select pending outbox messages")
	}
	defer rows.Close()

	var batch []domain.OutboxMessage
	for rows.Next() {
		var msg domain.OutboxMessage
		if err := rows.Scan(&msg.ID, &msg.AggregateType, &msg.AggregateID, &msg.EventType, &msg.Payload); err != nil {
			return nil, errors.Wrap(err, "scan outbox row")
		}
		batch = append(batch, msg)
	}
	return batch, errors.Wrap(rows.Err(), "read outbox rows")
}

// Stats считает backlog для метрик воркера.
func (r *OutboxRepository) Stats(ctx context.Context) (domain.OutboxStats, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		stats  domain.OutboxStats
		oldest sql.NullTime
	)
	err := r.store.DB().QueryRowContext(ctx,
		`SELECT COUNT(*), MIN(created_at) FROM outbox_messages WHERE status = $1`, string(outboxPending),
	).Scan(&stats.PendingCount, &oldest)
	if err != nil {
		return domain.OutboxStats{}, errors.Wrap(err, "count pending outbox messages")
	}
	if oldest.Valid {
		stats.OldestPendingAt = oldest.Time.UTC()
	}
	return stats, nil
}

func (r *OutboxRepository) MarkSent(ctx context.Context, id string) error {
	return r.transition(ctx, id, outboxSent)
}

func (r *OutboxRepository) MarkFailed(ctx context.Context, id string) error {
	return r.transition(ctx, id, outboxFailed)
}

func (r *OutboxRepository) transition(ctx context.Context, id string, status outboxStatus) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.store.DB().ExecContext(ctx,
		`UPDATE outbox_messages SET status = $2, attempt_count = attempt_count + 1, updated_at = $3 WHERE id = $1`,
		id, string(status), r.now(),
	)
	if err != nil {
		return errors.Wrapf(err, "set outbox message %s to %s", id, status)
	}
	if err := requireAffected(res, domain.ErrOutboxPublish); err != nil {
		return errors.Wrapf(err, "outbox message %s", id)
	}
	return nil
}

// jsonbPayload подставляет {} вместо пустого или невалидного JSON: колонка имеет тип JSONB.
func jsonbPayload(payload []byte) []byte {
	if len(payload) == 0 || !json.Valid(payload) {
		return []byte(`{}`)
	}
	return payload
}

var _ domain.OutboxRepository = (*OutboxRepository)(nil)
