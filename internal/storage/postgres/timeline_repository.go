package postgres

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/vladislavdragonenkov/skyshop/internal/domain"
)

const (
	insertTimelineEventSQL = `INSERT INTO timeline_events (order_id, type, reason, occurred) VALUES ($1, $2, $3, $4)`
	selectTimelineSQL      = `SELECT type, reason, occurred FROM timeline_events WHERE order_id = $1 ORDER BY occurred, id`
)

// TimelineRepository хранит журнал заказа в таблице timeline_events.
// Строки не ссылаются на orders: журнал переживает удаление заказа.
type TimelineRepository struct {
	store *Store
	now   func() time.Time
}

// NewTimelineRepository создаёт PostgreSQL-реализацию TimelineRepository.
func NewTimelineRepository(store *Store) *TimelineRepository {
	return &TimelineRepository{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// Append добавляет событие; пустое время заменяется текущим.
func (r *TimelineRepository) Append(ctx context.Context, event domain.TimelineEvent) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	occurred := event.Occurred
	if occurred.IsZero() {
		occurred = r.now()
	}
	_, err := r.store.DB().ExecContext(ctx, insertTimelineEventSQL, event.OrderID, event.Type, event.Reason, occurred.UTC())
	return errors.Wrapf(err, "append %s event for order %s", event.Type, event.OrderID)
}

// List возвращает события в порядке появления.
func (r *TimelineRepository) List(ctx context.Context, orderID string) ([]domain.TimelineEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.store.DB().QueryContext(ctx, selectTimelineSQL, orderID)
	if err != nil {
		return nil, errors.Wrapf(err, "query timeline of order %s", orderID)
	}
	defer rows.Close()

	var events []domain.TimelineEvent
	for rows.Next() {
		event := domain.TimelineEvent{OrderID: orderID}
		if err := rows.Scan(&event.Type, &event.Reason, &event.Occurred); err != nil {
			return nil, errors.Wrap(err, "scan timeline row")
		}
		event.Occurred = event.Occurred.UTC()
		events = append(events, event)
	}
	return events, errors.Wrap(rows.Err(), "read timeline rows")
}

var _ domain.TimelineRepository = (*TimelineRepository)(nil)
