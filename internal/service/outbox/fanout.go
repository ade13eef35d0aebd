package outbox

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/vladislavdragonenkov/skyshop/internal/domain"
)

// Fanout публикует событие во все брокеры по очереди.
// Ошибка любого из них возвращается целиком, и worker повторит публикацию во все,
// поэтому получатели должны дедуплицировать события по ID.
type Fanout []domain.OutboxPublisher

// Publish реализует domain.OutboxPublisher.
func (f Fanout) Publish(ctx context.Context, event domain.OutboxMessage) error {
	var errs error
	for _, publisher := range f {
		if publisher == nil {
			continue
		}
		if err := publisher.Publish(ctx, event); err != nil {
			errs = errors.CombineErrors(errs, err)
		}
	}
	return errs
}

// NewFanout отбрасывает nil-издателей. При единственном издателе он возвращается как есть,
// при отсутствии издателей возвращается nil.
func NewFanout(publishers ...domain.OutboxPublisher) domain.OutboxPublisher {
	var out Fanout
	for _, p := range publishers {
		if p != nil {
			out = append(out, p)
		}
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	default:
		return out
	}
}
