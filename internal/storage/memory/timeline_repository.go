package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/skyshop/internal/domain"
)

// TimelineRepository держит журналы заказов в памяти процесса.
// Журнал удалённого заказа сохраняется.
type TimelineRepository struct {
	mu      sync.RWMutex
	byOrder map[string][]domain.TimelineEvent
}

// NewTimelineRepository создаёт in-memory реализацию TimelineRepository.
func NewTimelineRepository() *TimelineRepository {
	return &TimelineRepository{byOrder: make(map[string][]domain.TimelineEvent)}
}

// Append вставляет событие по времени; события с равным временем остаются в порядке добавления.
func (r *TimelineRepository) Append(_ context.Context, event domain.TimelineEvent) error {
	if event.Occurred.IsZero() {
		event.Occurred = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	events := r.byOrder[event.OrderID]
	at, _ := slices.BinarySearchFunc(events, event.Occurred, func(e domain.TimelineEvent, t time.Time) int {
		if e.Occurred.After(t) {
			return 1
		}
		return -1
	})
	r.byOrder[event.OrderID] = slices.Insert(events, at, event)
	return nil
}

// List возвращает копию журнала заказа.
func (r *TimelineRepository) List(_ context.Context, orderID string) ([]domain.TimelineEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Clone(r.byOrder[orderID]), nil
}

var _ domain.TimelineRepository = (*TimelineRepository)(nil)
