package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/vladislavdragonenkov/skyshop/internal/domain"
)

// OrderRepository хранит заказы в map под RWMutex. Наружу отдаются только копии.
type OrderRepository struct {
	mu     sync.RWMutex
	orders map[string]domain.Order
}

// NewOrderRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{orders: make(map[string]domain.Order)}
}

func (r *OrderRepository) Create(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.orders[order.ID]; taken {
		return errors.Wrapf(domain.ErrOrderAlreadyExists, "order %s", order.ID)
	}
	r.orders[order.ID] = order.Clone()
	return nil
}

func (r *OrderRepository) Get(_ context.Context, id string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.orders[id]
	if !ok {
		return domain.Order{}, errors.Wrapf(domain.ErrOrderNotFound, "order %s", id)
	}
	return order.Clone(), nil
}

// List упорядочивает заказы по CreatedAt, затем по ID.
func (r *OrderRepository) List(_ context.Context) ([]domain.Order, error) {
	r.mu.RLock()
	all := make([]domain.Order, 0, len(r.orders))
	for _, order := range r.orders {
		all = append(all, order.Clone())
	}
	r.mu.RUnlock()

	slices.SortFunc(all, func(a, b domain.Order) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return all, nil
}

// Save заменяет заказ, если его версия совпадает с сохранённой, и увеличивает версию.
func (r *OrderRepository) Save(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.orders[order.ID]
	switch {
	case !ok:
		return errors.Wrapf(domain.ErrOrderNotFound, "order %s", order.ID)
	case current.Version != order.Version:
		return errors.Wrapf(domain.ErrOrderVersionConflict, "order %s: stored version %d, got %d", order.ID, current.Version, order.Version)
	}

	next := order.Clone()
	next.Version = current.Version + 1
	r.orders[order.ID] = next
	return nil
}

func (r *OrderRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.orders[id]; !ok {
		return errors.Wrapf(domain.ErrOrderNotFound, "order %s", id)
	}
	delete(r.orders, id)
	return nil
}

var _ domain.OrderRepository = (*OrderRepository)(nil)
