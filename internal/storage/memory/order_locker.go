package memory

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/vladislavdragonenkov/skyshop/internal/domain"
)

// lockEntry: мьютекс одного заказа. Канал ёмкостью 1 позволяет ждать захвата с учётом ctx.
type lockEntry struct {
	slot chan struct{}
	refs int
}

// OrderLocker сериализует операции над одним заказом внутри процесса.
type OrderLocker struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

// NewOrderLocker создаёт in-process реализацию OrderLocker.
func NewOrderLocker() *OrderLocker {
	return &OrderLocker{locks: make(map[string]*lockEntry)}
}

// Lock ждёт эксклюзивного доступа к заказу до отмены ctx.
func (l *OrderLocker) Lock(ctx context.Context, orderID string) (func(), error) {
	entry := l.acquireEntry(orderID)

	select {
	case entry.slot <- struct{}{}:
	case <-ctx.Done():
		l.releaseEntry(orderID, entry)
		return nil, errors.Mark(errors.Wrapf(ctx.Err(), "lock order %s", orderID), domain.ErrOrderLocked)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-entry.slot
			l.releaseEntry(orderID, entry)
		})
	}, nil
}

func (l *OrderLocker) acquireEntry(orderID string) *lockEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.locks[orderID]
	if !ok {
		entry = &lockEntry{slot: make(chan struct{}, 1)}
		l.locks[orderID] = entry
	}
	entry.refs++
	return entry
}

func (l *OrderLocker) releaseEntry(orderID string, entry *lockEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry.refs--
	if entry.refs == 0 {
		delete(l.locks, orderID)
	}
}

var _ domain.OrderLocker = (*OrderLocker)(nil)
