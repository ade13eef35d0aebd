package domain

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ вместе с позициями.
	Create(ctx context.Context, order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound.
	Get(ctx context.Context, id string) (Order, error)
	// List возвращает все заказы в порядке создания.
	List(ctx context.Context) ([]Order, error)
	// Save перезаписывает заказ, если его Version совпадает с сохранённой
	// (optimistic locking), и увеличивает версию на единицу.
	Save(ctx context.Context, order Order) error
	// Delete удаляет заказ и его позиции.
	Delete(ctx context.Context, id string) error
}

// ProductRepository хранит товары каталога.
type ProductRepository interface {
	Create(ctx context.Context, product Product) error
	Get(ctx context.Context, id string) (Product, error)
	List(ctx context.Context) ([]Product, error)
	ListByCategory(ctx context.Context, categoryID string) ([]Product, error)
	// FindByName ищет товар по имени без учёта регистра.
	FindByName(ctx context.Context, name string) (Product, error)
	Update(ctx context.Context, product Product) error
	Delete(ctx context.Context, id string) error
}

// CategoryRepository хранит дерево категорий.
type CategoryRepository interface {
	Create(ctx context.Context, category Category) error
	Get(ctx context.Context, id string) (Category, error)
	List(ctx context.Context) ([]Category, error)
	ListChildren(ctx context.Context, parentID string) ([]Category, error)
	// FindByName ищет категорию по имени без учёта регистра.
	FindByName(ctx context.Context, name string) (Category, error)
	Update(ctx context.Context, category Category) error
	Delete(ctx context.Context, id string) error
}

// PaymentGateway списывает сумму с карты, представленной токеном.
// Любая ошибка означает, что списание не состоялось.
type PaymentGateway interface {
	Charge(ctx context.Context, amount decimal.Decimal, cardToken string) error
}

// OrderLocker даёт эксклюзивный доступ к заказу на время операции.
// Возвращённую функцию unlock нужно вызвать ровно один раз.
type OrderLocker interface {
	Lock(ctx context.Context, orderID string) (unlock func(), err error)
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(ctx context.Context, event TimelineEvent) error
	List(ctx context.Context, orderID string) ([]TimelineEvent, error)
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(ctx context.Context, event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// Envelope сериализует сообщение в конверт, общий для всех брокеров.
func (m OutboxMessage) Envelope(publishedAt time.Time) ([]byte, error) {
	return json.Marshal(struct {
		ID            string          `json:"id"`
		AggregateType string          `json:"aggregate_type"`
		AggregateID   string          `json:"aggregate_id"`
		EventType     string          `json:"event_type"`
		Payload       json.RawMessage `json:"payload"`
		PublishedAt   time.Time       `json:"published_at"`
	}{
		ID:            m.ID,
		AggregateType: m.AggregateType,
		AggregateID:   m.AggregateID,
		EventType:     m.EventType,
		Payload:       json.RawMessage(m.Payload),
		PublishedAt:   publishedAt.UTC(),
	})
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
