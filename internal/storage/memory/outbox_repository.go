package memory

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/skyshop/internal/domain"
)

type outboxState uint8

const (
	outboxPending outboxState = iota
	outboxSent
	outboxFailed
)

type outboxEntry struct {
	msg      domain.OutboxMessage
	state    outboxState
	queuedAt time.Time
}

// OutboxRepository хранит outbox в памяти процесса.
// Записи лежат в порядке постановки, поэтому PullPending отдаёт их FIFO.
type OutboxRepository struct {
	mu    sync.RWMutex
	log   []*outboxEntry
	index map[string]*outboxEntry
	now   func() time.Time
}

func NewOutboxRepository() *OutboxRepository {
	return &OutboxRepository{
		index: make(map[string]*outboxEntry),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Enqueue ставит сообщение в очередь; пустой ID заменяется на UUID.
func (r *OutboxRepository) Enqueue(_ context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.index[msg.ID]; dup {
		return domain.OutboxMessage{}, errors.Newf("outbox message %s already queued", msg.ID)
	}
	entry := &outboxEntry{msg: msg, queuedAt: r.now()}
	r.log = append(r.log, entry)
	r.index[msg.ID] = entry
	return msg, nil
}

// PullPending отдаёт до limit ожидающих сообщений, не меняя их состояния.
func (r *OutboxRepository) PullPending(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.collect(limit), nil
}

func (r *OutboxRepository) Stats(_ context.Context) (domain.OutboxStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stats domain.OutboxStats
	for _, e := range r.log {
		if e.state != outboxPending {
			continue
		}
		if stats.PendingCount == 0 {
			stats.OldestPendingAt = e.queuedAt
		}
		stats.PendingCount++
	}
	return stats, nil
}

func (r *OutboxRepository) MarkSent(_ context.Context, id string) error {
	return r.settle(id, outboxSent)
}

func (r *OutboxRepository) MarkFailed(_ context.Context, id string) error {
	return r.settle(id, outboxFailed)
}

// AllPending возвращает все ожидающие сообщения.
func (r *OutboxRepository) AllPending() []domain.OutboxMessage {
	return r.collect(-1)
}

func (r *OutboxRepository) settle(id string, state outboxState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.index[id]
	if !ok {
		return errors.Mark(errors.Newf("outbox message %s not found", id), domain.ErrOutboxPublish)
	}
	entry.state = state
	return nil
}

// collect: limit < 0 снимает ограничение.
func (r *OutboxRepository) collect(limit int) []domain.OutboxMessage {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.OutboxMessage
	for _, e := range r.log {
		if limit >= 0 && len(out) == limit {
			break
		}
		if e.state == outboxPending {
			out = append(out, e.msg)
		}
	}
	return out
}

var _ domain.OutboxRepository = (*OutboxRepository)(nil)
