package redis

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/skyshop/internal/domain"
)

const (
	// DefaultLockTTL должен быть больше таймаута платёжного шлюза.
	DefaultLockTTL = 15 * time.Second

	lockKeyPrefix = "skyshop:lock:order:"
	lockRetryMin  = 10 * time.Millisecond
	lockRetryMax  = 200 * time.Millisecond
	unlockTimeout = 2 * time.Second
)

// unlockScript удаляет ключ, только если он всё ещё принадлежит владельцу токена.
var unlockScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// OrderLocker: распределённая блокировка заказа на SET NX PX.
// Нужна, когда несколько экземпляров сервиса работают с одним хранилищем.
type OrderLocker struct {
	client goredis.UniversalClient
	ttl    time.Duration
	logger *log.Entry
}

// NewOrderLocker создаёт блокировку с заданным TTL; ttl <= 0 заменяется DefaultLockTTL.
func NewOrderLocker(client goredis.UniversalClient, ttl time.Duration, logger *log.Entry) *OrderLocker {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	if logger == nil {
		logger = log.WithField("component", "redis-order-locker")
	}
	return &OrderLocker{client: client, ttl: ttl, logger: logger}
}

// Lock повторяет попытки захвата с растущей паузой до отмены ctx.
func (l *OrderLocker) Lock(ctx context.Context, orderID string) (func(), error) {
	key := lockKeyPrefix + orderID
	token := uuid.NewString()
	delay := lockRetryMin

	for {
		acquired, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, errors.Mark(errors.Wrapf(ctx.Err(), "lock order %s", orderID), domain.ErrOrderLocked)
			}
			return nil, errors.Wrapf(err, "redis lock order %s", orderID)
		}
		if acquired {
			return l.unlockFunc(key, token), nil
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, errors.Mark(errors.Wrapf(ctx.Err(), "lock order %s", orderID), domain.ErrOrderLocked)
		case <-timer.C:
		}
		delay = min(delay*2, lockRetryMax)
	}
}

func (l *OrderLocker) unlockFunc(key, token string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			// Контекст запроса к этому моменту может быть уже отменён.
			ctx, cancel := context.WithTimeout(context.Background(), unlockTimeout)
			defer cancel()

			if err := unlockScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
				l.logger.WithError(err).WithField("key", key).Warn("failed to release order lock")
			}
		})
	}
}

var _ domain.OrderLocker = (*OrderLocker)(nil)
