package order

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/skyshop/internal/domain"
	"github.com/vladislavdragonenkov/skyshop/internal/metrics"
)

// Option настраивает Service.
type Option func(*Service)

// WithLogger задаёт logger сервиса.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithLocker задаёт блокировку заказов (по умолчанию in-process).
func WithLocker(locker domain.OrderLocker) Option {
	return func(s *Service) {
		if locker != nil {
			s.locker = locker
		}
	}
}

// WithTimeline включает запись событий жизненного цикла.
func WithTimeline(timeline domain.TimelineRepository) Option {
	return func(s *Service) {
		s.timeline = timeline
	}
}

// WithOutbox включает постановку доменных событий в outbox.
func WithOutbox(outbox domain.OutboxRepository) Option {
	return func(s *Service) {
		s.outbox = outbox
	}
}

// WithMetrics задаёт prometheus-метрики сервиса.
func WithMetrics(m *metrics.OrderMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator подменяет генератор идентификаторов заказов и позиций.
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) {
		if newID != nil {
			s.newID = newID
		}
	}
}

// WithPaymentTimeout ограничивает время вызова платёжного шлюза.
func WithPaymentTimeout(timeout time.Duration) Option {
	return func(s *Service) {
		if timeout > 0 {
			s.paymentTimeout = timeout
		}
	}
}

// WithSettledGuard запрещает повторную оплату любого закрытого заказа (PAID или OFFLINE_PAYMENT),
// а не только оплаченного онлайн.
func WithSettledGuard() Option {
	return func(s *Service) {
		s.guard = guardSettled
	}
}

func guardPaid(status domain.PaymentStatus) error {
	if status == domain.PaymentStatusPaid {
		return domain.ErrOrderAlreadyPaid
	}
	return nil
}

func guardSettled(status domain.PaymentStatus) error {
	if status.IsSettled() {
		return domain.ErrOrderAlreadySettled
	}
	return nil
}
