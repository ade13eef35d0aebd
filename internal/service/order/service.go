package order

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/skyshop/internal/domain"
	"github.com/vladislavdragonenkov/skyshop/internal/metrics"
	"github.com/vladislavdragonenkov/skyshop/internal/storage/memory"
)

// DefaultPaymentTimeout: ограничение на вызов платёжного шлюза по умолчанию.
const DefaultPaymentTimeout = 5 * time.Second

const (
	aggregateType = "order"
	tracerName    = "github.com/vladislavdragonenkov/skyshop/internal/service/order"
)

// Service управляет жизненным циклом заказа: валидация, расчёт суммы и переходы оплаты.
// Все изменения одного заказа выполняются под OrderLocker и сохраняются через CAS по версии.
type Service struct {
	orders   domain.OrderRepository
	products domain.ProductRepository
	gateway  domain.PaymentGateway
	locker   domain.OrderLocker
	timeline domain.TimelineRepository
	outbox   domain.OutboxRepository
	metrics  *metrics.OrderMetrics
	logger   *log.Entry
	tracer   trace.Tracer

	now            func() time.Time
	newID          func() string
	paymentTimeout time.Duration
	guard          func(domain.PaymentStatus) error
}

// NewService создаёт сервис заказов.
func NewService(
	orders domain.OrderRepository,
	products domain.ProductRepository,
	gateway domain.PaymentGateway,
	opts ...Option,
) *Service {
	s := &Service{
		orders:         orders,
		products:       products,
		gateway:        gateway,
		locker:         memory.NewOrderLocker(),
		logger:         log.WithField("component", "order-service"),
		tracer:         otel.Tracer(tracerName),
		now:            func() time.Time { return time.Now().UTC() },
		newID:          uuid.NewString,
		paymentTimeout: DefaultPaymentTimeout,
		guard:          guardPaid,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create валидирует вход, фиксирует цены товаров, считает сумму и сохраняет заказ
// в состоянии OPEN / PAYMENT_FAILED.
func (s *Service) Create(ctx context.Context, in Input) (domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.Create")
	defer span.End()

	products, err := validateInput(ctx, in, s.products.Get)
	if err != nil {
		return domain.Order{}, spanError(span, err)
	}

	now := s.timestamp()
	order := domain.Order{
		ID:            s.newID(),
		BuyerEmail:    in.BuyerEmail,
		SeatLetter:    in.SeatLetter,
		SeatNumber:    in.SeatNumber,
		Items:         s.buildItems(in.Items, products, now),
		Status:        domain.OrderStatusOpen,
		PaymentStatus: domain.PaymentStatusFailed,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	order.TotalPrice = domain.CalculateTotal(order.Items)
	span.SetAttributes(attribute.String("order.id", order.ID))

	if err := checkInvariants(order); err != nil {
		return domain.Order{}, spanError(span, err)
	}
	if err := s.orders.Create(ctx, order); err != nil {
		return domain.Order{}, spanError(span, err)
	}

	s.metrics.RecordOrderCreated()
	s.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"total":    order.TotalPrice.StringFixed(domain.MoneyScale),
		"items":    len(order.Items),
	}).Info("order created")
	s.record(ctx, order, domain.EventOrderCreated, "")

	return order, nil
}

// Get возвращает заказ по идентификатору.
func (s *Service) Get(ctx context.Context, id string) (domain.Order, error) {
	return s.orders.Get(ctx, id)
}

// List возвращает все заказы.
func (s *Service) List(ctx context.Context) ([]domain.Order, error) {
	return s.orders.List(ctx)
}

// Update заменяет покупателя, место и позиции заказа и пересчитывает сумму.
// Статус заказа не проверяется: изменять можно и закрытый заказ.
func (s *Service) Update(ctx context.Context, id string, in Input) (domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.Update", trace.WithAttributes(attribute.String("order.id", id)))
	defer span.End()

	var updated domain.Order
	err := s.withLock(ctx, id, func() error {
		order, err := s.orders.Get(ctx, id)
		if err != nil {
			return err
		}

		products, err := validateInput(ctx, in, s.products.Get)
		if err != nil {
			return err
		}

		now := s.timestamp()
		order.BuyerEmail = in.BuyerEmail
		order.SeatLetter = in.SeatLetter
		order.SeatNumber = in.SeatNumber
		order.Items = s.buildItems(in.Items, products, now)
		order.TotalPrice = domain.CalculateTotal(order.Items)
		order.UpdatedAt = now

		if err := s.save(ctx, &order); err != nil {
			return err
		}
		updated = order
		return nil
	})
	if err != nil {
		return domain.Order{}, spanError(span, err)
	}

	s.metrics.RecordOrderUpdated()
	s.record(ctx, updated, domain.EventOrderUpdated, "")
	return updated, nil
}

// Delete удаляет заказ вместе с позициями.
func (s *Service) Delete(ctx context.Context, id string) error {
	err := s.withLock(ctx, id, func() error {
		return s.orders.Delete(ctx, id)
	})
	if err != nil {
		return err
	}

	s.metrics.RecordOrderDeleted()
	s.record(ctx, domain.Order{ID: id}, domain.EventOrderDeleted, "")
	return nil
}

// PayOnline списывает сумму заказа через платёжный шлюз.
//
// При успехе заказ переходит в FINISHED / PAID. При ошибке шлюза заказ сохраняется
// с PAYMENT_FAILED (статус не меняется), после чего возвращается ошибка с меткой
// domain.ErrPaymentProcessingFailed, содержащая причину от шлюза.
func (s *Service) PayOnline(ctx context.Context, id, cardToken string) (domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.PayOnline", trace.WithAttributes(attribute.String("order.id", id)))
	defer span.End()

	started := time.Now()
	s.metrics.PaymentStarted()
	defer s.metrics.PaymentFinished()

	var (
		paid   domain.Order
		result = metrics.PaymentResultSuccess
	)
	err := s.withLock(ctx, id, func() error {
		order, err := s.orders.Get(ctx, id)
		if err != nil {
			return err
		}
		if err := s.guard(order.PaymentStatus); err != nil {
			result = metrics.PaymentResultRejected
			return err
		}

		chargeErr := s.charge(ctx, order, cardToken)

		// Результат списания фиксируется даже если клиент уже отключился.
		saveCtx := context.WithoutCancel(ctx)
		now := s.timestamp()
		if chargeErr != nil {
			result = metrics.PaymentResultFailed
			order.PaymentStatus = domain.PaymentStatusFailed
			order.UpdatedAt = now
			if err := s.save(saveCtx, &order); err != nil {
				return errors.WithSecondaryError(errors.Wrap(err, "persist failed payment state"), chargeErr)
			}
			s.record(saveCtx, order, domain.EventPaymentFailed, chargeErr.Error())
			return errors.Mark(errors.Wrap(chargeErr, "payment processing failed"), domain.ErrPaymentProcessingFailed)
		}

		order.PaymentStatus = domain.PaymentStatusPaid
		order.Status = domain.OrderStatusFinished
		order.PaymentGateway = domain.PaymentGatewayOnline
		order.CardToken = cardToken
		order.PaymentDate = &now
		order.UpdatedAt = now
		if err := s.save(saveCtx, &order); err != nil {
			result = metrics.PaymentResultFailed
			s.logger.WithError(err).WithField("order_id", order.ID).Error("charged order could not be saved")
			return errors.Wrap(err, "persist paid order")
		}
		s.record(saveCtx, order, domain.EventPaymentSucceeded, "")
		paid = order
		return nil
	})
	s.metrics.RecordPayment(metrics.PaymentMethodOnline, result, time.Since(started))
	if err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"order_id": id,
			"result":   result,
		}).Warn("online payment failed")
		return domain.Order{}, spanError(span, err)
	}

	s.logger.WithField("order_id", id).Info("order paid online")
	return paid, nil
}

// PayOffline отмечает заказ оплаченным на борту без обращения к шлюзу.
func (s *Service) PayOffline(ctx context.Context, id string) (domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.PayOffline", trace.WithAttributes(attribute.String("order.id", id)))
	defer span.End()

	started := time.Now()
	result := metrics.PaymentResultSuccess

	var settled domain.Order
	err := s.withLock(ctx, id, func() error {
		order, err := s.orders.Get(ctx, id)
		if err != nil {
			return err
		}
		if err := s.guard(order.PaymentStatus); err != nil {
			result = metrics.PaymentResultRejected
			return err
		}

		now := s.timestamp()
		order.PaymentStatus = domain.PaymentStatusOffline
		order.Status = domain.OrderStatusFinished
		order.PaymentGateway = domain.PaymentGatewayOffline
		order.PaymentDate = &now
		order.UpdatedAt = now
		if err := s.save(ctx, &order); err != nil {
			result = metrics.PaymentResultFailed
			return err
		}
		settled = order
		return nil
	})
	s.metrics.RecordPayment(metrics.PaymentMethodOffline, result, time.Since(started))
	if err != nil {
		return domain.Order{}, spanError(span, err)
	}

	s.record(ctx, settled, domain.EventPaymentOffline, "")
	return settled, nil
}

// SetStatus перезаписывает статус заказа без проверки перехода.
// Проверяется только то, что статус известен.
func (s *Service) SetStatus(ctx context.Context, id, status string) (domain.Order, error) {
	next, err := domain.ParseOrderStatus(status)
	if err != nil {
		return domain.Order{}, errors.Wrapf(err, "status %q", status)
	}

	var (
		changed  domain.Order
		previous domain.OrderStatus
	)
	err = s.withLock(ctx, id, func() error {
		order, err := s.orders.Get(ctx, id)
		if err != nil {
			return err
		}
		previous = order.Status
		order.Status = next
		order.UpdatedAt = s.timestamp()
		if err := s.save(ctx, &order); err != nil {
			return err
		}
		changed = order
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.metrics.RecordStatusOverride()
	s.record(ctx, changed, domain.EventOrderStatusChanged, fmt.Sprintf("%s -> %s", previous, next))
	return changed, nil
}

// Timeline возвращает события жизненного цикла заказа.
func (s *Service) Timeline(ctx context.Context, id string) ([]domain.TimelineEvent, error) {
	if _, err := s.orders.Get(ctx, id); err != nil {
		return nil, err
	}
	if s.timeline == nil {
		return []domain.TimelineEvent{}, nil
	}
	return s.timeline.List(ctx, id)
}

func (s *Service) charge(ctx context.Context, order domain.Order, cardToken string) error {
	ctx, span := s.tracer.Start(ctx, "payment.Charge", trace.WithAttributes(
		attribute.String("order.id", order.ID),
		attribute.String("payment.amount", order.TotalPrice.StringFixed(domain.MoneyScale)),
	))
	defer span.End()

	chargeCtx, cancel := context.WithTimeout(ctx, s.paymentTimeout)
	defer cancel()

	if err := s.gateway.Charge(chargeCtx, order.TotalPrice, cardToken); err != nil {
		return spanError(span, err)
	}
	return nil
}

// withLock выполняет fn под блокировкой заказа.
func (s *Service) withLock(ctx context.Context, id string, fn func() error) error {
	unlock, err := s.locker.Lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()
	return fn()
}

// save сохраняет заказ через CAS и синхронизирует локальную версию с хранилищем.
func (s *Service) save(ctx context.Context, order *domain.Order) error {
	if err := checkInvariants(*order); err != nil {
		return err
	}
	if err := s.orders.Save(ctx, *order); err != nil {
		return err
	}
	order.Version++
	return nil
}

// timestamp: время в UTC с точностью до микросекунды, как его хранит PostgreSQL,
// чтобы ответ Create совпадал с последующим Get.
func (s *Service) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// checkInvariants не пускает в хранилище заказ с нарушенными инвариантами.
// Вход к этому моменту уже проверен, поэтому нарушение считается внутренней ошибкой
// и не попадает ни в одну категорию domain.
func checkInvariants(order domain.Order) error {
	violations := order.ValidateInvariants()
	if len(violations) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(violations))
	for _, v := range violations {
		msgs = append(msgs, v.Error())
	}
	return errors.AssertionFailedf("order %s violates invariants: %s", order.ID, strings.Join(msgs, "; "))
}

func (s *Service) buildItems(inputs []ItemInput, products map[string]domain.Product, now time.Time) []domain.OrderItem {
	items := make([]domain.OrderItem, 0, len(inputs))
	for _, in := range inputs {
		items = append(items, domain.OrderItem{
			ID:        s.newID(),
			ProductID: in.ProductID,
			Quantity:  in.Quantity,
			UnitPrice: products[in.ProductID].Price,
			CreatedAt: now,
		})
	}
	return items
}

// orderEvent: полезная нагрузка событий заказа в outbox.
type orderEvent struct {
	OrderID       string `json:"order_id"`
	Status        string `json:"status,omitempty"`
	PaymentStatus string `json:"payment_status,omitempty"`
	TotalPrice    string `json:"total_price,omitempty"`
	Version       int64  `json:"version"`
	Reason        string `json:"reason,omitempty"`
	OccurredAt    string `json:"occurred_at"`
}

// record пишет событие в timeline и outbox. Ошибки только логируются:
// состояние заказа уже сохранено и откатывать его нельзя.
func (s *Service) record(ctx context.Context, order domain.Order, eventType, reason string) {
	occurred := s.timestamp()
	fields := log.Fields{"order_id": order.ID, "event": eventType}

	if s.timeline != nil {
		event := domain.TimelineEvent{OrderID: order.ID, Type: eventType, Reason: reason, Occurred: occurred}
		if err := s.timeline.Append(ctx, event); err != nil {
			s.logger.WithError(err).WithFields(fields).Warn("append timeline event failed")
		} else {
			s.metrics.RecordTimelineEvent()
		}
	}

	if s.outbox == nil {
		return
	}
	payload := orderEvent{
		OrderID:       order.ID,
		Status:        string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		Version:       order.Version,
		Reason:        reason,
		OccurredAt:    occurred.Format(time.RFC3339Nano),
	}
	if order.ID != "" && len(order.Items) > 0 {
		payload.TotalPrice = order.TotalPrice.StringFixed(domain.MoneyScale)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.WithError(err).WithFields(fields).Error("marshal event failed")
		return
	}
	msg := domain.OutboxMessage{
		AggregateType: aggregateType,
		AggregateID:   order.ID,
		EventType:     eventType,
		Payload:       data,
	}
	if _, err := s.outbox.Enqueue(ctx, msg); err != nil {
		s.logger.WithError(err).WithFields(fields).Error("enqueue event failed")
		return
	}
	s.metrics.RecordOutboxEvent()
}

func spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
