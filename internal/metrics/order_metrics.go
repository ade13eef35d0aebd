package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Значения метки result у платёжных метрик.
const (
	PaymentResultSuccess  = "success"
	PaymentResultFailed   = "failed"
	PaymentResultRejected = "rejected"
)

// Значения метки method.
const (
	PaymentMethodOnline  = "online"
	PaymentMethodOffline = "offline"
)

// OrderMetrics содержит метрики жизненного цикла заказов.
// Все методы безопасны для nil-получателя: движок может работать без метрик.
type OrderMetrics struct {
	ordersCreated   prometheus.Counter
	ordersUpdated   prometheus.Counter
	ordersDeleted   prometheus.Counter
	statusOverrides prometheus.Counter

	payments         *prometheus.CounterVec
	paymentDuration  *prometheus.HistogramVec
	paymentsInFlight prometheus.Gauge

	timelineEvents prometheus.Counter
	outboxEvents   prometheus.Counter
}

// NewOrderMetrics регистрирует метрики в prometheus.DefaultRegisterer.
func NewOrderMetrics() *OrderMetrics {
	return NewOrderMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewOrderMetricsWithRegisterer регистрирует метрики в указанном реестре.
func NewOrderMetricsWithRegisterer(registerer prometheus.Registerer) *OrderMetrics {
	return &OrderMetrics{
		ordersCreated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "skyshop_orders_created_total",
			Help: "Total number of orders created",
		}),
		ordersUpdated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "skyshop_orders_updated_total",
			Help: "Total number of order updates",
		}),
		ordersDeleted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "skyshop_orders_deleted_total",
			Help: "Total number of orders deleted",
		}),
		statusOverrides: registerCounter(registerer, prometheus.CounterOpts{
			Name: "skyshop_order_status_overrides_total",
			Help: "Total number of manual order status overrides",
		}),
		payments: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "skyshop_payments_total",
			Help: "Payment attempts by method and result",
		}, []string{"method", "result"}),
		paymentDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "skyshop_payment_duration_seconds",
			Help:    "Duration of payment operations including gateway call",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		}, []string{"method"}),
		paymentsInFlight: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "skyshop_payments_in_flight",
			Help: "Number of payment operations currently holding an order lock",
		}),
		timelineEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "skyshop_timeline_events_total",
			Help: "Total number of timeline events recorded",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "skyshop_outbox_events_enqueued_total",
			Help: "Total number of outbox events enqueued",
		}),
	}
}

// RecordOrderCreated увеличивает счётчик созданных заказов.
func (m *OrderMetrics) RecordOrderCreated() {
	if m != nil {
		m.ordersCreated.Inc()
	}
}

// RecordOrderUpdated увеличивает счётчик изменений заказов.
func (m *OrderMetrics) RecordOrderUpdated() {
	if m != nil {
		m.ordersUpdated.Inc()
	}
}

// RecordOrderDeleted увеличивает счётчик удалённых заказов.
func (m *OrderMetrics) RecordOrderDeleted() {
	if m != nil {
		m.ordersDeleted.Inc()
	}
}

// RecordStatusOverride учитывает ручную смену статуса.
func (m *OrderMetrics) RecordStatusOverride() {
	if m != nil {
		m.statusOverrides.Inc()
	}
}

// RecordPayment учитывает результат попытки оплаты и её длительность.
func (m *OrderMetrics) RecordPayment(method, result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.payments.WithLabelValues(method, result).Inc()
	m.paymentDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// PaymentStarted увеличивает число платежей в работе.
func (m *OrderMetrics) PaymentStarted() {
	if m != nil {
		m.paymentsInFlight.Inc()
	}
}

// PaymentFinished уменьшает число платежей в работе.
func (m *OrderMetrics) PaymentFinished() {
	if m != nil {
		m.paymentsInFlight.Dec()
	}
}

// RecordTimelineEvent увеличивает счётчик событий timeline.
func (m *OrderMetrics) RecordTimelineEvent() {
	if m != nil {
		m.timelineEvents.Inc()
	}
}

// RecordOutboxEvent увеличивает счётчик событий, поставленных в outbox.
func (m *OrderMetrics) RecordOutboxEvent() {
	if m != nil {
		m.outboxEvents.Inc()
	}
}
