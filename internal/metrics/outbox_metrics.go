package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Значения метки result у skyshop_outbox_publish_attempts_total.
const (
	OutboxResultSent       = "sent"
	OutboxResultRetryError = "retry_error"
	OutboxResultFailed     = "failed"
	OutboxResultDLQ        = "dlq"
	OutboxResultDLQFailed  = "dlq_failed"
)

// OutboxMetrics описывает публикацию событий из outbox и размер backlog.
// Методы безопасны для nil-получателя.
type OutboxMetrics struct {
	attempts    *prometheus.CounterVec
	pending     prometheus.Gauge
	oldestAge   prometheus.Gauge
	lastPublish prometheus.Gauge
}

// NewOutboxMetrics регистрирует метрики outbox; nil означает реестр по умолчанию.
func NewOutboxMetrics(registerer prometheus.Registerer) *OutboxMetrics {
	return &OutboxMetrics{
		attempts: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "skyshop_outbox_publish_attempts_total",
			Help: "Outbox publish attempts grouped by result.",
		}, []string{"result"}),
		pending: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "skyshop_outbox_pending_records",
			Help: "Pending records in the order events outbox.",
		}),
		oldestAge: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "skyshop_outbox_oldest_pending_age_seconds",
			Help: "Age in seconds of the oldest pending outbox record.",
		}),
		lastPublish: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "skyshop_outbox_last_publish_timestamp_seconds",
			Help: "Unix time of the last successfully published outbox record.",
		}),
	}
}

// RecordAttempt учитывает одну попытку публикации.
func (m *OutboxMetrics) RecordAttempt(result string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(result).Inc()
}

// RecordPublished отмечает время успешной публикации.
func (m *OutboxMetrics) RecordPublished(at time.Time) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(OutboxResultSent).Inc()
	m.lastPublish.Set(float64(at.Unix()))
}

// SetBacklog обновляет размер backlog и возраст самой старой записи.
func (m *OutboxMetrics) SetBacklog(pending int, oldestAge time.Duration) {
	if m == nil {
		return
	}
	m.pending.Set(float64(pending))
	m.oldestAge.Set(max(oldestAge.Seconds(), 0))
}

// Attempts возвращает счётчик попыток с указанным результатом.
func (m *OutboxMetrics) Attempts(result string) prometheus.Counter {
	return m.attempts.WithLabelValues(result)
}

// Pending возвращает gauge размера backlog.
func (m *OutboxMetrics) Pending() prometheus.Gauge {
	return m.pending
}
