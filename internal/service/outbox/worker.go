package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/skyshop/internal/domain"
	"github.com/vladislavdragonenkov/skyshop/internal/metrics"
)

// MaxRetryDelay ограничивает экспоненциальную задержку между попытками.
const MaxRetryDelay = 30 * time.Second

// Config задаёт ритм опроса outbox и политику повторов.
type Config struct {
	PollInterval   time.Duration
	BatchSize      int
	MaxAttempts    int
	RetryBaseDelay time.Duration
}

// DefaultConfig: опрос раз в секунду, до 100 сообщений, 3 попытки с задержкой от 50ms.
func DefaultConfig() Config {
	return Config{
		PollInterval:   time.Second,
		BatchSize:      100,
		MaxAttempts:    3,
		RetryBaseDelay: 50 * time.Millisecond,
	}
}

// withDefaults заменяет некорректные значения значениями DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	c.RetryBaseDelay = max(c.RetryBaseDelay, 0)
	return c
}

// Option подключает к Worker необязательные зависимости.
type Option func(*Worker)

func WithLogger(logger *log.Entry) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithDLQ задаёт получателя сообщений, исчерпавших попытки.
func WithDLQ(publisher domain.OutboxPublisher) Option {
	return func(w *Worker) { w.dlq = publisher }
}

func WithMetrics(m *metrics.OutboxMetrics) Option {
	return func(w *Worker) { w.metrics = m }
}

// WithClock подменяет время для метрик backlog и DLQ-конверта.
func WithClock(now func() time.Time) Option {
	return func(w *Worker) {
		if now != nil {
			w.now = now
		}
	}
}

// Worker переносит события заказов из outbox в брокеры.
// Сообщение помечается sent после публикации или failed после MaxAttempts неудач
// (тогда оно уходит в DLQ, если он задан). При отмене ctx сообщение остаётся pending.
type Worker struct {
	repo      domain.OutboxRepository
	publisher domain.OutboxPublisher
	dlq       domain.OutboxPublisher
	cfg       Config
	logger    *log.Entry
	metrics   *metrics.OutboxMetrics
	now       func() time.Time
}

// NewWorker создаёт outbox worker.
func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, cfg Config, opts ...Option) *Worker {
	w := &Worker{
		repo:      repo,
		publisher: publisher,
		cfg:       cfg.withDefaults(),
		logger:    log.WithField("component", "outbox-worker"),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run опрашивает outbox до отмены ctx и возвращает nil при штатной остановке.
func (w *Worker) Run(ctx context.Context) error {
	if w.repo == nil || w.publisher == nil {
		w.logger.Warn("outbox worker has no repository or publisher, idling")
		<-ctx.Done()
		return nil
	}

	w.logger.WithFields(log.Fields{
		"poll_interval": w.cfg.PollInterval,
		"batch_size":    w.cfg.BatchSize,
		"max_attempts":  w.cfg.MaxAttempts,
		"dlq":           w.dlq != nil,
	}).Info("outbox worker started")

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		w.ProcessOnce(ctx)
		select {
		case <-ctx.Done():
			w.logger.Info("outbox worker stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// ProcessOnce публикует одну порцию pending-сообщений и возвращает число отправленных.
func (w *Worker) ProcessOnce(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}

	batch, err := w.repo.PullPending(ctx, w.cfg.BatchSize)
	if err != nil {
		w.logger.WithError(err).Warn("pull pending outbox messages failed")
		return 0
	}

	sent := 0
	for _, msg := range batch {
		res := w.deliver(ctx, msg)
		if res == outcomeInterrupted {
			break
		}
		if res == outcomeSent {
			sent++
		}
	}
	w.observeBacklog(ctx)
	return sent
}

type outcome int

const (
	outcomeSent outcome = iota
	outcomeFailed
	outcomeInterrupted
)

func (w *Worker) deliver(ctx context.Context, msg domain.OutboxMessage) outcome {
	entry := w.logger.WithFields(log.Fields{
		"outbox_id":    msg.ID,
		"event_type":   msg.EventType,
		"aggregate_id": msg.AggregateID,
	})

	err := w.publish(ctx, msg)
	switch {
	case err == nil:
		if markErr := w.repo.MarkSent(ctx, msg.ID); markErr != nil {
			// Сообщение будет опубликовано повторно; получатели дедуплицируют по ID.
			entry.WithError(markErr).Warn("mark outbox message sent failed")
			return outcomeFailed
		}
		return outcomeSent
	case ctx.Err() != nil:
		return outcomeInterrupted
	}

	entry.WithError(err).Error("outbox message dropped after retries")
	w.metrics.RecordAttempt(metrics.OutboxResultFailed)
	w.deadLetter(ctx, msg, err)
	if markErr := w.repo.MarkFailed(ctx, msg.ID); markErr != nil {
		entry.WithError(markErr).Warn("mark outbox message failed failed")
	}
	return outcomeFailed
}

// publish делает до MaxAttempts попыток с экспоненциальной задержкой между ними.
func (w *Worker) publish(ctx context.Context, msg domain.OutboxMessage) error {
	var lastErr error
	for attempt := 1; attempt <= w.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, backoff(w.cfg.RetryBaseDelay, attempt-1)); err != nil {
				return err
			}
		}
		lastErr = w.publisher.Publish(ctx, msg)
		if lastErr == nil {
			w.metrics.RecordPublished(w.now())
			return nil
		}
		w.metrics.RecordAttempt(metrics.OutboxResultRetryError)
	}
	return errors.Mark(
		errors.Wrapf(lastErr, "publish outbox message %s: %d attempts", msg.ID, w.cfg.MaxAttempts),
		domain.ErrOutboxPublish,
	)
}

// deadLetter: содержимое DLQ-сообщения. Исходный payload вложен как JSON.
type deadLetter struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishError  string          `json:"publish_error"`
	FailedAt      time.Time       `json:"dlq_published_at"`
}

func (w *Worker) deadLetter(ctx context.Context, msg domain.OutboxMessage, cause error) {
	if w.dlq == nil {
		return
	}

	original := json.RawMessage(msg.Payload)
	if !json.Valid(original) {
		original = json.RawMessage("null")
	}
	body, err := json.Marshal(deadLetter{
		OutboxID:      msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       original,
		PublishError:  cause.Error(),
		FailedAt:      w.now(),
	})
	if err == nil {
		letter := msg
		letter.Payload = body
		err = w.dlq.Publish(ctx, letter)
	}
	if err != nil {
		w.logger.WithError(err).WithField("outbox_id", msg.ID).Warn("dead letter publish failed")
		w.metrics.RecordAttempt(metrics.OutboxResultDLQFailed)
		return
	}
	w.metrics.RecordAttempt(metrics.OutboxResultDLQ)
}

func (w *Worker) observeBacklog(ctx context.Context) {
	if w.metrics == nil {
		return
	}
	stats, err := w.repo.Stats(ctx)
	if err != nil {
		w.logger.WithError(err).Debug("outbox stats unavailable")
		return
	}
	var age time.Duration
	if stats.PendingCount > 0 && !stats.OldestPendingAt.IsZero() {
		age = w.now().Sub(stats.OldestPendingAt)
	}
	w.metrics.SetBacklog(stats.PendingCount, age)
}

// backoff возвращает base*2^(retry-1), но не больше MaxRetryDelay.
func backoff(base time.Duration, retry int) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base
	for i := 1; i < retry && delay < MaxRetryDelay; i++ {
		delay *= 2
	}
	return min(delay, MaxRetryDelay)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
