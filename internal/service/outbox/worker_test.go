package outbox

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/vladislavdragonenkov/skyshop/internal/domain"
	"github.com/vladislavdragonenkov/skyshop/internal/metrics"
	"github.com/vladislavdragonenkov/skyshop/internal/storage/memory"
)

func orderEvent(id string) domain.OutboxMessage {
	return domain.OutboxMessage{
		ID:            id,
		AggregateType: "order",
		AggregateID:   "order-" + id,
		EventType:     domain.EventPaymentSucceeded,
		Payload:       []byte(`{"payment_status":"PAID"}`),
	}
}

// noDelay: три попытки без пауз между ними.
func noDelay() Config {
	cfg := DefaultConfig()
	cfg.RetryBaseDelay = 0
	return cfg
}

func TestConfig_WithDefaults(t *testing.T) {
	t.Parallel()

	cfg := Config{PollInterval: -1, BatchSize: 0, MaxAttempts: -3, RetryBaseDelay: -time.Second}.withDefaults()
	def := DefaultConfig()
	if cfg.PollInterval != def.PollInterval || cfg.BatchSize != def.BatchSize || cfg.MaxAttempts != def.MaxAttempts {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
	if cfg.RetryBaseDelay != 0 {
		t.Fatalf("negative delay must collapse to zero, got %s", cfg.RetryBaseDelay)
	}
}

func TestWorker_ProcessOnce_MarkSent(t *testing.T) {
	t.Parallel()

	repo := &stubOutboxRepo{pending: []domain.OutboxMessage{orderEvent("msg-1")}}
	publisher := &stubPublisher{}
	registry := prometheus.NewRegistry()
	m := metrics.NewOutboxMetrics(registry)

	worker := NewWorker(repo, publisher, noDelay(), WithMetrics(m))

	if sent := worker.ProcessOnce(context.Background()); sent != 1 {
		t.Fatalf("expected 1 sent message, got %d", sent)
	}
	if got := len(repo.sentIDs); got != 1 || repo.sentIDs[0] != "msg-1" {
		t.Fatalf("expected msg-1 marked sent, got %v", repo.sentIDs)
	}
	if got := len(repo.failedIDs); got != 0 {
		t.Fatalf("expected 0 failed marks, got %d", got)
	}
	if got := publisher.calls(); got != 1 {
		t.Fatalf("expected 1 publish call, got %d", got)
	}
	if got := testutil.ToFloat64(m.Attempts(metrics.OutboxResultSent)); got != 1 {
		t.Fatalf("expected 1 sent attempt metric, got %v", got)
	}
}

func TestWorker_ProcessOnce_MarkFailedAndDLQAfterRetries(t *testing.T) {
	t.Parallel()

	failedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := &stubOutboxRepo{pending: []domain.OutboxMessage{orderEvent("msg-2")}}
	publisher := &stubPublisher{err: errors.New("broker unavailable")}
	dlq := &stubPublisher{}
	m := metrics.NewOutboxMetrics(prometheus.NewRegistry())

	worker := NewWorker(repo, publisher, noDelay(),
		WithDLQ(dlq),
		WithMetrics(m),
		WithClock(func() time.Time { return failedAt }),
	)

	if sent := worker.ProcessOnce(context.Background()); sent != 0 {
		t.Fatalf("expected nothing sent, got %d", sent)
	}

	if got := publisher.calls(); got != 3 {
		t.Fatalf("expected 3 publish attempts, got %d", got)
	}
	if got := len(repo.sentIDs); got != 0 {
		t.Fatalf("expected 0 sent marks, got %d", got)
	}
	if got := len(repo.failedIDs); got != 1 || repo.failedIDs[0] != "msg-2" {
		t.Fatalf("expected msg-2 marked failed, got %v", repo.failedIDs)
	}
	if got := dlq.calls(); got != 1 {
		t.Fatalf("expected 1 DLQ publish, got %d", got)
	}
	if got := testutil.ToFloat64(m.Attempts(metrics.OutboxResultRetryError)); got != 3 {
		t.Fatalf("expected 3 retry errors, got %v", got)
	}
	if got := testutil.ToFloat64(m.Attempts(metrics.OutboxResultDLQ)); got != 1 {
		t.Fatalf("expected 1 dlq delivery, got %v", got)
	}

	letter := dlq.last()
	if letter.ID != "msg-2" || letter.EventType != domain.EventPaymentSucceeded {
		t.Fatalf("dead letter must keep outbox identity, got %+v", letter)
	}
	var body deadLetter
	if err := json.Unmarshal(letter.Payload, &body); err != nil {
		t.Fatalf("decode dlq payload: %v", err)
	}
	if body.OutboxID != "msg-2" || body.PublishError == "" || !body.FailedAt.Equal(failedAt) {
		t.Fatalf("unexpected dead letter: %+v", body)
	}
	if string(body.Payload) != `{"payment_status":"PAID"}` {
		t.Fatalf("original payload must be embedded, got %s", body.Payload)
	}
}

func TestWorker_DeadLetterWithInvalidPayload(t *testing.T) {
	t.Parallel()

	msg := orderEvent("msg-5")
	msg.Payload = []byte("not json")
	repo := &stubOutboxRepo{pending: []domain.OutboxMessage{msg}}
	dlq := &stubPublisher{}

	worker := NewWorker(repo, &stubPublisher{err: errors.New("down")}, noDelay(), WithDLQ(dlq))
	worker.ProcessOnce(context.Background())

	var body deadLetter
	if err := json.Unmarshal(dlq.last().Payload, &body); err != nil {
		t.Fatalf("decode dlq payload: %v", err)
	}
	if string(body.Payload) != "null" {
		t.Fatalf("invalid payload must become null, got %s", body.Payload)
	}
}

func TestWorker_ProcessOnce_DLQFailureStillMarksFailed(t *testing.T) {
	t.Parallel()

	repo := &stubOutboxRepo{pending: []domain.OutboxMessage{orderEvent("msg-6")}}
	m := metrics.NewOutboxMetrics(prometheus.NewRegistry())

	worker := NewWorker(repo, &stubPublisher{err: errors.New("down")}, noDelay(),
		WithDLQ(&stubPublisher{err: errors.New("dlq down")}),
		WithMetrics(m),
	)
	worker.ProcessOnce(context.Background())

	if got := len(repo.failedIDs); got != 1 {
		t.Fatalf("expected message marked failed, got %v", repo.failedIDs)
	}
	if got := testutil.ToFloat64(m.Attempts(metrics.OutboxResultDLQFailed)); got != 1 {
		t.Fatalf("expected dlq failure metric, got %v", got)
	}
}

func TestWorker_ProcessOnce_SuccessAfterRetry(t *testing.T) {
	t.Parallel()

	repo := &stubOutboxRepo{pending: []domain.OutboxMessage{orderEvent("msg-3")}}
	publisher := &stubPublisher{
		sequenceErrors: []error{errors.New("attempt 1"), errors.New("attempt 2"), nil},
	}

	worker := NewWorker(repo, publisher, noDelay())
	worker.ProcessOnce(context.Background())

	if got := publisher.calls(); got != 3 {
		t.Fatalf("expected 3 publish attempts, got %d", got)
	}
	if got := len(repo.sentIDs); got != 1 {
		t.Fatalf("expected 1 sent mark, got %d", got)
	}
	if got := len(repo.failedIDs); got != 0 {
		t.Fatalf("expected 0 failed marks, got %d", got)
	}
}

func TestWorker_ProcessOnce_CancelledDuringBackoffKeepsPending(t *testing.T) {
	t.Parallel()

	repo := &stubOutboxRepo{pending: []domain.OutboxMessage{orderEvent("msg-4"), orderEvent("msg-7")}}
	publisher := &stubPublisher{err: errors.New("broker unavailable")}

	cfg := DefaultConfig()
	cfg.RetryBaseDelay = time.Hour
	worker := NewWorker(repo, publisher, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	worker.ProcessOnce(ctx)

	if got := publisher.calls(); got != 1 {
		t.Fatalf("expected a single attempt before cancellation, got %d", got)
	}
	if len(repo.failedIDs) != 0 || len(repo.sentIDs) != 0 {
		t.Fatalf("messages must stay pending, sent=%v failed=%v", repo.sentIDs, repo.failedIDs)
	}
}

func TestWorker_WithMemoryRepository(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := memory.NewOutboxRepository()
	for _, id := range []string{"a", "b", "c"} {
		if _, err := repo.Enqueue(ctx, orderEvent(id)); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	publisher := &stubPublisher{}
	m := metrics.NewOutboxMetrics(prometheus.NewRegistry())

	cfg := noDelay()
	cfg.BatchSize = 2
	worker := NewWorker(repo, publisher, cfg, WithMetrics(m))
	if sent := worker.ProcessOnce(ctx); sent != 2 {
		t.Fatalf("expected first batch of 2, got %d", sent)
	}
	if got := testutil.ToFloat64(m.Pending()); got != 1 {
		t.Fatalf("expected backlog of 1 after first batch, got %v", got)
	}
	if sent := worker.ProcessOnce(ctx); sent != 1 {
		t.Fatalf("expected remaining message, got %d", sent)
	}
	if pending := repo.AllPending(); len(pending) != 0 {
		t.Fatalf("expected empty backlog, got %d", len(pending))
	}
	if got := testutil.ToFloat64(m.Pending()); got != 0 {
		t.Fatalf("expected empty backlog metric, got %v", got)
	}
}

func TestBackoff(t *testing.T) {
	t.Parallel()

	cases := []struct {
		base  time.Duration
		retry int
		want  time.Duration
	}{
		{10 * time.Millisecond, 1, 10 * time.Millisecond},
		{10 * time.Millisecond, 2, 20 * time.Millisecond},
		{10 * time.Millisecond, 3, 40 * time.Millisecond},
		{0, 5, 0},
		{time.Second, 10, MaxRetryDelay},
		{time.Duration(1 << 62), 10, MaxRetryDelay},
	}
	for _, tc := range cases {
		if got := backoff(tc.base, tc.retry); got != tc.want {
			t.Fatalf("backoff(%s, %d): expected %s, got %s", tc.base, tc.retry, tc.want, got)
		}
	}
}

func TestWorker_Run_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	cfg := noDelay()
	cfg.PollInterval = 5 * time.Millisecond
	worker := NewWorker(&stubOutboxRepo{}, &stubPublisher{}, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- worker.Run(ctx)
	}()

	time.Sleep(15 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean stop, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on context cancel")
	}
}

func TestWorker_Run_IdlesWithoutPublisher(t *testing.T) {
	t.Parallel()

	worker := NewWorker(nil, nil, Config{})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := worker.Run(ctx); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestFanout(t *testing.T) {
	t.Parallel()

	first := &stubPublisher{}
	second := &stubPublisher{err: errors.New("rabbit down")}

	if NewFanout(nil, nil) != nil {
		t.Fatal("expected nil publisher without brokers")
	}
	if single := NewFanout(nil, first); single != domain.OutboxPublisher(first) {
		t.Fatal("expected single publisher to be returned as is")
	}

	err := NewFanout(first, second).Publish(context.Background(), orderEvent("x"))
	if err == nil {
		t.Fatal("expected combined error")
	}
	if first.calls() != 1 || second.calls() != 1 {
		t.Fatalf("every broker must be called, got %d/%d", first.calls(), second.calls())
	}
}

type stubOutboxRepo struct {
	mu        sync.Mutex
	pending   []domain.OutboxMessage
	sentIDs   []string
	failedIDs []string
}

func (s *stubOutboxRepo) Enqueue(_ context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	return msg, nil
}

func (s *stubOutboxRepo) PullPending(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit >= len(s.pending) {
		return append([]domain.OutboxMessage(nil), s.pending...), nil
	}
	return append([]domain.OutboxMessage(nil), s.pending[:limit]...), nil
}

func (s *stubOutboxRepo) Stats(context.Context) (domain.OutboxStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := domain.OutboxStats{PendingCount: len(s.pending)}
	if len(s.pending) > 0 {
		stats.OldestPendingAt = time.Now().UTC().Add(-time.Second)
	}
	return stats, nil
}

func (s *stubOutboxRepo) MarkSent(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sentIDs = append(s.sentIDs, id)
	return nil
}

func (s *stubOutboxRepo) MarkFailed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failedIDs = append(s.failedIDs, id)
	return nil
}

type stubPublisher struct {
	mu             sync.Mutex
	err            error
	sequenceErrors []error
	callCount      int
	published      []domain.OutboxMessage
}

func (s *stubPublisher) Publish(_ context.Context, event domain.OutboxMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.callCount++
	s.published = append(s.published, event)
	if len(s.sequenceErrors) > 0 {
		err := s.sequenceErrors[0]
		s.sequenceErrors = s.sequenceErrors[1:]
		return err
	}
	return s.err
}

func (s *stubPublisher) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callCount
}

func (s *stubPublisher) last() domain.OutboxMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.published[len(s.published)-1]
}

var (
	_ domain.OutboxRepository = (*stubOutboxRepo)(nil)
	_ domain.OutboxPublisher  = (*stubPublisher)(nil)
)
