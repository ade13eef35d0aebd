package payment

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/skyshop/internal/domain"
)

const (
	// DefaultBlockedPrefix: префикс токенов, которые мок всегда отклоняет.
	DefaultBlockedPrefix = "9999"
	// DefaultLatency имитирует время ответа внешнего процессинга.
	DefaultLatency = 100 * time.Millisecond
)

var (
	// ErrInvalidAmount: сумма списания должна быть положительной.
	ErrInvalidAmount = errors.New("payment amount must be positive")
	// ErrInvalidToken: пустой токен карты.
	ErrInvalidToken = errors.New("card token is required")
	// ErrPaymentDeclined: процессинг отклонил карту.
	ErrPaymentDeclined = errors.New("payment declined by processor")
)

// MockGateway: детерминированная заглушка платёжного шлюза.
type MockGateway struct {
	latency       time.Duration
	blockedPrefix string
	calls         atomic.Int64
}

// Option настраивает MockGateway.
type Option func(*MockGateway)

// WithLatency задаёт имитируемую задержку ответа. Ноль отключает задержку.
func WithLatency(latency time.Duration) Option {
	return func(g *MockGateway) {
		if latency >= 0 {
			g.latency = latency
		}
	}
}

// WithBlockedPrefix задаёт префикс отклоняемых токенов.
func WithBlockedPrefix(prefix string) Option {
	return func(g *MockGateway) {
		if prefix = strings.TrimSpace(prefix); prefix != "" {
			g.blockedPrefix = prefix
		}
	}
}

// NewMockGateway создаёт мок с задержкой 100ms и префиксом "9999" по умолчанию.
func NewMockGateway(opts ...Option) *MockGateway {
	g := &MockGateway{
		latency:       DefaultLatency,
		blockedPrefix: DefaultBlockedPrefix,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Charge проверяет сумму и токен, ждёт latency с учётом ctx и отклоняет заблокированные токены.
func (g *MockGateway) Charge(ctx context.Context, amount decimal.Decimal, cardToken string) error {
	g.calls.Add(1)

	if !amount.IsPositive() {
		return errors.Wrapf(ErrInvalidAmount, "amount %s", amount.StringFixed(domain.MoneyScale))
	}
	token := strings.TrimSpace(cardToken)
	if token == "" {
		return ErrInvalidToken
	}

	if g.latency > 0 {
		timer := time.NewTimer(g.latency)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "payment gateway call interrupted")
		}
	}

	if strings.HasPrefix(token, g.blockedPrefix) {
		return ErrPaymentDeclined
	}
	return nil
}

// Calls возвращает число вызовов Charge.
func (g *MockGateway) Calls() int64 {
	return g.calls.Load()
}

var _ domain.PaymentGateway = (*MockGateway)(nil)
