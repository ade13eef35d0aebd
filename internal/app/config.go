package app

import (
	"time"

	"github.com/cockroachdb/errors"

	"github.com/vladislavdragonenkov/skyshop/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/skyshop/internal/messaging/rabbit"
	"github.com/vladislavdragonenkov/skyshop/internal/service/order"
	"github.com/vladislavdragonenkov/skyshop/internal/service/outbox"
	"github.com/vladislavdragonenkov/skyshop/internal/service/payment"
	"github.com/vladislavdragonenkov/skyshop/internal/storage/redis"
)

const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

const (
	// PaymentGuardPaid запрещает повторную оплату только для PAID.
	PaymentGuardPaid = "paid"
	// PaymentGuardSettled запрещает оплату и для PAID, и для OFFLINE_PAYMENT.
	PaymentGuardSettled = "settled"
)

// Config описывает настройки запуска сервиса.
type Config struct {
	HTTPAddr    string
	GRPCAddr    string
	MetricsAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool

	RedisAddr       string
	LockTTL         time.Duration
	ProductCacheTTL time.Duration

	MongoURI      string
	MongoDatabase string

	KafkaBrokers   []string
	KafkaTopic     string
	RabbitURL      string
	RabbitExchange string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration

	PaymentTimeout       time.Duration
	PaymentLatency       time.Duration
	PaymentBlockedPrefix string
	PaymentGuard         string

	OTLPEndpoint string
}

// DefaultConfig возвращает настройки для локального запуска без внешних зависимостей.
func DefaultConfig() Config {
	delivery := outbox.DefaultConfig()
	return Config{
		HTTPAddr:    ":8080",
		GRPCAddr:    ":50051",
		MetricsAddr: ":9090",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,

		LockTTL:         redis.DefaultLockTTL,
		ProductCacheTTL: redis.DefaultProductCacheTTL,

		MongoDatabase: "skyshop",

		KafkaTopic:     kafka.TopicOrderEvents,
		RabbitExchange: rabbit.DefaultExchange,

		OutboxPollInterval: delivery.PollInterval,
		OutboxBatchSize:    delivery.BatchSize,
		OutboxMaxAttempts:  delivery.MaxAttempts,
		OutboxRetryDelay:   delivery.RetryBaseDelay,

		PaymentTimeout:       order.DefaultPaymentTimeout,
		PaymentLatency:       payment.DefaultLatency,
		PaymentBlockedPrefix: payment.DefaultBlockedPrefix,
		PaymentGuard:         PaymentGuardPaid,
	}
}

// Validate проверяет согласованность настроек до открытия соединений.
func (c Config) Validate() error {
	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if c.PostgresDSN == "" {
			return errors.New("postgres storage requires SKYSHOP_POSTGRES_DSN")
		}
	default:
		return errors.Newf("unsupported storage driver %q", c.StorageDriver)
	}

	switch c.PaymentGuard {
	case PaymentGuardPaid, PaymentGuardSettled:
	default:
		return errors.Newf("unsupported payment guard %q", c.PaymentGuard)
	}

	if c.HTTPAddr == "" {
		return errors.New("http address is required")
	}
	if c.OutboxBatchSize <= 0 || c.OutboxMaxAttempts <= 0 {
		return errors.New("outbox batch size and max attempts must be positive")
	}
	return nil
}
