package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/skyshop/internal/app"
)

const (
	envHTTPAddr             = "SKYSHOP_HTTP_ADDR"
	envGRPCAddr             = "SKYSHOP_GRPC_ADDR"
	envMetricsAddr          = "SKYSHOP_METRICS_ADDR"
	envStorageDriver        = "SKYSHOP_STORAGE_DRIVER"
	envPostgresDSN          = "SKYSHOP_POSTGRES_DSN"
	envPostgresAutoMigrate  = "SKYSHOP_POSTGRES_AUTO_MIGRATE"
	envRedisAddr            = "SKYSHOP_REDIS_ADDR"
	envLockTTL              = "SKYSHOP_LOCK_TTL"
	envProductCacheTTL      = "SKYSHOP_PRODUCT_CACHE_TTL"
	envMongoURI             = "SKYSHOP_MONGO_URI"
	envMongoDatabase        = "SKYSHOP_MONGO_DATABASE"
	envKafkaBrokers         = "SKYSHOP_KAFKA_BROKERS"
	envKafkaTopic           = "SKYSHOP_KAFKA_TOPIC"
	envRabbitURL            = "SKYSHOP_RABBIT_URL"
	envRabbitExchange       = "SKYSHOP_RABBIT_EXCHANGE"
	envOutboxPollInterval   = "SKYSHOP_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize      = "SKYSHOP_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts    = "SKYSHOP_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryDelay     = "SKYSHOP_OUTBOX_RETRY_DELAY"
	envPaymentTimeout       = "SKYSHOP_PAYMENT_TIMEOUT"
	envPaymentLatency       = "SKYSHOP_PAYMENT_LATENCY"
	envPaymentBlockedPrefix = "SKYSHOP_PAYMENT_BLOCKED_PREFIX"
	envPaymentGuard         = "SKYSHOP_PAYMENT_GUARD"
	envOTLPEndpoint         = "SKYSHOP_OTLP_ENDPOINT"
	envLogLevel             = "SKYSHOP_LOG_LEVEL"
	envLogFormat            = "SKYSHOP_LOG_FORMAT"
)

type envLookup func(key string) (string, bool)

// readConfig читает конфигурацию из окружения процесса и логирует некорректные значения.
func readConfig() app.Config {
	cfg, warnings := readConfigFromEnv(os.LookupEnv)
	for _, warning := range warnings {
		log.Warn(warning)
	}
	return cfg
}

// readConfigFromEnv накладывает SKYSHOP_* переменные на DefaultConfig.
// Некорректное значение не применяется: вместо него возвращается предупреждение.
func readConfigFromEnv(lookup envLookup) (app.Config, []string) {
	cfg := app.DefaultConfig()
	var warnings []string

	str := func(key string, dst *string) {
		if v, ok := nonEmpty(lookup, key); ok {
			*dst = v
		}
	}
	lower := func(key string, dst *string) {
		if v, ok := nonEmpty(lookup, key); ok {
			*dst = strings.ToLower(v)
		}
	}
	boolean := func(key string, dst *bool) {
		v, ok := nonEmpty(lookup, key)
		if !ok {
			return
		}
		parsed, err := parseBool(v)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v, using default %t", key, err, *dst))
			return
		}
		*dst = parsed
	}
	integer := func(key string, dst *int) {
		v, ok := nonEmpty(lookup, key)
		if !ok {
			return
		}
		parsed, err := parseInt(v, func(n int) bool { return n > 0 }, "must be > 0")
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v, using default %d", key, err, *dst))
			return
		}
		*dst = parsed
	}
	duration := func(key string, dst *time.Duration, valid func(time.Duration) bool, rule string) {
		v, ok := nonEmpty(lookup, key)
		if !ok {
			return
		}
		parsed, err := parseDuration(v, valid, rule)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v, using default %s", key, err, *dst))
			return
		}
		*dst = parsed
	}
	positive := func(d time.Duration) bool { return d > 0 }
	nonNegative := func(d time.Duration) bool { return d >= 0 }

	str(envHTTPAddr, &cfg.HTTPAddr)
	str(envGRPCAddr, &cfg.GRPCAddr)
	str(envMetricsAddr, &cfg.MetricsAddr)

	lower(envStorageDriver, &cfg.StorageDriver)
	str(envPostgresDSN, &cfg.PostgresDSN)
	boolean(envPostgresAutoMigrate, &cfg.PostgresAutoMigrate)

	str(envRedisAddr, &cfg.RedisAddr)
	duration(envLockTTL, &cfg.LockTTL, positive, "must be > 0")
	duration(envProductCacheTTL, &cfg.ProductCacheTTL, positive, "must be > 0")

	str(envMongoURI, &cfg.MongoURI)
	str(envMongoDatabase, &cfg.MongoDatabase)

	if v, ok := nonEmpty(lookup, envKafkaBrokers); ok {
		cfg.KafkaBrokers = splitList(v)
	}
	str(envKafkaTopic, &cfg.KafkaTopic)
	str(envRabbitURL, &cfg.RabbitURL)
	str(envRabbitExchange, &cfg.RabbitExchange)

	duration(envOutboxPollInterval, &cfg.OutboxPollInterval, positive, "must be > 0")
	integer(envOutboxBatchSize, &cfg.OutboxBatchSize)
	integer(envOutboxMaxAttempts, &cfg.OutboxMaxAttempts)
	duration(envOutboxRetryDelay, &cfg.OutboxRetryDelay, nonNegative, "must be >= 0")

	duration(envPaymentTimeout, &cfg.PaymentTimeout, positive, "must be > 0")
	duration(envPaymentLatency, &cfg.PaymentLatency, nonNegative, "must be >= 0")
	str(envPaymentBlockedPrefix, &cfg.PaymentBlockedPrefix)
	if v, ok := nonEmpty(lookup, envPaymentGuard); ok {
		switch guard := strings.ToLower(v); guard {
		case app.PaymentGuardPaid, app.PaymentGuardSettled:
			cfg.PaymentGuard = guard
		default:
			warnings = append(warnings, fmt.Sprintf("%s: unsupported value %q, using default %s", envPaymentGuard, v, cfg.PaymentGuard))
		}
	}

	str(envOTLPEndpoint, &cfg.OTLPEndpoint)
	return cfg, warnings
}

// setupLogger настраивает формат и уровень logrus. Неизвестный уровень оставляет info.
func setupLogger(lookup envLookup) []string {
	var warnings []string

	format, _ := nonEmpty(lookup, envLogFormat)
	switch strings.ToLower(format) {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	case "", "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	default:
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
		warnings = append(warnings, fmt.Sprintf("%s: unsupported format %q, using text", envLogFormat, format))
	}

	level := log.InfoLevel
	if v, ok := nonEmpty(lookup, envLogLevel); ok {
		parsed, err := log.ParseLevel(v)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v, using info", envLogLevel, err))
		} else {
			level = parsed
		}
	}
	log.SetLevel(level)
	return warnings
}

func nonEmpty(lookup envLookup, key string) (string, bool) {
	v, ok := lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseBool(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid bool value %q", v)
	}
}

func parseInt(v string, valid func(int) bool, rule string) (int, error) {
	parsed, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", v)
	}
	if !valid(parsed) {
		return 0, fmt.Errorf("value %d %s", parsed, rule)
	}
	return parsed, nil
}

func parseDuration(v string, valid func(time.Duration) bool, rule string) (time.Duration, error) {
	parsed, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	if !valid(parsed) {
		return 0, fmt.Errorf("value %s %s", parsed, rule)
	}
	return parsed, nil
}
