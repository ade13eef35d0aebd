package app

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/skyshop/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/skyshop/internal/health"
	"github.com/vladislavdragonenkov/skyshop/internal/storage/memory"
	"github.com/vladislavdragonenkov/skyshop/internal/storage/mongo"
	"github.com/vladislavdragonenkov/skyshop/internal/storage/postgres"
	"github.com/vladislavdragonenkov/skyshop/internal/storage/redis"
)

const closeTimeout = 5 * time.Second

type dependencyCheck struct {
	name     string
	optional bool
	fn       func(ctx context.Context) error
}

type namedCloser struct {
	name string
	fn   func(ctx context.Context) error
}

// runtimeDependencies: хранилища и внешние клиенты, выбранные по конфигурации.
type runtimeDependencies struct {
	orders     domain.OrderRepository
	products   domain.ProductRepository
	categories domain.CategoryRepository
	timeline   domain.TimelineRepository
	outbox     domain.OutboxRepository
	// locker == nil: используется in-process блокировка сервиса заказов.
	locker domain.OrderLocker

	checks  []dependencyCheck
	closers []namedCloser
	logger  *log.Entry
}

// initRuntimeDependencies открывает хранилища. При ошибке уже открытые ресурсы закрываются.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (deps *runtimeDependencies, err error) {
	deps = &runtimeDependencies{logger: logger}
	defer func() {
		if err != nil {
			deps.Close()
			deps = nil
		}
	}()

	switch cfg.StorageDriver {
	case StorageDriverMemory:
		deps.orders = memory.NewOrderRepository()
		deps.products = memory.NewProductRepository()
		deps.categories = memory.NewCategoryRepository()
		deps.timeline = memory.NewTimelineRepository()
		deps.outbox = memory.NewOutboxRepository()
		logger.Info("using in-memory storage")
	case StorageDriverPostgres:
		if err := deps.initPostgres(ctx, cfg); err != nil {
			return nil, err
		}
	default:
		return nil, errors.Newf("unsupported storage driver %q", cfg.StorageDriver)
	}

	if cfg.RedisAddr != "" {
		if err := deps.initRedis(ctx, cfg); err != nil {
			return nil, err
		}
	}
	if cfg.MongoURI != "" {
		if err := deps.initMongo(ctx, cfg); err != nil {
			return nil, err
		}
	}
	return deps, nil
}

func (d *runtimeDependencies) initPostgres(ctx context.Context, cfg Config) error {
	if cfg.PostgresDSN == "" {
		return errors.New("postgres storage requires SKYSHOP_POSTGRES_DSN")
	}

	store, err := postgres.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		return err
	}
	d.addCloser("postgres", func(context.Context) error { return store.Close() })

	if cfg.PostgresAutoMigrate {
		if err := store.MigrateUp(ctx, 0); err != nil {
			return errors.Wrap(err, "apply postgres migrations")
		}
		state, err := store.MigrationStatus(ctx)
		if err != nil {
			return err
		}
		d.logger.WithField("schema_version", state.Version).Info("postgres migrations applied")
	}

	d.orders = postgres.NewOrderRepository(store)
	d.products = postgres.NewProductRepository(store)
	d.categories = postgres.NewCategoryRepository(store)
	d.timeline = postgres.NewTimelineRepository(store)
	d.outbox = postgres.NewOutboxRepository(store)
	d.checks = append(d.checks, dependencyCheck{name: "postgres", fn: store.Ping})
	d.logger.Info("using postgres storage")
	return nil
}

func (d *runtimeDependencies) initRedis(ctx context.Context, cfg Config) error {
	client, err := redis.Open(ctx, cfg.RedisAddr)
	if err != nil {
		return err
	}
	d.addCloser("redis", func(context.Context) error { return client.Close() })

	d.locker = redis.NewOrderLocker(client, cfg.LockTTL, d.logger.WithField("component", "order-locker"))
	d.products = redis.NewProductCache(d.products, client, cfg.ProductCacheTTL, d.logger.WithField("component", "product-cache"))
	d.checks = append(d.checks, dependencyCheck{
		name: "redis",
		fn:   func(ctx context.Context) error { return client.Ping(ctx).Err() },
	})
	d.logger.WithField("addr", cfg.RedisAddr).Info("redis order locker and product cache enabled")
	return nil
}

func (d *runtimeDependencies) initMongo(ctx context.Context, cfg Config) error {
	client, err := mongo.Open(ctx, cfg.MongoURI)
	if err != nil {
		return err
	}
	d.addCloser("mongo", client.Disconnect)

	timeline := mongo.NewTimelineRepository(client.Database(cfg.MongoDatabase))
	if err := timeline.EnsureIndexes(ctx); err != nil {
		return err
	}
	d.timeline = timeline
	// Сбой timeline только логируется сервисом заказов, поэтому проверка не блокирует готовность.
	d.checks = append(d.checks, dependencyCheck{
		name:     "mongo",
		optional: true,
		fn:       func(ctx context.Context) error { return client.Ping(ctx, nil) },
	})
	d.logger.WithField("database", cfg.MongoDatabase).Info("mongo timeline enabled")
	return nil
}

func (d *runtimeDependencies) addCloser(name string, fn func(ctx context.Context) error) {
	d.closers = append(d.closers, namedCloser{name: name, fn: fn})
}

// registerChecks добавляет проверки хранилищ в health handler.
func (d *runtimeDependencies) registerChecks(h *healthcheck.Handler) {
	for _, check := range d.checks {
		checker := healthcheck.NewFuncChecker(check.name, check.fn)
		if check.optional {
			h.RegisterOptional(check.name, checker)
			continue
		}
		h.RegisterChecker(check.name, checker)
	}
}

// Close закрывает ресурсы в порядке, обратном открытию.
func (d *runtimeDependencies) Close() {
	if d == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	for i := len(d.closers) - 1; i >= 0; i-- {
		c := d.closers[i]
		if err := c.fn(ctx); err != nil {
			d.logger.WithError(err).WithField("resource", c.name).Warn("close failed")
		}
	}
	d.closers = nil
}
