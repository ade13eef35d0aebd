// Package app собирает хранилища, сервисы и транспорты skyshop и управляет их жизненным циклом.
package app

import (
	"context"
	"net"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	healthcheck "github.com/vladislavdragonenkov/skyshop/internal/health"
	"github.com/vladislavdragonenkov/skyshop/internal/metrics"
	"github.com/vladislavdragonenkov/skyshop/internal/service/catalog"
	"github.com/vladislavdragonenkov/skyshop/internal/service/order"
	"github.com/vladislavdragonenkov/skyshop/internal/service/outbox"
	"github.com/vladislavdragonenkov/skyshop/internal/service/payment"
	"github.com/vladislavdragonenkov/skyshop/internal/transport/httpapi"
	"github.com/vladislavdragonenkov/skyshop/internal/version"
)

// services: собранные прикладные сервисы и фоновые задачи.
type services struct {
	orders  *order.Service
	catalog *catalog.Service
	worker  *outbox.Worker
}

func buildServices(cfg Config, deps *runtimeDependencies, pubs *publishers, logger *log.Entry) services {
	gateway := payment.NewMockGateway(
		payment.WithLatency(cfg.PaymentLatency),
		payment.WithBlockedPrefix(cfg.PaymentBlockedPrefix),
	)

	opts := []order.Option{
		order.WithLogger(logger.WithField("component", "order-service")),
		order.WithTimeline(deps.timeline),
		order.WithMetrics(metrics.NewOrderMetrics()),
		order.WithPaymentTimeout(cfg.PaymentTimeout),
	}
	if deps.locker != nil {
		opts = append(opts, order.WithLocker(deps.locker))
	}
	if cfg.PaymentGuard == PaymentGuardSettled {
		opts = append(opts, order.WithSettledGuard())
	}

	var worker *outbox.Worker
	if pubs.enabled() {
		opts = append(opts, order.WithOutbox(deps.outbox))
		workerOpts := []outbox.Option{
			outbox.WithLogger(logger.WithField("component", "outbox-worker")),
			outbox.WithMetrics(metrics.NewOutboxMetrics(nil)),
		}
		if pubs.dlq != nil {
			workerOpts = append(workerOpts, outbox.WithDLQ(pubs.dlq))
		}
		worker = outbox.NewWorker(deps.outbox, pubs.primary, outbox.Config{
			PollInterval:   cfg.OutboxPollInterval,
			BatchSize:      cfg.OutboxBatchSize,
			MaxAttempts:    cfg.OutboxMaxAttempts,
			RetryBaseDelay: cfg.OutboxRetryDelay,
		}, workerOpts...)
	} else {
		logger.Warn("no event publishers configured, outbox disabled")
	}

	return services{
		orders:  order.NewService(deps.orders, deps.products, gateway, opts...),
		catalog: catalog.NewService(deps.products, deps.categories, catalog.WithLogger(logger.WithField("component", "catalog-service"))),
		worker:  worker,
	}
}

// Run поднимает HTTP API, gRPC health, сервер метрик и outbox worker и блокируется
// до отмены ctx или падения одного из них. Штатная остановка возвращает nil.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return errors.Wrap(err, "init storage")
	}
	defer deps.Close()

	pubs := initPublishers(cfg, logger)
	defer pubs.Close(logger)

	svc := buildServices(cfg, deps, pubs, logger)

	healthHandler := healthcheck.NewHandler(version.Version())
	deps.registerChecks(healthHandler)

	api := &http.Server{
		Handler: httpapi.NewRouter(svc.orders, svc.catalog,
			httpapi.WithLogger(logger.WithField("component", "http-api")),
			httpapi.WithMetrics(metrics.NewHTTPMetrics(prometheus.DefaultRegisterer)),
		),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	metricsSrv := &http.Server{Handler: newMetricsMux(healthHandler), ReadHeaderTimeout: readHeaderTimeout}
	grpcSrv := newGRPCServer(logger)

	listeners, err := listenAll(cfg.HTTPAddr, cfg.GRPCAddr, cfg.MetricsAddr)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return serveHTTP(gctx, api, listeners[0], "HTTP API", logger) })
	g.Go(func() error { return grpcSrv.serve(gctx, listeners[1], logger) })
	g.Go(func() error { return serveHTTP(gctx, metricsSrv, listeners[2], "метрики", logger) })
	g.Go(func() error { return grpcSrv.watchReadiness(gctx, healthHandler, readinessInterval) })
	if svc.worker != nil {
		g.Go(func() error { return svc.worker.Run(gctx) })
	}

	logger.WithField("version", version.String()).Info("skyshop started")
	err = g.Wait()
	logger.Info("skyshop stopped")
	return err
}

// listenAll открывает все listener'ы заранее: ошибка порта обнаруживается до старта горутин.
func listenAll(addrs ...string) ([]net.Listener, error) {
	listeners := make([]net.Listener, 0, len(addrs))
	for _, addr := range addrs {
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			for _, opened := range listeners {
				_ = opened.Close()
			}
			return nil, errors.Wrapf(err, "listen %s", addr)
		}
		listeners = append(listeners, lis)
	}
	return listeners, nil
}
