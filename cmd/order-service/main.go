package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/skyshop/internal/app"
	"github.com/vladislavdragonenkov/skyshop/internal/observability"
	"github.com/vladislavdragonenkov/skyshop/internal/version"
)

const tracingShutdownTimeout = 5 * time.Second

func main() {
	// .env необязателен: в контейнере конфигурация приходит из окружения.
	envErr := godotenv.Load()

	for _, warning := range setupLogger(os.LookupEnv) {
		log.Warn(warning)
	}
	if envErr != nil && !os.IsNotExist(envErr) {
		log.WithError(envErr).Warn("failed to load .env")
	}
	cfg := readConfig()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, observability.TracingConfig{
		Endpoint:       cfg.OTLPEndpoint,
		ServiceName:    "skyshop",
		ServiceVersion: version.Version(),
		SampleRatio:    1,
	})
	if err != nil {
		log.WithError(err).Fatal("failed to set up tracing")
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), tracingShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(tctx); err != nil {
			log.WithError(err).Warn("tracing shutdown failed")
		}
	}()

	log.WithFields(log.Fields{
		"http_addr":    cfg.HTTPAddr,
		"grpc_addr":    cfg.GRPCAddr,
		"metrics_addr": cfg.MetricsAddr,
		"storage":      cfg.StorageDriver,
		"version":      version.Version(),
	}).Info("запускаем skyshop")

	if err := app.Run(ctx, cfg); err != nil {
		log.WithError(err).Error("приложение завершилось с ошибкой")
		stop()
		os.Exit(1)
	}

	log.Info("skyshop остановлен")
}
