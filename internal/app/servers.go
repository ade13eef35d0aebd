package app

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	healthcheck "github.com/vladislavdragonenkov/skyshop/internal/health"
)

const (
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 5 * time.Second
	// readinessInterval: период синхронизации статуса gRPC health с проверками зависимостей.
	readinessInterval = 5 * time.Second
)

// newMetricsMux собирает /metrics и health-пробы на отдельном listener.
func newMetricsMux(healthHandler *healthcheck.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	healthHandler.Register(mux)
	return mux
}

// serveHTTP обслуживает srv до отмены ctx, затем останавливает его с таймаутом.
func serveHTTP(ctx context.Context, srv *http.Server, lis net.Listener, name string, logger *log.Entry) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("%s слушает %s", name, lis.Addr())
		errCh <- srv.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		shutdownHTTP(srv, name, logger)
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, name string, logger *log.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).WithField("server", name).Warn("shutdown with error")
	}
}

// grpcServer: gRPC health и reflection с метриками go-grpc-prometheus.
type grpcServer struct {
	server *grpc.Server
	health *health.Server
}

func newGRPCServer(logger *log.Entry) *grpcServer {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*promgrpc.ServerMetrics); ok {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	server := grpc.NewServer(
		grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(grpcMetrics.StreamServerInterceptor()),
	)
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(server, healthServer)
	reflection.Register(server)
	grpcMetrics.InitializeMetrics(server)

	return &grpcServer{server: server, health: healthServer}
}

// serve обслуживает gRPC до отмены ctx. GracefulStop ограничен shutdownTimeout.
func (g *grpcServer) serve(ctx context.Context, lis net.Listener, logger *log.Entry) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("gRPC сервер слушает %s", lis.Addr())
		errCh <- g.server.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем gRPC сервер")
		g.health.Shutdown()
		stopped := make(chan struct{})
		go func() {
			g.server.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(shutdownTimeout):
			logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
			g.server.Stop()
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	}
}

// watchReadiness переводит статус gRPC health в NOT_SERVING, пока обязательные проверки не проходят.
func (g *grpcServer) watchReadiness(ctx context.Context, checks *healthcheck.Handler, interval time.Duration) error {
	update := func() {
		status, _ := checks.Run(ctx)
		serving := healthpb.HealthCheckResponse_SERVING
		if status == healthcheck.StatusUnhealthy {
			serving = healthpb.HealthCheckResponse_NOT_SERVING
		}
		g.health.SetServingStatus("", serving)
	}

	update()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			update()
		}
	}
}
