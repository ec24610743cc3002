package grpc

import (
	"context"
	"log/slog"
	"net"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health-check name reported for the billing service.
const ServiceName = "billing.v1.Billing"

type Pinger interface {
	Ping(ctx context.Context) error
}

// AdminServer exposes gRPC health and reflection. Health follows the store: NOT_SERVING while
// the store cannot be reached.
type AdminServer struct {
	server   *gogrpc.Server
	health   *health.Server
	store    Pinger
	interval time.Duration
	logger   *slog.Logger
}

func NewAdminServer(store Pinger, interval time.Duration, logger *slog.Logger) *AdminServer {
	srv := gogrpc.NewServer(gogrpc.StatsHandler(otelgrpc.NewServerHandler()))
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)

	return &AdminServer{
		server:   srv,
		health:   hs,
		store:    store,
		interval: interval,
		logger:   logger,
	}
}

// Serve blocks until the listener fails or Stop is called.
func (a *AdminServer) Serve(lis net.Listener) error {
	return a.server.Serve(lis)
}

// Watch refreshes the health status until ctx is cancelled.
func (a *AdminServer) Watch(ctx context.Context) {
	a.check(ctx)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.check(ctx)
		}
	}
}

func (a *AdminServer) check(ctx context.Context) {
	pingCtx, cancel := context.WithTimeout(ctx, a.interval)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	if err := a.store.Ping(pingCtx); err != nil {
		a.logger.WarnContext(ctx, "store unreachable", "error", err)
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	a.health.SetServingStatus("", status)
	a.health.SetServingStatus(ServiceName, status)
}

func (a *AdminServer) Stop() {
	a.health.Shutdown()
	a.server.GracefulStop()
}
