package server

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name reported next to the overall status.
const ServiceName = "ledger.payments.v1"

func newGRPCServer() (*grpc.Server, *health.Server) {
	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return grpcServer, healthServer
}

type pinger interface {
	Ping(ctx context.Context) error
}

// updateHealth mirrors the store ping into the gRPC health status.
func updateHealth(ctx context.Context, store pinger, hs *health.Server, logger *zap.Logger) {
	status := healthpb.HealthCheckResponse_SERVING
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		logger.Warn("store ping failed", zap.Error(err))
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	hs.SetServingStatus("", status)
	hs.SetServingStatus(ServiceName, status)
}

// watchHealth refreshes the health status every interval until ctx is done.
func watchHealth(ctx context.Context, store pinger, hs *health.Server, interval time.Duration, logger *zap.Logger) {
	updateHealth(ctx, store, hs, logger)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateHealth(ctx, store, hs, logger)
		}
	}
}
