// Package grpc serves and probes the gRPC health protocol used by process
// readiness checks.
package grpc

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/louisbranch/revents/internal/platform/logging"
	"github.com/louisbranch/revents/internal/platform/timeouts"
)

// HealthServer is a gRPC server exposing only the health service.
type HealthServer struct {
	server   *gogrpc.Server
	health   *health.Server
	serveErr chan error
}

// ServeHealth starts serving health on listener and marks the overall
// status and every named service SERVING.
func ServeHealth(listener net.Listener, services ...string) *HealthServer {
	server := gogrpc.NewServer(gogrpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(server, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	for _, service := range services {
		healthServer.SetServingStatus(service, grpc_health_v1.HealthCheckResponse_SERVING)
	}

	h := &HealthServer{server: server, health: healthServer, serveErr: make(chan error, 1)}
	go func() {
		h.serveErr <- server.Serve(listener)
	}()
	return h
}

// SetServing updates one service's status.
func (h *HealthServer) SetServing(service string, serving bool) {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if serving {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus(service, status)
}

// Stop reports NOT_SERVING to watchers and drains in-flight checks. Watch
// streams still open after timeouts.Shutdown are closed forcibly.
func (h *HealthServer) Stop() {
	h.health.Shutdown()
	stopped := make(chan struct{})
	go func() {
		h.server.GracefulStop()
		close(stopped)
	}()
	timer := time.NewTimer(timeouts.Shutdown)
	defer timer.Stop()
	select {
	case <-stopped:
	case <-timer.C:
		h.server.Stop()
		<-stopped
	}
	<-h.serveErr
}

const (
	healthPollInitial = 200 * time.Millisecond
	healthPollMax     = time.Second
	healthCallTimeout = time.Second
)

// WaitForHealth blocks until service reports SERVING or ctx ends.
func WaitForHealth(ctx context.Context, conn *gogrpc.ClientConn, service string, logger *zap.Logger) error {
	if conn == nil {
		return fmt.Errorf("gRPC connection is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	logger = logging.OrNop(logger)

	client := grpc_health_v1.NewHealthClient(conn)
	poll := &backoff.ExponentialBackOff{
		InitialInterval:     healthPollInitial,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         healthPollMax,
	}
	poll.Reset()
	for {
		callCtx, cancel := context.WithTimeout(ctx, healthCallTimeout)
		response, err := client.Check(callCtx, &grpc_health_v1.HealthCheckRequest{Service: service})
		cancel()
		if err == nil && response.GetStatus() == grpc_health_v1.HealthCheckResponse_SERVING {
			logger.Debug("gRPC health is serving", zap.String("service", service))
			return nil
		}
		if err != nil {
			logger.Debug("waiting for gRPC health", zap.String("service", service), zap.Error(err))
		} else {
			logger.Debug("waiting for gRPC health", zap.String("service", service), zap.Stringer("status", response.GetStatus()))
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for gRPC health: %w", ctx.Err())
		case <-time.After(poll.NextBackOff()):
		}
	}
}
