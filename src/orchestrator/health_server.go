package orchestrator

import (
	"fmt"
	"net"

	"quote-pipeline/src/logger"
	"quote-pipeline/src/models"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// -----------------------------------------------------------------------------
// HealthServer exposes per-component liveness over the standard gRPC health
// protocol. Each managed component is a named service; an empty service name
// reports the pipeline as a whole, so any stock gRPC health probe works.
// -----------------------------------------------------------------------------

type HealthServer struct {
	Config models.MHealthConfig
	Logger *logger.Logger

	server *grpc.Server
	health *health.Server
}

// -----------------------------------------------------------------------------

func NewHealthServer(cfg models.MHealthConfig, log *logger.Logger) *HealthServer {
	return &HealthServer{
		Config: cfg,
		Logger: log,
	}
}

// -----------------------------------------------------------------------------

func (h *HealthServer) Start() error {
	addr := fmt.Sprintf("%s:%d", h.Config.GrpcHost, h.Config.GrpcPort)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("grpc health listen failed: %w", err)
	}

	h.server = grpc.NewServer()
	h.health = health.NewServer()
	healthpb.RegisterHealthServer(h.server, h.health)

	h.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	go func() {
		h.Logger.Info("gRPC health server listening on %s", addr)
		if err := h.server.Serve(lis); err != nil {
			h.Logger.Error("gRPC health server error: %v", err)
		}
	}()
	return nil
}

// -----------------------------------------------------------------------------

func (h *HealthServer) Stop() {
	if h.health != nil {
		h.health.Shutdown()
	}
	if h.server != nil {
		h.server.GracefulStop()
	}
}

// -----------------------------------------------------------------------------

// SetComponentState publishes one component's lifecycle state as a gRPC
// health status. Only RUNNING maps to SERVING.
func (h *HealthServer) SetComponentState(name string, state models.ComponentState) {
	if h.health == nil {
		return
	}

	status := healthpb.HealthCheckResponse_NOT_SERVING
	if state == models.StateRunning {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus(name, status)
}
