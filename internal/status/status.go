// Package status exposes the orchestrator to local tools: an HTTP API for
// status, remote saves and recent takes, and a gRPC health service that
// reports SERVING while the recorder is connected.
package status

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/alfredjeanlab/lastplay/internal/engine"
	"github.com/alfredjeanlab/lastplay/internal/model"
)

// Source is the orchestrator's read side.
type Source interface {
	Status() engine.Status
}

// SaveSink accepts save requests without blocking.
type SaveSink interface {
	Offer(r model.SaveRequest) bool
}

// TakeLister lists recent takes, newest first.
type TakeLister interface {
	RecentTakes(ctx context.Context, game string, limit int) ([]model.Take, error)
}

// ServiceName is the health service name reported over gRPC.
const ServiceName = "lastplay"

// Server serves the HTTP and gRPC surfaces.
type Server struct {
	source Source
	saves  SaveSink
	takes  TakeLister
	logger *slog.Logger
	health *health.Server
}

// NewServer creates a status server. takes may be nil.
func NewServer(source Source, saves SaveSink, takes TakeLister, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		source: source,
		saves:  saves,
		takes:  takes,
		logger: logger,
		health: health.NewServer(),
	}
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// NewGRPCServer creates a gRPC server with standard interceptors and the
// health service registered.
func (s *Server) NewGRPCServer() *grpc.Server {
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			RecoveryInterceptor(s.logger),
			LoggingInterceptor(s.logger),
		),
	)
	healthpb.RegisterHealthServer(srv, s.health)
	return srv
}

// WatchHealth mirrors the recorder connection into the health service until
// ctx ends, then marks the service NOT_SERVING.
func (s *Server) WatchHealth(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		s.updateHealth()
		select {
		case <-ctx.Done():
			s.health.Shutdown()
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) updateHealth() {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if s.source.Status().Connected {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(ServiceName, st)
	s.health.SetServingStatus("", st)
}
