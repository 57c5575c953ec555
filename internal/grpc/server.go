// Package grpc serves the standard gRPC health service for the coordinator.
package grpc

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"github.com/narvanalabs/gpufleet/internal/models"
)

// WorkerServicePrefix prefixes the per-worker health service names.
const WorkerServicePrefix = "gpufleet.worker/"

// Config holds the gRPC server configuration.
type Config struct {
	Port                 int
	MaxConcurrentStreams uint32
	KeepaliveTime        time.Duration
	KeepaliveTimeout     time.Duration
	// ResyncInterval bounds how long a dropped update can leave a worker
	// service stale.
	ResyncInterval time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxConcurrentStreams: 100,
		KeepaliveTime:        30 * time.Second,
		KeepaliveTimeout:     10 * time.Second,
		ResyncInterval:       15 * time.Second,
	}
}

// Subscriber hands out live record updates.
type Subscriber interface {
	Subscribe() (<-chan models.WorkerStatus, func())
}

// Server reports process liveness on the overall ("") service and each
// worker's reachability on WorkerServicePrefix+id.
type Server struct {
	config *Config
	logger *slog.Logger

	grpcServer *grpc.Server
	health     *health.Server

	stopOnce sync.Once
}

// NewServer creates a new gRPC server instance. The overall service reports
// SERVING from creation.
func NewServer(cfg *Config, workers []models.WorkerConfig, logger *slog.Logger) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		config: cfg,
		logger: logger,
		health: health.NewServer(),
	}

	s.grpcServer = grpc.NewServer(s.buildServerOptions()...)
	healthpb.RegisterHealthServer(s.grpcServer, s.health)

	for _, w := range workers {
		s.health.SetServingStatus(WorkerServicePrefix+w.ID, healthpb.HealthCheckResponse_UNKNOWN)
	}
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	return s
}

func (s *Server) buildServerOptions() []grpc.ServerOption {
	return []grpc.ServerOption{
		grpc.MaxConcurrentStreams(s.config.MaxConcurrentStreams),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    s.config.KeepaliveTime,
			Timeout: s.config.KeepaliveTimeout,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             10 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.ChainUnaryInterceptor(s.unaryLogger),
		grpc.ChainStreamInterceptor(s.streamLogger),
	}
}

// Start listens on the configured port and serves until stopped.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.config.Port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return s.Serve(lis)
}

// Serve serves on lis until stopped.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("gRPC server starting", "address", lis.Addr().String())
	if err := s.grpcServer.Serve(lis); err != nil {
		return fmt.Errorf("serving gRPC: %w", err)
	}
	return nil
}

// RecordLister returns the current record of every worker.
type RecordLister interface {
	List() []models.WorkerStatus
}

// TrackWorkers mirrors applied records into the per-worker health services
// until ctx is done. The subscription is lossy, so every ResyncInterval the
// full record set is read from src as well.
func (s *Server) TrackWorkers(ctx context.Context, sub Subscriber, src RecordLister) {
	updates, cancel := sub.Subscribe()
	s.syncAll(src)

	every := s.config.ResyncInterval
	if every <= 0 {
		every = DefaultConfig().ResyncInterval
	}

	go func() {
		defer cancel()
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case rec, ok := <-updates:
				if !ok {
					return
				}
				s.SetWorkerStatus(rec)
			case <-ticker.C:
				s.syncAll(src)
			}
		}
	}()
}

func (s *Server) syncAll(src RecordLister) {
	for _, rec := range src.List() {
		s.SetWorkerStatus(rec)
	}
}

// SetWorkerStatus reflects one record on its health service. A worker with
// no completed attempt stays UNKNOWN.
func (s *Server) SetWorkerStatus(rec models.WorkerStatus) {
	var status healthpb.HealthCheckResponse_ServingStatus
	switch {
	case rec.Online:
		status = healthpb.HealthCheckResponse_SERVING
	case rec.State == models.WorkerStateUnknown:
		status = healthpb.HealthCheckResponse_UNKNOWN
	default:
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus(WorkerServicePrefix+rec.ID, status)
}

// MarkNotServing flips every service to NOT_SERVING. Called when shutdown begins.
func (s *Server) MarkNotServing() {
	s.health.Shutdown()
}

// GracefulStop marks the server NOT_SERVING and waits for open RPCs.
// Health Watch streams are closed by the health server on Shutdown.
func (s *Server) GracefulStop() {
	s.stopOnce.Do(func() {
		s.logger.Info("gRPC server stopping")
		s.health.Shutdown()
		s.grpcServer.GracefulStop()
		s.logger.Info("gRPC server stopped gracefully")
	})
}

// Stop forcefully stops the server.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpcServer.Stop()
}
