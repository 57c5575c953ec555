// Package agent serves a worker's metrics snapshot to the coordinator.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/singleflight"

	apierrors "github.com/narvanalabs/gpufleet/internal/api/errors"
	"github.com/narvanalabs/gpufleet/internal/api/middleware"
	"github.com/narvanalabs/gpufleet/internal/models"
)

// Collector takes one metrics snapshot.
type Collector interface {
	Collect(ctx context.Context) (*models.MetricsSnapshot, error)
}

// HealthResponse is returned by GET /api/health.
type HealthResponse struct {
	Status    string  `json:"status"`
	Timestamp float64 `json:"timestamp"`
}

// Server is the worker-side HTTP server.
type Server struct {
	collector      Collector
	collectTimeout time.Duration
	logger         *slog.Logger

	// Concurrent /api/info requests share one collection.
	inflight singleflight.Group

	router     chi.Router
	httpServer *http.Server
}

// NewServer creates an agent server listening on addr.
func NewServer(addr string, c Collector, collectTimeout time.Duration, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		collector:      c,
		collectTimeout: collectTimeout,
		logger:         logger,
	}
	s.setupRouter()
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.CORS())
	r.Use(middleware.RequestLogger(s.logger, "/api/info", "/api/health"))
	r.Use(middleware.Recovery(s.logger))

	r.Get("/api/info", s.handleInfo)
	r.Get("/api/health", s.handleHealth)

	s.router = r
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	ch := s.inflight.DoChan("info", func() (any, error) {
		ctx := context.WithoutCancel(r.Context())
		if s.collectTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.collectTimeout)
			defer cancel()
		}
		return s.collector.Collect(ctx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			s.logger.Error("snapshot collection failed", "error", res.Err)
			apierrors.WriteError(w, apierrors.NewInternalError("snapshot collection failed").
				WithRequestID(chimiddleware.GetReqID(r.Context())))
			return
		}
		apierrors.WriteJSON(w, http.StatusOK, res.Val.(*models.MetricsSnapshot))
	case <-r.Context().Done():
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	apierrors.WriteJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: float64(time.Now().UnixNano()) / float64(time.Second),
	})
}

// Start listens and serves until the server is shut down.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.httpServer.Addr, err)
	}
	s.logger.Info("starting agent server", "addr", ln.Addr().String())
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// HTTPServer returns the underlying http.Server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Router returns the chi router for testing purposes.
func (s *Server) Router() chi.Router {
	return s.router
}
