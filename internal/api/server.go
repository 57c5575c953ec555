// Package api provides the HTTP API server for the fleet coordinator.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/narvanalabs/gpufleet/internal/api/handlers"
	"github.com/narvanalabs/gpufleet/internal/api/middleware"
	"github.com/narvanalabs/gpufleet/pkg/logger"
)

// Version is the current version of the coordinator.
// This should be set at build time using ldflags.
var Version = "dev"

// requestTimeout bounds ordinary API requests. The stream route is exempt.
const requestTimeout = 60 * time.Second

// Options carries the server's dependencies.
type Options struct {
	Addr    string
	Service handlers.FleetService
	Updates handlers.Subscriber
	// Gatherer is exposed at /metrics when set.
	Gatherer prometheus.Gatherer
	// UI is served at / when set.
	UI     http.Handler
	Logger *logger.Logger
}

// Server represents the HTTP API server.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	opts       Options
	logger     *logger.Logger
}

// NewServer creates a new API server with the given dependencies.
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logger.Default()
	}

	s := &Server{
		opts:   opts,
		logger: opts.Logger,
	}
	s.setupRouter()
	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// setupRouter configures the router with middleware and routes.
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.RequestContext)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.CORS())
	r.Use(middleware.RequestLogger(s.logger.Logger, "/api/health", "/metrics"))
	r.Use(middleware.Recovery(s.logger.Logger))

	r.NotFound(handlers.NotFound)
	r.MethodNotAllowed(handlers.MethodNotAllowed)

	workerHandler := handlers.NewWorkerHandler(s.opts.Service, s.logger)
	systemHandler := handlers.NewSystemHandler(s.opts.Service)

	r.Route("/api", func(r chi.Router) {
		r.NotFound(handlers.NotFound)
		r.MethodNotAllowed(handlers.MethodNotAllowed)

		// Long-lived connection, outside the request timeout.
		if s.opts.Updates != nil {
			streamHandler := handlers.NewStreamHandler(s.opts.Service, s.opts.Updates, s.logger.Logger)
			r.Get("/stream", streamHandler.Stream)
		}

		r.Group(func(r chi.Router) {
			r.Use(chimiddleware.Timeout(requestTimeout))

			r.Get("/health", systemHandler.Health)
			r.Get("/system/uptime", systemHandler.Uptime)

			r.Post("/refresh", workerHandler.RefreshAll)
			r.Route("/workers", func(r chi.Router) {
				r.Get("/", workerHandler.List)
				r.Route("/{workerID}", func(r chi.Router) {
					r.Get("/", workerHandler.Get)
					r.Post("/refresh", workerHandler.Refresh)
				})
			})
		})
	})

	if s.opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	}

	if s.opts.UI != nil {
		r.Handle("/*", s.opts.UI)
	}

	s.router = r
}

// Start listens on the configured address and serves until ctx is done or
// the server is shut down.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done or the server is shut down.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("starting API server", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// HTTPServer returns the underlying http.Server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Router returns the chi router for testing purposes.
func (s *Server) Router() chi.Router {
	return s.router
}
