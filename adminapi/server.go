// Package adminapi serves an HTTP API over a module registry: listing and
// loading modules, driving their lifecycle, persisting, health and
// metrics.
//
//	GET    /modules?match=sensor-*       live modules, glob over id or name
//	POST   /modules                      load a module from a configuration
//	GET    /modules/available            configurations in the repository
//	GET    /modules/types                installed module types
//	GET    /modules/{id}                 one module, loaded on demand
//	POST   /modules/{id}/{action}        init, start, stop or restart; ?wait=5s
//	PUT    /modules/{id}/config          update the configuration
//	DELETE /modules/{id}                 unload; ?destroy=true destroys
//	GET    /entities/{uid}               module by unique identifier
//	POST   /save                         save configurations and states
//	GET    /healthz, /readyz, /health    probes and full health report
//	GET    /metrics                      Prometheus metrics
package adminapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/GoCodeAlone/modhub"
	"github.com/GoCodeAlone/modhub/health"
)

// Server is the admin API of one registry.
type Server struct {
	reg     *modhub.Registry
	health  *health.Aggregator
	metrics http.Handler
	logger  modhub.Logger
	router  chi.Router

	readHeaderTimeout time.Duration
	shutdownTimeout   time.Duration
	maxBodyBytes      int64
}

// DefaultMaxBodyBytes bounds request bodies unless WithMaxBodyBytes says
// otherwise.
const DefaultMaxBodyBytes = 1 << 20

// Option configures a Server.
type Option func(*Server)

func WithLogger(l modhub.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithHealth serves the aggregator on /healthz, /readyz and /health.
// Without it a registry aggregator is built.
func WithHealth(a *health.Aggregator) Option {
	return func(s *Server) { s.health = a }
}

// WithMetrics serves h on /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithMaxBodyBytes limits the size of request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) { s.maxBodyBytes = n }
}

// New builds the server and its routes.
func New(reg *modhub.Registry, opts ...Option) *Server {
	s := &Server{
		reg:               reg,
		logger:            modhub.NopLogger(),
		readHeaderTimeout: 5 * time.Second,
		shutdownTimeout:   5 * time.Second,
		maxBodyBytes:      DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.health == nil {
		s.health = health.ForRegistry(reg, nil)
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestSize(s.maxBodyBytes))
	r.Use(s.logRequests)

	r.Route("/modules", func(r chi.Router) {
		r.Get("/", s.listModules)
		r.Post("/", s.loadModule)
		r.Get("/available", s.availableModules)
		r.Get("/types", s.moduleTypes)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.getModule)
			r.Delete("/", s.removeModule)
			r.Put("/config", s.updateConfig)
			r.Post("/{action}", s.lifecycle)
		})
	})
	r.Get("/entities/{uid}", s.getEntity)
	r.Post("/save", s.save)

	r.Get("/healthz", s.liveness)
	r.Get("/readyz", s.readiness)
	r.Get("/health", s.healthReport)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}
	return r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

// Serve serves on l until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: s.readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(l) }()
	s.logger.Info("Admin API listening", "address", l.Addr().String())

	select {
	case err := <-errCh:
		return fmt.Errorf("admin API stopped: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("admin API shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAndServe listens on addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	l, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("admin API cannot listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, l)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("Admin request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"requestId", middleware.GetReqID(r.Context()),
		)
	})
}
