// Package http provides the inbound HTTP adapter of the feed service.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/archon-research/stl/stl-feed/internal/ports/inbound"
)

// DependencyChecker checks one upstream dependency for /health.
type DependencyChecker interface {
	HealthCheck(ctx context.Context) error
}

// RouteRegistrar registers additional routes on the server mux.
type RouteRegistrar interface {
	RegisterRoutes(mux *http.ServeMux)
}

// ServerConfig holds configuration for the HTTP server.
type ServerConfig struct {
	// Addr is the address to listen on (e.g., ":8080")
	Addr string

	// Logger for the server
	Logger *slog.Logger

	// ReadTimeout for HTTP requests
	ReadTimeout time.Duration

	// WriteTimeout for HTTP responses. Stream endpoints replace it with a
	// deadline per write.
	WriteTimeout time.Duration

	// ShutdownTimeout bounds graceful shutdown
	ShutdownTimeout time.Duration

	// Dependencies are checked by /health, keyed by the name reported in
	// the response.
	Dependencies map[string]DependencyChecker

	// DependencyTimeout bounds each dependency check.
	DependencyTimeout time.Duration
}

// ServerConfigDefaults returns a config with default values.
func ServerConfigDefaults() ServerConfig {
	return ServerConfig{
		Addr:              ":8080",
		Logger:            slog.Default(),
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		ShutdownTimeout:   10 * time.Second,
		DependencyTimeout: 3 * time.Second,
	}
}

// Server serves the health endpoints and any registered feed routes.
//
// Endpoints:
//   - /health/ready  - 200 once the relay has published a value (readiness probe)
//   - /health/live   - 200 while blocks keep arriving (liveness probe)
//   - /health        - combined status for monitoring, dependencies included
//
// Once shuttingDown is set every health endpoint reports 503, so a load
// balancer drains the instance before it stops.
type Server struct {
	server          *http.Server
	checker         inbound.HealthChecker
	shuttingDown    *atomic.Bool
	shutdownTimeout time.Duration
	dependencies    map[string]DependencyChecker
	depTimeout      time.Duration
	logger          *slog.Logger
}

// NewServer creates a new HTTP server.
func NewServer(config ServerConfig, checker inbound.HealthChecker, shuttingDown *atomic.Bool, routes ...RouteRegistrar) *Server {
	defaults := ServerConfigDefaults()
	if config.Addr == "" {
		config.Addr = defaults.Addr
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = defaults.ReadTimeout
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if config.DependencyTimeout == 0 {
		config.DependencyTimeout = defaults.DependencyTimeout
	}
	if shuttingDown == nil {
		shuttingDown = new(atomic.Bool)
	}

	s := &Server{
		checker:         checker,
		shuttingDown:    shuttingDown,
		shutdownTimeout: config.ShutdownTimeout,
		dependencies:    config.Dependencies,
		depTimeout:      config.DependencyTimeout,
		logger:          config.Logger.With("component", "http-server"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health/ready", s.handleReady)
	mux.HandleFunc("GET /health/live", s.handleLive)
	mux.HandleFunc("GET /health", s.handleHealth)
	for _, r := range routes {
		r.RegisterRoutes(mux)
	}

	s.server = &http.Server{
		Addr:         config.Addr,
		Handler:      mux,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}

	return s
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Run listens on the configured address until ctx is done, then shuts the
// server down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.server.BaseContext = func(net.Listener) context.Context { return ctx }

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting http server", "addr", ln.Addr().String())
		errCh <- s.server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("http server stopped")
	return nil
}

// checkDependencies runs every dependency check concurrently and returns
// "ok" or the error text per dependency.
func (s *Server) checkDependencies(ctx context.Context) (map[string]string, bool) {
	results := make(map[string]string, len(s.dependencies))
	healthy := true

	var mu sync.Mutex
	var wg sync.WaitGroup
	for name, dep := range s.dependencies {
		wg.Add(1)
		go func() {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, s.depTimeout)
			defer cancel()

			result := "ok"
			if err := dep.HealthCheck(checkCtx); err != nil {
				s.logger.Warn("dependency check failed", "dependency", name, "error", err)
				result = err.Error()
			}

			mu.Lock()
			defer mu.Unlock()
			results[name] = result
			if result != "ok" {
				healthy = false
			}
		}()
	}
	wg.Wait()

	return results, healthy
}

func respondJSON(logger *slog.Logger, w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode JSON response", "error", err)
	}
}
