// Package api provides the HTTP REST API for parlor.
//
// Endpoints:
//
//	GET    /health                     liveness probe
//	GET    /ready                      readiness probe
//	GET    /api/agents                 list registered agents
//	GET    /api/threads                list threads
//	POST   /api/threads                create a thread
//	GET    /api/threads/{id}           get one thread
//	DELETE /api/threads/{id}           delete a thread
//	GET    /api/threads/{id}/messages  thread message history
//	POST   /api/threads/{id}/messages  forward a user turn (SSE stream)
//
// File structure:
//   - server.go: HTTP server setup and lifecycle
//   - middleware.go: HTTP middleware (logging, recovery)
//   - health.go: health check endpoints (/health, /ready)
//   - thread.go: thread management endpoints (CRUD, history)
//   - forward.go: turn forwarding endpoint (SSE)
//   - response.go: JSON response helpers
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parlor-ai/parlor/internal/log"
	"github.com/parlor-ai/parlor/internal/thread"
)

const (
	// DefaultAddr is the default address for the HTTP server.
	DefaultAddr = "127.0.0.1:8080"

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout is the timeout for reading request headers.
	// This prevents Slowloris attacks (CWE-400).
	ReadHeaderTimeout = 10 * time.Second

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout = 30 * time.Second

	// IdleTimeout is the maximum duration to wait for the next request
	// on a keep-alive connection.
	IdleTimeout = 120 * time.Second
)

// Server is the parlor HTTP server. Note the lack of a WriteTimeout:
// the forwarding endpoint streams SSE for as long as a turn takes, so
// per-response deadlines are left to request contexts.
type Server struct {
	mux    *http.ServeMux
	logger log.Logger
}

// NewServer creates the HTTP server and registers all routes.
// pool may be nil; the readiness probe then reports not ready.
// forwarder may be nil; the forwarding endpoint is then not registered.
func NewServer(store *thread.Store, forwarder Forwarder, agents AgentDirectory, pool *pgxpool.Pool, logger log.Logger) *Server {
	mux := http.NewServeMux()

	NewHealthHandler(pool, logger).RegisterRoutes(mux)
	NewThreadHandler(store, agents, logger).RegisterRoutes(mux)
	NewForwardHandler(forwarder, store, logger).RegisterRoutes(mux)

	return &Server{mux: mux, logger: logger}
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return chain(s.mux,
		recoveryMiddleware(s.logger),
		loggingMiddleware(s.logger),
	)
}

// Run starts the HTTP server and blocks until ctx is cancelled or the
// server fails. Shutdown is graceful with ShutdownTimeout.
func (s *Server) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		IdleTimeout:       IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
