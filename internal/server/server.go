package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

const (
	// DefaultAddr is the default address of the API server.
	DefaultAddr = ":8080"

	// DefaultReadHeaderTimeout bounds how long a client may take to send headers.
	DefaultReadHeaderTimeout = 10 * time.Second

	// DefaultWriteTimeout bounds a whole response. It must exceed the upstream
	// token and Google API timeouts.
	DefaultWriteTimeout = 60 * time.Second

	// DefaultIdleTimeout is the keep-alive idle timeout.
	DefaultIdleTimeout = 120 * time.Second

	// DefaultShutdownTimeout is the default timeout for graceful server shutdown.
	DefaultShutdownTimeout = 30 * time.Second

	// MCPPath is where the MCP streamable HTTP endpoint is mounted.
	MCPPath = "/mcp"
)

// Config configures the API server.
type Config struct {
	// Addr defaults to DefaultAddr.
	Addr string

	// API serves the REST routes. Required.
	API http.Handler

	// MCP serves the MCP streamable HTTP transport. Optional.
	MCP http.Handler

	// Health serves /healthz and /readyz. Optional.
	Health *HealthChecker

	Logger *slog.Logger
}

// HTTPServer serves the REST API, health probes and, optionally, MCP on a
// single listener.
type HTTPServer struct {
	httpServer *http.Server
	health     *HealthChecker
	addr       string
	logger     *slog.Logger
}

// New creates the API server without starting it.
func New(config Config) (*HTTPServer, error) {
	if config.API == nil {
		return nil, fmt.Errorf("api handler is required")
	}
	if config.Addr == "" {
		config.Addr = DefaultAddr
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.Handle("/", config.API)
	if config.MCP != nil {
		mux.Handle(MCPPath, config.MCP)
	}
	if config.Health != nil {
		config.Health.RegisterHealthEndpoints(mux)
	}

	return &HTTPServer{
		httpServer: &http.Server{
			Addr:              config.Addr,
			Handler:           mux,
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
		},
		health: config.Health,
		addr:   config.Addr,
		logger: config.Logger.With(slog.String("component", "http")),
	}, nil
}

// Handler returns the root handler.
func (s *HTTPServer) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe listens on the configured address and blocks until the
// server is shut down.
func (s *HTTPServer) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	return s.Serve(ln)
}

// Serve serves on ln until the server is shut down. A graceful shutdown
// returns nil.
func (s *HTTPServer) Serve(ln net.Listener) error {
	s.logger.Info("starting http server", slog.String("addr", ln.Addr().String()))
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown fails readiness first, then drains in-flight requests.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.health != nil {
		s.health.MarkShuttingDown()
	}
	s.logger.Info("shutting down http server")
	return s.httpServer.Shutdown(ctx)
}

// Addr returns the configured address.
func (s *HTTPServer) Addr() string {
	return s.addr
}
