// Package server exposes the GraphQL handler over HTTP and API Gateway.
//
// The same Server backs both deployment shapes:
//
//	srv, err := server.New(deps)
//	srv.Start(ctx)          // long-running listener
//	lambda.Start(srv.HandleAPIGateway) // single invocation per event
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/jacentio/homeapi/graph"
	"github.com/jacentio/homeapi/internal/config"
)

// gracefulShutdownTimeout bounds how long Close waits for in-flight requests.
const gracefulShutdownTimeout = 10 * time.Second

// Executor runs one GraphQL request.
type Executor interface {
	Execute(ctx context.Context, req graph.Request) *graph.Response
}

// Deps holds the dependencies of a Server.
type Deps struct {
	Config  config.APIConfig
	Logger  *slog.Logger
	GraphQL Executor
	Version string
}

// Server serves GraphQL requests.
type Server struct {
	cfg     config.APIConfig
	logger  *slog.Logger
	graphql Executor
	version string
	router  http.Handler
	server  *http.Server
}

// New creates a Server. It does not listen until Start is called.
func New(deps Deps) (*Server, error) {
	if deps.GraphQL == nil {
		return nil, fmt.Errorf("graphql executor is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	s := &Server{
		cfg:     deps.Config,
		logger:  deps.Logger,
		graphql: deps.GraphQL,
		version: deps.Version,
	}
	s.router = s.buildRouter()
	return s, nil
}

// Handler returns the HTTP handler with all routes and middleware.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the listener and serves in a background goroutine.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.cfg.ListenAddr(),
		Handler:           s.router,
		ReadTimeout:       s.cfg.GetReadTimeout(),
		ReadHeaderTimeout: s.cfg.GetReadTimeout(),
		WriteTimeout:      s.cfg.GetWriteTimeout(),
		IdleTimeout:       s.cfg.GetIdleTimeout(),
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.server.Addr, err)
	}
	s.logger.Info("API server listening", "address", ln.Addr().String(), "version", s.version)

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()
	return nil
}

// Close waits for in-flight requests and stops the listener.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	s.logger.Info("API server stopped")
	return nil
}
