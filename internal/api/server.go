// Package api provides the optional HTTP status endpoint for Span Bridge.
//
// It exposes the supervisor's health view and the forwarding counters to
// monitoring systems. The server is read-only and unauthenticated; bind it
// to localhost (the default) or front it with a reverse proxy.
//
// The server follows the same lifecycle pattern as the other components:
//
//	server := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/span-bridge/internal/bridge"
	"github.com/nerrad567/span-bridge/internal/infrastructure/config"
	"github.com/nerrad567/span-bridge/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 5 * time.Second

// Deps holds the dependencies required by the status server.
type Deps struct {
	Config     config.APIConfig
	Logger     *logging.Logger
	Supervisor *bridge.Supervisor
	Version    string
}

// Server is the HTTP status server.
//
// It manages the HTTP listener and routes. The server is created with
// New() and started with Start().
type Server struct {
	cfg        config.APIConfig
	logger     *logging.Logger
	supervisor *bridge.Supervisor
	version    string
	server     *http.Server
}

// New creates a status server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) *Server {
	return &Server{
		cfg:        deps.Config,
		logger:     deps.Logger,
		supervisor: deps.Supervisor,
		version:    deps.Version,
	}
}

// Start begins listening for HTTP connections.
//
// The listener runs in a background goroutine; stop it with Close().
//
// Parameters:
//   - ctx: Context for startup; the listener lifetime is owned by Close()
//
// Returns:
//   - error: Always nil; listen failures are logged asynchronously
func (s *Server) Start(_ context.Context) error {
	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		err := s.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("status server error", "error", err)
		}
	}()

	s.logger.Info("status server listening", "address", s.server.Addr)

	return nil
}

// Close gracefully shuts down the status server.
//
// It waits up to 5 seconds for in-flight requests to complete, then
// forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down status server: %w", err)
	}
	return nil
}
