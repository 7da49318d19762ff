// Package server provides the HTTP control plane of the activity host.
//
// # Endpoints
//
//   - GET /health - Simple health check, returns "ok" with build info headers
//   - GET /api/types - Activity types that can be loaded
//   - GET /api/activities - Snapshots of every loaded activity
//   - POST /api/activities - Loads an activity from {"name", "type", "config"}
//   - GET /api/activities/{id} - Snapshot of one activity
//   - DELETE /api/activities/{id} - Unloads an activity
//   - POST /api/activities/{id}/{action} - startup, activate, deactivate, shutdown, restart or check
//   - PUT /api/activities/{id}/config - Merges a configuration update
//   - GET /api/activities/{id}/logs - Captured log entries, optionally ?since=RFC3339
//   - GET /api/environment - Keys of the shared environment
//   - GET /api/config - Host configuration as YAML, secrets redacted
//   - GET /activities/{id}/ws - Websocket connection to an activity
//   - GET /metrics - Prometheus metrics, when a metrics handler is configured
//
// Wherever {id} appears, either the activity ID or its name is accepted.
//
// # Example
//
//	srv, err := server.New(h, endpoint, server.WithListenAddr(":8080"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := srv.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/nomis52/activityhost/config"
	"github.com/nomis52/activityhost/server/handlers"
)

const (
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultShutdownTimeout = 5 * time.Second
	defaultListenAddr      = ":8080"
)

// Server is the HTTP server of the activity host.
type Server struct {
	addr           string
	logger         *slog.Logger
	host           handlers.Host
	connections    handlers.ConnectionServer
	config         *config.Config
	metricsHandler http.Handler
	certLoader     *CertLoader
	httpServer     *http.Server
}

// Option configures a Server.
type Option func(*Server) error

// WithListenAddr configures the address the server listens on.
// Default is ":8080".
func WithListenAddr(addr string) Option {
	return func(s *Server) error {
		s.addr = addr
		return nil
	}
}

// WithLogger sets the server's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) error {
		s.logger = logger
		return nil
	}
}

// WithConfig exposes cfg on GET /api/config.
func WithConfig(cfg *config.Config) Option {
	return func(s *Server) error {
		s.config = cfg
		return nil
	}
}

// WithMetricsHandler serves h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) error {
		s.metricsHandler = h
		return nil
	}
}

// WithTLS serves HTTPS with the given certificate and key. The files are
// re-read when they change on disk.
func WithTLS(certFile, keyFile string) Option {
	return func(s *Server) error {
		loader, err := NewCertLoader(certFile, keyFile, s.logger)
		if err != nil {
			return fmt.Errorf("loading tls certificate: %w", err)
		}
		s.certLoader = loader
		return nil
	}
}

// New creates a server for h. Websocket upgrades are handed to connections.
func New(h handlers.Host, connections handlers.ConnectionServer, opts ...Option) (*Server, error) {
	s := &Server{
		addr:        defaultListenAddr,
		logger:      slog.Default(),
		host:        h,
		connections: connections,
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.logger = s.logger.With("component", "server")

	return s, nil
}

// Logger returns the server's logger.
func (s *Server) Logger() *slog.Logger {
	return s.logger
}

// Config returns the configuration reported on /api/config.
func (s *Server) Config() *config.Config {
	return s.config
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerRoutes(mux)
	return mux
}

// Run starts the HTTP server and blocks until the context is cancelled.
// It performs a graceful shutdown when the context is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	if s.certLoader != nil {
		s.httpServer.TLSConfig = &tls.Config{
			MinVersion:     tls.VersionTLS12,
			GetCertificate: s.certLoader.GetCertificate,
		}
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting server",
			"addr", ln.Addr().String(),
			"tls", s.certLoader != nil,
		)
		var err error
		if s.certLoader != nil {
			err = s.httpServer.ServeTLS(ln, "", "")
		} else {
			err = s.httpServer.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	activitiesHandler := handlers.NewActivitiesHandler(s.logger, s.host)
	activityHandler := handlers.NewActivityHandler(s.logger, s.host)
	actionHandler := handlers.NewActionHandler(s.logger, s.host)
	updateConfigHandler := handlers.NewUpdateConfigHandler(s.logger, s.host)
	logsHandler := handlers.NewLogsHandler(s.host)
	typesHandler := handlers.NewTypesHandler(s.host)
	environmentHandler := handlers.NewEnvironmentHandler(s.host)
	configHandler := handlers.NewConfigHandler(s)

	mux.HandleFunc("GET /health", handlers.HandleHealth)
	mux.Handle("GET /api/types", typesHandler)
	mux.Handle("/api/activities", activitiesHandler)
	mux.Handle("/api/activities/{id}", activityHandler)
	mux.Handle("POST /api/activities/{id}/{action}", actionHandler)
	mux.Handle("PUT /api/activities/{id}/config", updateConfigHandler)
	mux.Handle("GET /api/activities/{id}/logs", logsHandler)
	mux.Handle("GET /api/environment", environmentHandler)
	mux.Handle("GET /api/config", configHandler)

	if s.connections != nil {
		mux.Handle("GET /activities/{id}/ws", handlers.NewWebSocketHandler(s.logger, s.host, s.connections))
	}
	if s.metricsHandler != nil {
		mux.Handle("GET /metrics", s.metricsHandler)
	}
}
