// Package api provides the HTTP and WebSocket server for the pairing relay.
//
// It upgrades controller and device connections, feeds their frames into the
// pairing engine, and exposes read-only health, connection and metrics
// endpoints for operators.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/multierr"

	"github.com/nerrad567/pairing-relay/internal/infrastructure/config"
	"github.com/nerrad567/pairing-relay/internal/infrastructure/logging"
	"github.com/nerrad567/pairing-relay/internal/pairing"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// BrokerStatus reports whether an optional broker connection is up.
// Satisfied by *mqtt.Client.
type BrokerStatus interface {
	IsConnected() bool
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	WS      config.WebSocketConfig
	Metrics config.MetricsConfig
	Logger  *logging.Logger
	Engine  *pairing.Engine

	// MetricsHandler serves the Prometheus exposition at Metrics.Path.
	// Optional; the route is omitted when nil or when metrics are disabled.
	MetricsHandler http.Handler

	// MQTT is optional and only used for status reporting.
	MQTT BrokerStatus

	Version string
}

// Server is the HTTP API server for the pairing relay.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg            config.APIConfig
	wsCfg          config.WebSocketConfig
	metricsCfg     config.MetricsConfig
	logger         *logging.Logger
	engine         *pairing.Engine
	metricsHandler http.Handler
	mqtt           BrokerStatus
	version        string
	startTime      time.Time
	server         *http.Server
	hub            *Hub
	cancel         context.CancelFunc // cancels the hub on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Engine == nil {
		return nil, fmt.Errorf("pairing engine is required")
	}

	return &Server{
		cfg:            deps.Config,
		wsCfg:          deps.WS,
		metricsCfg:     deps.Metrics,
		logger:         deps.Logger,
		engine:         deps.Engine,
		metricsHandler: deps.MetricsHandler,
		mqtt:           deps.MQTT,
		version:        deps.Version,
		startTime:      time.Now(),
		hub:            NewHub(deps.Logger),
	}, nil
}

// Handler returns the fully routed HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub and launches the HTTP listener in a background
// goroutine. The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	s.server = s.newHTTPServer()

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// newHTTPServer applies the configured listen address and timeouts.
func (s *Server) newHTTPServer() *http.Server {
	timeouts := s.cfg.Timeouts
	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       timeouts.GetReadTimeout(),
		ReadHeaderTimeout: timeouts.GetReadTimeout(),
		WriteTimeout:      timeouts.GetWriteTimeout(),
		IdleTimeout:       timeouts.GetIdleTimeout(),
	}
}

// Close gracefully shuts down the API server.
//
// Live WebSocket connections are closed first so their pumps exit, then the
// HTTP server waits up to 10 seconds for in-flight requests.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down", "websocket_clients", s.hub.ClientCount())

	var err error
	if shutdownErr := s.server.Shutdown(ctx); shutdownErr != nil {
		err = multierr.Append(err, fmt.Errorf("shutting down API server: %w", shutdownErr))
	}
	if closeErr := s.hub.close(); closeErr != nil {
		err = multierr.Append(err, fmt.Errorf("closing websocket clients: %w", closeErr))
	}
	return err
}

// HealthCheck verifies the API server is running and responsive.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
