// Package api provides the northbound HTTP REST API and WebSocket event
// stream of the LwM2M gateway.
//
// It exposes the notification callback and pull interface, the endpoint
// listing, token authentication, health and Prometheus metrics.
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

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/lwm2m-gateway/internal/audit"
	"github.com/nerrad567/lwm2m-gateway/internal/auth"
	"github.com/nerrad567/lwm2m-gateway/internal/endpoint"
	"github.com/nerrad567/lwm2m-gateway/internal/infrastructure/config"
	"github.com/nerrad567/lwm2m-gateway/internal/infrastructure/logging"
	"github.com/nerrad567/lwm2m-gateway/internal/notification"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	WS         config.WebSocketConfig
	Logger     *logging.Logger
	Endpoints  *endpoint.Registry
	Callbacks  *notification.CallbackStore
	Dispatcher *notification.Dispatcher

	// Issuer enables bearer-token authentication. Nil leaves the API open.
	Issuer *auth.Issuer

	// Audit records callback changes and logins. Nil disables the trail
	// and GET /audit answers 404.
	Audit audit.Repository

	// Gatherer backs GET /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer

	// Hub, if set, is used instead of a server-owned hub so it can be
	// registered as an endpoint listener before the server starts.
	Hub *Hub

	Version string
}

// Server is the HTTP API server of the gateway.
type Server struct {
	cfg        config.APIConfig
	logger     *logging.Logger
	endpoints  *endpoint.Registry
	callbacks  *notification.CallbackStore
	dispatcher *notification.Dispatcher
	issuer     *auth.Issuer
	audit      audit.Repository
	gatherer   prometheus.Gatherer
	version    string
	server     *http.Server
	hub        *Hub
	cancel     context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Endpoints == nil {
		return nil, fmt.Errorf("endpoint registry is required")
	}
	if deps.Callbacks == nil || deps.Dispatcher == nil {
		return nil, fmt.Errorf("callback store and dispatcher are required")
	}

	s := &Server{
		cfg:        deps.Config,
		logger:     deps.Logger,
		endpoints:  deps.Endpoints,
		callbacks:  deps.Callbacks,
		dispatcher: deps.Dispatcher,
		issuer:     deps.Issuer,
		audit:      deps.Audit,
		gatherer:   deps.Gatherer,
		version:    deps.Version,
		hub:        deps.Hub,
	}
	if s.gatherer == nil {
		s.gatherer = prometheus.DefaultGatherer
	}
	if s.hub == nil {
		s.hub = NewHub(deps.WS, deps.Logger)
	}
	return s, nil
}

// Hub returns the event hub, for registering it as an endpoint listener.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the fully wired router without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start begins listening for HTTP connections in a background goroutine.
// The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

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

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
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
