package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	miiobridge "github.com/nerrad567/gray-logic-miio/internal/bridges/miio"
	"github.com/nerrad567/gray-logic-miio/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-miio/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-miio/internal/miio"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Bridge is the part of the miio bridge the API drives.
// *miiobridge.Bridge satisfies it.
type Bridge interface {
	Devices() []miiobridge.DeviceStatus
	Device(deviceID string) (miiobridge.DeviceStatus, error)
	Channels(deviceID string) ([]miiobridge.ChannelView, error)
	SendCommand(deviceID, channel string, cmd miio.Command) error
	Refresh(deviceID string) error
	SetStateListener(fn func(miiobridge.StateEvent))
}

// ConnectionChecker reports broker connectivity. *mqtt.Client satisfies it.
type ConnectionChecker interface {
	IsConnected() bool
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Bridge   Bridge

	// MQTT is optional and only reported in /status.
	MQTT ConnectionChecker

	// Metrics serves /metrics when set.
	Metrics http.Handler

	Version string

	// SchemaVersion is the applied database migration, shown in /status.
	SchemaVersion string
}

// Server is the HTTP API server of the miio bridge.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	secCfg    config.SecurityConfig
	logger    *logging.Logger
	bridge    Bridge
	mqtt      ConnectionChecker
	metrics   http.Handler
	version   string
	schema    string
	startTime time.Time

	tickets *ticketStore
	hub     *Hub

	mu     sync.Mutex
	server *http.Server
	cancel context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, bridge)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Bridge == nil {
		return nil, fmt.Errorf("bridge is required")
	}

	return &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		secCfg:    deps.Security,
		logger:    deps.Logger,
		bridge:    deps.Bridge,
		mqtt:      deps.MQTT,
		metrics:   deps.Metrics,
		version:   deps.Version,
		schema:    deps.SchemaVersion,
		startTime: time.Now(),
		tickets:   newTicketStore(),
		hub:       NewHub(deps.WS, deps.Logger),
	}, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub, routes channel changes from the bridge to
// it, and launches the HTTP listener in a background goroutine. The server
// can be stopped with Close().
//
// Parameters:
//   - ctx: Context for cancellation of background work
//
// Returns:
//   - error: If the server is already running
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return fmt.Errorf("api server already started")
	}

	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	go s.cleanTicketsLoop(srvCtx)
	s.bridge.SetStateListener(s.broadcastState)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	srv := s.server
	go func() {
		s.logger.Info("API server starting", "address", srv.Addr, "auth", s.authEnabled())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	s.mu.Lock()
	srv := s.server
	cancel := s.cancel
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	s.bridge.SetStateListener(nil)
	if cancel != nil {
		cancel()
	}

	ctx, done := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer done()

	s.logger.Info("API server shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (s *Server) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("api health check: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}

// broadcastState relays a channel change to WebSocket subscribers.
func (s *Server) broadcastState(ev miiobridge.StateEvent) {
	s.hub.Broadcast(EventChannelState, ev)
}
