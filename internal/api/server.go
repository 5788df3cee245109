package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ClinShaiju/RiceHolisticGarden/internal/device"
	"github.com/ClinShaiju/RiceHolisticGarden/internal/infrastructure/config"
	"github.com/ClinShaiju/RiceHolisticGarden/internal/infrastructure/logging"
	"github.com/ClinShaiju/RiceHolisticGarden/internal/infrastructure/metrics"
	"github.com/ClinShaiju/RiceHolisticGarden/internal/provisioning"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Telemetry is the part of the telemetry server the API drives.
type Telemetry interface {
	SendCommand(identity string, activate bool) error
	SendText(identity, text string) error
	Logs(identity string, max int) (string, error)
	LiveStatus(identity string) (string, error)
	OutputState(identity string) device.OutputState
	Running() bool
}

// Provisioner starts provisioning runs.
type Provisioner interface {
	Begin() (string, error)
}

// RunHistory lists finished provisioning runs.
type RunHistory interface {
	List(ctx context.Context, limit int) ([]provisioning.Report, error)
}

// SeenDevices lists devices persisted across restarts.
type SeenDevices interface {
	List(ctx context.Context, limit int) ([]device.SeenDevice, error)
}

// BusStatus reports the state of the MQTT mirror.
type BusStatus interface {
	IsConnected() bool
	Subscriptions() []string
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config    config.APIConfig
	WS        config.WebSocketConfig
	Logger    *logging.Logger
	Registry  *device.Registry
	Telemetry Telemetry
	Metrics   *metrics.Metrics
	Version   string

	// Provisioner is optional; POST /provisioning answers 503 without it.
	Provisioner Provisioner

	// History and Seen are optional SQLite-backed listings.
	History RunHistory
	Seen    SeenDevices

	// MQTT is optional and only reported in system metrics.
	MQTT BusStatus

	// Gatherer is optional; /metrics is not mounted without it.
	Gatherer prometheus.Gatherer
}

// Server is the HTTP API server for the garden core.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg         config.APIConfig
	wsCfg       config.WebSocketConfig
	logger      *logging.Logger
	registry    *device.Registry
	telemetry   Telemetry
	provisioner Provisioner
	history     RunHistory
	seen        SeenDevices
	mqtt        BusStatus
	metrics     *metrics.Metrics
	gatherer    prometheus.Gatherer
	version     string
	startTime   time.Time

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	hub      *Hub
	cancel   context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, registry, telemetry)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("device registry is required")
	}
	if deps.Telemetry == nil {
		return nil, fmt.Errorf("telemetry server is required")
	}

	s := &Server{
		cfg:         deps.Config,
		wsCfg:       deps.WS,
		logger:      deps.Logger,
		registry:    deps.Registry,
		telemetry:   deps.Telemetry,
		provisioner: deps.Provisioner,
		history:     deps.History,
		seen:        deps.Seen,
		mqtt:        deps.MQTT,
		metrics:     deps.Metrics,
		gatherer:    deps.Gatherer,
		version:     deps.Version,
		startTime:   time.Now(),
	}

	return s, nil
}

// Hub returns the WebSocket hub, creating it if Start has not run yet.
func (s *Server) Hub() *Hub {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.version, s.logger)
	}
	return s.hub
}

// Start begins listening for HTTP connections.
//
// It sets up the router, starts the WebSocket hub and launches the HTTP
// listener in a background goroutine. The server can be stopped with Close().
//
// Parameters:
//   - ctx: Context for cancellation (not used for listener lifetime)
//
// Returns:
//   - error: If the server fails to start (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	hub := s.Hub()

	s.mu.Lock()
	defer s.mu.Unlock()

	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go hub.Run(srvCtx)

	s.server = &http.Server{
		Addr:              net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port)),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("listening on %s: %w", s.server.Addr, err)
	}
	s.listener = ln

	s.logger.Info("API server listening", "address", ln.Addr().String())

	srv := s.server
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	s.mu.Lock()
	srv, cancel := s.server, s.cancel
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
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
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
