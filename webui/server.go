// Package webui serves the monitor over HTTP: a JSON API for operations,
// metrics and health, the Prometheus /metrics endpoint, and a WebSocket
// stream of progress updates.
package webui

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"crewmonitor/display"
	"crewmonitor/health"
	"crewmonitor/metrics"
	"crewmonitor/monitor"
)

// OperationRegistry is the part of monitor.Registry the server needs.
type OperationRegistry interface {
	display.OperationSource
	ProgressSource
	Subscribe(sink monitor.Sink) (unsubscribe func())
}

var _ OperationRegistry = (*monitor.Registry)(nil)

// Server is the HTTP server organism. It wires together:
//   - LoggingMiddleware for request logging
//   - DashboardAPI for the JSON endpoints
//   - promhttp for /metrics
//   - WebSocketBroadcaster for real-time progress
//
// Methods:
//   - NewServer() creates a configured server instance
//   - Start() begins listening on the configured address
//   - Shutdown() gracefully shuts down the server
type Server struct {
	httpServer    *http.Server
	mux           *http.ServeMux
	config        ServerConfig
	logger        *zap.Logger
	registry      OperationRegistry
	checker       *health.Checker
	loggingMw     *LoggingMiddleware
	dashboardAPI  *DashboardAPI
	wsBroadcaster *WebSocketBroadcaster

	mu          sync.Mutex
	unsubscribe func()
	stop        context.CancelFunc
	listener    net.Listener
}

// ServerConfig configures the Server.
type ServerConfig struct {
	// Port to listen on (default: 3000, 0 picks a free port)
	Port int

	// Host to bind to (default: "localhost")
	Host string

	// ReadTimeout for HTTP requests (default: 30s)
	ReadTimeout time.Duration

	// WriteTimeout for HTTP responses (default: 30s)
	WriteTimeout time.Duration

	// IdleTimeout for keep-alive connections (default: 120s)
	IdleTimeout time.Duration

	// ShutdownTimeout for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration

	// HealthBroadcastInterval is how often the health roll-up is pushed
	// to WebSocket clients (default: 30s)
	HealthBroadcastInterval time.Duration

	// LogSkipPaths are paths to skip logging
	LogSkipPaths []string

	// Broadcaster configures the WebSocket broadcaster
	Broadcaster BroadcasterConfig

	// HealthOptions are the probes run by GET /api/health?refresh=true
	HealthOptions health.RunOptions
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
// This is a pure function with no side effects.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:                    3000,
		Host:                    "localhost",
		ReadTimeout:             30 * time.Second,
		WriteTimeout:            30 * time.Second,
		IdleTimeout:             120 * time.Second,
		ShutdownTimeout:         30 * time.Second,
		HealthBroadcastInterval: 30 * time.Second,
		LogSkipPaths:            []string{"/health", "/metrics"},
		Broadcaster:             DefaultBroadcasterConfig(),
	}
}

// NewServer creates a Server over the registry, collector and checker.
// The collector and checker may be nil; their endpoints then answer 503.
func NewServer(
	config ServerConfig,
	registry OperationRegistry,
	collector *metrics.Collector,
	checker *health.Checker,
	logger *zap.Logger,
) (*Server, error) {
	if registry == nil {
		return nil, errors.New("webui: operation registry is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = DefaultServerConfig().ShutdownTimeout
	}
	if config.HealthBroadcastInterval <= 0 {
		config.HealthBroadcastInterval = DefaultServerConfig().HealthBroadcastInterval
	}

	server := &Server{
		mux:      http.NewServeMux(),
		config:   config,
		logger:   logger,
		registry: registry,
		checker:  checker,
		loggingMw: NewLoggingMiddleware(logger, LoggingMiddlewareConfig{
			SkipPaths: config.LogSkipPaths,
		}),
		dashboardAPI: NewDashboardAPI(registry, collector, checker, DashboardAPIConfig{
			HealthOptions: config.HealthOptions,
			Progress:      registry,
		}, logger),
		wsBroadcaster: NewWebSocketBroadcaster(config.Broadcaster, logger),
	}
	server.wsBroadcaster.SetInitialState(server.initialState)

	server.setupRoutes(collector)

	addr := net.JoinHostPort(config.Host, fmt.Sprint(config.Port))
	server.httpServer = &http.Server{
		Addr:         addr,
		Handler:      server.Handler(),
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	logger.Info("WebUI server created", zap.String("addr", addr))
	return server, nil
}

// setupRoutes configures all the HTTP routes.
func (s *Server) setupRoutes(collector *metrics.Collector) {
	s.mux.HandleFunc("/health", s.handleHealth)

	s.dashboardAPI.RegisterRoutes(s.mux)

	if collector != nil {
		s.mux.Handle("/metrics", promhttp.HandlerFor(collector.Registry(), promhttp.HandlerOpts{
			ErrorLog: zap.NewStdLog(s.logger.Named("promhttp")),
		}))
	}

	s.mux.HandleFunc("/ws", s.wsBroadcaster.HandleConnection)
}

// Handler returns the routed handler wrapped with request logging.
func (s *Server) Handler() http.Handler {
	return s.loggingMw.Handler(s.mux)
}

// handleHealth is the liveness endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) initialState() InitialData {
	data := InitialData{Operations: display.Snapshots(s.registry, time.Now())}
	if s.checker != nil {
		status := s.checker.SystemStatus()
		data.Health = &status
	}
	return data
}

// Start begins background work (WebSocket broadcaster, registry
// subscription, health broadcasts) and serves HTTP. It blocks until the
// server is shut down or ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	bgCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	s.listener = ln
	s.stop = cancel
	s.unsubscribe = s.registry.Subscribe(s.wsBroadcaster)
	s.mu.Unlock()

	go s.wsBroadcaster.Start(bgCtx)
	if s.checker != nil {
		go s.broadcastHealth(bgCtx)
	}
	go func() {
		<-bgCtx.Done()
		if ctx.Err() != nil {
			shutdownCtx, done := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
			defer done()
			_ = s.httpServer.Shutdown(shutdownCtx)
		}
	}()

	s.logger.Info("WebUI server starting", zap.String("addr", ln.Addr().String()))

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		cancel()
		return fmt.Errorf("http server error: %w", err)
	}
	return nil
}

func (s *Server) broadcastHealth(ctx context.Context) {
	ticker := time.NewTicker(s.config.HealthBroadcastInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.wsBroadcaster.ClientCount() > 0 {
				s.wsBroadcaster.BroadcastMessage(NewHealthMessage(s.checker.SystemStatus()))
			}
		}
	}
}

// Shutdown stops accepting requests, detaches the broadcaster from the
// registry and waits for in-flight requests up to ShutdownTimeout.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down WebUI server")

	s.mu.Lock()
	unsubscribe, stop := s.unsubscribe, s.stop
	s.unsubscribe, s.stop = nil, nil
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if stop != nil {
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown error: %w", err)
	}

	s.logger.Info("WebUI server stopped")
	return nil
}

// Broadcaster returns the WebSocket broadcaster.
func (s *Server) Broadcaster() *WebSocketBroadcaster {
	return s.wsBroadcaster
}

// Addr returns the listening address once serving, otherwise the
// configured address.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.httpServer.Addr
}
