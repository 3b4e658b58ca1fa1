package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/kevinhojae/savewise-mcp-server/internal/instrumentation"
)

const (
	// DefaultMetricsAddr is the default address for the metrics server.
	DefaultMetricsAddr = ":9090"

	// DefaultMetricsReadTimeout is the default read timeout for the metrics server.
	DefaultMetricsReadTimeout = 10 * time.Second

	// DefaultMetricsWriteTimeout is the default write timeout for the metrics server.
	DefaultMetricsWriteTimeout = 10 * time.Second

	// DefaultMetricsIdleTimeout is the default idle timeout for the metrics server.
	DefaultMetricsIdleTimeout = 60 * time.Second

	// DefaultShutdownTimeout bounds graceful shutdown of every listener.
	DefaultShutdownTimeout = 30 * time.Second
)

// MetricsServerConfig holds configuration for the metrics server.
type MetricsServerConfig struct {
	// Addr is the address to bind the metrics server to (e.g., ":9090").
	Addr string

	// InstrumentationProvider provides the Prometheus metrics handler.
	InstrumentationProvider *instrumentation.Provider

	Logger *slog.Logger
}

// MetricsServer serves Prometheus metrics on a dedicated port, away from
// the authenticated MCP listener.
type MetricsServer struct {
	mu         sync.Mutex
	httpServer *http.Server
	addr       string
	handler    http.Handler
	logger     *slog.Logger
}

// NewMetricsServer creates a new metrics server with the given configuration.
func NewMetricsServer(config MetricsServerConfig) (*MetricsServer, error) {
	if config.Addr == "" {
		config.Addr = DefaultMetricsAddr
	}
	if config.InstrumentationProvider == nil {
		return nil, fmt.Errorf("instrumentation provider is required for metrics server")
	}
	if !config.InstrumentationProvider.Enabled() {
		return nil, fmt.Errorf("instrumentation provider is not enabled")
	}

	handler := config.InstrumentationProvider.MetricsHandler()
	if handler == nil {
		return nil, fmt.Errorf("instrumentation provider has no prometheus exporter")
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &MetricsServer{
		addr:    config.Addr,
		handler: handler,
		logger:  logger,
	}, nil
}

// Handler returns the mux served by the metrics server.
func (s *MetricsServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.handler)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Start starts the metrics server in a blocking manner.
func (s *MetricsServer) Start() error {
	return s.StartWithReadySignal(nil)
}

// StartWithReadySignal binds the listener, reports the bound address on
// ready (if non-nil) and then serves until Shutdown.
func (s *MetricsServer) StartWithReadySignal(ready chan<- string) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		if ready != nil {
			close(ready)
		}
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	s.mu.Lock()
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: DefaultMetricsReadTimeout,
		WriteTimeout:      DefaultMetricsWriteTimeout,
		IdleTimeout:       DefaultMetricsIdleTimeout,
	}
	srv := s.httpServer
	s.mu.Unlock()

	s.logger.Info("starting metrics server", "addr", ln.Addr().String())
	if ready != nil {
		ready <- ln.Addr().String()
		close(ready)
	}

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the metrics server.
func (s *MetricsServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	s.logger.Info("shutting down metrics server")
	return srv.Shutdown(ctx)
}

// Addr returns the configured address for the metrics server.
func (s *MetricsServer) Addr() string {
	return s.addr
}
