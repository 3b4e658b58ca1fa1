package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/kevinhojae/savewise-mcp-server/internal/instrumentation"
	"github.com/kevinhojae/savewise-mcp-server/internal/logging"
	"github.com/kevinhojae/savewise-mcp-server/internal/mcp/oauth"
)

const (
	// DefaultMCPPath is where the MCP endpoint is served.
	DefaultMCPPath = "/mcp"

	// DefaultReadHeaderTimeout bounds reading request headers.
	DefaultReadHeaderTimeout = 10 * time.Second

	// DefaultIdleTimeout bounds idle keep-alive connections.
	DefaultIdleTimeout = 120 * time.Second
)

// HTTPServerConfig configures the MCP HTTP server.
type HTTPServerConfig struct {
	// Addr is the listen address, e.g. ":3000".
	Addr string

	// MCPPath is the path of the MCP endpoint (default "/mcp").
	MCPPath string

	// AllowedOrigins enables CORS for these origins. Empty disables CORS.
	AllowedOrigins []string
}

// HTTPServer serves the MCP endpoint, health checks and OAuth stubs.
type HTTPServer struct {
	config   HTTPServerConfig
	router   chi.Router
	registry *SessionRegistry
	logger   *slog.Logger

	mu         sync.Mutex
	httpServer *http.Server
}

// HTTPServerDeps are the collaborators wired into the router.
type HTTPServerDeps struct {
	Registry *SessionRegistry
	Gate     *oauth.BearerGate
	Stubs    *oauth.StubHandler
	Health   *HealthChecker
	Metrics  *instrumentation.Metrics
	Logger   *slog.Logger
}

// NewHTTPServer builds the router for cfg.
func NewHTTPServer(cfg HTTPServerConfig, deps HTTPServerDeps) (*HTTPServer, error) {
	if deps.Registry == nil {
		return nil, errors.New("session registry is required")
	}
	if cfg.MCPPath == "" {
		cfg.MCPPath = DefaultMCPPath
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Gate == nil {
		deps.Gate = oauth.NewBearerGate("", oauth.WithGateLogger(logger))
	}
	if deps.Health == nil {
		deps.Health = NewHealthChecker(nil, deps.Registry)
	}

	s := &HTTPServer{
		config:   cfg,
		registry: deps.Registry,
		logger:   logger.With("component", "http_server"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Last-Event-ID", mcpserver.HeaderKeySessionID, "Mcp-Protocol-Version"},
			ExposedHeaders:   []string{mcpserver.HeaderKeySessionID, "WWW-Authenticate"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}
	r.Use(s.requestLogger)
	r.Use(instrumentationMiddleware(deps.Metrics, knownRoutes(cfg.MCPPath)))

	r.Method(http.MethodGet, "/healthz", deps.Health.LivenessHandler())
	r.Method(http.MethodGet, "/readyz", deps.Health.ReadinessHandler())
	r.Method(http.MethodGet, "/healthz/detailed", deps.Health.DetailedHealthHandler())

	if deps.Stubs != nil {
		deps.Stubs.Mount(r)
	}

	r.With(deps.Gate.Middleware).Handle(cfg.MCPPath, deps.Registry)

	s.router = r
	return s, nil
}

// Router returns the HTTP handler.
func (s *HTTPServer) Router() http.Handler {
	return s.router
}

// Start listens on the configured address and serves until Shutdown.
func (s *HTTPServer) Start() error {
	return s.StartWithReadySignal(nil)
}

// StartWithReadySignal binds the listener, sends the bound address on
// ready (if non-nil) and then serves until Shutdown.
func (s *HTTPServer) StartWithReadySignal(ready chan<- string) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		if ready != nil {
			close(ready)
		}
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}

	s.mu.Lock()
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		// No write timeout: GET streams stay open for the session lifetime.
		IdleTimeout: DefaultIdleTimeout,
	}
	srv := s.httpServer
	s.mu.Unlock()

	s.logger.Info("MCP HTTP server listening",
		"addr", ln.Addr().String(),
		"mcp_path", s.config.MCPPath)
	if ready != nil {
		ready <- ln.Addr().String()
		close(ready)
	}

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
// Open streams are released by closing every session first.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	s.registry.CloseAll()

	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func knownRoutes(mcpPath string) []string {
	return []string{
		mcpPath,
		"/healthz",
		"/readyz",
		"/healthz/detailed",
		oauth.PathAuthorizationServer,
		oauth.PathAuthorizationServer + mcpPath,
		oauth.PathOpenIDConfiguration,
		oauth.PathOpenIDConfiguration + mcpPath,
		mcpPath + oauth.PathSuffixOpenIDConfiguration,
		oauth.PathProtectedResource,
		oauth.PathProtectedResource + mcpPath,
		oauth.PathRegister,
		oauth.PathAuthorize,
		oauth.PathToken,
	}
}

// requestLogger logs every request once it has completed.
func (s *HTTPServer) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := newResponseWriter(w)

		next.ServeHTTP(rw, r)

		attrs := []any{
			slog.String(logging.KeyMethod, r.Method),
			slog.String(logging.KeyPath, r.URL.Path),
			slog.Int(logging.KeyStatus, rw.Status()),
			logging.Duration(time.Since(start)),
			slog.String(logging.KeyRequestID, middleware.GetReqID(r.Context())),
		}
		if id := rw.Header().Get(mcpserver.HeaderKeySessionID); id != "" {
			attrs = append(attrs, logging.SessionID(id))
		}
		s.logger.Info("http request", attrs...)
	})
}

// instrumentationMiddleware records request count and latency per route.
func instrumentationMiddleware(m *instrumentation.Metrics, known []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := newResponseWriter(w)

			next.ServeHTTP(rw, r)

			m.RecordHTTPRequest(r.Context(), r.Method,
				instrumentation.RouteLabel(r.URL.Path, known),
				rw.Status(), time.Since(start))
		})
	}
}

// responseWriter records the status code and whether anything has been
// written. It keeps http.Flusher available for streaming responses.
type responseWriter struct {
	http.ResponseWriter
	statusCode  atomic.Int32
	wroteHeader atomic.Bool
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	rw := &responseWriter{ResponseWriter: w}
	rw.statusCode.Store(http.StatusOK)
	return rw
}

func (rw *responseWriter) WriteHeader(code int) {
	if rw.wroteHeader.CompareAndSwap(false, true) {
		rw.statusCode.Store(int32(code))
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader.Store(true)
	return rw.ResponseWriter.Write(b)
}

func (rw *responseWriter) Flush() {
	rw.wroteHeader.Store(true)
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Status returns the status code sent, or 200 if none was set explicitly.
func (rw *responseWriter) Status() int {
	return int(rw.statusCode.Load())
}

// Written reports whether the header or any body bytes have been sent.
func (rw *responseWriter) Written() bool {
	return rw.wroteHeader.Load()
}
