package server

import (
	"context"
	"log/slog"
	"sync"

	"github.com/kevinhojae/savewise-mcp-server/internal/instrumentation"
	"github.com/kevinhojae/savewise-mcp-server/internal/readwise"
)

// HighlightCreator saves highlights to Readwise. *readwise.Client implements it.
type HighlightCreator interface {
	CreateHighlights(ctx context.Context, token string, highlights []readwise.Highlight) ([]readwise.CreateResponse, error)
}

// ServerContext holds the process-wide, read-mostly dependencies shared by
// every protocol server instance.
type ServerContext struct {
	ctx    context.Context
	cancel context.CancelFunc

	readwise      HighlightCreator
	readwiseToken string

	metrics     *instrumentation.Metrics
	auditLogger *instrumentation.AuditLogger
	logger      *slog.Logger
	version     string

	mu       sync.RWMutex
	shutdown bool
}

// ServerContextOption configures a ServerContext.
type ServerContextOption func(*ServerContext)

// WithReadwise sets the Readwise client and the token used for every call.
func WithReadwise(client HighlightCreator, token string) ServerContextOption {
	return func(sc *ServerContext) {
		sc.readwise = client
		sc.readwiseToken = token
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *instrumentation.Metrics) ServerContextOption {
	return func(sc *ServerContext) {
		sc.metrics = m
	}
}

// WithAuditLogger sets the tool audit logger.
func WithAuditLogger(al *instrumentation.AuditLogger) ServerContextOption {
	return func(sc *ServerContext) {
		sc.auditLogger = al
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ServerContextOption {
	return func(sc *ServerContext) {
		if logger != nil {
			sc.logger = logger
		}
	}
}

// WithVersion sets the version reported to MCP clients and health checks.
func WithVersion(version string) ServerContextOption {
	return func(sc *ServerContext) {
		sc.version = version
	}
}

// NewServerContext creates a new server context. Without WithReadwise a
// default Readwise client is used and the token is empty.
func NewServerContext(ctx context.Context, opts ...ServerContextOption) *ServerContext {
	shutdownCtx, cancel := context.WithCancel(ctx)
	sc := &ServerContext{
		ctx:     shutdownCtx,
		cancel:  cancel,
		logger:  slog.Default(),
		version: "dev",
	}
	for _, opt := range opts {
		opt(sc)
	}
	if sc.readwise == nil {
		sc.readwise = readwise.NewClient(readwise.WithLogger(sc.logger))
	}
	return sc
}

// Context returns the server context
func (sc *ServerContext) Context() context.Context {
	return sc.ctx
}

// Readwise returns the Readwise client
func (sc *ServerContext) Readwise() HighlightCreator {
	return sc.readwise
}

// ReadwiseToken returns the configured Readwise token, possibly empty.
func (sc *ServerContext) ReadwiseToken() string {
	return sc.readwiseToken
}

// Metrics returns the metrics recorder, or nil when not configured.
func (sc *ServerContext) Metrics() *instrumentation.Metrics {
	return sc.metrics
}

// AuditLogger returns the audit logger, or nil when not configured.
func (sc *ServerContext) AuditLogger() *instrumentation.AuditLogger {
	return sc.auditLogger
}

// Logger returns the logger
func (sc *ServerContext) Logger() *slog.Logger {
	return sc.logger
}

// Version returns the server version
func (sc *ServerContext) Version() string {
	return sc.version
}

// IsShutdown returns whether the server has been shutdown
func (sc *ServerContext) IsShutdown() bool {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.shutdown
}

// Shutdown cancels the server context. Safe to call more than once.
func (sc *ServerContext) Shutdown() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.shutdown {
		return nil
	}
	sc.shutdown = true
	sc.cancel()
	return nil
}
