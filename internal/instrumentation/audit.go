package instrumentation

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// ToolInvocation is the audit record of one tool call.
type ToolInvocation struct {
	Tool      string
	SessionID string

	// HighlightCount is the number of highlights submitted,
	// SavedCount the number Readwise reported as saved.
	HighlightCount int
	SavedCount     int

	StartTime time.Time
	Duration  time.Duration
	Success   bool
	ErrorKind string
	Error     string

	TraceID string
	SpanID  string
}

// NewToolInvocation starts timing a tool call.
func NewToolInvocation(tool string) *ToolInvocation {
	return &ToolInvocation{Tool: tool, StartTime: time.Now()}
}

// WithSession sets the session the call arrived on.
func (ti *ToolInvocation) WithSession(sessionID string) *ToolInvocation {
	ti.SessionID = sessionID
	return ti
}

// WithSpanContext copies trace identifiers from the span in ctx.
func (ti *ToolInvocation) WithSpanContext(ctx context.Context) *ToolInvocation {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if sc.IsValid() {
		ti.TraceID = sc.TraceID().String()
		ti.SpanID = sc.SpanID().String()
	}
	return ti
}

// Complete stops the clock and records the outcome.
func (ti *ToolInvocation) Complete(success bool, errorKind string, err error) *ToolInvocation {
	ti.Duration = time.Since(ti.StartTime)
	ti.Success = success
	ti.ErrorKind = errorKind
	if err != nil {
		ti.Error = err.Error()
	}
	return ti
}

// Status returns "success" or "error".
func (ti *ToolInvocation) Status() string {
	if ti.Success {
		return StatusSuccess
	}
	return StatusError
}

func (ti *ToolInvocation) attrs(fullSessionID bool) []any {
	session := ti.SessionID
	if !fullSessionID && len(session) > 8 {
		session = session[:8]
	}

	args := []any{
		slog.String("tool", ti.Tool),
		slog.Duration("duration", ti.Duration),
		slog.Bool("success", ti.Success),
	}
	if session != "" {
		args = append(args, slog.String("session_id", session))
	}
	if ti.HighlightCount > 0 {
		args = append(args, slog.Int("highlights", ti.HighlightCount))
	}
	if ti.Success {
		args = append(args, slog.Int("saved", ti.SavedCount))
	}
	if ti.ErrorKind != "" {
		args = append(args, slog.String("error_kind", ti.ErrorKind))
	}
	if ti.Error != "" {
		args = append(args, slog.String("error", ti.Error))
	}
	if ti.TraceID != "" {
		args = append(args, slog.String("trace_id", ti.TraceID), slog.String("span_id", ti.SpanID))
	}
	return args
}

// AuditLogger writes one structured line per tool invocation.
type AuditLogger struct {
	logger         *slog.Logger
	fullSessionIDs bool
	enabled        bool
}

// NewAuditLogger creates an enabled AuditLogger that truncates session IDs.
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return NewAuditLoggerWithConfig(logger, AuditLoggingConfig{Enabled: true})
}

// NewAuditLoggerWithConfig creates an AuditLogger from config.
func NewAuditLoggerWithConfig(logger *slog.Logger, config AuditLoggingConfig) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{
		logger:         logger.With(slog.String("component", "audit")),
		fullSessionIDs: config.IncludeSessionIDs,
		enabled:        config.Enabled,
	}
}

// LogToolInvocation logs ti at info on success and warn on failure.
func (al *AuditLogger) LogToolInvocation(ti *ToolInvocation) {
	if al == nil || !al.enabled || ti == nil {
		return
	}
	if ti.Success {
		al.logger.Info("tool_executed", ti.attrs(al.fullSessionIDs)...)
	} else {
		al.logger.Warn("tool_failed", ti.attrs(al.fullSessionIDs)...)
	}
}
