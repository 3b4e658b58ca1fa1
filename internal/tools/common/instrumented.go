package common

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/kevinhojae/savewise-mcp-server/internal/instrumentation"
	"github.com/kevinhojae/savewise-mcp-server/internal/server"
)

type invocationKey struct{}

// InvocationFromContext returns the audit record started by
// InstrumentedToolHandler, or nil when the handler is not instrumented.
// Handlers use it to attach domain details such as highlight counts.
func InvocationFromContext(ctx context.Context) *instrumentation.ToolInvocation {
	ti, _ := ctx.Value(invocationKey{}).(*instrumentation.ToolInvocation)
	return ti
}

// InstrumentedToolHandler wraps a tool handler with a span, metrics and an
// audit log line.
//
// Usage:
//
//	s.AddTool(tool, common.InstrumentedToolHandler("my_tool", sc, handler))
func InstrumentedToolHandler(toolName string, sc *server.ServerContext, handler mcpserver.ToolHandlerFunc) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		metrics := sc.Metrics()
		auditLogger := sc.AuditLogger()

		if metrics == nil && auditLogger == nil {
			return handler(ctx, request)
		}

		sessionID := SessionIDFromContext(ctx)
		ctx, span := instrumentation.StartToolSpan(ctx, toolName,
			instrumentation.NewSpanAttributeBuilder().WithSession(sessionID).Build()...)
		defer span.End()

		start := time.Now()
		invocation := instrumentation.NewToolInvocation(toolName).
			WithSession(sessionID).
			WithSpanContext(ctx)
		ctx = context.WithValue(ctx, invocationKey{}, invocation)

		result, err := handler(ctx, request)
		duration := time.Since(start)

		status := instrumentation.StatusSuccess
		switch {
		case err != nil:
			status = instrumentation.StatusError
			invocation.Complete(false, invocation.ErrorKind, err)
			instrumentation.SetSpanError(span, err)
		case result != nil && result.IsError:
			status = instrumentation.StatusError
			invocation.Complete(false, invocation.ErrorKind, nil)
			invocation.Error = ResultText(result)
			span.SetAttributes(instrumentation.NewSpanAttributeBuilder().WithErrorKind(invocation.ErrorKind).Build()...)
		default:
			invocation.Complete(true, "", nil)
			instrumentation.SetSpanSuccess(span)
		}

		metrics.RecordToolInvocation(ctx, toolName, status, duration)
		auditLogger.LogToolInvocation(invocation)

		return result, err
	}
}

// ResultText concatenates the text content of a tool result.
func ResultText(result *mcp.CallToolResult) string {
	if result == nil {
		return ""
	}
	var text string
	for _, c := range result.Content {
		if tc, ok := mcp.AsTextContent(c); ok {
			text += tc.Text
		}
	}
	return text
}
