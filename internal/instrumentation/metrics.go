package instrumentation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	attrMethod    = "method"
	attrPath      = "path"
	attrStatus    = "status"
	attrOperation = "operation"
	attrResult    = "result"
	attrTool      = "tool"
	attrReason    = "reason"
	attrErrorKind = "error_kind"
)

// Metrics records the server's OpenTelemetry instruments.
// The zero value is a no-op recorder.
type Metrics struct {
	httpRequestsTotal   metric.Int64Counter
	httpRequestDuration metric.Float64Histogram

	activeSessions  metric.Int64UpDownCounter
	sessionsCreated metric.Int64Counter
	sessionsClosed  metric.Int64Counter
	sessionLifetime metric.Float64Histogram

	readwiseOperationsTotal   metric.Int64Counter
	readwiseOperationDuration metric.Float64Histogram
	highlightsSaved           metric.Int64Counter

	authTotal metric.Int64Counter

	toolInvocationsTotal metric.Int64Counter
	toolDuration         metric.Float64Histogram
}

// NewMetrics creates every instrument on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.httpRequestsTotal, err = meter.Int64Counter("http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}")); err != nil {
		return nil, fmt.Errorf("failed to create http_requests_total counter: %w", err)
	}
	if m.httpRequestDuration, err = meter.Float64Histogram("http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0)); err != nil {
		return nil, fmt.Errorf("failed to create http_request_duration_seconds histogram: %w", err)
	}

	if m.activeSessions, err = meter.Int64UpDownCounter("mcp_active_sessions",
		metric.WithDescription("Number of live MCP sessions"),
		metric.WithUnit("{session}")); err != nil {
		return nil, fmt.Errorf("failed to create mcp_active_sessions gauge: %w", err)
	}
	if m.sessionsCreated, err = meter.Int64Counter("mcp_sessions_created_total",
		metric.WithDescription("Total number of MCP sessions created"),
		metric.WithUnit("{session}")); err != nil {
		return nil, fmt.Errorf("failed to create mcp_sessions_created_total counter: %w", err)
	}
	if m.sessionsClosed, err = meter.Int64Counter("mcp_sessions_closed_total",
		metric.WithDescription("Total number of MCP sessions removed, by reason"),
		metric.WithUnit("{session}")); err != nil {
		return nil, fmt.Errorf("failed to create mcp_sessions_closed_total counter: %w", err)
	}
	if m.sessionLifetime, err = meter.Float64Histogram("mcp_session_lifetime_seconds",
		metric.WithDescription("Age of MCP sessions when removed"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 10, 60, 300, 900, 1800, 3600, 7200)); err != nil {
		return nil, fmt.Errorf("failed to create mcp_session_lifetime_seconds histogram: %w", err)
	}

	if m.readwiseOperationsTotal, err = meter.Int64Counter("readwise_api_operations_total",
		metric.WithDescription("Total number of Readwise API calls"),
		metric.WithUnit("{operation}")); err != nil {
		return nil, fmt.Errorf("failed to create readwise_api_operations_total counter: %w", err)
	}
	if m.readwiseOperationDuration, err = meter.Float64Histogram("readwise_api_operation_duration_seconds",
		metric.WithDescription("Readwise API call duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0)); err != nil {
		return nil, fmt.Errorf("failed to create readwise_api_operation_duration_seconds histogram: %w", err)
	}
	if m.highlightsSaved, err = meter.Int64Counter("readwise_highlights_saved_total",
		metric.WithDescription("Highlights Readwise reported as saved"),
		metric.WithUnit("{highlight}")); err != nil {
		return nil, fmt.Errorf("failed to create readwise_highlights_saved_total counter: %w", err)
	}

	if m.authTotal, err = meter.Int64Counter("bearer_auth_total",
		metric.WithDescription("Bearer gate decisions by result"),
		metric.WithUnit("{attempt}")); err != nil {
		return nil, fmt.Errorf("failed to create bearer_auth_total counter: %w", err)
	}

	if m.toolInvocationsTotal, err = meter.Int64Counter("mcp_tool_invocations_total",
		metric.WithDescription("Total number of MCP tool invocations"),
		metric.WithUnit("{invocation}")); err != nil {
		return nil, fmt.Errorf("failed to create mcp_tool_invocations_total counter: %w", err)
	}
	if m.toolDuration, err = meter.Float64Histogram("mcp_tool_duration_seconds",
		metric.WithDescription("MCP tool execution duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0)); err != nil {
		return nil, fmt.Errorf("failed to create mcp_tool_duration_seconds histogram: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records one HTTP request. path should already be a
// low-cardinality route (see RouteLabel).
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration) {
	if m == nil || m.httpRequestsTotal == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(attrMethod, method),
		attribute.String(attrPath, path),
		attribute.String(attrStatus, strconv.Itoa(statusCode)),
	)
	m.httpRequestsTotal.Add(ctx, 1, attrs)
	m.httpRequestDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordSessionCreated counts a new session and bumps the active gauge.
func (m *Metrics) RecordSessionCreated(ctx context.Context) {
	if m == nil || m.sessionsCreated == nil {
		return
	}
	m.sessionsCreated.Add(ctx, 1)
	m.activeSessions.Add(ctx, 1)
}

// RecordSessionClosed counts a removed session and its age.
func (m *Metrics) RecordSessionClosed(ctx context.Context, reason string, age time.Duration) {
	if m == nil || m.sessionsClosed == nil {
		return
	}
	m.sessionsClosed.Add(ctx, 1, metric.WithAttributes(attribute.String(attrReason, reason)))
	m.sessionLifetime.Record(ctx, age.Seconds(), metric.WithAttributes(attribute.String(attrReason, reason)))
	m.activeSessions.Add(ctx, -1)
}

// RecordReadwiseOperation records a Readwise API call.
// errorKind is empty on success.
func (m *Metrics) RecordReadwiseOperation(ctx context.Context, operation, status, errorKind string, duration time.Duration) {
	if m == nil || m.readwiseOperationsTotal == nil {
		return
	}
	kv := []attribute.KeyValue{
		attribute.String(attrOperation, operation),
		attribute.String(attrStatus, status),
	}
	if errorKind != "" {
		kv = append(kv, attribute.String(attrErrorKind, errorKind))
	}
	m.readwiseOperationsTotal.Add(ctx, 1, metric.WithAttributes(kv...))
	m.readwiseOperationDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(kv[:2]...))
}

// RecordHighlightsSaved adds the count Readwise reported as accepted.
func (m *Metrics) RecordHighlightsSaved(ctx context.Context, n int) {
	if m == nil || m.highlightsSaved == nil || n <= 0 {
		return
	}
	m.highlightsSaved.Add(ctx, int64(n))
}

// RecordAuth records a bearer gate decision.
func (m *Metrics) RecordAuth(ctx context.Context, result string) {
	if m == nil || m.authTotal == nil {
		return
	}
	m.authTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrResult, result)))
}

// RecordToolInvocation records an MCP tool invocation.
func (m *Metrics) RecordToolInvocation(ctx context.Context, toolName, status string, duration time.Duration) {
	if m == nil || m.toolInvocationsTotal == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(attrTool, toolName),
		attribute.String(attrStatus, status),
	)
	m.toolInvocationsTotal.Add(ctx, 1, attrs)
	m.toolDuration.Record(ctx, duration.Seconds(), attrs)
}
