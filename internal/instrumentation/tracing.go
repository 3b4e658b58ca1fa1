package instrumentation

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope for spans created by this module.
const TracerName = "github.com/kevinhojae/savewise-mcp-server"

// Span attribute keys.
const (
	SpanAttrTool           = "mcp.tool"
	SpanAttrSession        = "mcp.session_id"
	SpanAttrStatus         = "mcp.status"
	SpanAttrOperation      = "readwise.operation"
	SpanAttrHighlightCount = "readwise.highlight_count"
	SpanAttrErrorKind      = "readwise.error_kind"
	SpanAttrHTTPStatus     = "http.response.status_code"
)

// SpanAttributeBuilder collects span attributes with consistent keys.
type SpanAttributeBuilder struct {
	attrs []attribute.KeyValue
}

// NewSpanAttributeBuilder creates a new SpanAttributeBuilder.
func NewSpanAttributeBuilder() *SpanAttributeBuilder {
	return &SpanAttributeBuilder{attrs: make([]attribute.KeyValue, 0, 6)}
}

// WithTool adds the MCP tool name.
func (b *SpanAttributeBuilder) WithTool(tool string) *SpanAttributeBuilder {
	b.attrs = append(b.attrs, attribute.String(SpanAttrTool, tool))
	return b
}

// WithSession adds the session ID when known.
func (b *SpanAttributeBuilder) WithSession(sessionID string) *SpanAttributeBuilder {
	if sessionID != "" {
		b.attrs = append(b.attrs, attribute.String(SpanAttrSession, sessionID))
	}
	return b
}

// WithHighlightCount adds the number of highlights in the request.
func (b *SpanAttributeBuilder) WithHighlightCount(n int) *SpanAttributeBuilder {
	b.attrs = append(b.attrs, attribute.Int(SpanAttrHighlightCount, n))
	return b
}

// WithErrorKind adds the classified failure kind when set.
func (b *SpanAttributeBuilder) WithErrorKind(kind string) *SpanAttributeBuilder {
	if kind != "" {
		b.attrs = append(b.attrs, attribute.String(SpanAttrErrorKind, kind))
	}
	return b
}

// WithHTTPStatus adds a response status code when non-zero.
func (b *SpanAttributeBuilder) WithHTTPStatus(status int) *SpanAttributeBuilder {
	if status != 0 {
		b.attrs = append(b.attrs, attribute.Int(SpanAttrHTTPStatus, status))
	}
	return b
}

// Build returns the constructed attributes.
func (b *SpanAttributeBuilder) Build() []attribute.KeyValue {
	return b.attrs
}

// StartSpan starts a span on the global tracer. Callers must End it.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.GetTracerProvider().Tracer(TracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// StartToolSpan starts a server span named tool.<toolName>.
func StartToolSpan(ctx context.Context, toolName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := append([]attribute.KeyValue{attribute.String(SpanAttrTool, toolName)}, attrs...)
	return otel.GetTracerProvider().Tracer(TracerName).Start(ctx, "tool."+toolName,
		trace.WithAttributes(all...),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}

// StartReadwiseSpan starts a client span named readwise.<operation>.
func StartReadwiseSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := append([]attribute.KeyValue{attribute.String(SpanAttrOperation, operation)}, attrs...)
	return otel.GetTracerProvider().Tracer(TracerName).Start(ctx, "readwise."+operation,
		trace.WithAttributes(all...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// SetSpanError records err on the span and marks it failed.
func SetSpanError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess sets the span status to OK.
func SetSpanSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// GetTraceID returns the trace ID of the span in ctx, or "".
func GetTraceID(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if sc.IsValid() {
		return sc.TraceID().String()
	}
	return ""
}

// GetSpanID returns the span ID of the span in ctx, or "".
func GetSpanID(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if sc.IsValid() {
		return sc.SpanID().String()
	}
	return ""
}
