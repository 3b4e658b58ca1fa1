package common

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/kevinhojae/savewise-mcp-server/internal/instrumentation"
	"github.com/kevinhojae/savewise-mcp-server/internal/server"
)

func newInstrumentedContext(t *testing.T) (*server.ServerContext, *bytes.Buffer) {
	t.Helper()
	metrics, err := instrumentation.NewMetrics(noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)

	var buf bytes.Buffer
	audit := instrumentation.NewAuditLogger(slog.New(slog.NewTextHandler(&buf, nil)))

	sc := server.NewServerContext(context.Background(),
		server.WithMetrics(metrics),
		server.WithAuditLogger(audit))
	t.Cleanup(func() { _ = sc.Shutdown() })
	return sc, &buf
}

func TestInstrumentedToolHandler_NoInstrumentation(t *testing.T) {
	sc := server.NewServerContext(context.Background())
	defer func() { _ = sc.Shutdown() }()

	called := false
	wrapped := InstrumentedToolHandler("test_tool", sc, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		called = true
		assert.Nil(t, InvocationFromContext(ctx))
		return mcp.NewToolResultText("ok"), nil
	})

	result, err := wrapped(context.Background(), mcp.CallToolRequest{})
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, "ok", ResultText(result))
}

func TestInstrumentedToolHandler_Success(t *testing.T) {
	sc, buf := newInstrumentedContext(t)

	wrapped := InstrumentedToolHandler("readwise_save_highlights", sc, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ti := InvocationFromContext(ctx)
		require.NotNil(t, ti)
		ti.HighlightCount = 2
		ti.SavedCount = 2
		return mcp.NewToolResultText("Successfully saved 2 highlight(s) to Readwise."), nil
	})

	result, err := wrapped(context.Background(), mcp.CallToolRequest{})
	require.NoError(t, err)
	assert.False(t, result.IsError)

	out := buf.String()
	assert.Contains(t, out, "tool_executed")
	assert.Contains(t, out, "highlights=2")
	assert.Contains(t, out, "saved=2")
}

func TestInstrumentedToolHandler_ErrorResult(t *testing.T) {
	sc, buf := newInstrumentedContext(t)

	wrapped := InstrumentedToolHandler("readwise_save_highlights", sc, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		InvocationFromContext(ctx).ErrorKind = "rate_limited"
		return mcp.NewToolResultError("Readwise API error (429): Readwise API rate limit exceeded"), nil
	})

	result, err := wrapped(context.Background(), mcp.CallToolRequest{})
	require.NoError(t, err)
	assert.True(t, result.IsError)

	out := buf.String()
	assert.Contains(t, out, "tool_failed")
	assert.Contains(t, out, "error_kind=rate_limited")
	assert.Contains(t, out, "rate limit exceeded")
}

func TestInstrumentedToolHandler_GoError(t *testing.T) {
	sc, buf := newInstrumentedContext(t)

	wrapped := InstrumentedToolHandler("test_tool", sc, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return nil, errors.New("boom")
	})

	result, err := wrapped(context.Background(), mcp.CallToolRequest{})
	assert.Nil(t, result)
	assert.EqualError(t, err, "boom")
	assert.True(t, strings.Contains(buf.String(), "error=boom"))
}

func TestResultText(t *testing.T) {
	assert.Equal(t, "", ResultText(nil))
	assert.Equal(t, "hello", ResultText(mcp.NewToolResultText("hello")))
	assert.Equal(t, "bad", ResultText(mcp.NewToolResultError("bad")))
}

func TestSessionIDFromContext_NoSession(t *testing.T) {
	assert.Equal(t, "", SessionIDFromContext(context.Background()))
}
