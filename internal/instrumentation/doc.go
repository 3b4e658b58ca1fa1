// Package instrumentation wires OpenTelemetry metrics and tracing for the
// savewise MCP server.
//
// # Metrics
//
// HTTP:
//   - http_requests_total, http_request_duration_seconds (method, path, status)
//
// Sessions:
//   - mcp_active_sessions
//   - mcp_sessions_created_total
//   - mcp_sessions_closed_total and mcp_session_lifetime_seconds (reason: client, expired, shutdown)
//
// Readwise:
//   - readwise_api_operations_total, readwise_api_operation_duration_seconds
//   - readwise_highlights_saved_total
//
// Tools and access:
//   - mcp_tool_invocations_total, mcp_tool_duration_seconds
//   - bearer_auth_total (result: allowed, rejected, disabled)
//
// Prometheus is the default exporter and is scraped from the dedicated
// metrics server. OTLP over HTTP and stdout are also supported.
//
// # Configuration
//
//   - INSTRUMENTATION_ENABLED (default: true)
//   - METRICS_EXPORTER: prometheus, otlp, stdout
//   - TRACING_EXPORTER: otlp, stdout, none (default)
//   - OTEL_EXPORTER_OTLP_ENDPOINT, OTEL_EXPORTER_OTLP_INSECURE
//   - OTEL_TRACES_SAMPLER_ARG (default: 0.1)
//   - OTEL_SERVICE_NAME (default: savewise-mcp-server)
//
// # Example Usage
//
//	provider, err := instrumentation.NewProvider(ctx, instrumentation.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	defer provider.Shutdown(ctx)
//
//	provider.Metrics().RecordToolInvocation(ctx, "readwise_save_highlights", "success", time.Since(start))
package instrumentation
