// Package server provides the MCP server context, the session registry and
// the HTTP server for savewise.
//
// # Key Components
//
// ServerContext carries the process-wide dependencies every tool handler
// needs: the Readwise client and token, metrics, audit logging and the
// server version.
//
// SessionRegistry maps Mcp-Session-Id values to sessions. Each session owns
// one protocol server and one streamable HTTP transport built for it alone.
// Requests without a known id get a new session with a server-generated id.
// A background reaper removes sessions older than the configured TTL, which
// is measured either from creation or from the last request.
//
// HTTPServer routes the MCP endpoint through the bearer gate into the
// registry and serves the health checks and OAuth stub endpoints next to it.
//
// MetricsServer exposes Prometheus metrics on a separate listener.
package server
