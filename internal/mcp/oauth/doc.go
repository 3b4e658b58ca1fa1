// Package oauth provides the HTTP authentication surface of the MCP server:
// a bearer token gate in front of the MCP endpoint and stateless OAuth 2.1
// stub endpoints that let MCP clients complete their discovery and
// authorization handshake.
//
// The stubs auto-approve every authorization request and hand out the
// configured bearer token. They keep no client or token state and are a
// development convenience, not a security boundary.
//
// Endpoints:
//   - Authorization Server Metadata (RFC 8414)
//   - Protected Resource Metadata (RFC 9728)
//   - Dynamic Client Registration (RFC 7591)
//   - Authorization and token endpoints
//
// All stub endpoints are rate limited per client IP.
package oauth
