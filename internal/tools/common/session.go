package common

import (
	"context"

	mcpserver "github.com/mark3labs/mcp-go/server"
)

// SessionIDFromContext returns the MCP session ID the current request
// belongs to, or "" for transports without sessions (stdio before
// initialization, direct handler calls in tests).
func SessionIDFromContext(ctx context.Context) string {
	if session := mcpserver.ClientSessionFromContext(ctx); session != nil {
		return session.SessionID()
	}
	return ""
}
