package logging

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"
)

// Common log attribute keys for consistent naming across the codebase.
const (
	KeyOperation = "operation"
	KeyTool      = "tool"
	KeySession   = "session_id"
	KeyRequestID = "request_id"
	KeyMethod    = "method"
	KeyPath      = "path"
	KeyDuration  = "duration"
	KeyStatus    = "status"
	KeyError     = "error"
	KeyCount     = "count"
)

// Status values for consistent logging.
// Duplicated from the instrumentation package, which imports this one.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// WithOperation returns a logger with the operation attribute set.
func WithOperation(logger *slog.Logger, operation string) *slog.Logger {
	return logger.With(slog.String(KeyOperation, operation))
}

// WithTool returns a logger with the tool attribute set.
func WithTool(logger *slog.Logger, tool string) *slog.Logger {
	return logger.With(slog.String(KeyTool, tool))
}

// WithSession returns a logger scoped to one protocol session.
func WithSession(logger *slog.Logger, sessionID string) *slog.Logger {
	return logger.With(SessionID(sessionID))
}

// Operation returns a slog attribute for the operation name.
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}

// Tool returns a slog attribute for the tool name.
func Tool(tool string) slog.Attr {
	return slog.String(KeyTool, tool)
}

// Status returns a slog attribute for the status.
func Status(status string) slog.Attr {
	return slog.String(KeyStatus, status)
}

// Duration returns a slog attribute for an elapsed time.
func Duration(d time.Duration) slog.Attr {
	return slog.Duration(KeyDuration, d)
}

// SessionID returns a slog attribute for a session ID.
// Only a short prefix is logged; full IDs act as bearer handles for a session.
func SessionID(id string) slog.Attr {
	return slog.String(KeySession, ShortID(id))
}

// Err returns a slog attribute for an error.
// A nil error yields an empty group, which slog omits.
//
// Usage:
//
//	logger.Info("operation", logging.Err(err))  // Safe even if err is nil
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Group("")
	}
	return slog.String(KeyError, err.Error())
}

// ShortID truncates an identifier to its first eight characters.
func ShortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

// SanitizeToken returns a masked version of a token for logging.
// It returns a length indicator without exposing any token content.
func SanitizeToken(token string) string {
	if token == "" {
		return "<empty>"
	}
	return fmt.Sprintf("[token:%d chars]", len(token))
}

// TokenFingerprint returns a stable, non-reversible fingerprint of a token so
// that log lines from the same caller can be correlated.
func TokenFingerprint(token string) string {
	if token == "" {
		return ""
	}
	hash := sha256.Sum256([]byte(token))
	return "tok:" + hex.EncodeToString(hash[:6])
}
