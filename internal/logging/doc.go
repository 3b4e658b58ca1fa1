// Package logging provides structured logging helpers for savewise.
//
// Everything logs through log/slog. This package keeps attribute names
// consistent and makes sure secrets never reach the output.
//
// # Usage Patterns
//
//	logger := logging.WithSession(slog.Default(), sessionID)
//	logger.Info("session created", logging.Operation("session.create"))
//
// Mask credentials before logging:
//
//	logger.Warn("bearer rejected", slog.String("token", logging.SanitizeToken(tok)))
//
// SlogAdapter bridges slog to the printf-style logger interface used by the
// MCP streamable HTTP transport.
package logging
