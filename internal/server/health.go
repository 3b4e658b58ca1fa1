package server

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"
)

// Health status constants for health check responses.
const (
	healthStatusOK           = "ok"
	healthStatusNotReady     = "not ready"
	healthStatusShuttingDown = "shutting down"
)

// SessionCounter reports how many MCP sessions are live.
type SessionCounter interface {
	Len() int
}

// HealthChecker provides health check endpoints for container probes.
type HealthChecker struct {
	// ready indicates whether the server is ready to receive traffic
	ready atomic.Bool
	// serverContext provides access to dependencies for health checks
	serverContext *ServerContext
	// sessions is optional and only feeds the detailed report
	sessions SessionCounter
	// startTime tracks when the server started
	startTime time.Time
	now       func() time.Time
}

// NewHealthChecker creates a new HealthChecker.
func NewHealthChecker(sc *ServerContext, sessions SessionCounter) *HealthChecker {
	h := &HealthChecker{
		serverContext: sc,
		sessions:      sessions,
		startTime:     time.Now(),
		now:           time.Now,
	}
	// Server starts as ready by default
	h.ready.Store(true)
	return h
}

// SetReady sets the readiness state of the server.
func (h *HealthChecker) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady returns whether the server is ready to receive traffic.
func (h *HealthChecker) IsReady() bool {
	return h.ready.Load()
}

// isServerShuttingDown returns false if serverContext is nil.
func (h *HealthChecker) isServerShuttingDown() bool {
	return h.serverContext != nil && h.serverContext.IsShutdown()
}

// LivenessResponse is the body of /healthz.
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// HealthResponse represents the JSON response for the readiness endpoint.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// DetailedHealthResponse provides comprehensive health information.
type DetailedHealthResponse struct {
	Status         string `json:"status"`
	Uptime         string `json:"uptime"`
	Version        string `json:"version,omitempty"`
	ActiveSessions int    `json:"active_sessions"`
	ReadwiseToken  bool   `json:"readwise_token_configured"`
}

// LivenessHandler returns an HTTP handler for the /healthz endpoint.
// It never requires authentication and only reports that the process is up.
func (h *HealthChecker) LivenessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, LivenessResponse{
			Status:    healthStatusOK,
			Timestamp: h.now().UTC().Format(time.RFC3339),
		})
	})
}

// ReadinessHandler returns an HTTP handler for the /readyz endpoint.
func (h *HealthChecker) ReadinessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		checks := make(map[string]string)
		allOk := true

		if !h.ready.Load() {
			checks["ready"] = healthStatusNotReady
			allOk = false
		} else {
			checks["ready"] = healthStatusOK
		}

		if h.isServerShuttingDown() {
			checks["shutdown"] = healthStatusShuttingDown
			allOk = false
		} else {
			checks["shutdown"] = healthStatusOK
		}

		response := HealthResponse{Checks: checks}
		status := http.StatusOK
		if allOk {
			response.Status = healthStatusOK
		} else {
			response.Status = healthStatusNotReady
			status = http.StatusServiceUnavailable
		}

		writeJSON(w, status, response)
	})
}

// DetailedHealthHandler returns an HTTP handler for the /healthz/detailed endpoint.
func (h *HealthChecker) DetailedHealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		response := DetailedHealthResponse{
			Status: healthStatusOK,
			Uptime: h.now().Sub(h.startTime).Truncate(time.Second).String(),
		}
		if h.serverContext != nil {
			response.Version = h.serverContext.Version()
			response.ReadwiseToken = h.serverContext.ReadwiseToken() != ""
		}
		if h.sessions != nil {
			response.ActiveSessions = h.sessions.Len()
		}

		status := http.StatusOK
		switch {
		case !h.ready.Load():
			response.Status = healthStatusNotReady
			status = http.StatusServiceUnavailable
		case h.isServerShuttingDown():
			response.Status = healthStatusShuttingDown
			status = http.StatusServiceUnavailable
		}

		writeJSON(w, status, response)
	})
}

// writeJSON writes v as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
