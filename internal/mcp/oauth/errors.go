package oauth

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// OAuthError represents an OAuth 2.0 error response
type OAuthError struct {
	Code        string // OAuth error code (e.g., "invalid_request")
	Description string // Human-readable error description
	Status      int    // HTTP status code
}

// Error implements the error interface
func (e *OAuthError) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewOAuthError creates a new OAuth error
func NewOAuthError(code, description string, status int) *OAuthError {
	return &OAuthError{
		Code:        code,
		Description: description,
		Status:      status,
	}
}

var (
	// ErrInvalidRequest indicates the request is malformed or missing required parameters
	ErrInvalidRequest = func(desc string) *OAuthError {
		return NewOAuthError("invalid_request", desc, http.StatusBadRequest)
	}

	// ErrMissingRedirectURI is returned by the authorization endpoint
	ErrMissingRedirectURI = func() *OAuthError {
		return NewOAuthError("missing_redirect_uri", "", http.StatusBadRequest)
	}

	// ErrInvalidRedirectURI indicates the redirect URI cannot be parsed
	ErrInvalidRedirectURI = func(desc string) *OAuthError {
		return NewOAuthError("invalid_redirect_uri", desc, http.StatusBadRequest)
	}

	// ErrRateLimitExceeded is returned when a client IP exhausts its budget
	ErrRateLimitExceeded = func(desc string) *OAuthError {
		return NewOAuthError("rate_limit_exceeded", desc, http.StatusTooManyRequests)
	}

	// ErrMethodNotAllowed is returned for unsupported HTTP methods
	ErrMethodNotAllowed = func() *OAuthError {
		return NewOAuthError("invalid_request", "method not allowed", http.StatusMethodNotAllowed)
	}
)

// writeError writes e as an ErrorResponse body.
func writeError(w http.ResponseWriter, e *OAuthError) {
	writeJSON(w, e.Status, ErrorResponse{
		Error:            e.Code,
		ErrorDescription: e.Description,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
