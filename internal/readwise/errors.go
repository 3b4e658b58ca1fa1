package readwise

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies a failure while saving highlights.
type Kind string

const (
	// KindConfig means a required setting such as the API token is missing.
	KindConfig Kind = "config"
	// KindValidation means the input did not match the highlight schema.
	KindValidation Kind = "validation"
	// KindUnauthorized means Readwise rejected the token (HTTP 401).
	KindUnauthorized Kind = "unauthorized"
	// KindRateLimited means Readwise throttled the request (HTTP 429).
	KindRateLimited Kind = "rate_limited"
	// KindHTTP is any other non-2xx response.
	KindHTTP Kind = "http"
	// KindTransport covers network and decoding failures.
	KindTransport Kind = "transport"
)

// Error is the tagged error returned by this package.
type Error struct {
	Kind Kind

	// StatusCode and Body are set for remote kinds.
	StatusCode int
	Body       string

	// Message is the human readable description.
	Message string

	// Violations lists every broken constraint for KindValidation.
	Violations []string

	Err error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	return e.Message
}

// Unwrap implements the errors.Unwrap interface
func (e *Error) Unwrap() error {
	return e.Err
}

// IsRemote reports whether the error was classified from a Readwise response.
func (e *Error) IsRemote() bool {
	switch e.Kind {
	case KindUnauthorized, KindRateLimited, KindHTTP:
		return true
	}
	return false
}

// NewConfigError reports a missing or invalid setting.
func NewConfigError(message string) *Error {
	return &Error{Kind: KindConfig, Message: message}
}

// NewValidationError builds a validation error from a list of violations.
func NewValidationError(violations []string) *Error {
	return &Error{
		Kind:       KindValidation,
		Message:    strings.Join(violations, "; "),
		Violations: violations,
	}
}

// classifyStatus maps a non-2xx status to a tagged error.
func classifyStatus(status int, body string) *Error {
	switch status {
	case http.StatusUnauthorized:
		return &Error{Kind: KindUnauthorized, StatusCode: status, Body: body, Message: "Invalid Readwise API token"}
	case http.StatusTooManyRequests:
		return &Error{Kind: KindRateLimited, StatusCode: status, Body: body, Message: "Readwise API rate limit exceeded"}
	default:
		return &Error{Kind: KindHTTP, StatusCode: status, Body: body, Message: fmt.Sprintf("Readwise API error: %d", status)}
	}
}

// AsError extracts a *Error from err.
func AsError(err error) (*Error, bool) {
	var rwErr *Error
	if errors.As(err, &rwErr) {
		return rwErr, true
	}
	return nil, false
}
