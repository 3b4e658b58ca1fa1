package oauth

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBearerGate_Check(t *testing.T) {
	gate := NewBearerGate("s3cret", WithGateLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))))

	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"valid", "Bearer s3cret", ""},
		{"missing", "", MsgMissingAuthorization},
		{"wrong scheme", "Basic s3cret", MsgInvalidAuthorization},
		{"lowercase scheme", "bearer s3cret", MsgInvalidAuthorization},
		{"no token", "Bearer ", MsgInvalidAuthorization},
		{"scheme only", "Bearer", MsgInvalidAuthorization},
		{"wrong token", "Bearer nope", MsgInvalidBearerToken},
		{"token prefix", "Bearer s3cre", MsgInvalidBearerToken},
		{"trailing fields ignored", "Bearer s3cret extra", ""},
		{"double space", "Bearer  s3cret", MsgInvalidAuthorization},
		{"wrong token with trailing field", "Bearer nope s3cret", MsgInvalidBearerToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, gate.Check(tt.header))
		})
	}
}

func TestBearerGate_Middleware(t *testing.T) {
	var called int
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called++
		w.WriteHeader(http.StatusNoContent)
	})

	gate := NewBearerGate("s3cret",
		WithGateLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))),
		WithResourceMetadataURL("https://example.com/.well-known/oauth-protected-resource"))
	handler := gate.Middleware(next)

	t.Run("rejects missing header", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/mcp", nil))

		require.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.JSONEq(t, `{"error":"Missing Authorization header"}`, rec.Body.String())
		assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "resource_metadata=")
		assert.Equal(t, 0, called)
	})

	t.Run("rejects wrong token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
		req.Header.Set("Authorization", "Bearer other")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.JSONEq(t, `{"error":"Invalid bearer token"}`, rec.Body.String())
		assert.Equal(t, 0, called)
	})

	t.Run("passes valid token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
		req.Header.Set("Authorization", "Bearer s3cret")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, 1, called)
	})
}

func TestBearerGate_Disabled(t *testing.T) {
	var logs bytes.Buffer
	gate := NewBearerGate("", WithGateLogger(slog.New(slog.NewTextHandler(&logs, nil))))

	assert.False(t, gate.Enabled())
	assert.Contains(t, logs.String(), "authentication disabled")
	assert.Equal(t, "", gate.Check(""))

	rec := httptest.NewRecorder()
	gate.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/mcp", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestBearerGate_DoesNotLogToken(t *testing.T) {
	var logs bytes.Buffer
	NewBearerGate("very-secret-value", WithGateLogger(slog.New(slog.NewTextHandler(&logs, nil))))
	assert.NotContains(t, logs.String(), "very-secret-value")
}
