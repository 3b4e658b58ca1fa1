package oauth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func newTestStub(t *testing.T, cfg Config) (*StubHandler, http.Handler) {
	t.Helper()
	h, err := NewStubHandler(cfg)
	require.NoError(t, err)
	t.Cleanup(h.Close)

	r := chi.NewRouter()
	h.Mount(r)
	return h, r
}

func doRequest(t *testing.T, handler http.Handler, method, target string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	req.Host = "savewise.example.com"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestAuthorizationServerMetadata(t *testing.T) {
	_, router := newTestStub(t, Config{})

	paths := []string{
		"/.well-known/oauth-authorization-server",
		"/.well-known/oauth-authorization-server/mcp",
		"/.well-known/openid-configuration",
		"/.well-known/openid-configuration/mcp",
		"/mcp/.well-known/openid-configuration",
	}

	for _, path := range paths {
		t.Run(path, func(t *testing.T) {
			rec := doRequest(t, router, http.MethodGet, path, nil)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var md AuthorizationServerMetadata
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &md))
			assert.Equal(t, "https://savewise.example.com", md.Issuer)
			assert.Equal(t, "https://savewise.example.com/authorize", md.AuthorizationEndpoint)
			assert.Equal(t, "https://savewise.example.com/token", md.TokenEndpoint)
			assert.Equal(t, "https://savewise.example.com/register", md.RegistrationEndpoint)
			assert.Equal(t, []string{"code"}, md.ResponseTypesSupported)
			assert.Equal(t, []string{"authorization_code", "refresh_token"}, md.GrantTypesSupported)
			assert.Equal(t, []string{"S256"}, md.CodeChallengeMethodsSupported)
			assert.Equal(t, []string{"none"}, md.TokenEndpointAuthMethodsSupported)
		})
	}
}

func TestAuthorizationServerMetadata_ConfiguredBaseURL(t *testing.T) {
	_, router := newTestStub(t, Config{BaseURL: "https://mcp.example.org/"})

	rec := doRequest(t, router, http.MethodGet, PathAuthorizationServer, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var md AuthorizationServerMetadata
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &md))
	assert.Equal(t, "https://mcp.example.org", md.Issuer)
	assert.Equal(t, "https://mcp.example.org/token", md.TokenEndpoint)
}

func TestProtectedResourceMetadata(t *testing.T) {
	_, router := newTestStub(t, Config{MCPPath: "/rpc"})

	for _, path := range []string{PathProtectedResource, PathProtectedResource + "/rpc"} {
		rec := doRequest(t, router, http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, rec.Code, path)

		var md ProtectedResourceMetadata
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &md))
		assert.Equal(t, "https://savewise.example.com/rpc", md.Resource)
		assert.Equal(t, []string{"https://savewise.example.com"}, md.AuthorizationServers)
		assert.Equal(t, []string{"header"}, md.BearerMethodsSupported)
	}
}

func TestRegister(t *testing.T) {
	_, router := newTestStub(t, Config{})

	t.Run("GET returns default registration", func(t *testing.T) {
		rec := doRequest(t, router, http.MethodGet, PathRegister, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp ClientRegistrationResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp.ClientID)
		assert.Equal(t, int64(0), resp.ClientSecretExpiresAt)
		assert.Empty(t, resp.RedirectURIs)
		assert.NotNil(t, resp.RedirectURIs)
		assert.Equal(t, "none", resp.TokenEndpointAuthMethod)
		assert.Contains(t, rec.Body.String(), `"redirect_uris":[]`)
	})

	t.Run("POST echoes redirect URIs", func(t *testing.T) {
		body := strings.NewReader(`{"redirect_uris":["http://localhost:3000/callback"],"client_name":"agent"}`)
		rec := doRequest(t, router, http.MethodPost, PathRegister, body)
		require.Equal(t, http.StatusCreated, rec.Code)

		var resp ClientRegistrationResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, []string{"http://localhost:3000/callback"}, resp.RedirectURIs)
		assert.Equal(t, DefaultGrantTypes, resp.GrantTypes)
		assert.Equal(t, DefaultResponseTypes, resp.ResponseTypes)
	})

	t.Run("POST with empty body", func(t *testing.T) {
		rec := doRequest(t, router, http.MethodPost, PathRegister, nil)
		require.Equal(t, http.StatusCreated, rec.Code)
		assert.Contains(t, rec.Body.String(), `"redirect_uris":[]`)
	})

	t.Run("POST with invalid JSON", func(t *testing.T) {
		rec := doRequest(t, router, http.MethodPost, PathRegister, strings.NewReader("{"))
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "invalid_request")
	})

	t.Run("client IDs are unique", func(t *testing.T) {
		a := doRequest(t, router, http.MethodGet, PathRegister, nil)
		b := doRequest(t, router, http.MethodGet, PathRegister, nil)
		var ra, rb ClientRegistrationResponse
		require.NoError(t, json.Unmarshal(a.Body.Bytes(), &ra))
		require.NoError(t, json.Unmarshal(b.Body.Bytes(), &rb))
		assert.NotEqual(t, ra.ClientID, rb.ClientID)
	})
}

func TestAuthorize(t *testing.T) {
	h, router := newTestStub(t, Config{})
	h.now = func() time.Time { return time.UnixMilli(1700000000000) }

	t.Run("missing redirect_uri", func(t *testing.T) {
		rec := doRequest(t, router, http.MethodGet, PathAuthorize, nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.JSONEq(t, `{"error":"missing_redirect_uri"}`, rec.Body.String())
	})

	t.Run("relative redirect_uri", func(t *testing.T) {
		rec := doRequest(t, router, http.MethodGet, PathAuthorize+"?redirect_uri=%2Fcallback", nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "invalid_redirect_uri")
	})

	t.Run("redirects with code and state", func(t *testing.T) {
		q := url.Values{
			"redirect_uri":   {"http://localhost:3000/callback?keep=1"},
			"state":          {"xyz"},
			"code_challenge": {"challenge-123"},
		}
		rec := doRequest(t, router, http.MethodGet, PathAuthorize+"?"+q.Encode(), nil)
		require.Equal(t, http.StatusFound, rec.Code)

		loc, err := url.Parse(rec.Header().Get("Location"))
		require.NoError(t, err)
		assert.Equal(t, "localhost:3000", loc.Host)
		assert.Equal(t, "/callback", loc.Path)
		assert.Equal(t, "1", loc.Query().Get("keep"))
		assert.Equal(t, "xyz", loc.Query().Get("state"))

		raw, err := base64.RawURLEncoding.DecodeString(loc.Query().Get("code"))
		require.NoError(t, err)
		var code authorizationCode
		require.NoError(t, json.Unmarshal(raw, &code))
		assert.Equal(t, "challenge-123", code.Challenge)
		assert.Equal(t, int64(1700000000000), code.Timestamp)
	})

	t.Run("state omitted when absent", func(t *testing.T) {
		q := url.Values{"redirect_uri": {"https://client.example.com/cb"}}
		rec := doRequest(t, router, http.MethodGet, PathAuthorize+"?"+q.Encode(), nil)
		require.Equal(t, http.StatusFound, rec.Code)

		loc, err := url.Parse(rec.Header().Get("Location"))
		require.NoError(t, err)
		assert.False(t, loc.Query().Has("state"))
		assert.NotEmpty(t, loc.Query().Get("code"))
	})
}

func TestToken(t *testing.T) {
	t.Run("configured bearer token", func(t *testing.T) {
		_, router := newTestStub(t, Config{BearerToken: "secret-token"})

		for _, method := range []string{http.MethodGet, http.MethodPost} {
			rec := doRequest(t, router, method, PathToken, nil)
			require.Equal(t, http.StatusOK, rec.Code, method)

			var resp TokenResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, "secret-token", resp.AccessToken)
			assert.Equal(t, "Bearer", resp.TokenType)
			assert.Equal(t, int64(31536000), resp.ExpiresIn)
			assert.NotEmpty(t, resp.RefreshToken)
		}
	})

	t.Run("random token without configuration", func(t *testing.T) {
		_, router := newTestStub(t, Config{})

		a := doRequest(t, router, http.MethodPost, PathToken, nil)
		b := doRequest(t, router, http.MethodPost, PathToken, nil)
		var ra, rb TokenResponse
		require.NoError(t, json.Unmarshal(a.Body.Bytes(), &ra))
		require.NoError(t, json.Unmarshal(b.Body.Bytes(), &rb))
		assert.NotEmpty(t, ra.AccessToken)
		assert.NotEqual(t, ra.AccessToken, rb.AccessToken)
	})
}

// TestOAuth2ClientFlow drives the stubs with a real OAuth 2.0 client.
func TestOAuth2ClientFlow(t *testing.T) {
	h, err := NewStubHandler(Config{BearerToken: "flow-token"})
	require.NoError(t, err)
	t.Cleanup(h.Close)

	r := chi.NewRouter()
	h.Mount(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	conf := &oauth2.Config{
		ClientID:    "client",
		RedirectURL: "http://localhost:3000/callback",
		Endpoint: oauth2.Endpoint{
			AuthURL:   srv.URL + PathAuthorize,
			TokenURL:  srv.URL + PathToken,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	verifier := oauth2.GenerateVerifier()
	authURL := conf.AuthCodeURL("state-1", oauth2.S256ChallengeOption(verifier))

	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err := client.Get(authURL)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)

	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "state-1", loc.Query().Get("state"))

	tok, err := conf.Exchange(context.Background(), loc.Query().Get("code"), oauth2.VerifierOption(verifier))
	require.NoError(t, err)
	assert.Equal(t, "flow-token", tok.AccessToken)
	assert.Equal(t, "Bearer", tok.TokenType)
	assert.NotEmpty(t, tok.RefreshToken)
	assert.True(t, tok.Expiry.After(time.Now().Add(364*24*time.Hour)))
}

func TestNewStubHandler_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"plain http base URL", Config{BaseURL: "http://example.com"}},
		{"relative MCP path", Config{MCPPath: "mcp"}},
		{"negative rate", Config{RateLimit: RateLimitConfig{Rate: -1}}},
		{"zero burst", Config{RateLimit: RateLimitConfig{Rate: 5, Burst: 0}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewStubHandler(tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestStubEndpointsRateLimited(t *testing.T) {
	_, router := newTestStub(t, Config{RateLimit: RateLimitConfig{Rate: 0.001, Burst: 2}})

	for i := 0; i < 2; i++ {
		rec := doRequest(t, router, http.MethodGet, PathToken, nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := doRequest(t, router, http.MethodGet, PathToken, nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "rate_limit_exceeded")
}
