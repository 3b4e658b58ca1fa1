package oauth

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// maxRegistrationBody bounds the client registration request body.
const maxRegistrationBody = 64 << 10

// StubHandler serves the stateless OAuth endpoints.
type StubHandler struct {
	config  Config
	limiter *RateLimiter
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string
}

// NewStubHandler creates a StubHandler from config.
func NewStubHandler(config Config) (*StubHandler, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.MCPPath == "" {
		config.MCPPath = "/mcp"
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	h := &StubHandler{
		config: config,
		logger: logger.With("component", "oauth_stub"),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	if config.RateLimit.Rate > 0 {
		h.limiter = NewRateLimiter(config.RateLimit.Rate, config.RateLimit.Burst, config.RateLimit.TrustProxy)
	}
	return h, nil
}

// Config returns the handler configuration.
func (h *StubHandler) Config() Config {
	return h.config
}

// Close stops the rate limiter cleanup.
func (h *StubHandler) Close() {
	if h.limiter != nil {
		h.limiter.Stop()
	}
}

// Mount registers every stub endpoint on r.
func (h *StubHandler) Mount(r chi.Router) {
	r.Group(func(r chi.Router) {
		if h.limiter != nil {
			r.Use(h.limiter.Middleware)
		}

		metadata := http.HandlerFunc(h.ServeAuthorizationServerMetadata)
		r.Get(PathAuthorizationServer, metadata)
		r.Get(PathAuthorizationServer+h.config.MCPPath, metadata)
		r.Get(PathOpenIDConfiguration, metadata)
		r.Get(PathOpenIDConfiguration+h.config.MCPPath, metadata)
		r.Get(h.config.MCPPath+PathSuffixOpenIDConfiguration, metadata)

		resource := http.HandlerFunc(h.ServeProtectedResourceMetadata)
		r.Get(PathProtectedResource, resource)
		r.Get(PathProtectedResource+h.config.MCPPath, resource)

		r.Get(PathRegister, h.ServeRegister)
		r.Post(PathRegister, h.ServeRegister)
		r.Get(PathAuthorize, h.ServeAuthorize)
		r.Get(PathToken, h.ServeToken)
		r.Post(PathToken, h.ServeToken)
	})
}

// baseURL returns the configured base URL or https://<Host> of r.
func (h *StubHandler) baseURL(r *http.Request) string {
	if h.config.BaseURL != "" {
		return h.config.BaseURL
	}
	return "https://" + r.Host
}

// ServeAuthorizationServerMetadata serves RFC 8414 metadata.
func (h *StubHandler) ServeAuthorizationServerMetadata(w http.ResponseWriter, r *http.Request) {
	base := h.baseURL(r)
	writeJSON(w, http.StatusOK, AuthorizationServerMetadata{
		Issuer:                            base,
		AuthorizationEndpoint:             base + PathAuthorize,
		TokenEndpoint:                     base + PathToken,
		RegistrationEndpoint:              base + PathRegister,
		ResponseTypesSupported:            DefaultResponseTypes,
		GrantTypesSupported:               DefaultGrantTypes,
		CodeChallengeMethodsSupported:     SupportedCodeChallengeMethods,
		TokenEndpointAuthMethodsSupported: SupportedTokenAuthMethods,
	})
}

// ServeProtectedResourceMetadata serves RFC 9728 metadata for the MCP endpoint.
func (h *StubHandler) ServeProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	base := h.baseURL(r)
	writeJSON(w, http.StatusOK, ProtectedResourceMetadata{
		Resource:               base + h.config.MCPPath,
		AuthorizationServers:   []string{base},
		BearerMethodsSupported: BearerMethodsSupported,
	})
}

// ServeRegister accepts any dynamic client registration. GET returns 200
// with no redirect URIs, POST returns 201 echoing the requested ones.
func (h *StubHandler) ServeRegister(w http.ResponseWriter, r *http.Request) {
	resp := ClientRegistrationResponse{
		ClientID:                h.newID(),
		ClientSecretExpiresAt:   0,
		RedirectURIs:            []string{},
		GrantTypes:              DefaultGrantTypes,
		ResponseTypes:           DefaultResponseTypes,
		TokenEndpointAuthMethod: TokenEndpointAuthMethodNone,
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, resp)
	case http.MethodPost:
		var req ClientRegistrationRequest
		body, err := io.ReadAll(io.LimitReader(r.Body, maxRegistrationBody))
		if err != nil {
			writeError(w, ErrInvalidRequest("failed to read registration request"))
			return
		}
		if len(body) > 0 {
			if err := json.Unmarshal(body, &req); err != nil {
				writeError(w, ErrInvalidRequest("registration request is not valid JSON"))
				return
			}
		}
		if len(req.RedirectURIs) > 0 {
			resp.RedirectURIs = req.RedirectURIs
		}
		h.logger.Info("client registered",
			"client_id", resp.ClientID,
			"redirect_uris", len(resp.RedirectURIs))
		writeJSON(w, http.StatusCreated, resp)
	default:
		writeError(w, ErrMethodNotAllowed())
	}
}

// ServeAuthorize auto-approves the request and redirects back with a code.
func (h *StubHandler) ServeAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	redirectURI := q.Get("redirect_uri")
	if redirectURI == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: ErrMissingRedirectURI().Code})
		return
	}

	target, err := url.Parse(redirectURI)
	if err != nil || !target.IsAbs() {
		writeError(w, ErrInvalidRedirectURI("redirect_uri must be an absolute URL"))
		return
	}

	code, err := h.issueCode(q.Get("code_challenge"))
	if err != nil {
		writeError(w, NewOAuthError("server_error", "failed to issue authorization code", http.StatusInternalServerError))
		return
	}

	params := target.Query()
	params.Set("code", code)
	if state := q.Get("state"); state != "" {
		params.Set("state", state)
	}
	target.RawQuery = params.Encode()

	http.Redirect(w, r, target.String(), http.StatusFound)
}

func (h *StubHandler) issueCode(challenge string) (string, error) {
	raw, err := json.Marshal(authorizationCode{
		Challenge: challenge,
		Timestamp: h.now().UnixMilli(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode authorization code: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// ServeToken answers any token request with the configured bearer token.
func (h *StubHandler) ServeToken(w http.ResponseWriter, _ *http.Request) {
	access := h.config.BearerToken
	if access == "" {
		access = h.newID()
	}
	writeJSON(w, http.StatusOK, TokenResponse{
		AccessToken:  access,
		TokenType:    TokenTypeBearer,
		ExpiresIn:    int64(AccessTokenLifetime / time.Second),
		RefreshToken: h.newID(),
	})
}
