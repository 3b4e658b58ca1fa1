package oauth

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/kevinhojae/savewise-mcp-server/internal/instrumentation"
	"github.com/kevinhojae/savewise-mcp-server/internal/logging"
)

// Gate failure messages returned as {"error": "..."}.
const (
	MsgMissingAuthorization = "Missing Authorization header"
	MsgInvalidAuthorization = "Invalid Authorization header format"
	MsgInvalidBearerToken   = "Invalid bearer token"
)

// BearerGate checks the Authorization header against a configured token
// before the wrapped handler runs. An empty token disables the check.
type BearerGate struct {
	token       string
	resourceURL string
	metrics     *instrumentation.Metrics
	logger      *slog.Logger
}

// GateOption configures a BearerGate.
type GateOption func(*BearerGate)

// WithGateMetrics records every gate decision.
func WithGateMetrics(m *instrumentation.Metrics) GateOption {
	return func(g *BearerGate) {
		g.metrics = m
	}
}

// WithGateLogger sets the gate logger.
func WithGateLogger(logger *slog.Logger) GateOption {
	return func(g *BearerGate) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithResourceMetadataURL advertises the protected resource metadata
// document in WWW-Authenticate on rejection.
func WithResourceMetadataURL(u string) GateOption {
	return func(g *BearerGate) {
		g.resourceURL = u
	}
}

// NewBearerGate creates a gate that accepts only token.
func NewBearerGate(token string, opts ...GateOption) *BearerGate {
	g := &BearerGate{
		token:  token,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With("component", "bearer_gate")

	if token == "" {
		g.logger.Warn("MCP_BEARER_TOKEN not set - authentication disabled (not recommended for production)")
	} else {
		g.logger.Info("bearer authentication enabled", "token", logging.SanitizeToken(token))
	}
	return g
}

// Enabled reports whether a token is configured.
func (g *BearerGate) Enabled() bool {
	return g.token != ""
}

// Check validates an Authorization header value. It returns the rejection
// message, or "" when the request may proceed.
func (g *BearerGate) Check(authHeader string) string {
	if g.token == "" {
		return ""
	}
	if authHeader == "" {
		return MsgMissingAuthorization
	}

	// Only the first two space-separated fields count; anything after the
	// token is ignored.
	fields := strings.Split(authHeader, " ")
	if len(fields) < 2 || fields[0] != "Bearer" || fields[1] == "" {
		return MsgInvalidAuthorization
	}
	token := fields[1]

	if subtle.ConstantTimeCompare([]byte(token), []byte(g.token)) != 1 {
		return MsgInvalidBearerToken
	}
	return ""
}

// Middleware rejects unauthenticated requests with 401.
func (g *BearerGate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.Enabled() {
			g.metrics.RecordAuth(r.Context(), instrumentation.AuthResultDisabled)
			next.ServeHTTP(w, r)
			return
		}

		if msg := g.Check(r.Header.Get("Authorization")); msg != "" {
			g.metrics.RecordAuth(r.Context(), instrumentation.AuthResultRejected)
			g.logger.Warn("rejected request",
				slog.String(logging.KeyMethod, r.Method),
				slog.String(logging.KeyPath, r.URL.Path),
				slog.String("reason", msg))

			if g.resourceURL != "" {
				w.Header().Set("WWW-Authenticate", `Bearer resource_metadata="`+g.resourceURL+`"`)
			}
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": msg})
			return
		}

		g.metrics.RecordAuth(r.Context(), instrumentation.AuthResultAllowed)
		next.ServeHTTP(w, r)
	})
}
