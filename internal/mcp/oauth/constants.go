package oauth

import "time"

// Rate limiting defaults
const (
	// DefaultRateLimitRate is the default requests per second per IP
	DefaultRateLimitRate = 10

	// DefaultRateLimitBurst is the default burst size for rate limiting
	DefaultRateLimitBurst = 20

	// DefaultRateLimitCleanupInterval is how often to cleanup inactive rate limiters
	DefaultRateLimitCleanupInterval = 5 * time.Minute

	// InactiveLimiterCleanupWindow is the time after which inactive limiters are removed
	InactiveLimiterCleanupWindow = 10 * time.Minute
)

// Token endpoint values
const (
	// TokenTypeBearer is the token_type returned by the token endpoint
	TokenTypeBearer = "Bearer"

	// AccessTokenLifetime is the advertised access token lifetime (one year)
	AccessTokenLifetime = 365 * 24 * time.Hour

	// TokenEndpointAuthMethodNone is the only client authentication method offered
	TokenEndpointAuthMethodNone = "none"
)

// Well-known and endpoint paths served by the stub handler.
const (
	PathAuthorizationServer       = "/.well-known/oauth-authorization-server"
	PathOpenIDConfiguration       = "/.well-known/openid-configuration"
	PathProtectedResource         = "/.well-known/oauth-protected-resource"
	PathRegister                  = "/register"
	PathAuthorize                 = "/authorize"
	PathToken                     = "/token"
	PathSuffixOpenIDConfiguration = "/.well-known/openid-configuration"
)

// OAuth grant types and response types
var (
	// DefaultGrantTypes are the grant types advertised and registered
	DefaultGrantTypes = []string{"authorization_code", "refresh_token"}

	// DefaultResponseTypes are the response types supported
	DefaultResponseTypes = []string{"code"}

	// SupportedCodeChallengeMethods are the PKCE methods advertised
	SupportedCodeChallengeMethods = []string{"S256"}

	// SupportedTokenAuthMethods are the supported token endpoint auth methods
	SupportedTokenAuthMethods = []string{TokenEndpointAuthMethodNone}

	// BearerMethodsSupported lists where clients may present the bearer token
	BearerMethodsSupported = []string{"header"}

	// LoopbackAddresses lists hosts allowed to use plain HTTP
	LoopbackAddresses = []string{"localhost", "127.0.0.1", "::1", "[::1]"}
)
