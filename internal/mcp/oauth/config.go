package oauth

import (
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strings"
)

// Config holds the stub handler configuration
type Config struct {
	// BaseURL is the public URL of the server. When empty it is derived per
	// request as https://<Host>.
	BaseURL string

	// MCPPath is the path of the protected MCP endpoint (default "/mcp").
	MCPPath string

	// BearerToken is handed out as the access token. When empty a random
	// token is issued per request.
	BearerToken string

	// RateLimit configures per-IP rate limiting of the stub endpoints.
	RateLimit RateLimitConfig

	// Logger for structured logging (optional, uses default if not provided)
	Logger *slog.Logger
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	// Rate is the number of requests per second allowed per IP (0 = no limit)
	Rate float64

	// Burst is the maximum burst size allowed per IP
	Burst int

	// TrustProxy indicates whether to trust X-Forwarded-For and X-Real-IP headers.
	// Only set to true if the server is behind a trusted proxy.
	TrustProxy bool
}

// DefaultConfig returns a Config with default rate limits.
func DefaultConfig() Config {
	return Config{
		MCPPath: "/mcp",
		RateLimit: RateLimitConfig{
			Rate:  DefaultRateLimitRate,
			Burst: DefaultRateLimitBurst,
		},
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.BaseURL != "" {
		if err := ValidateBaseURL(c.BaseURL); err != nil {
			return err
		}
	}
	if c.MCPPath != "" && !strings.HasPrefix(c.MCPPath, "/") {
		return fmt.Errorf("MCP path must start with '/' (got %q)", c.MCPPath)
	}
	if c.RateLimit.Rate < 0 {
		return fmt.Errorf("rate limit must not be negative (got %v)", c.RateLimit.Rate)
	}
	if c.RateLimit.Rate > 0 && c.RateLimit.Burst < 1 {
		return fmt.Errorf("rate limit burst must be at least 1 (got %d)", c.RateLimit.Burst)
	}
	return nil
}

// ValidateBaseURL requires HTTPS except for loopback hosts.
func ValidateBaseURL(baseURL string) error {
	u, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid base URL %q: missing host", baseURL)
	}

	switch u.Scheme {
	case "https":
		return nil
	case "http":
		if slices.Contains(LoopbackAddresses, u.Hostname()) {
			return nil
		}
		return fmt.Errorf("base URL must use HTTPS outside of localhost (got: %s)", baseURL)
	default:
		return fmt.Errorf("invalid URL scheme: %s. Must be http (localhost only) or https", u.Scheme)
	}
}
