package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/kevinhojae/savewise-mcp-server/internal/instrumentation"
	"github.com/kevinhojae/savewise-mcp-server/internal/logging"
	"github.com/kevinhojae/savewise-mcp-server/internal/mcp/oauth"
	"github.com/kevinhojae/savewise-mcp-server/internal/readwise"
	"github.com/kevinhojae/savewise-mcp-server/internal/server"
	"github.com/kevinhojae/savewise-mcp-server/internal/tools/highlight_tools"
)

const (
	transportStdio          = "stdio"
	transportStreamableHTTP = "streamable-http"

	defaultPort = 8080
)

const (
	serveTransportKey      = "serve.transport"
	servePortKey           = "serve.port"
	serveMCPPathKey        = "serve.mcp_path"
	serveBaseURLKey        = "serve.base_url"
	serveBearerTokenKey    = "serve.bearer_token"
	serveReadwiseTokenKey  = "serve.readwise_token"
	serveReadwiseURLKey    = "serve.readwise_base_url"
	serveSessionTTLKey     = "serve.session_ttl"
	serveReapIntervalKey   = "serve.session_reap_interval"
	serveTTLPolicyKey      = "serve.session_ttl_policy"
	serveMetricsEnabledKey = "serve.metrics_enabled"
	serveMetricsAddrKey    = "serve.metrics_addr"
	serveCORSOriginsKey    = "serve.cors_allowed_origins"
	serveOAuthRateKey      = "serve.oauth_rate_limit"
	serveOAuthBurstKey     = "serve.oauth_rate_burst"
	serveTrustProxyKey     = "serve.trust_proxy"
	serveDebugKey          = "serve.debug"
)

// serveOptions is the resolved configuration of the serve command.
type serveOptions struct {
	Transport       string
	Port            int
	MCPPath         string
	BaseURL         string
	BearerToken     string
	ReadwiseToken   string
	ReadwiseBaseURL string
	SessionTTL      time.Duration
	ReapInterval    time.Duration
	TTLPolicy       server.TTLPolicy
	MetricsEnabled  bool
	MetricsAddr     string
	AllowedOrigins  []string
	OAuthRateLimit  float64
	OAuthRateBurst  int
	TrustProxy      bool
	Debug           bool
}

// Addr is the HTTP listen address.
func (o serveOptions) Addr() string {
	return net.JoinHostPort("", strconv.Itoa(o.Port))
}

func newServeCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		Long: `Start the Model Context Protocol (MCP) server exposing the
readwise_save_highlights tool to AI assistants.

Supports two transport types:
  - streamable-http: Streamable HTTP transport with per-session servers (default)
  - stdio: Standard input/output, one server for the lifetime of the process

Every flag can also be set through the environment variable named in its
help text. A .env file in the working directory is loaded unless
APP_ENV=production.

Access control (HTTP transport only):
  Set MCP_BEARER_TOKEN to require "Authorization: Bearer <token>" on the
  MCP endpoint. Health checks and OAuth discovery endpoints stay open.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			loadDotEnv()
			opts, err := serveOptionsFromViper(v)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return runServe(ctx, opts)
		},
	}

	bindServeFlags(v, cmd.Flags())

	return cmd
}

// bindServeFlags defines the serve flags on flags and binds each one to its
// viper key and environment variable.
func bindServeFlags(v *viper.Viper, flags *pflag.FlagSet) {
	flags.String("transport", transportStreamableHTTP, "Transport type: streamable-http or stdio. Env: TRANSPORT")
	flags.Int("port", defaultPort, "HTTP listen port. Env: PORT")
	flags.String("mcp-path", server.DefaultMCPPath, "HTTP path of the MCP endpoint. Env: MCP_PATH")
	flags.String("base-url", "", "Public base URL advertised in OAuth metadata (default https://<Host>). Env: MCP_BASE_URL")
	flags.String("bearer-token", "", "Shared secret required as a bearer token on the MCP endpoint. Empty disables the check. Env: MCP_BEARER_TOKEN")
	flags.String("readwise-token", "", "Readwise API access token. Env: READWISE_TOKEN")
	flags.String("readwise-base-url", readwise.DefaultBaseURL, "Readwise API base URL. Env: READWISE_BASE_URL")
	flags.Duration("session-ttl", server.DefaultSessionTTL, "Sessions older than this are closed by the reaper. Env: SESSION_TTL")
	flags.Duration("session-reap-interval", server.DefaultReapInterval, "How often expired sessions are reaped. Env: SESSION_REAP_INTERVAL")
	flags.String("session-ttl-policy", string(server.TTLFromCreation), "Session age basis: creation or idle. Env: SESSION_TTL_POLICY")
	flags.Bool("metrics-enabled", true, "Serve Prometheus metrics on a dedicated port. Env: METRICS_ENABLED")
	flags.String("metrics-addr", server.DefaultMetricsAddr, "Metrics server address. Env: METRICS_ADDR")
	flags.String("cors-allowed-origins", "", "Comma-separated list of origins allowed by CORS. Empty disables CORS. Env: CORS_ALLOWED_ORIGINS")
	flags.Float64("oauth-rate-limit", oauth.DefaultRateLimitRate, "Requests per second per client IP on OAuth endpoints (0 disables). Env: OAUTH_RATE_LIMIT")
	flags.Int("oauth-rate-burst", oauth.DefaultRateLimitBurst, "Burst size per client IP on OAuth endpoints. Env: OAUTH_RATE_BURST")
	flags.Bool("trust-proxy", false, "Trust X-Forwarded-For and X-Real-IP for rate limiting. Env: TRUST_PROXY")
	flags.Bool("debug", false, "Enable debug logging. Env: DEBUG")

	mustBindFlag(v, serveTransportKey, "TRANSPORT", flags.Lookup("transport"))
	mustBindFlag(v, servePortKey, "PORT", flags.Lookup("port"))
	mustBindFlag(v, serveMCPPathKey, "MCP_PATH", flags.Lookup("mcp-path"))
	mustBindFlag(v, serveBaseURLKey, "MCP_BASE_URL", flags.Lookup("base-url"))
	mustBindFlag(v, serveBearerTokenKey, "MCP_BEARER_TOKEN", flags.Lookup("bearer-token"))
	mustBindFlag(v, serveReadwiseTokenKey, "READWISE_TOKEN", flags.Lookup("readwise-token"))
	mustBindFlag(v, serveReadwiseURLKey, "READWISE_BASE_URL", flags.Lookup("readwise-base-url"))
	mustBindFlag(v, serveSessionTTLKey, "SESSION_TTL", flags.Lookup("session-ttl"))
	mustBindFlag(v, serveReapIntervalKey, "SESSION_REAP_INTERVAL", flags.Lookup("session-reap-interval"))
	mustBindFlag(v, serveTTLPolicyKey, "SESSION_TTL_POLICY", flags.Lookup("session-ttl-policy"))
	mustBindFlag(v, serveMetricsEnabledKey, "METRICS_ENABLED", flags.Lookup("metrics-enabled"))
	mustBindFlag(v, serveMetricsAddrKey, "METRICS_ADDR", flags.Lookup("metrics-addr"))
	mustBindFlag(v, serveCORSOriginsKey, "CORS_ALLOWED_ORIGINS", flags.Lookup("cors-allowed-origins"))
	mustBindFlag(v, serveOAuthRateKey, "OAUTH_RATE_LIMIT", flags.Lookup("oauth-rate-limit"))
	mustBindFlag(v, serveOAuthBurstKey, "OAUTH_RATE_BURST", flags.Lookup("oauth-rate-burst"))
	mustBindFlag(v, serveTrustProxyKey, "TRUST_PROXY", flags.Lookup("trust-proxy"))
	mustBindFlag(v, serveDebugKey, "DEBUG", flags.Lookup("debug"))
}

func mustBindFlag(v *viper.Viper, key, env string, flag *pflag.Flag) {
	if flag == nil {
		panic(fmt.Sprintf("flag for key %s not found", key))
	}
	if err := v.BindPFlag(key, flag); err != nil {
		panic(err)
	}
	if env != "" {
		if err := v.BindEnv(key, env); err != nil {
			panic(err)
		}
	}
}

// loadDotEnv reads .env into the process environment outside production.
// Variables already set in the environment win.
func loadDotEnv() {
	if strings.EqualFold(os.Getenv("APP_ENV"), "production") {
		return
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env file", logging.Err(err))
	}
}

func serveOptionsFromViper(v *viper.Viper) (serveOptions, error) {
	policy, err := server.ParseTTLPolicy(strings.TrimSpace(v.GetString(serveTTLPolicyKey)))
	if err != nil {
		return serveOptions{}, err
	}

	opts := serveOptions{
		Transport:       strings.ToLower(strings.TrimSpace(v.GetString(serveTransportKey))),
		Port:            v.GetInt(servePortKey),
		MCPPath:         strings.TrimSpace(v.GetString(serveMCPPathKey)),
		BaseURL:         strings.TrimRight(strings.TrimSpace(v.GetString(serveBaseURLKey)), "/"),
		BearerToken:     strings.TrimSpace(v.GetString(serveBearerTokenKey)),
		ReadwiseToken:   strings.TrimSpace(v.GetString(serveReadwiseTokenKey)),
		ReadwiseBaseURL: strings.TrimSpace(v.GetString(serveReadwiseURLKey)),
		SessionTTL:      v.GetDuration(serveSessionTTLKey),
		ReapInterval:    v.GetDuration(serveReapIntervalKey),
		TTLPolicy:       policy,
		MetricsEnabled:  v.GetBool(serveMetricsEnabledKey),
		MetricsAddr:     strings.TrimSpace(v.GetString(serveMetricsAddrKey)),
		AllowedOrigins:  parseCommaSeparatedList(v.GetString(serveCORSOriginsKey)),
		OAuthRateLimit:  v.GetFloat64(serveOAuthRateKey),
		OAuthRateBurst:  v.GetInt(serveOAuthBurstKey),
		TrustProxy:      v.GetBool(serveTrustProxyKey),
		Debug:           v.GetBool(serveDebugKey),
	}
	return opts, opts.validate()
}

func (o serveOptions) validate() error {
	switch o.Transport {
	case transportStdio, transportStreamableHTTP:
	default:
		return fmt.Errorf("unsupported transport type: %s (supported: %s, %s)", o.Transport, transportStreamableHTTP, transportStdio)
	}
	if o.Port < 0 || o.Port > 65535 {
		return fmt.Errorf("invalid port %d", o.Port)
	}
	if !strings.HasPrefix(o.MCPPath, "/") {
		return fmt.Errorf("mcp path must start with '/': %q", o.MCPPath)
	}
	if o.SessionTTL <= 0 {
		return fmt.Errorf("session ttl must be positive, got %s", o.SessionTTL)
	}
	if o.ReapInterval <= 0 {
		return fmt.Errorf("session reap interval must be positive, got %s", o.ReapInterval)
	}
	if o.OAuthRateLimit < 0 || o.OAuthRateBurst < 0 {
		return fmt.Errorf("oauth rate limit and burst must not be negative")
	}
	if o.BaseURL != "" {
		if err := oauth.ValidateBaseURL(o.BaseURL); err != nil {
			return err
		}
	}
	return nil
}

func newLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	// stdout carries the stdio protocol, so logs always go to stderr.
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func runServe(parent context.Context, opts serveOptions) error {
	logger := newLogger(opts.Debug)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	instrConfig := instrumentation.DefaultConfig()
	instrConfig.ServiceVersion = version

	provider, err := instrumentation.NewProvider(ctx, instrConfig)
	if err != nil {
		return fmt.Errorf("failed to create instrumentation provider: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Error("instrumentation shutdown failed", logging.Err(err))
		}
	}()

	if opts.ReadwiseToken == "" {
		logger.Warn("READWISE_TOKEN is not set; tool calls will fail until it is configured")
	}

	readwiseClient := readwise.NewClient(
		readwise.WithBaseURL(opts.ReadwiseBaseURL),
		readwise.WithLogger(logger),
	)
	serverContext := server.NewServerContext(ctx,
		server.WithReadwise(readwiseClient, opts.ReadwiseToken),
		server.WithMetrics(provider.Metrics()),
		server.WithAuditLogger(instrumentation.NewAuditLoggerWithConfig(logger, instrConfig.AuditLogging)),
		server.WithLogger(logger),
		server.WithVersion(version),
	)
	defer func() {
		if err := serverContext.Shutdown(); err != nil {
			logger.Error("server context shutdown failed", logging.Err(err))
		}
	}()

	switch opts.Transport {
	case transportStdio:
		return runStdioServer(ctx, serverContext, logger)
	default:
		return runStreamableHTTPServer(ctx, opts, serverContext, provider, logger)
	}
}

func runStdioServer(ctx context.Context, sc *server.ServerContext, logger *slog.Logger) error {
	mcpSrv, err := highlight_tools.NewProtocolServer(sc)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	stdio := mcpserver.NewStdioServer(mcpSrv)
	stdio.SetErrorLogger(log.New(os.Stderr, "", log.LstdFlags))

	logger.Info("serving MCP over stdio", slog.String("version", version))
	if err := stdio.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("server stopped with error: %w", err)
	}
	return nil
}

func runStreamableHTTPServer(ctx context.Context, opts serveOptions, sc *server.ServerContext, provider *instrumentation.Provider, logger *slog.Logger) error {
	metrics := provider.Metrics()

	registry, err := server.NewSessionRegistry(
		func() (*mcpserver.MCPServer, error) { return highlight_tools.NewProtocolServer(sc) },
		server.WithSessionTTL(opts.SessionTTL),
		server.WithReapInterval(opts.ReapInterval),
		server.WithTTLPolicy(opts.TTLPolicy),
		server.WithRegistryMetrics(metrics),
		server.WithRegistryLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("failed to create session registry: %w", err)
	}

	stubConfig := oauth.DefaultConfig()
	stubConfig.BaseURL = opts.BaseURL
	stubConfig.MCPPath = opts.MCPPath
	stubConfig.BearerToken = opts.BearerToken
	stubConfig.RateLimit = oauth.RateLimitConfig{
		Rate:       opts.OAuthRateLimit,
		Burst:      opts.OAuthRateBurst,
		TrustProxy: opts.TrustProxy,
	}
	stubConfig.Logger = logger
	stubs, err := oauth.NewStubHandler(stubConfig)
	if err != nil {
		return fmt.Errorf("failed to create OAuth handler: %w", err)
	}
	defer stubs.Close()

	gateOpts := []oauth.GateOption{oauth.WithGateMetrics(metrics), oauth.WithGateLogger(logger)}
	if opts.BaseURL != "" {
		gateOpts = append(gateOpts, oauth.WithResourceMetadataURL(opts.BaseURL+oauth.PathProtectedResource))
	}
	gate := oauth.NewBearerGate(opts.BearerToken, gateOpts...)

	health := server.NewHealthChecker(sc, registry)
	health.SetReady(false)

	httpServer, err := server.NewHTTPServer(server.HTTPServerConfig{
		Addr:           opts.Addr(),
		MCPPath:        opts.MCPPath,
		AllowedOrigins: opts.AllowedOrigins,
	}, server.HTTPServerDeps{
		Registry: registry,
		Gate:     gate,
		Stubs:    stubs,
		Health:   health,
		Metrics:  metrics,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	var metricsServer *server.MetricsServer
	if opts.MetricsEnabled && provider.MetricsHandler() != nil {
		metricsServer, err = server.NewMetricsServer(server.MetricsServerConfig{
			Addr:                    opts.MetricsAddr,
			InstrumentationProvider: provider,
			Logger:                  logger,
		})
		if err != nil {
			return fmt.Errorf("failed to create metrics server: %w", err)
		}
		if err := startInBackground("metrics server", metricsServer.StartWithReadySignal, logger); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
			defer cancel()
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("metrics server shutdown failed", logging.Err(err))
			}
		}()
	} else if opts.MetricsEnabled {
		logger.Info("metrics server disabled: no prometheus exporter configured",
			slog.String("exporter", provider.Config().MetricsExporter))
	}

	registry.StartReaper(ctx)

	ready := make(chan string, 1)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- httpServer.StartWithReadySignal(ready)
	}()

	addr, ok := <-ready
	if !ok {
		registry.CloseAll()
		return fmt.Errorf("HTTP server failed to start: %w", <-serverErr)
	}
	health.SetReady(true)

	logger.Info("savewise MCP server started",
		slog.String("addr", addr),
		slog.String("mcp_path", opts.MCPPath),
		slog.String("version", version),
		slog.Bool("bearer_gate", gate.Enabled()),
		slog.Duration("session_ttl", registry.TTL()),
		slog.String("session_ttl_policy", string(registry.Policy())),
	)

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, stopping HTTP server")
	case err := <-serverErr:
		registry.CloseAll()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server stopped with error: %w", err)
		}
		return nil
	}

	health.SetReady(false)
	if err := sc.Shutdown(); err != nil {
		logger.Error("server context shutdown failed", logging.Err(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("error during HTTP server shutdown: %w", err)
	}
	if err := <-serverErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server stopped with error: %w", err)
	}
	logger.Info("HTTP server stopped")
	return nil
}

// startInBackground runs start in a goroutine and waits until it reports
// its listen address or fails.
func startInBackground(name string, start func(chan<- string) error, logger *slog.Logger) error {
	ready := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		if err := start(ready); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case addr, ok := <-ready:
		if !ok {
			return fmt.Errorf("%s failed to start: %w", name, <-errCh)
		}
		logger.Info(name+" started", slog.String("addr", addr))
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("%s startup timed out", name)
	}
}

// parseCommaSeparatedList splits s on commas and drops empty entries.
// An empty input yields nil.
func parseCommaSeparatedList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
