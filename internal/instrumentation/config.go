package instrumentation

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the OpenTelemetry settings for the server.
type Config struct {
	// ServiceName defaults to savewise-mcp-server.
	ServiceName string

	ServiceVersion string

	// ServiceInstanceID defaults to the hostname.
	ServiceInstanceID string

	// Enabled turns metrics and tracing on (INSTRUMENTATION_ENABLED).
	Enabled bool

	// MetricsExporter is one of prometheus, otlp, stdout.
	MetricsExporter string

	// TracingExporter is one of otlp, stdout, none.
	TracingExporter string

	// OTLPEndpoint is host:port without a scheme, e.g. "localhost:4318".
	OTLPEndpoint string

	// OTLPInsecure sends OTLP over plain HTTP. Local development only.
	OTLPInsecure bool

	// TraceSamplingRate is between 0.0 and 1.0.
	TraceSamplingRate float64

	// PrometheusEndpoint is the scrape path on the metrics server.
	PrometheusEndpoint string

	// AuditLogging configures the per-invocation audit log.
	AuditLogging AuditLoggingConfig
}

// AuditLoggingConfig holds configuration for audit logging.
type AuditLoggingConfig struct {
	Enabled bool

	// IncludeSessionIDs logs full session IDs instead of a short prefix.
	IncludeSessionIDs bool
}

// DefaultConfig reads the instrumentation settings from the environment.
func DefaultConfig() Config {
	return Config{
		ServiceName:        getEnvOrDefault("OTEL_SERVICE_NAME", DefaultServiceName),
		ServiceVersion:     "unknown",
		ServiceInstanceID:  getEnvOrDefault("OTEL_SERVICE_INSTANCE_ID", ""),
		Enabled:            getEnvBoolOrDefault("INSTRUMENTATION_ENABLED", true),
		MetricsExporter:    getEnvOrDefault("METRICS_EXPORTER", ExporterPrometheus),
		TracingExporter:    getEnvOrDefault("TRACING_EXPORTER", ExporterNone),
		OTLPEndpoint:       getEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTLPInsecure:       getEnvBoolOrDefault("OTEL_EXPORTER_OTLP_INSECURE", false),
		TraceSamplingRate:  getEnvFloatOrDefault("OTEL_TRACES_SAMPLER_ARG", 0.1),
		PrometheusEndpoint: getEnvOrDefault("PROMETHEUS_ENDPOINT", "/metrics"),
		AuditLogging: AuditLoggingConfig{
			Enabled:           getEnvBoolOrDefault("AUDIT_LOGGING_ENABLED", true),
			IncludeSessionIDs: getEnvBoolOrDefault("AUDIT_LOGGING_FULL_SESSION_IDS", false),
		},
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.TraceSamplingRate < 0 || c.TraceSamplingRate > 1 {
		return fmt.Errorf("trace sampling rate must be between 0.0 and 1.0, got %f", c.TraceSamplingRate)
	}

	switch c.MetricsExporter {
	case "", ExporterPrometheus, ExporterOTLP, ExporterStdout:
	default:
		return fmt.Errorf("invalid metrics exporter %q, must be one of: prometheus, otlp, stdout", c.MetricsExporter)
	}

	switch c.TracingExporter {
	case "", ExporterOTLP, ExporterStdout, ExporterNone:
	default:
		return fmt.Errorf("invalid tracing exporter %q, must be one of: otlp, stdout, none", c.TracingExporter)
	}

	if (c.TracingExporter == ExporterOTLP || c.MetricsExporter == ExporterOTLP) && c.OTLPEndpoint == "" {
		return fmt.Errorf("OTLP endpoint is required when using an OTLP exporter")
	}

	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// Constants for metric label values.
const (
	DefaultServiceName = "savewise-mcp-server"

	StatusSuccess = "success"
	StatusError   = "error"

	// Gate results
	AuthResultAllowed  = "allowed"
	AuthResultRejected = "rejected"
	AuthResultDisabled = "disabled"

	// Session close reasons
	SessionClosedByClient   = "client"
	SessionClosedByReaper   = "expired"
	SessionClosedByShutdown = "shutdown"

	// Readwise operations
	ReadwiseOpCreateHighlights = "create_highlights"

	ExporterPrometheus = "prometheus"
	ExporterOTLP       = "otlp"
	ExporterStdout     = "stdout"
	ExporterNone       = "none"

	DefaultMetricInterval = 10 * time.Second
)
