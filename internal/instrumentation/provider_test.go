package instrumentation

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNewProvider_Disabled(t *testing.T) {
	provider, err := NewProvider(context.Background(), Config{ServiceName: "test-service", Enabled: false})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if provider.Enabled() {
		t.Error("expected provider to be disabled")
	}
	if provider.Metrics() == nil {
		t.Error("expected metrics to be non-nil even when disabled")
	}
	if provider.MetricsHandler() != nil {
		t.Error("disabled provider should not expose a metrics handler")
	}
	if err := provider.Shutdown(context.Background()); err != nil {
		t.Errorf("expected no error on shutdown, got %v", err)
	}
}

func TestNewProvider_PrometheusExporter(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	provider, err := NewProvider(ctx, Config{
		ServiceName:     "test-service",
		ServiceVersion:  "1.0.0",
		Enabled:         true,
		MetricsExporter: ExporterPrometheus,
		TracingExporter: ExporterNone,
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	defer func() { _ = provider.Shutdown(ctx) }()

	if !provider.Enabled() {
		t.Error("expected provider to be enabled")
	}

	provider.Metrics().RecordSessionCreated(ctx)

	handler := provider.MetricsHandler()
	if handler == nil {
		t.Fatal("expected a metrics handler for the prometheus exporter")
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(string(body), "mcp_sessions_created_total") {
		t.Errorf("scrape output missing session counter:\n%s", body)
	}
}

func TestNewProvider_TwoPrometheusProviders(t *testing.T) {
	ctx := context.Background()
	cfg := Config{ServiceName: "a", Enabled: true, MetricsExporter: ExporterPrometheus, TracingExporter: ExporterNone}

	first, err := NewProvider(ctx, cfg)
	if err != nil {
		t.Fatalf("first provider: %v", err)
	}
	defer func() { _ = first.Shutdown(ctx) }()

	second, err := NewProvider(ctx, cfg)
	if err != nil {
		t.Fatalf("second provider: %v", err)
	}
	defer func() { _ = second.Shutdown(ctx) }()
}

func TestNewProvider_StdoutTracing(t *testing.T) {
	ctx := context.Background()
	provider, err := NewProvider(ctx, Config{
		ServiceName:       "test-service",
		Enabled:           true,
		MetricsExporter:   ExporterPrometheus,
		TracingExporter:   ExporterStdout,
		TraceSamplingRate: 1,
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	defer func() { _ = provider.Shutdown(ctx) }()

	if provider.Tracer("test") == nil {
		t.Error("expected a tracer")
	}
}

func TestNewProvider_InvalidConfig(t *testing.T) {
	tests := []Config{
		{Enabled: true, MetricsExporter: "carrier-pigeon"},
		{Enabled: true, TracingExporter: "jaeger"},
		{Enabled: true, TracingExporter: ExporterOTLP},
		{Enabled: true, TraceSamplingRate: 2},
	}
	for _, cfg := range tests {
		if _, err := NewProvider(context.Background(), cfg); err == nil {
			t.Errorf("expected error for %+v", cfg)
		}
	}
}

func TestProvider_TracerWhenDisabled(t *testing.T) {
	provider, _ := NewProvider(context.Background(), Config{Enabled: false})
	if provider.Tracer("test") == nil {
		t.Error("expected a no-op tracer")
	}
}
