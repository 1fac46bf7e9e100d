package tracing

import (
	"context"
	"testing"
	"time"
)

const testService = "integritykit-api"

func shutdownProvider(t *testing.T, p *Provider) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Shutdown(ctx); err != nil {
		t.Errorf("unexpected shutdown error: %v", err)
	}
}

func TestNewProviderDisabled(t *testing.T) {
	provider, err := NewProvider(Config{ServiceName: testService, Enabled: false})
	if err != nil {
		t.Fatalf("expected no error for disabled tracing, got %v", err)
	}
	if provider == nil {
		t.Fatal("expected provider to be non-nil")
	}
	if provider.IsEnabled() {
		t.Error("expected tracing to be disabled")
	}
}

func TestNewProviderRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing service name", Config{Enabled: true, SamplingRate: 0.1}},
		{"negative sampling rate", Config{ServiceName: testService, Enabled: true, SamplingRate: -0.1}},
		{"sampling rate above one", Config{ServiceName: testService, Enabled: true, SamplingRate: 1.5}},
		{"unsupported exporter", Config{ServiceName: testService, Enabled: true, SamplingRate: 0.1, ExporterType: "jaeger-thrift"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewProvider(tt.cfg); err == nil {
				t.Errorf("NewProvider(%+v) returned no error", tt.cfg)
			}
		})
	}
}

func TestNewProviderExporters(t *testing.T) {
	tests := []struct {
		name         string
		exporterType string
		samplingRate float64
		endpoint     string
	}{
		{"otlp-http sampled", "otlp-http", 0.1, "localhost:4318"},
		{"otlp-grpc full sampling", "otlp-grpc", 1.0, "localhost:4317"},
		{"default exporter unsampled", "", 0.0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, err := NewProvider(Config{
				ServiceName:  testService,
				Enabled:      true,
				Environment:  "test",
				ExporterType: tt.exporterType,
				OTLPEndpoint: tt.endpoint,
				SamplingRate: tt.samplingRate,
				InsecureMode: tt.endpoint != "",
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !provider.IsEnabled() {
				t.Error("expected tracing to be enabled")
			}
			shutdownProvider(t, provider)
		})
	}
}

func TestProviderTracerStartsSpans(t *testing.T) {
	provider, err := NewProvider(Config{
		ServiceName:  testService,
		Enabled:      true,
		Environment:  "test",
		ExporterType: "otlp-http",
		SamplingRate: 1.0,
		InsecureMode: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer shutdownProvider(t, provider)

	tracer := provider.Tracer("lifecycle")
	if tracer == nil {
		t.Fatal("expected non-nil tracer")
	}
	_, span := tracer.Start(context.Background(), "candidate.publish")
	if span == nil {
		t.Fatal("expected non-nil span")
	}
	span.End()
}

func TestProviderShutdownZeroValue(t *testing.T) {
	provider := &Provider{}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := provider.Shutdown(ctx); err != nil {
		t.Errorf("unexpected error shutting down zero-value provider: %v", err)
	}
}
