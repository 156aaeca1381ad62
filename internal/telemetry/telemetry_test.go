package telemetry_test

import (
	"context"
	"testing"

	"techdebtsim/internal/telemetry"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("TDS_OTEL_ENDPOINT", "http://192.0.2.1:4318")
	t.Setenv("TDS_OTEL_SAMPLE_RATIO", "0.25")

	cfg, err := telemetry.LoadConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if !cfg.Enabled || cfg.ServiceName != "techdebtsim" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.SampleRatio != 0.25 || !cfg.Active() {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestLoadConfigRejectsBadRatio(t *testing.T) {
	t.Setenv("TDS_OTEL_SAMPLE_RATIO", "lots")
	if _, err := telemetry.LoadConfig(); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestSetupNoopWithoutEndpoint(t *testing.T) {
	shutdown, err := telemetry.Setup(context.Background(), telemetry.Config{Enabled: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := shutdown(ctx); err != nil {
		t.Fatalf("noop shutdown should not error: %v", err)
	}
}

func TestSetupNoopWhenDisabled(t *testing.T) {
	cfg := telemetry.Config{Enabled: false, Endpoint: "http://192.0.2.1:4318"}
	if cfg.Active() {
		t.Fatalf("disabled config must not be active")
	}
	shutdown, err := telemetry.Setup(context.Background(), cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestSetupCreatesProvider(t *testing.T) {
	// Non-routable address; nothing is exported before shutdown.
	cfg := telemetry.Config{Enabled: true, Endpoint: "http://192.0.2.1:4318", SampleRatio: 0.5}
	shutdown, err := telemetry.Setup(context.Background(), cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}
