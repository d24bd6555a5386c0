package observability

import (
	"context"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("callguard-demo")

	if cfg.ServiceName != "callguard-demo" {
		t.Errorf("expected service name callguard-demo, got %s", cfg.ServiceName)
	}
	if cfg.Endpoint != "localhost:4318" {
		t.Errorf("expected default endpoint, got %s", cfg.Endpoint)
	}
	if !cfg.Insecure {
		t.Error("development default should be insecure")
	}
	if cfg.TraceSampleRate != 1.0 {
		t.Errorf("expected full sampling by default, got %v", cfg.TraceSampleRate)
	}
}

func TestInitMeter_CreatesProvider(t *testing.T) {
	// The OTLP HTTP exporter does not dial until the first export, so
	// provider construction works without a collector listening.
	ctx := context.Background()
	cfg := DefaultConfig("callguard-test")
	cfg.MetricInterval = time.Hour

	mp, err := InitMeter(ctx, cfg)
	if err != nil {
		t.Fatalf("InitMeter failed: %v", err)
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	_ = mp.Shutdown(shutdownCtx)
}

func TestInitTracer_CreatesProvider(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig("callguard-test")
	cfg.TraceSampleRate = 0.5

	tp, err := InitTracer(ctx, cfg)
	if err != nil {
		t.Fatalf("InitTracer failed: %v", err)
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	_ = tp.Shutdown(shutdownCtx)
}
