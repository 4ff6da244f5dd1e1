package config

import "testing"

func TestLoadRequiresModelPath(t *testing.T) {
	t.Setenv("MODEL_PATH", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error when MODEL_PATH is unset")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MODEL_PATH", "/models/parakeet")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != 50051 {
		t.Fatalf("expected default port 50051, got %d", cfg.Port)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("expected default log level info, got %s", cfg.LogLevel)
	}
	if !cfg.Bus.Embedded {
		t.Fatal("expected embedded bus by default")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MODEL_PATH", "/models/parakeet")
	t.Setenv("DICTIONARY_RULES_PATH", "/rules")
	t.Setenv("DICTIONARY", `["Kieirra", "San Jose"]`)
	t.Setenv("PORT", "9000")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("STT_BUS_EMBEDDED", "false")
	t.Setenv("STT_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("STT_INFERENCE_WORKERS", "4")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DictionaryRulesPath != "/rules" {
		t.Fatalf("expected rules path override, got %q", cfg.DictionaryRulesPath)
	}
	if len(cfg.Dictionary) != 2 || cfg.Dictionary[0] != "Kieirra" {
		t.Fatalf("expected parsed dictionary terms, got %v", cfg.Dictionary)
	}
	if cfg.Port != 9000 {
		t.Fatalf("expected port override, got %d", cfg.Port)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected log level override, got %s", cfg.LogLevel)
	}
	if cfg.Bus.Embedded {
		t.Fatal("expected embedded override to false")
	}
	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 bus servers, got %v", cfg.Bus.Servers)
	}
	if cfg.InferenceWorkers != 4 {
		t.Fatalf("expected worker override, got %d", cfg.InferenceWorkers)
	}
}

func TestTelemetryEnvOverrides(t *testing.T) {
	t.Setenv("MODEL_PATH", "/models/parakeet")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "otel-collector:4317")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Telemetry.OTLPEndpoint != "otel-collector:4317" {
		t.Fatalf("expected OTLP endpoint override, got %q", cfg.Telemetry.OTLPEndpoint)
	}
	if !cfg.Telemetry.OTLPInsecure {
		t.Fatal("expected OTLP insecure override to true")
	}
}

func TestInvalidLogLevel(t *testing.T) {
	t.Setenv("MODEL_PATH", "/models/parakeet")
	t.Setenv("LOG_LEVEL", "verbose")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid LOG_LEVEL")
	}
}

func TestMissingBusServersWhenNotEmbedded(t *testing.T) {
	t.Setenv("MODEL_PATH", "/models/parakeet")
	t.Setenv("STT_BUS_EMBEDDED", "false")
	t.Setenv("STT_BUS_SERVERS", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error when bus servers are empty and embedded mode is off")
	}
}
