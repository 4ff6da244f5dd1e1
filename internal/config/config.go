// Package config loads STT service configuration from the environment.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config is the full set of values the service reads from its environment.
type Config struct {
	ModelPath           string
	DictionaryRulesPath string
	Dictionary          []string
	Port                int
	LogLevel            string
	Bus                 BusConfig
	InferenceWorkers    int
	MetricsBind         string
	Telemetry           TelemetryConfig
}

// TelemetryConfig configures the OpenTelemetry trace exporter. When
// OTLPEndpoint is empty, traces are written to stdout instead.
type TelemetryConfig struct {
	OTLPEndpoint string
	OTLPInsecure bool
}

// BusConfig configures the NATS transport binding used by cmd/sttd.
type BusConfig struct {
	Embedded       bool
	Port           int
	Servers        []string
	Username       string
	Password       string
	Token          string
	TLSInsecure    bool
	ConnectTimeout int
}

// Default returns the configuration used when no environment overrides are
// present. ModelPath has no sane default and is required.
func Default() Config {
	return Config{
		Port:             50051,
		LogLevel:         "info",
		InferenceWorkers: 0, // 0 means "use GOMAXPROCS", resolved by the worker pool
		MetricsBind:      ":9091",
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
	}
}

// Load reads configuration from the environment: MODEL_PATH,
// DICTIONARY_RULES_PATH, DICTIONARY, PORT, LOG_LEVEL, plus the NATS
// transport and worker-pool knobs the reference deployment adds.
func Load() (Config, error) {
	cfg := Default()

	cfg.ModelPath = strings.TrimSpace(os.Getenv("MODEL_PATH"))
	cfg.DictionaryRulesPath = strings.TrimSpace(os.Getenv("DICTIONARY_RULES_PATH"))

	if raw, ok := os.LookupEnv("DICTIONARY"); ok && strings.TrimSpace(raw) != "" {
		var terms []string
		if err := json.Unmarshal([]byte(raw), &terms); err != nil {
			return cfg, fmt.Errorf("parse DICTIONARY: %w", err)
		}
		cfg.Dictionary = terms
	}

	overrideInt(&cfg.Port, "PORT")
	overrideString(&cfg.LogLevel, "LOG_LEVEL")
	overrideBool(&cfg.Bus.Embedded, "STT_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "STT_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "STT_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "STT_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "STT_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "STT_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "STT_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "STT_BUS_CONNECT_TIMEOUT_MS")
	overrideInt(&cfg.InferenceWorkers, "STT_INFERENCE_WORKERS")
	overrideString(&cfg.MetricsBind, "METRICS_BIND")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "OTEL_EXPORTER_OTLP_INSECURE")

	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	if cfg.ModelPath == "" {
		return errors.New("MODEL_PATH must be set")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return errors.New("PORT must be between 1 and 65535")
	}
	switch cfg.LogLevel {
	case "trace", "debug", "info", "warn", "error":
	default:
		return errors.New("LOG_LEVEL must be one of trace|debug|info|warn|error")
	}
	if !cfg.Bus.Embedded && len(cfg.Bus.Servers) == 0 {
		return errors.New("STT_BUS_SERVERS must not be empty when STT_BUS_EMBEDDED=false")
	}
	if cfg.InferenceWorkers < 0 {
		return errors.New("STT_INFERENCE_WORKERS must be >= 0")
	}
	return nil
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		*target = trimmed
	}
}
