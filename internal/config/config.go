package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the conversation engine.
type Config struct {
	Port      int
	Version   string
	Database  DatabaseConfig
	Telemetry TelemetryConfig
	LLM       LLMConfig
	Tools     ToolsConfig
	Funnel    FunnelConfig
}

type DatabaseConfig struct {
	// URL is optional: empty selects the in-memory store.
	URL            string
	MaxConnections int
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

type LLMConfig struct {
	APIKey      string
	Model       string
	BaseURL     string
	Timeout     time.Duration
	Temperature float64
}

type ToolsConfig struct {
	CacheEnabled bool
	CacheTTL     time.Duration
	MaxRetries   int
	InitialWait  time.Duration
}

type FunnelConfig struct {
	// QualificationRule is an expr program evaluated against the
	// sanitized context to decide DISCOVERY → SCORING promotion.
	// Empty selects the built-in rule.
	QualificationRule string

	// FactExtractionInterval is the turn cadence for background fact
	// extraction.
	FactExtractionInterval int
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:    envInt("CONVOENGINE_PORT", 8080),
		Version: envStr("CONVOENGINE_VERSION", "0.2.0"),
		Database: DatabaseConfig{
			URL:            envStr("DATABASE_URL", ""),
			MaxConnections: envInt("DATABASE_MAX_CONNECTIONS", 25),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "convoengine"),
		},
		LLM: LLMConfig{
			APIKey:      envStr("OPENAI_API_KEY", ""),
			Model:       envStr("CONVOENGINE_MODEL", "gpt-4o-mini"),
			BaseURL:     envStr("OPENAI_BASE_URL", ""),
			Timeout:     envDuration("CONVOENGINE_LLM_TIMEOUT", 30*time.Second),
			Temperature: envFloat("CONVOENGINE_TEMPERATURE", 0.7),
		},
		Tools: ToolsConfig{
			CacheEnabled: envBool("CONVOENGINE_TOOL_CACHE", true),
			CacheTTL:     envDuration("CONVOENGINE_TOOL_CACHE_TTL", 5*time.Minute),
			MaxRetries:   envInt("CONVOENGINE_TOOL_MAX_RETRIES", 3),
			InitialWait:  envDuration("CONVOENGINE_TOOL_INITIAL_WAIT", time.Second),
		},
		Funnel: FunnelConfig{
			QualificationRule:      envStr("CONVOENGINE_QUALIFICATION_RULE", ""),
			FactExtractionInterval: envInt("CONVOENGINE_FACT_INTERVAL", 3),
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
