package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the query-generation service.
type Config struct {
	Port      int
	Version   string
	Database  DatabaseConfig
	Cache     CacheConfig
	Engine    EngineConfig
	Providers ProvidersConfig
	Telemetry TelemetryConfig
}

type DatabaseConfig struct {
	// URL is the PostgreSQL connection string. Empty falls back to the
	// in-memory store (local dev, tests).
	URL            string
	MaxConnections int
}

type CacheConfig struct {
	// TTL is the fixed entry lifetime.
	TTL time.Duration
	// ContextPrefixLen bounds how much of the schema context participates
	// in the cache key.
	ContextPrefixLen int
	// SweepThreshold triggers a volatile-tier sweep once the map grows
	// past this many entries.
	SweepThreshold int
	// JanitorInterval drives the background expired-row sweep.
	JanitorInterval time.Duration
}

type EngineConfig struct {
	// CallTimeout bounds a single provider attempt.
	CallTimeout time.Duration
	// MaxRetryAttempts is the attempt count against the selected provider
	// before a fallback switch is considered.
	MaxRetryAttempts int
	// BackoffBase is the initial retry delay; doubled on each attempt.
	BackoffBase time.Duration
}

type ProvidersConfig struct {
	AnthropicAPIKey   string
	AnthropicEndpoint string
	AnthropicModel    string
	OpenAIAPIKey      string
	OpenAIEndpoint    string
	OpenAIModel       string
	// DefaultMaxTokens is used when the request carries no budget.
	DefaultMaxTokens int
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:    envInt("QUERYGEN_PORT", 8080),
		Version: envStr("QUERYGEN_VERSION", "1.2.0"),
		Database: DatabaseConfig{
			URL:            envStr("DATABASE_URL", ""),
			MaxConnections: envInt("DATABASE_MAX_CONNECTIONS", 25),
		},
		Cache: CacheConfig{
			TTL:              envDur("QUERYGEN_CACHE_TTL", 24*time.Hour),
			ContextPrefixLen: envInt("QUERYGEN_CACHE_CONTEXT_PREFIX", 500),
			SweepThreshold:   envInt("QUERYGEN_CACHE_SWEEP_THRESHOLD", 1000),
			JanitorInterval:  envDur("QUERYGEN_CACHE_JANITOR_INTERVAL", time.Hour),
		},
		Engine: EngineConfig{
			CallTimeout:      envDur("QUERYGEN_CALL_TIMEOUT", 45*time.Second),
			MaxRetryAttempts: envInt("QUERYGEN_MAX_RETRY_ATTEMPTS", 3),
			BackoffBase:      envDur("QUERYGEN_BACKOFF_BASE", time.Second),
		},
		Providers: ProvidersConfig{
			AnthropicAPIKey:   envStr("ANTHROPIC_API_KEY", ""),
			AnthropicEndpoint: envStr("ANTHROPIC_ENDPOINT", "https://api.anthropic.com"),
			AnthropicModel:    envStr("ANTHROPIC_MODEL", "claude-sonnet-4-20250514"),
			OpenAIAPIKey:      envStr("OPENAI_API_KEY", ""),
			OpenAIEndpoint:    envStr("OPENAI_ENDPOINT", "https://api.openai.com/v1"),
			OpenAIModel:       envStr("OPENAI_MODEL", "gpt-4o"),
			DefaultMaxTokens:  envInt("QUERYGEN_DEFAULT_MAX_TOKENS", 1024),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "querygen"),
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
		if i, err := strconv.Atoi(v); err == nil {
			return i
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

func envDur(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
