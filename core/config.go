/*
Package core provides configuration management and logging initialization
for the assessment assistant service.

This file handles:
- Loading configuration from environment variables with sensible defaults
- Optional .env loading during development
- Structured logging setup with configurable levels

Environment variables always win over the .env file, so deployments can
ship without one.
*/
package core

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Provider and store selectors.
const (
	ProviderOpenAI = "openai"
	ProviderLocal  = "local"

	LocalLLMOllama = "ollama"
	LocalLLMGemini = "gemini"

	ThreadStoreMemory = "memory"
	ThreadStoreSQLite = "sqlite"
)

// Config holds all configurable values for the assistant service.
type Config struct {
	// Server configuration
	Port string // HTTP server port number (default: "8080")
	Env  string // "development" or "production" (default: "development")

	// Provider selection
	Provider string // "openai" or "local" (default: "openai")

	// OpenAI assistants configuration
	OpenAIAPIKey      string // API key for the remote assistant provider
	OpenAIAssistantID string // Assistant the runs are started against
	OpenAIBaseURL     string // Optional custom endpoint

	// Local provider configuration
	LocalLLM       string        // "ollama" or "gemini" (default: "ollama")
	OllamaEndpoint string        // Base URL for the Ollama API (default: "http://localhost:11434")
	OllamaModel    string        // Ollama model name (default: "qwen3")
	GeminiAPIKey   string        // Required when LocalLLM is "gemini"
	GeminiModel    string        // Gemini model name (default: "gemini-2.0-flash")
	RunTimeout     time.Duration // Bound on one local run execution (default: 120s)

	// Local thread storage
	ThreadStore     string        // "memory" or "sqlite" (default: "memory")
	SQLiteDSN       string        // Database path for the sqlite store (default: "assistant.db")
	ThreadMaxAge    time.Duration // Idle threads older than this are dropped by the memory store (default: 24h)
	CleanupInterval time.Duration // How often the memory store looks for idle threads (default: 1h)

	// Turn orchestration
	PollInterval     time.Duration // Delay between run status checks (default: 1s)
	MaxPollAttempts  int           // Status checks before a run is abandoned (default: 30)
	StreamChunkDelay time.Duration // Delay between emitted chunk frames (default: 50ms)
	MaxMessageLength int           // Longest accepted user message in characters (default: 10000)

	// Telemetry
	OTelEndpoint       string // OTLP/HTTP endpoint; tracing is disabled when empty
	OTelHeaders        string // Comma separated key=value export headers
	OTelServiceName    string // Reported service name (default: "assessbot")
	OTelServiceVersion string // Reported service version (default: "dev")

	// Logging
	LogLevel          string // Minimum log level: debug, info, warn, error (default: "info")
	LogTruncateLength int    // Maximum length of logged message content (default: 500)
}

// LoadConfig loads configuration from environment variables with sensible defaults.
// In development a .env file in the working directory is loaded first; values
// already present in the environment are never overridden by it.
//
// Environment Variables:
//   - PORT, APP_ENV, LOG_LEVEL, LOG_TRUNCATE_LENGTH
//   - ASSISTANT_PROVIDER: "openai" or "local"
//   - OPENAI_API_KEY, OPENAI_ASSISTANT_ID, OPENAI_BASE_URL
//   - LOCAL_LLM, OLLAMA_ENDPOINT, OLLAMA_MODEL, GEMINI_API_KEY, GEMINI_MODEL
//   - RUN_TIMEOUT_SECONDS: bound on a local run (integer)
//   - THREAD_STORE, SQLITE_DSN, THREAD_MAX_AGE_HOURS, CLEANUP_INTERVAL_MINUTES
//   - POLL_INTERVAL_MS, MAX_POLL_ATTEMPTS, STREAM_CHUNK_DELAY_MS, MAX_MESSAGE_LENGTH
//   - OTEL_EXPORTER_OTLP_ENDPOINT, OTEL_EXPORTER_OTLP_HEADERS,
//     OTEL_SERVICE_NAME, OTEL_SERVICE_VERSION
func LoadConfig() *Config {
	if getEnv("APP_ENV", "development") == "development" {
		_ = godotenv.Load(".env")
	}

	config := &Config{
		Port: getEnv("PORT", "8080"),
		Env:  getEnv("APP_ENV", "development"),

		Provider: ProviderOpenAI,

		OpenAIAPIKey:      getEnv("OPENAI_API_KEY", ""),
		OpenAIAssistantID: getEnv("OPENAI_ASSISTANT_ID", ""),
		OpenAIBaseURL:     getEnv("OPENAI_BASE_URL", ""),

		LocalLLM:       LocalLLMOllama,
		OllamaEndpoint: getEnv("OLLAMA_ENDPOINT", "http://localhost:11434"),
		OllamaModel:    getEnv("OLLAMA_MODEL", "qwen3"),
		GeminiAPIKey:   getEnv("GEMINI_API_KEY", ""),
		GeminiModel:    getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		RunTimeout:     time.Duration(getEnvInt("RUN_TIMEOUT_SECONDS", 120)) * time.Second,

		ThreadStore:     ThreadStoreMemory,
		SQLiteDSN:       getEnv("SQLITE_DSN", "assistant.db"),
		ThreadMaxAge:    time.Duration(getEnvInt("THREAD_MAX_AGE_HOURS", 24)) * time.Hour,
		CleanupInterval: time.Duration(getEnvInt("CLEANUP_INTERVAL_MINUTES", 60)) * time.Minute,

		PollInterval:     time.Duration(getEnvInt("POLL_INTERVAL_MS", 1000)) * time.Millisecond,
		MaxPollAttempts:  getEnvInt("MAX_POLL_ATTEMPTS", 30),
		StreamChunkDelay: time.Duration(getEnvInt("STREAM_CHUNK_DELAY_MS", 50)) * time.Millisecond,
		MaxMessageLength: getEnvInt("MAX_MESSAGE_LENGTH", 10000),

		OTelEndpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTelHeaders:        getEnv("OTEL_EXPORTER_OTLP_HEADERS", ""),
		OTelServiceName:    getEnv("OTEL_SERVICE_NAME", "assessbot"),
		OTelServiceVersion: getEnv("OTEL_SERVICE_VERSION", "dev"),

		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogTruncateLength: getEnvInt("LOG_TRUNCATE_LENGTH", 500),
	}

	// Selectors only accept known values; anything else keeps the default
	if provider := strings.ToLower(os.Getenv("ASSISTANT_PROVIDER")); provider == ProviderOpenAI || provider == ProviderLocal {
		config.Provider = provider
	}
	if llm := strings.ToLower(os.Getenv("LOCAL_LLM")); llm == LocalLLMOllama || llm == LocalLLMGemini {
		config.LocalLLM = llm
	}
	if store := strings.ToLower(os.Getenv("THREAD_STORE")); store == ThreadStoreMemory || store == ThreadStoreSQLite {
		config.ThreadStore = store
	}

	return config
}

// Credentials reports which provider credentials are present.
// For the local provider the assistant id is not needed and counts as present.
func (c *Config) Credentials() (hasAPIKey bool, hasAssistantID bool) {
	switch c.Provider {
	case ProviderLocal:
		if c.LocalLLM == LocalLLMGemini {
			return c.GeminiAPIKey != "", true
		}
		return c.OllamaEndpoint != "", true
	default:
		return c.OpenAIAPIKey != "", c.OpenAIAssistantID != ""
	}
}

// Configured reports whether a turn can reach the provider at all.
func (c *Config) Configured() bool {
	hasAPIKey, hasAssistantID := c.Credentials()
	return hasAPIKey && hasAssistantID
}

// TelemetryEnabled reports whether traces are exported.
func (c *Config) TelemetryEnabled() bool {
	return c.OTelEndpoint != ""
}

// InitializeLogger configures and returns a structured logger based on the provided configuration.
// The logger uses JSON formatting with RFC3339 timestamps and writes to stdout.
// Secrets are reported as booleans only.
func InitializeLogger(config *Config) *logrus.Logger {
	logger := logrus.New()

	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
	})

	switch strings.ToLower(config.LogLevel) {
	case "debug":
		logger.SetLevel(logrus.DebugLevel)
	case "info":
		logger.SetLevel(logrus.InfoLevel)
	case "warn", "warning":
		logger.SetLevel(logrus.WarnLevel)
	case "error":
		logger.SetLevel(logrus.ErrorLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}

	logger.SetOutput(os.Stdout)

	hasAPIKey, hasAssistantID := config.Credentials()
	logger.WithFields(logrus.Fields{
		"env":              config.Env,
		"provider":         config.Provider,
		"hasApiKey":        hasAPIKey,
		"hasAssistantId":   hasAssistantID,
		"localLlm":         config.LocalLLM,
		"ollamaEndpoint":   config.OllamaEndpoint,
		"ollamaModel":      config.OllamaModel,
		"geminiModel":      config.GeminiModel,
		"threadStore":      config.ThreadStore,
		"pollInterval":     config.PollInterval,
		"maxPollAttempts":  config.MaxPollAttempts,
		"streamChunkDelay": config.StreamChunkDelay,
		"maxMessageLength": config.MaxMessageLength,
		"runTimeout":       config.RunTimeout,
		"telemetry":        config.TelemetryEnabled(),
	}).Info("Configuration loaded")

	return logger
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

// getEnvInt returns the positive integer value of key, or fallback when the
// variable is unset, malformed or not positive.
func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil && i > 0 {
			return i
		}
	}
	return fallback
}
