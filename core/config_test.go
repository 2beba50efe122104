package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	for _, key := range []string{"PORT", "ASSISTANT_PROVIDER", "OPENAI_API_KEY", "OPENAI_ASSISTANT_ID", "POLL_INTERVAL_MS", "MAX_POLL_ATTEMPTS", "THREAD_STORE", "STREAM_CHUNK_DELAY_MS", "MAX_MESSAGE_LENGTH", "OTEL_EXPORTER_OTLP_ENDPOINT"} {
		t.Setenv(key, "")
	}

	config := LoadConfig()

	assert.Equal(t, "8080", config.Port)
	assert.Equal(t, ProviderOpenAI, config.Provider)
	assert.Equal(t, time.Second, config.PollInterval)
	assert.Equal(t, 30, config.MaxPollAttempts)
	assert.Equal(t, 50*time.Millisecond, config.StreamChunkDelay)
	assert.Equal(t, 10000, config.MaxMessageLength)
	assert.Equal(t, ThreadStoreMemory, config.ThreadStore)
	assert.False(t, config.Configured())
	assert.False(t, config.TelemetryEnabled())
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("ASSISTANT_PROVIDER", "LOCAL")
	t.Setenv("LOCAL_LLM", "gemini")
	t.Setenv("GEMINI_API_KEY", "g-key")
	t.Setenv("THREAD_STORE", "sqlite")
	t.Setenv("POLL_INTERVAL_MS", "250")
	t.Setenv("MAX_POLL_ATTEMPTS", "5")
	t.Setenv("MAX_MESSAGE_LENGTH", "not-a-number")
	t.Setenv("STREAM_CHUNK_DELAY_MS", "-3")

	config := LoadConfig()

	assert.Equal(t, ProviderLocal, config.Provider)
	assert.Equal(t, LocalLLMGemini, config.LocalLLM)
	assert.Equal(t, ThreadStoreSQLite, config.ThreadStore)
	assert.Equal(t, 250*time.Millisecond, config.PollInterval)
	assert.Equal(t, 5, config.MaxPollAttempts)
	assert.Equal(t, 10000, config.MaxMessageLength, "malformed values keep the default")
	assert.Equal(t, 50*time.Millisecond, config.StreamChunkDelay, "non-positive values keep the default")
	assert.True(t, config.Configured())
}

func TestConfigCredentials(t *testing.T) {
	tests := []struct {
		name          string
		config        Config
		wantKey       bool
		wantAssistant bool
	}{
		{name: "openai complete", config: Config{Provider: ProviderOpenAI, OpenAIAPIKey: "k", OpenAIAssistantID: "a"}, wantKey: true, wantAssistant: true},
		{name: "openai without assistant", config: Config{Provider: ProviderOpenAI, OpenAIAPIKey: "k"}, wantKey: true},
		{name: "openai without key", config: Config{Provider: ProviderOpenAI, OpenAIAssistantID: "a"}, wantAssistant: true},
		{name: "local ollama", config: Config{Provider: ProviderLocal, LocalLLM: LocalLLMOllama, OllamaEndpoint: "http://localhost:11434"}, wantKey: true, wantAssistant: true},
		{name: "local gemini without key", config: Config{Provider: ProviderLocal, LocalLLM: LocalLLMGemini}, wantAssistant: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hasKey, hasAssistant := tt.config.Credentials()
			assert.Equal(t, tt.wantKey, hasKey)
			assert.Equal(t, tt.wantAssistant, hasAssistant)
			assert.Equal(t, tt.wantKey && tt.wantAssistant, tt.config.Configured())
		})
	}
}

func TestSetupTelemetryDisabled(t *testing.T) {
	telemetry, err := SetupTelemetry(context.Background(), &Config{})
	require.NoError(t, err)
	assert.Nil(t, telemetry)
	assert.NoError(t, telemetry.Shutdown(context.Background()))
}

func TestSetupTelemetryEnabled(t *testing.T) {
	previous := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	config := &Config{
		OTelEndpoint:       "http://127.0.0.1:4318",
		OTelHeaders:        "x-team=assess",
		OTelServiceName:    "assessbot-test",
		OTelServiceVersion: "1.2.3",
	}

	telemetry, err := SetupTelemetry(context.Background(), config)
	require.NoError(t, err)
	require.NotNil(t, telemetry)
	assert.Same(t, telemetry.tracerProvider, otel.GetTracerProvider())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, telemetry.Shutdown(ctx))
}

func TestNewResourceCarriesServiceIdentity(t *testing.T) {
	res, err := newResource(&Config{OTelServiceName: "assessbot", OTelServiceVersion: "dev"})
	require.NoError(t, err)

	assert.Equal(t, semconv.SchemaURL, res.SchemaURL())
	name, ok := res.Set().Value(semconv.ServiceNameKey)
	require.True(t, ok)
	assert.Equal(t, "assessbot", name.AsString())
	version, ok := res.Set().Value(semconv.ServiceVersionKey)
	require.True(t, ok)
	assert.Equal(t, "dev", version.AsString())
}

func TestParseHeaders(t *testing.T) {
	assert.Equal(t, map[string]string{
		"Authorization": "Bearer abc",
		"x-team":        "assess",
	}, parseHeaders(" Authorization = Bearer abc ,x-team=assess,broken,=empty"))
}
