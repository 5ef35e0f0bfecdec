package config

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/chatty/backend/internal/llm"
	"github.com/zhouzirui/chatty/backend/internal/storage"
)

var envKeys = []string{
	"PORT", "MODEL_PROVIDER", "ARK_API_KEY", "ARK_ACCESS_KEY", "ARK_SECRET_KEY",
	"ARK_BASE_URL", "ARK_REGION", "GEMINI_API_KEY", "GEMINI_BASE_URL", "CHAT_MODEL",
	"CLASSIFIER_MODEL", "AI_TEMPERATURE", "AI_TOP_P", "AI_MAX_TOKENS",
	"SENTIMENT_LLM_ENABLED", "AI_MAX_ATTEMPTS", "AI_RETRY_INITIAL_INTERVAL",
	"AI_RETRY_MAX_INTERVAL", "AI_CALL_TIMEOUT", "STORAGE_DRIVER", "STORAGE_PATH",
	"STORAGE_KEY", "REDIS_URL", "LOG_LEVEL", "LOG_FILE",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range envKeys {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, ProviderArk, cfg.AI.Provider)
	assert.False(t, cfg.AI.Enabled())
	assert.True(t, cfg.AI.SentimentLLMEnabled)
	assert.Equal(t, 1, cfg.AI.MaxAttempts)
	assert.Equal(t, 60*time.Second, cfg.AI.CallTimeout)
	assert.Equal(t, llm.DefaultGeminiBaseURL, cfg.AI.GeminiBaseURL)

	assert.Equal(t, storage.DriverFile, cfg.Storage.Driver)
	assert.Equal(t, "data/conversations.json", cfg.Storage.Path)
	assert.Equal(t, storage.DefaultKey, cfg.Storage.Key)

	assert.Equal(t, slog.LevelInfo, cfg.Log.Level)
}

func TestLoadGeminiProvider(t *testing.T) {
	clearEnv(t)
	t.Setenv("MODEL_PROVIDER", "Gemini")
	t.Setenv("GEMINI_API_KEY", "key")
	t.Setenv("CHAT_MODEL", "gemini-2.0-flash")
	t.Setenv("AI_TEMPERATURE", "0.4")
	t.Setenv("AI_MAX_ATTEMPTS", "3")
	t.Setenv("AI_CALL_TIMEOUT", "15s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ProviderGemini, cfg.AI.Provider)
	assert.True(t, cfg.AI.Enabled())
	assert.Equal(t, "gemini-2.0-flash", cfg.AI.ClassifierModel)
	require.NotNil(t, cfg.AI.Temperature)
	assert.InDelta(t, 0.4, *cfg.AI.Temperature, 1e-9)

	policy := cfg.AI.RetryPolicy()
	assert.Equal(t, 3, policy.MaxAttempts)
	assert.Equal(t, 15*time.Second, policy.CallTimeout)

	models, err := cfg.AI.NewModels(context.Background())
	require.NoError(t, err)
	assert.IsType(t, &llm.GeminiChatModel{}, models.Response)
	assert.Same(t, models.Response, models.Classifier)
}

func TestNewModelsSeparateClassifier(t *testing.T) {
	cfg := AIConfig{Provider: ProviderGemini, GeminiAPIKey: "key", Model: "big", ClassifierModel: "small"}

	models, err := cfg.NewModels(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, models.Response, models.Classifier)
}

func TestNewChatModelRequiresCredentials(t *testing.T) {
	_, err := AIConfig{Provider: ProviderArk, Model: "m"}.NewChatModel(context.Background(), "")
	assert.Error(t, err)
}

func TestLoadPortVariants(t *testing.T) {
	clearEnv(t)

	t.Setenv("PORT", "127.0.0.1:9000")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)

	t.Setenv("PORT", "80 80")
	_, err = Load()
	assert.Error(t, err)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"MODEL_PROVIDER":        "openai",
		"STORAGE_DRIVER":        "postgres",
		"AI_MAX_ATTEMPTS":       "0",
		"AI_CALL_TIMEOUT":       "soon",
		"SENTIMENT_LLM_ENABLED": "maybe",
		"LOG_LEVEL":             "loud",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoadSQLiteDefaultPath(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORAGE_DRIVER", "sqlite")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "data/conversations.db", cfg.Storage.Options().Path)
}

func TestSetupLoggerWithWriters(t *testing.T) {
	var stderr, file bytes.Buffer
	logger := SetupLoggerWithWriters(&stderr, &file, slog.LevelInfo)

	logger.Debug("hidden")
	logger.Info("conversation created", "conversation_id", "abc")

	assert.NotContains(t, stderr.String(), "hidden")
	assert.Contains(t, stderr.String(), "conversation_id=abc")
	assert.Contains(t, file.String(), `"conversation_id":"abc"`)
}

func TestSetupLoggerWritesFile(t *testing.T) {
	path := t.TempDir() + "/chatty.log"
	logger, cleanup := SetupLogger(LogConfig{Level: slog.LevelDebug, File: path})
	logger.Debug("written")
	require.NoError(t, cleanup())
	assert.FileExists(t, path)
}
