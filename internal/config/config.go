package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"

	"github.com/zhouzirui/chatty/backend/internal/llm"
	"github.com/zhouzirui/chatty/backend/internal/service/ai"
	"github.com/zhouzirui/chatty/backend/internal/storage"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server  ServerConfig
	AI      AIConfig
	Storage StorageConfig
	Log     LogConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	aiCfg, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	storageCfg, err := loadStorageConfig()
	if err != nil {
		return nil, err
	}

	logCfg, err := loadLogConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, AI: aiCfg, Storage: storageCfg, Log: logCfg}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// Provider 指定底层大模型服务商。
type Provider string

const (
	ProviderArk    Provider = "ark"
	ProviderGemini Provider = "gemini"
)

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	Provider Provider

	// Ark
	APIKey    string
	AccessKey string
	SecretKey string
	BaseURL   string
	Region    string

	// Gemini
	GeminiAPIKey  string
	GeminiBaseURL string

	Model           string
	ClassifierModel string
	Temperature     *float64
	TopP            *float64
	MaxTokens       *int

	SentimentLLMEnabled bool

	MaxAttempts          int
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
	CallTimeout          time.Duration
}

// Enabled 表示是否提供了必需的密钥和模型。
func (c AIConfig) Enabled() bool {
	if c.Model == "" {
		return false
	}
	switch c.Provider {
	case ProviderGemini:
		return c.GeminiAPIKey != ""
	default:
		return c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != "")
	}
}

// RetryPolicy 返回模型调用的重试与超时策略。
func (c AIConfig) RetryPolicy() ai.RetryPolicy {
	policy := ai.DefaultRetryPolicy()
	if c.MaxAttempts > 0 {
		policy.MaxAttempts = c.MaxAttempts
	}
	if c.RetryInitialInterval > 0 {
		policy.InitialInterval = c.RetryInitialInterval
	}
	if c.RetryMaxInterval > 0 {
		policy.MaxInterval = c.RetryMaxInterval
	}
	if c.CallTimeout > 0 {
		policy.CallTimeout = c.CallTimeout
	}
	return policy
}

// NewChatModel 使用配置创建一个模型实例，modelName 为空时使用默认模型。
func (c AIConfig) NewChatModel(ctx context.Context, modelName string) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("%s 凭证或模型配置缺失，请设置 CHAT_MODEL 以及对应的 API Key", c.Provider)
	}
	if modelName == "" {
		modelName = c.Model
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	var maxTokens *int
	if c.MaxTokens != nil {
		val := *c.MaxTokens
		maxTokens = &val
	}

	switch c.Provider {
	case ProviderGemini:
		return llm.NewGeminiChatModel(llm.GeminiConfig{
			APIKey:      c.GeminiAPIKey,
			BaseURL:     c.GeminiBaseURL,
			Model:       modelName,
			Temperature: temperature,
			TopP:        topP,
			MaxTokens:   maxTokens,
		})
	case ProviderArk:
		return ark.NewChatModel(ctx, &ark.ChatModelConfig{
			BaseURL:     c.BaseURL,
			Region:      c.Region,
			APIKey:      c.APIKey,
			AccessKey:   c.AccessKey,
			SecretKey:   c.SecretKey,
			Model:       modelName,
			MaxTokens:   maxTokens,
			Temperature: temperature,
			TopP:        topP,
		})
	default:
		return nil, fmt.Errorf("unsupported MODEL_PROVIDER %q", c.Provider)
	}
}

// NewModels 创建回复模型与分类模型，二者同名时共用一个实例。
func (c AIConfig) NewModels(ctx context.Context) (ai.Models, error) {
	response, err := c.NewChatModel(ctx, c.Model)
	if err != nil {
		return ai.Models{}, fmt.Errorf("failed to create chat model: %w", err)
	}

	models := ai.Models{Response: response, Classifier: response}
	if c.ClassifierModel != "" && c.ClassifierModel != c.Model {
		classifier, err := c.NewChatModel(ctx, c.ClassifierModel)
		if err != nil {
			return ai.Models{}, fmt.Errorf("failed to create classifier model: %w", err)
		}
		models.Classifier = classifier
	}
	return models, nil
}

func loadAIConfig() (AIConfig, error) {
	provider := Provider(strings.ToLower(getEnvOrDefault("MODEL_PROVIDER", string(ProviderArk))))
	switch provider {
	case ProviderArk, ProviderGemini:
	default:
		return AIConfig{}, fmt.Errorf("invalid MODEL_PROVIDER value %q", provider)
	}

	temperature, err := parseOptionalFloatEnv("AI_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("AI_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("AI_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	sentimentEnabled, err := parseBoolEnv("SENTIMENT_LLM_ENABLED", true)
	if err != nil {
		return AIConfig{}, err
	}

	maxAttempts := 1
	if override, err := parseOptionalIntEnv("AI_MAX_ATTEMPTS"); err != nil {
		return AIConfig{}, err
	} else if override != nil {
		if *override < 1 {
			return AIConfig{}, fmt.Errorf("invalid AI_MAX_ATTEMPTS value %d: must be at least 1", *override)
		}
		maxAttempts = *override
	}

	initial, err := parseDurationEnv("AI_RETRY_INITIAL_INTERVAL", 500*time.Millisecond)
	if err != nil {
		return AIConfig{}, err
	}
	maxInterval, err := parseDurationEnv("AI_RETRY_MAX_INTERVAL", 5*time.Second)
	if err != nil {
		return AIConfig{}, err
	}
	callTimeout, err := parseDurationEnv("AI_CALL_TIMEOUT", 60*time.Second)
	if err != nil {
		return AIConfig{}, err
	}

	chatModel := strings.TrimSpace(os.Getenv("CHAT_MODEL"))

	return AIConfig{
		Provider:             provider,
		APIKey:               strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:            strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:            strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		BaseURL:              getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:               getEnvOrDefault("ARK_REGION", "cn-beijing"),
		GeminiAPIKey:         strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		GeminiBaseURL:        getEnvOrDefault("GEMINI_BASE_URL", llm.DefaultGeminiBaseURL),
		Model:                chatModel,
		ClassifierModel:      getEnvOrDefault("CLASSIFIER_MODEL", chatModel),
		Temperature:          temperature,
		TopP:                 topP,
		MaxTokens:            maxTokens,
		SentimentLLMEnabled:  sentimentEnabled,
		MaxAttempts:          maxAttempts,
		RetryInitialInterval: initial,
		RetryMaxInterval:     maxInterval,
		CallTimeout:          callTimeout,
	}, nil
}

// StorageConfig 描述会话快照的持久化方式。
type StorageConfig struct {
	Driver   storage.Driver
	Path     string
	Key      string
	RedisURL string
}

// Options 转换为 storage.Open 所需参数。
func (c StorageConfig) Options() storage.Options {
	return storage.Options{Driver: c.Driver, Path: c.Path, Key: c.Key, RedisURL: c.RedisURL}
}

func loadStorageConfig() (StorageConfig, error) {
	driver := storage.Driver(strings.ToLower(getEnvOrDefault("STORAGE_DRIVER", string(storage.DriverFile))))

	defaultPath := ""
	switch driver {
	case storage.DriverFile:
		defaultPath = "data/conversations.json"
	case storage.DriverSQLite:
		defaultPath = "data/conversations.db"
	case storage.DriverRedis, storage.DriverMemory:
	default:
		return StorageConfig{}, fmt.Errorf("invalid STORAGE_DRIVER value %q", driver)
	}

	cfg := StorageConfig{
		Driver:   driver,
		Path:     getEnvOrDefault("STORAGE_PATH", defaultPath),
		Key:      getEnvOrDefault("STORAGE_KEY", storage.DefaultKey),
		RedisURL: getEnvOrDefault("REDIS_URL", "redis://localhost:6379/0"),
	}
	return cfg, nil
}

// LogConfig 描述日志级别与日志文件。
type LogConfig struct {
	Level slog.Level
	File  string
}

func loadLogConfig() (LogConfig, error) {
	level, err := parseLevel(getEnvOrDefault("LOG_LEVEL", "info"))
	if err != nil {
		return LogConfig{}, err
	}
	return LogConfig{Level: level, File: strings.TrimSpace(os.Getenv("LOG_FILE"))}, nil
}

func parseLevel(raw string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return 0, fmt.Errorf("invalid LOG_LEVEL value %q: %w", raw, err)
	}
	return level, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("invalid %s value %q: must not be negative", key, raw)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
