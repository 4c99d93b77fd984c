package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server     ServerConfig
	Log        LogConfig
	Classifier ClassifierConfig
	Generation GenerationConfig
	Compaction CompactionConfig
	Storage    StorageConfig
	Risk       RiskConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	return parse(env.Options{})
}

// LoadFrom parses configuration from an explicit environment map.
func LoadFrom(environ map[string]string) (*Config, error) {
	return parse(env.Options{Environment: environ})
}

func parse(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if cfg.Classifier.Token == "" {
		lookup := os.Getenv
		if opts.Environment != nil {
			lookup = func(k string) string { return opts.Environment[k] }
		}
		cfg.Classifier.Token = strings.TrimSpace(lookup("HF_TOKEN"))
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if _, err := c.Server.Addr(); err != nil {
		return err
	}
	switch c.Generation.Provider {
	case ProviderOllama, ProviderArk:
	default:
		return fmt.Errorf("invalid GENERATION_PROVIDER value %q", c.Generation.Provider)
	}
	switch c.Storage.Driver {
	case StorageSQLite, StorageMemory:
	default:
		return fmt.Errorf("invalid STORAGE_DRIVER value %q", c.Storage.Driver)
	}
	if c.Compaction.Threshold < 1 {
		return fmt.Errorf("COMPACTION_THRESHOLD must be positive, got %d", c.Compaction.Threshold)
	}
	if c.Compaction.KeepRecent < 0 {
		return fmt.Errorf("COMPACTION_KEEP_RECENT must not be negative, got %d", c.Compaction.KeepRecent)
	}
	if c.Generation.Window < 1 {
		c.Generation.Window = 1
	}
	return nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Port string `env:"PORT" envDefault:"8080"`
}

// Addr 解析服务器监听地址。
func (c ServerConfig) Addr() (string, error) {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return port, nil
	}

	if strings.Contains(port, " ") {
		return "", fmt.Errorf("invalid PORT value: %q", port)
	}

	return ":" + port, nil
}

type LogConfig struct {
	Debug bool `env:"LOG_DEBUG" envDefault:"false"`
}

// ClassifierConfig drives the remote emotion models and their fallbacks.
type ClassifierConfig struct {
	Token          string        `env:"EMOTION_API_TOKEN"`
	BaseURL        string        `env:"EMOTION_API_BASE_URL" envDefault:"https://api-inference.huggingface.co/models"`
	PrimaryModel   string        `env:"EMOTION_PRIMARY_MODEL" envDefault:"pysentimiento/robertuito-emotion-analysis"`
	SecondaryModel string        `env:"EMOTION_SECONDARY_MODEL" envDefault:"finiteautomata/beto-emotion-analysis"`
	Timeout        time.Duration `env:"EMOTION_TIMEOUT" envDefault:"8s"`
	Retries        int           `env:"EMOTION_RETRIES" envDefault:"2"`
	RetryBackoff   time.Duration `env:"EMOTION_RETRY_BACKOFF" envDefault:"1s"`
	CacheSize      int           `env:"EMOTION_CACHE_SIZE" envDefault:"5000"`
	CacheTTL       time.Duration `env:"EMOTION_CACHE_TTL" envDefault:"24h"`
}

// Enabled 表示是否提供了远程模型凭证。
func (c ClassifierConfig) Enabled() bool {
	return strings.TrimSpace(c.Token) != ""
}

const (
	ProviderOllama = "ollama"
	ProviderArk    = "ark"
)

// GenerationConfig 描述大模型相关配置。
type GenerationConfig struct {
	Provider    string  `env:"GENERATION_PROVIDER" envDefault:"ollama"`
	Temperature float64 `env:"GENERATION_TEMPERATURE" envDefault:"0.7"`
	TopP        float64 `env:"GENERATION_TOP_P" envDefault:"0.9"`
	MaxTokens   int     `env:"GENERATION_MAX_TOKENS" envDefault:"512"`
	Window      int     `env:"GENERATION_WINDOW" envDefault:"5"`

	OllamaBaseURL string `env:"OLLAMA_BASE_URL" envDefault:"http://localhost:11434"`
	OllamaModel   string `env:"OLLAMA_MODEL" envDefault:"llama3.1"`

	ArkAPIKey    string `env:"ARK_API_KEY"`
	ArkAccessKey string `env:"ARK_ACCESS_KEY"`
	ArkSecretKey string `env:"ARK_SECRET_KEY"`
	ArkModel     string `env:"ARK_MODEL"`
	ArkBaseURL   string `env:"ARK_BASE_URL" envDefault:"https://ark.cn-beijing.volces.com/api/v3"`
	ArkRegion    string `env:"ARK_REGION" envDefault:"cn-beijing"`
}

// ArkEnabled 表示是否提供了必需的密钥。
func (c GenerationConfig) ArkEnabled() bool {
	return c.ArkModel != "" && (c.ArkAPIKey != "" || (c.ArkAccessKey != "" && c.ArkSecretKey != ""))
}

// NewArkChatModel 使用配置创建一个模型实例。
func (c GenerationConfig) NewArkChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.ArkEnabled() {
		return nil, fmt.Errorf("ark credentials or model missing: set ARK_API_KEY + ARK_MODEL or an AK/SK pair")
	}

	temperature := float32(c.Temperature)
	topP := float32(c.TopP)
	maxTokens := c.MaxTokens

	return ark.NewChatModel(ctx, &ark.ChatModelConfig{
		BaseURL:     c.ArkBaseURL,
		Region:      c.ArkRegion,
		APIKey:      c.ArkAPIKey,
		AccessKey:   c.ArkAccessKey,
		SecretKey:   c.ArkSecretKey,
		Model:       c.ArkModel,
		MaxTokens:   &maxTokens,
		Temperature: &temperature,
		TopP:        &topP,
	})
}

// CompactionConfig controls session summarisation.
type CompactionConfig struct {
	Enabled    bool `env:"COMPACTION_ENABLED" envDefault:"true"`
	Threshold  int  `env:"COMPACTION_THRESHOLD" envDefault:"20"`
	KeepRecent int  `env:"COMPACTION_KEEP_RECENT" envDefault:"10"`
}

const (
	StorageSQLite = "sqlite"
	StorageMemory = "memory"
)

type StorageConfig struct {
	Driver     string `env:"STORAGE_DRIVER" envDefault:"sqlite"`
	SQLitePath string `env:"SQLITE_PATH" envDefault:"data/calma.db"`
}

type RiskConfig struct {
	AlertThreshold int `env:"RISK_ALERT_THRESHOLD" envDefault:"3"`
}
