package config

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"

	"github.com/nyu-mlab/gemini-proxy/internal/service/ai/gemini"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	AI        AIConfig        `yaml:"ai"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Session   SessionConfig   `yaml:"session"`
	Registry  RegistryConfig  `yaml:"registry"`
	Audit     AuditConfig     `yaml:"audit"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	// Provider selects the chat model backend: "gemini" or "ark".
	Provider     string        `yaml:"provider"`
	DefaultModel string        `yaml:"default_model"`
	Timeout      time.Duration `yaml:"timeout"`
	SystemPrompt string        `yaml:"system_prompt"`
	Gemini       GeminiConfig  `yaml:"gemini"`
	Ark          ArkConfig     `yaml:"ark"`
}

// GeminiConfig 描述 Gemini REST 接口配置。
type GeminiConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// ArkConfig 描述火山方舟模型配置。
type ArkConfig struct {
	APIKey    string `yaml:"api_key"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	BaseURL   string `yaml:"base_url"`
	Region    string `yaml:"region"`
}

// RateLimitConfig 描述 send_message 限流参数。
type RateLimitConfig struct {
	Limit  int           `yaml:"limit"`
	Window time.Duration `yaml:"window"`
}

// SessionConfig 描述会话过期策略，IdleTimeout 为 0 表示永不过期。
type SessionConfig struct {
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// RegistryConfig 描述用户白名单来源。
type RegistryConfig struct {
	Path string `yaml:"path"`
}

// AuditConfig 描述审计日志输出。
type AuditConfig struct {
	Path       string `yaml:"path"`
	SQLitePath string `yaml:"sqlite_path"`
	Buffer     int    `yaml:"buffer"`
}

// LoggingConfig 描述日志级别与格式。
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults returns a Config with the documented defaults applied.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Addr:            "127.0.0.1:5000",
			ShutdownTimeout: 10 * time.Second,
		},
		AI: AIConfig{
			Provider:     "gemini",
			DefaultModel: "gemini-1.5-flash-002",
			Timeout:      60 * time.Second,
			Gemini: GeminiConfig{
				BaseURL: "https://generativelanguage.googleapis.com/v1beta",
			},
			Ark: ArkConfig{
				BaseURL: "https://ark.cn-beijing.volces.com/api/v3",
				Region:  "cn-beijing",
			},
		},
		RateLimit: RateLimitConfig{
			Limit:  2,
			Window: time.Second,
		},
		Session: SessionConfig{
			SweepInterval: time.Minute,
		},
		Registry: RegistryConfig{
			Path: "valid_users.txt",
		},
		Audit: AuditConfig{
			Path:   "chat_log.jsonl",
			Buffer: 256,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "pretty",
		},
	}
}

// Enabled 表示当前 provider 是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	switch c.Provider {
	case "gemini":
		return c.Gemini.APIKey != ""
	case "ark":
		return c.Ark.APIKey != "" || (c.Ark.AccessKey != "" && c.Ark.SecretKey != "")
	default:
		return false
	}
}

// NewChatModel 使用配置创建一个模型实例。生成参数按会话在调用时传入。
func (c AIConfig) NewChatModel(ctx context.Context) (model.BaseChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("credentials for provider %q are missing", c.Provider)
	}

	switch c.Provider {
	case "gemini":
		return gemini.NewChatModel(gemini.Config{
			APIKey:  c.Gemini.APIKey,
			BaseURL: c.Gemini.BaseURL,
			Model:   c.DefaultModel,
		})
	case "ark":
		return ark.NewChatModel(ctx, &ark.ChatModelConfig{
			BaseURL:   c.Ark.BaseURL,
			Region:    c.Ark.Region,
			APIKey:    c.Ark.APIKey,
			AccessKey: c.Ark.AccessKey,
			SecretKey: c.Ark.SecretKey,
			Model:     c.DefaultModel,
		})
	default:
		return nil, fmt.Errorf("unknown model provider %q", c.Provider)
	}
}
