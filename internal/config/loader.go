package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} patterns in strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} patterns with environment variable values.
// Unset variables are left unchanged.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

// Load 读取 YAML 配置文件并叠加环境变量。文件不存在时只使用默认值与环境变量。
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, &ConfigError{Message: "failed to parse config: " + err.Error()}
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}

	cfg.AI.Gemini.APIKey = expandEnvVars(cfg.AI.Gemini.APIKey)
	cfg.AI.Ark.APIKey = expandEnvVars(cfg.AI.Ark.APIKey)
	cfg.AI.Ark.AccessKey = expandEnvVars(cfg.AI.Ark.AccessKey)
	cfg.AI.Ark.SecretKey = expandEnvVars(cfg.AI.Ark.SecretKey)

	return &cfg, nil
}

// applyEnvOverrides 用环境变量覆盖文件中的配置。
func applyEnvOverrides(cfg *Config) error {
	if addr, ok, err := parseAddrEnv("PORT"); err != nil {
		return err
	} else if ok {
		cfg.Server.Addr = addr
	}

	cfg.AI.Provider = getEnvOrDefault("MODEL_PROVIDER", cfg.AI.Provider)
	cfg.AI.DefaultModel = getEnvOrDefault("DEFAULT_MODEL", cfg.AI.DefaultModel)
	cfg.AI.Gemini.APIKey = getEnvOrDefault("GEMINI_API_KEY", cfg.AI.Gemini.APIKey)
	cfg.AI.Gemini.BaseURL = getEnvOrDefault("GEMINI_BASE_URL", cfg.AI.Gemini.BaseURL)
	cfg.AI.Ark.APIKey = getEnvOrDefault("ARK_API_KEY", cfg.AI.Ark.APIKey)
	cfg.AI.Ark.AccessKey = getEnvOrDefault("ARK_ACCESS_KEY", cfg.AI.Ark.AccessKey)
	cfg.AI.Ark.SecretKey = getEnvOrDefault("ARK_SECRET_KEY", cfg.AI.Ark.SecretKey)
	cfg.AI.Ark.BaseURL = getEnvOrDefault("ARK_BASE_URL", cfg.AI.Ark.BaseURL)
	cfg.AI.Ark.Region = getEnvOrDefault("ARK_REGION", cfg.AI.Ark.Region)

	cfg.Registry.Path = getEnvOrDefault("VALID_USERS_FILE", cfg.Registry.Path)
	cfg.Audit.Path = getEnvOrDefault("CHAT_LOG_FILE", cfg.Audit.Path)
	cfg.Audit.SQLitePath = getEnvOrDefault("AUDIT_SQLITE_PATH", cfg.Audit.SQLitePath)
	cfg.Logging.Level = strings.ToLower(getEnvOrDefault("LOG_LEVEL", cfg.Logging.Level))

	timeout, err := parseOptionalDurationEnv("AI_TIMEOUT")
	if err != nil {
		return err
	}
	if timeout != nil {
		cfg.AI.Timeout = *timeout
	}

	limit, err := parseOptionalIntEnv("RATE_LIMIT")
	if err != nil {
		return err
	}
	if limit != nil {
		cfg.RateLimit.Limit = *limit
	}

	window, err := parseOptionalDurationEnv("RATE_WINDOW")
	if err != nil {
		return err
	}
	if window != nil {
		cfg.RateLimit.Window = *window
	}

	idle, err := parseOptionalDurationEnv("SESSION_IDLE_TIMEOUT")
	if err != nil {
		return err
	}
	if idle != nil {
		cfg.Session.IdleTimeout = *idle
	}

	return nil
}

// parseAddrEnv 解析服务器监听地址，允许 "8080"、":8080" 或 "127.0.0.1:8080"。
func parseAddrEnv(key string) (string, bool, error) {
	port := strings.TrimSpace(os.Getenv(key))
	if port == "" {
		return "", false, nil
	}

	if strings.Contains(port, ":") {
		return port, true, nil
	}

	if strings.Contains(port, " ") {
		return "", false, fmt.Errorf("invalid %s value: %q", key, port)
	}

	return ":" + port, true, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
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

func parseOptionalDurationEnv(key string) (*time.Duration, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := time.ParseDuration(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
