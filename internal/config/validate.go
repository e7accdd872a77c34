package config

import (
	"fmt"
	"slices"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue

	if cfg.Server.Addr == "" {
		issues = append(issues, ValidationIssue{Path: "server.addr", Message: "must not be empty"})
	}

	validProviders := []string{"gemini", "ark"}
	if !slices.Contains(validProviders, cfg.AI.Provider) {
		issues = append(issues, ValidationIssue{
			Path:    "ai.provider",
			Message: fmt.Sprintf("must be one of %v, got %q", validProviders, cfg.AI.Provider),
		})
	}
	if cfg.AI.DefaultModel == "" {
		issues = append(issues, ValidationIssue{Path: "ai.default_model", Message: "must not be empty"})
	}
	if cfg.AI.Timeout < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "ai.timeout",
			Message: fmt.Sprintf("must not be negative, got %s", cfg.AI.Timeout),
		})
	}

	if cfg.RateLimit.Limit < 1 {
		issues = append(issues, ValidationIssue{
			Path:    "rate_limit.limit",
			Message: fmt.Sprintf("must be at least 1, got %d", cfg.RateLimit.Limit),
		})
	}
	if cfg.RateLimit.Window <= 0 {
		issues = append(issues, ValidationIssue{
			Path:    "rate_limit.window",
			Message: fmt.Sprintf("must be positive, got %s", cfg.RateLimit.Window),
		})
	}

	if cfg.Session.IdleTimeout < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "session.idle_timeout",
			Message: fmt.Sprintf("must not be negative, got %s", cfg.Session.IdleTimeout),
		})
	}
	if cfg.Session.IdleTimeout > 0 && cfg.Session.SweepInterval <= 0 {
		issues = append(issues, ValidationIssue{
			Path:    "session.sweep_interval",
			Message: "must be positive when idle_timeout is set",
		})
	}

	if cfg.Registry.Path == "" {
		issues = append(issues, ValidationIssue{Path: "registry.path", Message: "must not be empty"})
	}
	if cfg.Audit.Path == "" {
		issues = append(issues, ValidationIssue{Path: "audit.path", Message: "must not be empty"})
	}
	if cfg.Audit.Buffer < 1 {
		issues = append(issues, ValidationIssue{
			Path:    "audit.buffer",
			Message: fmt.Sprintf("must be at least 1, got %d", cfg.Audit.Buffer),
		})
	}

	validLogLevels := []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"}
	if !slices.Contains(validLogLevels, cfg.Logging.Level) {
		issues = append(issues, ValidationIssue{
			Path:    "logging.level",
			Message: fmt.Sprintf("must be one of %v, got %q", validLogLevels, cfg.Logging.Level),
		})
	}
	validFormats := []string{"pretty", "json"}
	if !slices.Contains(validFormats, cfg.Logging.Format) {
		issues = append(issues, ValidationIssue{
			Path:    "logging.format",
			Message: fmt.Sprintf("must be one of %v, got %q", validFormats, cfg.Logging.Format),
		})
	}

	return issues
}
