package chat

import (
	"errors"
	"fmt"
)

// Default generation parameters applied when a request omits them.
const (
	DefaultMaxOutputTokens = 8192
	DefaultTemperature     = 1.0
	DefaultTopP            = 0.95
)

// GenerationConfig holds the sampling parameters of a session.
type GenerationConfig struct {
	// MaxOutputTokens caps the length of each reply.
	MaxOutputTokens int `json:"max_output_tokens"`
	// Temperature controls sampling randomness, 0 to 2.
	Temperature float64 `json:"temperature"`
	// TopP is the nucleus-sampling threshold, (0, 1].
	TopP float64 `json:"top_p"`
}

// GenerationConfigInput is the request-side form where every field is optional.
type GenerationConfigInput struct {
	MaxOutputTokens *int     `json:"max_output_tokens,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"top_p,omitempty"`
}

// DefaultGenerationConfig returns {max_output_tokens:8192, temperature:1, top_p:0.95}.
func DefaultGenerationConfig() GenerationConfig {
	return GenerationConfig{
		MaxOutputTokens: DefaultMaxOutputTokens,
		Temperature:     DefaultTemperature,
		TopP:            DefaultTopP,
	}
}

// Resolve fills omitted fields with defaults. A nil input yields the defaults.
func (in *GenerationConfigInput) Resolve() GenerationConfig {
	cfg := DefaultGenerationConfig()
	if in == nil {
		return cfg
	}
	if in.MaxOutputTokens != nil {
		cfg.MaxOutputTokens = *in.MaxOutputTokens
	}
	if in.Temperature != nil {
		cfg.Temperature = *in.Temperature
	}
	if in.TopP != nil {
		cfg.TopP = *in.TopP
	}
	return cfg
}

// Validate reports every out-of-range parameter.
func (c GenerationConfig) Validate() error {
	var errs []error
	if c.MaxOutputTokens <= 0 {
		errs = append(errs, fmt.Errorf("max_output_tokens must be positive, got %d", c.MaxOutputTokens))
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		errs = append(errs, fmt.Errorf("temperature must be within [0, 2], got %g", c.Temperature))
	}
	if c.TopP <= 0 || c.TopP > 1 {
		errs = append(errs, fmt.Errorf("top_p must be within (0, 1], got %g", c.TopP))
	}
	return errors.Join(errs...)
}
