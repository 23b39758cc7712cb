package llm

import (
	"fmt"

	"refinery/internal/config"
)

// NewFromConfig builds a Client from the triage section of the config.
// Provider "custom" selects the OpenAI-compatible client with whatever
// base URL the operator supplied.
func NewFromConfig(cfg config.TriageConfig) (Client, error) {
	timeout := config.ParseDuration(cfg.Timeout, 0)

	switch cfg.Provider {
	case "", "anthropic":
		return NewAnthropicClientWithConfig(AnthropicConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: timeout,
		}), nil
	case "openai", "custom":
		return NewOpenAIClientWithConfig(OpenAIConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: timeout,
		}), nil
	default:
		return nil, fmt.Errorf("unknown reasoning provider %q", cfg.Provider)
	}
}
