package llm

import (
	"fmt"
	"time"
)

// FactoryConfig selects and configures a provider.
type FactoryConfig struct {
	Provider    string // "openai", "gemini", or any OpenAI-compatible name
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// NewClient builds the provider named by config. Unknown providers with
// a base URL fall back to the OpenAI-compatible client, since most
// hosted gateways speak that protocol.
func NewClient(config FactoryConfig) (Client, error) {
	switch config.Provider {
	case "gemini":
		return NewGeminiClient(GeminiConfig{
			APIKey:      config.APIKey,
			Model:       config.Model,
			Temperature: config.Temperature,
			Timeout:     config.Timeout,
		})
	case "openai", "":
		return NewOpenAIClient(OpenAIConfig{
			APIKey:      config.APIKey,
			BaseURL:     config.BaseURL,
			Model:       config.Model,
			Temperature: config.Temperature,
			Timeout:     config.Timeout,
		}), nil
	default:
		if config.BaseURL != "" {
			return NewOpenAIClient(OpenAIConfig{
				APIKey:      config.APIKey,
				BaseURL:     config.BaseURL,
				Model:       config.Model,
				Temperature: config.Temperature,
				Timeout:     config.Timeout,
			}), nil
		}
		return nil, fmt.Errorf("unknown LLM provider: %s", config.Provider)
	}
}
