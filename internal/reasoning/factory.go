package reasoning

import (
	"fmt"
	"os"
)

// NewBackend creates a Generator for the named provider. Model and baseURL
// fall back to provider defaults when empty. Returns the generator and the
// resolved model name.
func NewBackend(provider, apiKey, model, baseURL string) (Generator, string, error) {
	switch provider {
	case "openai":
		if apiKey == "" {
			return nil, "", fmt.Errorf("openai: api key not set")
		}
		if model == "" {
			model = "gpt-4o-mini"
		}
		return NewOpenAIBackend(apiKey, model, baseURL), model, nil

	case "anthropic":
		if apiKey == "" {
			return nil, "", fmt.Errorf("anthropic: api key not set")
		}
		if model == "" {
			model = "claude-3-5-sonnet-20241022"
		}
		return NewAnthropicBackend(apiKey, model), model, nil

	case "ollama":
		if baseURL == "" {
			baseURL = "http://localhost:11434/v1"
		}
		if model == "" {
			model = "llama3.1"
		}
		if apiKey == "" {
			apiKey = "ollama"
		}
		return NewOpenAIBackend(apiKey, model, baseURL), model, nil

	case "deepseek":
		if apiKey == "" {
			return nil, "", fmt.Errorf("deepseek: api key not set")
		}
		if model == "" {
			model = "deepseek-chat"
		}
		if baseURL == "" {
			baseURL = "https://api.deepseek.com/v1"
		}
		return NewOpenAIBackend(apiKey, model, baseURL), model, nil

	default:
		return nil, "", fmt.Errorf("unknown provider: %s (supported: openai, anthropic, ollama, deepseek)", provider)
	}
}

// NewFromEnv creates a Generator based on environment variables. Returns
// the generator and the resolved model name.
func NewFromEnv() (Generator, string, error) {
	provider := os.Getenv("REASONING_PROVIDER")
	if provider == "" {
		provider = "openai"
	}

	var apiKey, model, baseURL string
	switch provider {
	case "openai":
		apiKey = os.Getenv("OPENAI_API_KEY")
		model = os.Getenv("OPENAI_MODEL")
		baseURL = os.Getenv("OPENAI_BASE_URL")
	case "anthropic":
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
		model = os.Getenv("ANTHROPIC_MODEL")
	case "ollama":
		apiKey = os.Getenv("OLLAMA_API_KEY")
		model = os.Getenv("OLLAMA_MODEL")
		baseURL = os.Getenv("OLLAMA_BASE_URL")
	case "deepseek":
		apiKey = os.Getenv("DEEPSEEK_API_KEY")
		model = os.Getenv("DEEPSEEK_MODEL")
	}
	return NewBackend(provider, apiKey, model, baseURL)
}
