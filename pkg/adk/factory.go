package adk

import (
	"context"
	"fmt"
)

// Providers lists the names NewProvider accepts.
var Providers = []string{"gemini", "openai", "anthropic"}

// NewProvider builds a provider by name. baseURL is optional and only used
// by the HTTP providers, e.g. to point "openai" at a compatible local server.
func NewProvider(ctx context.Context, providerName, apiKey, modelName, baseURL string) (LLMProvider, error) {
	switch providerName {
	case "gemini":
		return NewGeminiProvider(ctx, apiKey, modelName)
	case "openai":
		return NewOpenAIProvider(apiKey, modelName, baseURL), nil
	case "anthropic":
		return NewAnthropicProvider(apiKey, modelName, baseURL), nil
	default:
		return nil, fmt.Errorf("unknown provider: %s", providerName)
	}
}
