package agent

import (
	"context"
	"fmt"
)

// Provider is the completion boundary invoked during the emergence phase.
// Implementations wrap a hosted model API; the loop treats the reply as
// opaque text and falls back to a local heuristic when the call fails.
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
	Name() string
}

// CompletionRequest is a single-turn completion call.
type CompletionRequest struct {
	Model       string
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// Completion is the provider's reply.
type Completion struct {
	Text  string
	Usage TokenUsage
}

// TokenUsage reports provider-side token consumption for cost attribution.
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
}

// ProviderConfig selects and authenticates a provider implementation.
type ProviderConfig struct {
	Kind   string `json:"kind" mapstructure:"kind"`
	APIKey string `json:"api_key" mapstructure:"api_key"`
}

// NewProvider constructs the provider named by cfg.Kind.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	switch cfg.Kind {
	case "anthropic":
		return NewAnthropicProvider(cfg.APIKey), nil
	case "openai":
		return NewOpenAIProvider(cfg.APIKey), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Kind)
	}
}
