package agent

import (
	"context"
	"fmt"
)

// Request contains the normalized parameters for one model backend call.
type Request struct {
	Model        string
	SystemPrompt string
	Messages     []Message
	Tools        []ToolSpec
	MaxTokens    int
	Temperature  float64
}

// ToolCallDelta is one streamed fragment of a tool call. Fragments sharing
// the same Index (preferred) or, absent an index, the same ID coalesce into
// one complete ToolCall with concatenated Arguments.
type ToolCallDelta struct {
	Index     *int
	ID        string
	Name      string
	Arguments string
}

// Chunk is one unit of a provider's streamed output.
type Chunk struct {
	TextDelta    string
	ToolCall     *ToolCallDelta
	FinishReason string
	Usage        *Usage
	Err          error
}

// Response is the non-streaming variant of a backend reply.
type Response struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
	Usage        *Usage
}

// Provider is the normalized model backend contract. Stream returns a
// channel that is closed once the backend turn ends; a terminal failure is
// delivered as a Chunk carrying Err.
type Provider interface {
	Name() string
	Stream(ctx context.Context, req Request) (<-chan Chunk, error)
	Complete(ctx context.Context, req Request) (*Response, error)
}

// ProviderConfig selects and authenticates one backend.
type ProviderConfig struct {
	Name   string // "anthropic" or "openai"
	APIKey string
}

// Creator builds providers from configuration.
type Creator interface {
	NewProvider(cfg ProviderConfig) (Provider, error)
}

// Factory is the default Creator, keyed on the provider name.
type Factory struct{}

// NewProvider creates a provider for the named backend.
func (f *Factory) NewProvider(cfg ProviderConfig) (Provider, error) {
	switch cfg.Name {
	case "anthropic":
		return NewAnthropicProvider(cfg.APIKey), nil
	case "openai":
		return NewOpenAIProvider(cfg.APIKey), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Name)
	}
}
