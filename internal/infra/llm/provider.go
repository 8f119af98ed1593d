// Package llm — Provider interface.
// Adapters (OpenAI-compatible, Anthropic-compatible) implement this interface
// so the application is never coupled to a specific LLM vendor.
package llm

import "context"

// Provider is the model-agnostic interface for chat generation.
// Streaming is excluded on purpose (adds goroutine complexity not needed yet).
type Provider interface {
	// Name identifies the backing vendor.
	Name() ProviderName

	// Generate performs a non-streaming chat completion.
	Generate(ctx context.Context, messages []Message, cfg Config) (*Response, error)

	// CountTokens estimates how many tokens text occupies for model.
	CountTokens(ctx context.Context, text, model string) (int, error)

	// HealthCheck returns nil if the provider is reachable and operational.
	HealthCheck(ctx context.Context) error
}
