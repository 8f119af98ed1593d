// Package llm — provider construction.
// New selects and assembles an adapter by provider name, wrapped with the
// retry decorator. Keys are validated here so misconfiguration surfaces at
// startup, not on the first user request.
package llm

import "fmt"

// Options carries the credentials and endpoints for all known providers.
type Options struct {
	OpenAIAPIKey     string
	OpenAIBaseURL    string
	OpenAIModel      string
	AnthropicAPIKey  string
	AnthropicBaseURL string
	AnthropicModel   string
	Retry            RetryPolicy
}

// New builds a retry-wrapped Provider for the named vendor.
func New(name ProviderName, opts Options) (Provider, error) {
	retry := opts.Retry
	if retry.MaxAttempts == 0 {
		retry = DefaultRetryPolicy()
	}

	switch name {
	case ProviderOpenAI:
		if opts.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("llm: openai API key not configured")
		}
		return WithRetry(NewOpenAIProvider(opts.OpenAIAPIKey, opts.OpenAIBaseURL, opts.OpenAIModel), retry), nil
	case ProviderAnthropic:
		if opts.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("llm: anthropic API key not configured")
		}
		return WithRetry(NewAnthropicProvider(opts.AnthropicAPIKey, opts.AnthropicBaseURL, opts.AnthropicModel), retry), nil
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", name)
	}
}
