// Package llm defines the provider-agnostic chat completion abstraction.
// All types here are shared between the provider interface and adapters.
package llm

import "time"

// Role identifies who authored a message in a conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ProviderName identifies a backing vendor.
type ProviderName string

const (
	ProviderOpenAI    ProviderName = "openai"
	ProviderAnthropic ProviderName = "anthropic"
)

// Message represents a single turn in a conversation (role + content).
type Message struct {
	Role    Role
	Content string
}

// Config carries per-request generation parameters.
// Model overrides the provider default when non-empty.
type Config struct {
	Model         string
	Temperature   float64
	MaxTokens     int
	Timeout       time.Duration
	TopP          float64
	StopSequences []string
}

// DefaultConfig returns the baseline generation parameters used when a
// pipeline does not override them.
func DefaultConfig(model string) Config {
	return Config{
		Model:       model,
		Temperature: 0.7,
		MaxTokens:   150,
		Timeout:     45 * time.Second,
		TopP:        1.0,
	}
}

// Response is the output of a completed (non-streaming) generation.
type Response struct {
	Content          string
	Model            string
	Provider         ProviderName
	FinishReason     string // "stop" | "length" | "end_turn" | ...
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	ResponseTimeMs   int64
	Timestamp        time.Time
}

// heuristicTokenCount approximates token usage at ~4 characters per token.
// Used when no model-specific tokenizer is available.
func heuristicTokenCount(text string) int {
	return len(text) / 4
}
