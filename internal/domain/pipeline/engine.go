package pipeline

import (
	"context"

	"github.com/preflightlabs/preflight/internal/infra/llm"
)

// defaultInitialPrompt is used when a pipeline defines no initial prompt.
const defaultInitialPrompt = "Based on the survey responses provided, introduce yourself as an " +
	"AI coach and ask an open-ended question to begin exploring the user's " +
	"challenges and goals. Be warm, professional, and curious."

// Definition holds the prompt templates of a stored pipeline.
type Definition struct {
	SystemPrompt  string `json:"system_prompt"`
	InitialPrompt string `json:"initial_prompt"`
}

// Result is the outcome of executing a pipeline round. Execution is total:
// provider failures are reported through Success/Error, never as a Go error,
// so callers always get an accountable result.
type Result struct {
	Success      bool
	Response     string
	LLMResponse  *llm.Response
	SafetyCheck  *CheckResult
	Error        string
	UsedFallback bool
}

// Engine executes prompt pipelines: template substitution, conversation
// assembly, safety filtering, and the LLM call.
type Engine struct {
	provider llm.Provider
	filter   *Filter
}

// NewEngine builds an engine around a provider. The provider is expected to
// carry its own retry behavior.
func NewEngine(provider llm.Provider) *Engine {
	return &Engine{provider: provider, filter: NewFilter()}
}

// Filter exposes the engine's safety filter for input sanitization at the
// persistence boundary.
func (e *Engine) Filter() *Filter { return e.filter }

// BuildMessages assembles the LLM conversation. The safety system prompt is
// always first, followed by the rendered pipeline system prompt, the history
// verbatim, and the current user message last.
func (e *Engine) BuildMessages(def Definition, vars map[string]any, history []llm.Message, userMessage string) []llm.Message {
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: e.filter.SystemPrompt()},
	}
	if def.SystemPrompt != "" {
		messages = append(messages, llm.Message{
			Role:    llm.RoleSystem,
			Content: Substitute(def.SystemPrompt, vars),
		})
	}
	messages = append(messages, history...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: userMessage})
	return messages
}

// ExecuteRound runs one coaching exchange.
//
// Harmful input short-circuits to a fallback with zero LLM calls. Detected
// personal information is redacted before the model sees it. Unsafe model
// output is replaced by a fallback, but the LLM response is kept for token
// and cost accounting.
func (e *Engine) ExecuteRound(ctx context.Context, def Definition, vars map[string]any, history []llm.Message, userMessage string, cfg llm.Config) *Result {
	inputCheck := e.filter.CheckInput(userMessage)
	if !inputCheck.IsSafe && inputCheck.Violation == ViolationHarmfulContent {
		fallback, _ := e.filter.FallbackResponse(inputCheck.Violation)
		return &Result{
			Success:      true,
			Response:     fallback,
			SafetyCheck:  &inputCheck,
			UsedFallback: true,
		}
	}

	cleanMessage := userMessage
	if inputCheck.RedactedContent != "" {
		cleanMessage = inputCheck.RedactedContent
	}

	messages := e.BuildMessages(def, vars, history, cleanMessage)

	llmResponse, err := e.provider.Generate(ctx, messages, cfg)
	if err != nil {
		return &Result{Success: false, Error: err.Error()}
	}

	outputCheck := e.filter.CheckOutput(llmResponse.Content)
	if !outputCheck.IsSafe {
		if fallback, ok := e.filter.FallbackResponse(outputCheck.Violation); ok {
			return &Result{
				Success:      true,
				Response:     fallback,
				LLMResponse:  llmResponse,
				SafetyCheck:  &outputCheck,
				UsedFallback: true,
			}
		}
	}

	return &Result{
		Success:     true,
		Response:    llmResponse.Content,
		LLMResponse: llmResponse,
		SafetyCheck: &outputCheck,
	}
}

// GenerateInitialMessage produces the opening coaching message from the
// pipeline's initial prompt (or the built-in default when absent).
func (e *Engine) GenerateInitialMessage(ctx context.Context, def Definition, vars map[string]any, cfg llm.Config) *Result {
	initialPrompt := def.InitialPrompt
	if initialPrompt == "" {
		initialPrompt = defaultInitialPrompt
	}

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: e.filter.SystemPrompt()},
	}
	if def.SystemPrompt != "" {
		messages = append(messages, llm.Message{
			Role:    llm.RoleSystem,
			Content: Substitute(def.SystemPrompt, vars),
		})
	}
	messages = append(messages, llm.Message{
		Role:    llm.RoleUser,
		Content: Substitute(initialPrompt, vars),
	})

	llmResponse, err := e.provider.Generate(ctx, messages, cfg)
	if err != nil {
		return &Result{Success: false, Error: err.Error()}
	}

	return &Result{
		Success:     true,
		Response:    llmResponse.Content,
		LLMResponse: llmResponse,
	}
}
