// Package llm — Anthropic-compatible adapter.
// Calls the Anthropic messages REST API using stdlib net/http.
// Endpoints used:
//   - POST /v1/messages — non-streaming message completion (also health check)
//
// The messages API takes the system prompt as a top-level parameter: the
// first system message in the conversation is hoisted there and any later
// system messages are dropped.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	anthropicDefaultBaseURL = "https://api.anthropic.com"
	anthropicAPIVersion     = "2023-06-01"
	anthropicHealthModel    = "claude-3-haiku-20240307"

	mimeJSON          = "application/json"
	headerContentType = "Content-Type"
)

// AnthropicProvider implements Provider against the Anthropic messages API.
type AnthropicProvider struct {
	baseURL      string
	apiKey       string
	defaultModel string
	httpClient   *http.Client
}

// NewAnthropicProvider builds the adapter. baseURL may be empty to use the
// vendor default.
func NewAnthropicProvider(apiKey, baseURL, defaultModel string) *AnthropicProvider {
	if baseURL == "" {
		baseURL = anthropicDefaultBaseURL
	}
	return &AnthropicProvider{
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       apiKey,
		defaultModel: defaultModel,
		httpClient:   &http.Client{},
	}
}

func (p *AnthropicProvider) Name() ProviderName { return ProviderAnthropic }

// ─── internal wire types ─────────────────────────────────────────────────────

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model         string             `json:"model"`
	MaxTokens     int                `json:"max_tokens"`
	System        string             `json:"system,omitempty"`
	Messages      []anthropicMessage `json:"messages"`
	Temperature   *float64           `json:"temperature,omitempty"`
	TopP          *float64           `json:"top_p,omitempty"`
	StopSequences []string           `json:"stop_sequences,omitempty"`
}

type anthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicResponse struct {
	Content    []anthropicContentBlock `json:"content"`
	Model      string                  `json:"model"`
	StopReason string                  `json:"stop_reason"`
	Usage      anthropicUsage          `json:"usage"`
}

type anthropicErrorBody struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// ─── Provider implementation ─────────────────────────────────────────────────

// Generate performs a non-streaming message completion via POST /v1/messages.
func (p *AnthropicProvider) Generate(ctx context.Context, messages []Message, cfg Config) (*Response, error) {
	model := cfg.Model
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 150 // the API requires max_tokens
	}

	system, rest := splitSystemMessage(messages)
	req := anthropicRequest{
		Model:         model,
		MaxTokens:     maxTokens,
		System:        system,
		Messages:      rest,
		StopSequences: cfg.StopSequences,
	}
	if cfg.Temperature > 0 {
		t := cfg.Temperature
		req.Temperature = &t
	}
	if cfg.TopP > 0 && cfg.TopP < 1 {
		tp := cfg.TopP
		req.TopP = &tp
	}

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	var resp anthropicResponse
	if err := p.doPost(ctx, "/v1/messages", req, &resp); err != nil {
		return nil, err
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}

	return &Response{
		Content:          sb.String(),
		Model:            resp.Model,
		Provider:         ProviderAnthropic,
		FinishReason:     resp.StopReason,
		PromptTokens:     resp.Usage.InputTokens,
		CompletionTokens: resp.Usage.OutputTokens,
		TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		ResponseTimeMs:   time.Since(start).Milliseconds(),
		Timestamp:        time.Now().UTC(),
	}, nil
}

// CountTokens has no offline tokenizer for Anthropic models; uses the
// characters/4 heuristic.
func (p *AnthropicProvider) CountTokens(_ context.Context, text, _ string) (int, error) {
	return heuristicTokenCount(text), nil
}

// HealthCheck sends a minimal 1-token message on the cheapest model.
func (p *AnthropicProvider) HealthCheck(ctx context.Context) error {
	req := anthropicRequest{
		Model:     anthropicHealthModel,
		MaxTokens: 1,
		Messages:  []anthropicMessage{{Role: string(RoleUser), Content: "ping"}},
	}
	var resp anthropicResponse
	return p.doPost(ctx, "/v1/messages", req, &resp)
}

// ─── helpers ─────────────────────────────────────────────────────────────────

// splitSystemMessage hoists the first system message out of the conversation.
// Later system messages are dropped; user/assistant order is preserved.
func splitSystemMessage(messages []Message) (string, []anthropicMessage) {
	system := ""
	rest := make([]anthropicMessage, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			if system == "" {
				system = m.Content
			}
			continue
		}
		rest = append(rest, anthropicMessage{Role: string(m.Role), Content: m.Content})
	}
	return system, rest
}

// doPost sends a POST request and decodes the response into out.
// Non-2xx statuses are classified into the shared error taxonomy.
func (p *AnthropicProvider) doPost(ctx context.Context, path string, body any, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("anthropic post %s: marshal: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("anthropic post %s: build request: %w", path, err)
	}
	req.Header.Set(headerContentType, mimeJSON)
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return transportError(ProviderAnthropic, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		message := fmt.Sprintf("status %d", resp.StatusCode)
		var errBody anthropicErrorBody
		if decodeErr := json.NewDecoder(resp.Body).Decode(&errBody); decodeErr == nil && errBody.Error.Message != "" {
			message = errBody.Error.Message
		}
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		if resp.StatusCode == http.StatusTooManyRequests && retryAfter == 0 {
			retryAfter = 60 * time.Second
		}
		return classifyStatus(ProviderAnthropic, resp.StatusCode, message, retryAfter)
	}

	if decodeErr := json.NewDecoder(resp.Body).Decode(out); decodeErr != nil {
		return fmt.Errorf("anthropic post %s: decode response: %w", path, decodeErr)
	}
	return nil
}
