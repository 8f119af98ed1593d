// Package llm — OpenAI-compatible adapter.
// Talks to any endpoint that speaks the OpenAI chat completions API.
// System messages are passed inline in the message list; token counting uses
// the tiktoken encoding for the model with a characters/4 fallback.
package llm

import (
	"context"
	"errors"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/pkoukk/tiktoken-go"
)

// OpenAIProvider implements Provider against an OpenAI-compatible API.
type OpenAIProvider struct {
	client       openai.Client
	defaultModel string
}

// NewOpenAIProvider builds the adapter. baseURL may be empty to use the
// vendor default. SDK-level retries are disabled; retry behavior belongs to
// the WithRetry decorator so the attempt budget stays observable.
func NewOpenAIProvider(apiKey, baseURL, defaultModel string) *OpenAIProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIProvider{
		client:       openai.NewClient(opts...),
		defaultModel: defaultModel,
	}
}

func (p *OpenAIProvider) Name() ProviderName { return ProviderOpenAI }

// Generate performs a non-streaming chat completion.
func (p *OpenAIProvider) Generate(ctx context.Context, messages []Message, cfg Config) (*Response, error) {
	model := cfg.Model
	if model == "" {
		model = p.defaultModel
	}

	params := openai.ChatCompletionNewParams{
		Model:       model,
		Messages:    toOpenAIMessages(messages),
		Temperature: param.NewOpt(cfg.Temperature),
	}
	if cfg.MaxTokens > 0 {
		params.MaxTokens = param.NewOpt(int64(cfg.MaxTokens))
	}
	if cfg.TopP > 0 {
		params.TopP = param.NewOpt(cfg.TopP)
	}
	if len(cfg.StopSequences) > 0 {
		params.Stop = openai.ChatCompletionNewParamsStopUnion{OfStringArray: cfg.StopSequences}
	}

	callOpts := []option.RequestOption{}
	if cfg.Timeout > 0 {
		callOpts = append(callOpts, option.WithRequestTimeout(cfg.Timeout))
	}

	start := time.Now()
	completion, err := p.client.Chat.Completions.New(ctx, params, callOpts...)
	if err != nil {
		return nil, p.mapError(err)
	}
	if len(completion.Choices) == 0 {
		return nil, &APIError{Provider: ProviderOpenAI, Message: "empty choices in completion"}
	}

	choice := completion.Choices[0]
	return &Response{
		Content:          choice.Message.Content,
		Model:            completion.Model,
		Provider:         ProviderOpenAI,
		FinishReason:     string(choice.FinishReason),
		PromptTokens:     int(completion.Usage.PromptTokens),
		CompletionTokens: int(completion.Usage.CompletionTokens),
		TotalTokens:      int(completion.Usage.TotalTokens),
		ResponseTimeMs:   time.Since(start).Milliseconds(),
		Timestamp:        time.Now().UTC(),
	}, nil
}

// CountTokens uses the tiktoken encoding for model, falling back to
// cl100k_base and finally to the characters/4 heuristic.
func (p *OpenAIProvider) CountTokens(_ context.Context, text, model string) (int, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
	}
	if err != nil {
		return heuristicTokenCount(text), nil
	}
	return len(enc.Encode(text, nil, nil)), nil
}

// HealthCheck lists models — cheap and requires a valid key.
func (p *OpenAIProvider) HealthCheck(ctx context.Context) error {
	if _, err := p.client.Models.List(ctx); err != nil {
		return p.mapError(err)
	}
	return nil
}

// mapError converts SDK errors into the shared taxonomy.
func (p *OpenAIProvider) mapError(err error) error {
	var aerr *openai.Error
	if errors.As(err, &aerr) {
		retryAfter := time.Duration(0)
		if aerr.Response != nil {
			retryAfter = parseRetryAfter(aerr.Response.Header.Get("Retry-After"))
		}
		return classifyStatus(ProviderOpenAI, aerr.StatusCode, aerr.Message, retryAfter)
	}
	return transportError(ProviderOpenAI, err)
}

// toOpenAIMessages converts shared messages into SDK param unions.
func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.ChatCompletionMessageParamUnion{
				OfSystem: &openai.ChatCompletionSystemMessageParam{
					Content: openai.ChatCompletionSystemMessageParamContentUnion{
						OfString: param.NewOpt(m.Content),
					},
				},
			})
		case RoleAssistant:
			out = append(out, openai.ChatCompletionMessageParamUnion{
				OfAssistant: &openai.ChatCompletionAssistantMessageParam{
					Content: openai.ChatCompletionAssistantMessageParamContentUnion{
						OfString: param.NewOpt(m.Content),
					},
				},
			})
		default:
			out = append(out, openai.ChatCompletionMessageParamUnion{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Content: openai.ChatCompletionUserMessageParamContentUnion{
						OfString: param.NewOpt(m.Content),
					},
				},
			})
		}
	}
	return out
}
