// Unit tests for AnthropicProvider.
// Uses httptest.NewServer to mock the messages API — no real endpoint needed.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// ============================================================================
// Generate tests
// ============================================================================

func TestAnthropicProvider_Generate_Success(t *testing.T) {
	t.Parallel()

	var captured anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" || r.Method != http.MethodPost {
			http.Error(w, "unexpected path", http.StatusNotFound)
			return
		}
		if r.Header.Get("x-api-key") != "test-key" {
			http.Error(w, "missing api key", http.StatusUnauthorized)
			return
		}
		if r.Header.Get("anthropic-version") != anthropicAPIVersion {
			http.Error(w, "missing version header", http.StatusBadRequest)
			return
		}
		json.NewDecoder(r.Body).Decode(&captured) //nolint:errcheck
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(anthropicResponse{ //nolint:errcheck
			Content:    []anthropicContentBlock{{Type: "text", Text: "Hello "}, {Type: "text", Text: "there"}},
			Model:      "claude-3-5-sonnet-20241022",
			StopReason: "end_turn",
			Usage:      anthropicUsage{InputTokens: 12, OutputTokens: 7},
		})
	}))
	defer srv.Close()

	p := NewAnthropicProvider("test-key", srv.URL, "claude-3-5-sonnet-20241022")
	resp, err := p.Generate(context.Background(), []Message{
		{Role: RoleSystem, Content: "be helpful"},
		{Role: RoleUser, Content: "hi"},
	}, Config{Temperature: 0.6, MaxTokens: 150})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if resp.Content != "Hello there" {
		t.Errorf("expected concatenated text blocks, got %q", resp.Content)
	}
	if resp.FinishReason != "end_turn" {
		t.Errorf("expected finish reason end_turn, got %q", resp.FinishReason)
	}
	if resp.TotalTokens != 19 {
		t.Errorf("expected total tokens 19, got %d", resp.TotalTokens)
	}
	if resp.Provider != ProviderAnthropic {
		t.Errorf("expected provider anthropic, got %q", resp.Provider)
	}
	if captured.System != "be helpful" {
		t.Errorf("expected system prompt hoisted, got %q", captured.System)
	}
	if len(captured.Messages) != 1 || captured.Messages[0].Role != "user" {
		t.Errorf("expected one user message in body, got %+v", captured.Messages)
	}
	if captured.Temperature == nil || *captured.Temperature != 0.6 {
		t.Errorf("expected temperature 0.6 in body, got %+v", captured.Temperature)
	}
}

func TestAnthropicProvider_Generate_ErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		status     int
		retryAfter string
		check      func(t *testing.T, err error)
	}{
		{
			name:   "429 maps to RateLimitError with default hint",
			status: http.StatusTooManyRequests,
			check: func(t *testing.T, err error) {
				var rlErr *RateLimitError
				if !errors.As(err, &rlErr) {
					t.Fatalf("expected *RateLimitError, got %T", err)
				}
				if rlErr.RetryAfter != 60*time.Second {
					t.Errorf("expected 60s default hint, got %v", rlErr.RetryAfter)
				}
			},
		},
		{
			name:       "429 with Retry-After header",
			status:     http.StatusTooManyRequests,
			retryAfter: "15",
			check: func(t *testing.T, err error) {
				var rlErr *RateLimitError
				if !errors.As(err, &rlErr) {
					t.Fatalf("expected *RateLimitError, got %T", err)
				}
				if rlErr.RetryAfter != 15*time.Second {
					t.Errorf("expected 15s hint, got %v", rlErr.RetryAfter)
				}
			},
		},
		{
			name:   "401 maps to AuthenticationError",
			status: http.StatusUnauthorized,
			check: func(t *testing.T, err error) {
				var authErr *AuthenticationError
				if !errors.As(err, &authErr) {
					t.Fatalf("expected *AuthenticationError, got %T", err)
				}
			},
		},
		{
			name:   "400 maps to InvalidRequestError",
			status: http.StatusBadRequest,
			check: func(t *testing.T, err error) {
				var invalidErr *InvalidRequestError
				if !errors.As(err, &invalidErr) {
					t.Fatalf("expected *InvalidRequestError, got %T", err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.retryAfter != "" {
					w.Header().Set("Retry-After", tt.retryAfter)
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
					"error": map[string]string{"type": "api_error", "message": "nope"},
				})
			}))
			defer srv.Close()

			p := NewAnthropicProvider("test-key", srv.URL, "claude-3-haiku-20240307")
			_, err := p.Generate(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, Config{})
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			tt.check(t, err)
		})
	}
}

func TestAnthropicProvider_Generate_ServerDown_TransportError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // closed before the call

	p := NewAnthropicProvider("test-key", srv.URL, "claude-3-haiku-20240307")
	_, err := p.Generate(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, Config{})
	if err == nil {
		t.Fatal("expected transport error")
	}
	if !IsRetryable(err) {
		t.Error("transport errors should be retryable")
	}
}

// ============================================================================
// System message hoisting tests
// ============================================================================

func TestSplitSystemMessage_FirstSystemWins(t *testing.T) {
	t.Parallel()

	system, rest := splitSystemMessage([]Message{
		{Role: RoleSystem, Content: "first"},
		{Role: RoleUser, Content: "question"},
		{Role: RoleSystem, Content: "second"},
		{Role: RoleAssistant, Content: "answer"},
	})
	if system != "first" {
		t.Errorf("expected first system message, got %q", system)
	}
	if len(rest) != 2 {
		t.Fatalf("expected 2 non-system messages, got %d", len(rest))
	}
	if rest[0].Role != "user" || rest[1].Role != "assistant" {
		t.Errorf("expected order preserved, got %+v", rest)
	}
}

func TestSplitSystemMessage_NoSystem(t *testing.T) {
	t.Parallel()

	system, rest := splitSystemMessage([]Message{{Role: RoleUser, Content: "hi"}})
	if system != "" {
		t.Errorf("expected empty system, got %q", system)
	}
	if len(rest) != 1 {
		t.Errorf("expected 1 message, got %d", len(rest))
	}
}

// ============================================================================
// CountTokens / HealthCheck tests
// ============================================================================

func TestAnthropicProvider_CountTokens_Heuristic(t *testing.T) {
	t.Parallel()

	p := NewAnthropicProvider("k", "http://localhost:1", "claude-3-haiku-20240307")
	n, err := p.CountTokens(context.Background(), "abcdefgh", "claude-3-haiku-20240307")
	if err != nil {
		t.Fatalf("CountTokens failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 tokens for 8 chars, got %d", n)
	}
}

func TestAnthropicProvider_HealthCheck_Healthy(t *testing.T) {
	t.Parallel()

	var captured anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&captured) //nolint:errcheck
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(anthropicResponse{ //nolint:errcheck
			Content: []anthropicContentBlock{{Type: "text", Text: "ok"}},
		})
	}))
	defer srv.Close()

	p := NewAnthropicProvider("test-key", srv.URL, "claude-3-5-sonnet-20241022")
	if err := p.HealthCheck(context.Background()); err != nil {
		t.Fatalf("expected healthy, got %v", err)
	}
	if captured.Model != anthropicHealthModel {
		t.Errorf("expected health model %q, got %q", anthropicHealthModel, captured.Model)
	}
	if captured.MaxTokens != 1 {
		t.Errorf("expected 1 max token, got %d", captured.MaxTokens)
	}
}

func TestAnthropicProvider_HealthCheck_Down_ReturnsError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	p := NewAnthropicProvider("test-key", srv.URL, "claude-3-5-sonnet-20241022")
	if err := p.HealthCheck(context.Background()); err == nil {
		t.Error("expected error when server is down, got nil")
	}
}
