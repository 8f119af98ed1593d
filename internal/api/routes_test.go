// End-to-end tests for the HTTP surface: routing, auth wiring, status codes,
// and JSON envelopes. The LLM is a scripted fake; everything else is real.
package api_test

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/preflightlabs/preflight/internal/api"
	"github.com/preflightlabs/preflight/internal/domain/coaching"
	"github.com/preflightlabs/preflight/internal/domain/usage"
	"github.com/preflightlabs/preflight/internal/infra/eventbus"
	"github.com/preflightlabs/preflight/internal/infra/llm"
	"github.com/preflightlabs/preflight/internal/infra/sqlite"
)

// fakeProvider answers every generation with a canned response.
type fakeProvider struct {
	mu      sync.Mutex
	content string
	calls   int
}

func (f *fakeProvider) Name() llm.ProviderName { return llm.ProviderOpenAI }

func (f *fakeProvider) Generate(_ context.Context, _ []llm.Message, _ llm.Config) (*llm.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return &llm.Response{
		Content:          f.content,
		Model:            "gpt-4-turbo",
		Provider:         llm.ProviderOpenAI,
		FinishReason:     "stop",
		PromptTokens:     20,
		CompletionTokens: 10,
		TotalTokens:      30,
		ResponseTimeMs:   12,
	}, nil
}

func (f *fakeProvider) CountTokens(_ context.Context, text, _ string) (int, error) {
	return len(text) / 4, nil
}

func (f *fakeProvider) HealthCheck(_ context.Context) error { return nil }

type testEnv struct {
	router   *chi.Mux
	db       *sql.DB
	recorder *usage.Recorder
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := sqlite.NewDB(filepath.Join(t.TempDir(), "test.sqlite"))
	if err != nil {
		t.Fatalf("sqlite.NewDB error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck
	if err := sqlite.MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp error = %v", err)
	}

	provider := &fakeProvider{content: "Great, let's explore what your pilots taught you."}
	bus := eventbus.New()
	registry := coaching.NewRegistry(db)
	service := coaching.NewService(db, registry, map[llm.ProviderName]llm.Provider{
		llm.ProviderOpenAI:    provider,
		llm.ProviderAnthropic: provider,
	}, bus)
	recorder := usage.NewRecorder(db)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go recorder.Start(ctx, bus)
	time.Sleep(10 * time.Millisecond) // let the recorder subscribe

	router := api.NewRouter(api.Deps{
		DB:       db,
		Coaching: service,
		Registry: registry,
		Usage:    recorder,
		AuthMode: "stub",
	})
	return &testEnv{router: router, db: db, recorder: recorder}
}

// doJSON issues a request against the router and returns the recorder.
func (e *testEnv) doJSON(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-Id", "tester")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) startSession(t *testing.T, runID string) *httptest.ResponseRecorder {
	t.Helper()
	return e.doJSON(t, http.MethodPost, "/api/v1/coaching/sessions", map[string]any{
		"runId": runID,
		"answers": []map[string]any{
			{"pageId": "readiness", "fieldName": "ai_experience", "value": "ran two pilots"},
		},
	})
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

// ============================================================================
// Public routes
// ============================================================================

func TestRouter_Health(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := env.doJSON(t, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("body = %q; want ok status", rec.Body.String())
	}
}

func TestRouter_Version(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := env.doJSON(t, http.MethodGet, "/version", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "preflight version") {
		t.Errorf("body = %q; want version string", rec.Body.String())
	}
}

// ============================================================================
// Coaching session endpoints
// ============================================================================

func TestRouter_StartSession(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := env.startSession(t, "run-http-1")
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d; want 201; body %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Session struct {
			RunID        string `json:"runId"`
			Status       string `json:"status"`
			CurrentRound int    `json:"currentRound"`
			MaxRounds    int    `json:"maxRounds"`
		} `json:"session"`
		Turns           []struct{ TurnNumber int } `json:"turns"`
		RoundsRemaining int                        `json:"roundsRemaining"`
	}
	decodeBody(t, rec, &resp)

	if resp.Session.RunID != "run-http-1" || resp.Session.Status != "active" {
		t.Errorf("session = %+v; want active run-http-1", resp.Session)
	}
	if resp.Session.CurrentRound != 1 || resp.Session.MaxRounds != 4 {
		t.Errorf("rounds = %d/%d; want 1/4", resp.Session.CurrentRound, resp.Session.MaxRounds)
	}
	if len(resp.Turns) != 1 || resp.Turns[0].TurnNumber != 1 {
		t.Errorf("turns = %+v; want single opening turn", resp.Turns)
	}
	if resp.RoundsRemaining != 3 {
		t.Errorf("roundsRemaining = %d; want 3", resp.RoundsRemaining)
	}
}

func TestRouter_StartSession_Duplicate(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	if rec := env.startSession(t, "run-dup"); rec.Code != http.StatusCreated {
		t.Fatalf("first start status = %d", rec.Code)
	}
	if rec := env.startSession(t, "run-dup"); rec.Code != http.StatusConflict {
		t.Errorf("second start status = %d; want 409", rec.Code)
	}
}

func TestRouter_StartSession_MissingRunID(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := env.doJSON(t, http.MethodPost, "/api/v1/coaching/sessions", map[string]any{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d; want 400", rec.Code)
	}
}

func TestRouter_SendMessage(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.startSession(t, "run-chat")

	rec := env.doJSON(t, http.MethodPost, "/api/v1/coaching/sessions/run-chat/messages",
		map[string]any{"message": "I want my team to trust the tooling."})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; want 200; body %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		UserTurn struct {
			TurnNumber int    `json:"turnNumber"`
			Role       string `json:"role"`
			Content    string `json:"content"`
		} `json:"userTurn"`
		AssistantTurn struct {
			TurnNumber int `json:"turnNumber"`
		} `json:"assistantTurn"`
		UsedFallback    bool `json:"usedFallback"`
		RoundsRemaining int  `json:"roundsRemaining"`
	}
	decodeBody(t, rec, &resp)

	if resp.UserTurn.TurnNumber != 2 || resp.UserTurn.Role != "user" {
		t.Errorf("user turn = %+v; want #2 user", resp.UserTurn)
	}
	if resp.UserTurn.Content != "I want my team to trust the tooling." {
		t.Errorf("user content = %q; want raw message", resp.UserTurn.Content)
	}
	if resp.AssistantTurn.TurnNumber != 3 {
		t.Errorf("assistant turn = #%d; want 3", resp.AssistantTurn.TurnNumber)
	}
	if resp.UsedFallback {
		t.Error("UsedFallback = true; want false")
	}
	if resp.RoundsRemaining != 2 {
		t.Errorf("roundsRemaining = %d; want 2", resp.RoundsRemaining)
	}
}

func TestRouter_SendMessage_UnknownSession(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := env.doJSON(t, http.MethodPost, "/api/v1/coaching/sessions/no-such-run/messages",
		map[string]any{"message": "hello"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d; want 404", rec.Code)
	}
}

func TestRouter_SendMessage_Empty(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.startSession(t, "run-empty")

	rec := env.doJSON(t, http.MethodPost, "/api/v1/coaching/sessions/run-empty/messages",
		map[string]any{"message": "   "})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d; want 400", rec.Code)
	}
}

func TestRouter_GetSession(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.startSession(t, "run-get")
	env.doJSON(t, http.MethodPost, "/api/v1/coaching/sessions/run-get/messages",
		map[string]any{"message": "first round"})

	rec := env.doJSON(t, http.MethodGet, "/api/v1/coaching/sessions/run-get", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; want 200", rec.Code)
	}

	var resp struct {
		Turns []struct {
			TurnNumber int    `json:"turnNumber"`
			Role       string `json:"role"`
		} `json:"turns"`
	}
	decodeBody(t, rec, &resp)
	if len(resp.Turns) != 3 {
		t.Fatalf("turns = %d; want 3", len(resp.Turns))
	}
	for i, turn := range resp.Turns {
		if turn.TurnNumber != i+1 {
			t.Errorf("turn[%d].TurnNumber = %d; want %d", i, turn.TurnNumber, i+1)
		}
	}
}

func TestRouter_EndSession(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.startSession(t, "run-end")

	rec := env.doJSON(t, http.MethodPost, "/api/v1/coaching/sessions/run-end/end", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; want 200", rec.Code)
	}
	var resp struct {
		Session struct {
			Status string `json:"status"`
		} `json:"session"`
	}
	decodeBody(t, rec, &resp)
	if resp.Session.Status != "completed" {
		t.Errorf("status = %q; want completed", resp.Session.Status)
	}

	// A second end is rejected.
	rec = env.doJSON(t, http.MethodPost, "/api/v1/coaching/sessions/run-end/end", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("second end status = %d; want 400", rec.Code)
	}
}

func TestRouter_SessionUsage(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.startSession(t, "run-usage")

	// The recorder consumes bus events asynchronously.
	deadline := time.Now().Add(2 * time.Second)
	for {
		rec := env.doJSON(t, http.MethodGet, "/api/v1/coaching/sessions/run-usage/usage", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d; want 200; body %s", rec.Code, rec.Body.String())
		}
		var resp struct {
			RunID       string `json:"runId"`
			Calls       int    `json:"calls"`
			TotalTokens int    `json:"totalTokens"`
		}
		decodeBody(t, rec, &resp)
		if resp.Calls >= 1 {
			if resp.RunID != "run-usage" || resp.TotalTokens != 30 {
				t.Errorf("usage = %+v; want run-usage with 30 tokens", resp)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("usage totals never reflected the opening call")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// ============================================================================
// Pipeline endpoints
// ============================================================================

func TestRouter_ListPipelines_Seeded(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := env.doJSON(t, http.MethodGet, "/api/v1/pipelines?active=true", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; want 200", rec.Code)
	}

	var resp struct {
		Data []struct {
			Name string `json:"name"`
		} `json:"data"`
	}
	decodeBody(t, rec, &resp)
	if len(resp.Data) != 2 {
		t.Fatalf("pipelines = %d; want 2 seeded", len(resp.Data))
	}
	names := map[string]bool{}
	for _, p := range resp.Data {
		names[p.Name] = true
	}
	if !names["default"] || !names["focused"] {
		t.Errorf("names = %v; want default and focused", names)
	}
}

func TestRouter_CreatePipeline(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	body := map[string]any{
		"name":        "experimental",
		"provider":    "openai",
		"model":       "gpt-4-turbo",
		"temperature": 0.9,
		"maxTokens":   180,
	}
	rec := env.doJSON(t, http.MethodPost, "/api/v1/pipelines", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d; want 201; body %s", rec.Code, rec.Body.String())
	}

	var created struct {
		ID          string `json:"id"`
		Temperature int    `json:"temperature"`
	}
	decodeBody(t, rec, &created)
	if created.Temperature != 90 {
		t.Errorf("temperature = %d; want 90 (scaled)", created.Temperature)
	}

	// Duplicate name conflicts.
	if rec := env.doJSON(t, http.MethodPost, "/api/v1/pipelines", body); rec.Code != http.StatusConflict {
		t.Errorf("duplicate status = %d; want 409", rec.Code)
	}

	// Round-trips through GET by id.
	rec = env.doJSON(t, http.MethodGet, fmt.Sprintf("/api/v1/pipelines/%s", created.ID), nil)
	if rec.Code != http.StatusOK {
		t.Errorf("get status = %d; want 200", rec.Code)
	}
}

func TestRouter_DeactivatePipeline(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := env.doJSON(t, http.MethodPost, "/api/v1/pipelines", map[string]any{
		"name": "shortlived", "provider": "openai", "model": "gpt-4-turbo", "temperature": 0.5,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d", rec.Code)
	}
	var created struct {
		ID string `json:"id"`
	}
	decodeBody(t, rec, &created)

	rec = env.doJSON(t, http.MethodDelete, "/api/v1/pipelines/"+created.ID, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("deactivate status = %d; want 204", rec.Code)
	}

	// Gone from the active listing but still fetchable by id.
	rec = env.doJSON(t, http.MethodGet, "/api/v1/pipelines/"+created.ID, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("get status = %d; want 200", rec.Code)
	}
}

func TestRouter_UnknownPipeline(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := env.doJSON(t, http.MethodGet, "/api/v1/pipelines/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d; want 404", rec.Code)
	}
}

// ============================================================================
// Auth wiring
// ============================================================================

func TestRouter_TokenModeRejectsAnonymous(t *testing.T) {
	t.Parallel()

	db, err := sqlite.NewDB(filepath.Join(t.TempDir(), "test.sqlite"))
	if err != nil {
		t.Fatalf("sqlite.NewDB error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck
	if err := sqlite.MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp error = %v", err)
	}

	registry := coaching.NewRegistry(db)
	router := api.NewRouter(api.Deps{
		DB:        db,
		Coaching:  coaching.NewService(db, registry, nil, nil),
		Registry:  registry,
		Usage:     usage.NewRecorder(db),
		AuthMode:  "token",
		JWTSecret: []byte("test-secret"),
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/pipelines", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d; want 401", rec.Code)
	}

	// Public routes stay open.
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("health status = %d; want 200", rec.Code)
	}
}
