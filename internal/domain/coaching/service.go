package coaching

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/preflightlabs/preflight/internal/domain/pipeline"
	"github.com/preflightlabs/preflight/internal/infra/eventbus"
	"github.com/preflightlabs/preflight/internal/infra/llm"
)

var (
	ErrSessionNotFound     = errors.New("coaching session not found")
	ErrSessionExists       = errors.New("coaching session already exists for run")
	ErrSessionNotActive    = errors.New("coaching session is not active")
	ErrSessionCompleted    = errors.New("coaching session already completed")
	ErrRoundsExhausted     = errors.New("coaching session has no rounds remaining")
	ErrRoundConflict       = errors.New("coaching round advanced by a concurrent request")
	ErrEmptyMessage        = errors.New("message must not be empty")
	ErrProviderUnavailable = errors.New("no client configured for pipeline provider")
	ErrGenerationFailed    = errors.New("coaching response generation failed")
)

// Session status constants
const (
	SessionStatusActive    = "active"
	SessionStatusCompleted = "completed"
	SessionStatusAbandoned = "abandoned"
)

// DefaultMaxRounds bounds a session to four rounds unless the caller asks
// for a different budget at start.
const DefaultMaxRounds = 4

// MaxRoundsLimit caps the per-session round budget a caller may request.
const MaxRoundsLimit = 20

// TopicLLMUsage carries a UsageEvent after every committed LLM call.
const TopicLLMUsage = "coaching.llm_usage"

// UsageEvent is the per-call accounting record published on the event bus.
type UsageEvent struct {
	SessionID        string
	Provider         llm.ProviderName
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	CostMicrodollars int64
	ResponseTimeMs   int
}

// Session is one coaching conversation, keyed 1:1 to a survey run.
type Session struct {
	ID                    string          `json:"id"`
	RunID                 string          `json:"runId"`
	PipelineID            string          `json:"pipelineId"`
	UserID                *string         `json:"userId,omitempty"`
	Status                string          `json:"status"`
	Context               json.RawMessage `json:"-"`
	CurrentRound          int             `json:"currentRound"`
	MaxRounds             int             `json:"maxRounds"`
	StartedAt             time.Time       `json:"startedAt"`
	CompletedAt           *time.Time      `json:"completedAt,omitempty"`
	LastActivityAt        time.Time       `json:"lastActivityAt"`
	TotalTokensUsed       int             `json:"totalTokensUsed"`
	TotalCostMicrodollars int64           `json:"totalCostMicrodollars"`
}

// RoundsRemaining reports how many user exchanges the session can still take.
func (s *Session) RoundsRemaining() int {
	remaining := s.MaxRounds - s.CurrentRound
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Turn is one append-only entry in a session's conversation log.
type Turn struct {
	ID               string    `json:"id"`
	SessionID        string    `json:"sessionId"`
	TurnNumber       int       `json:"turnNumber"`
	Role             string    `json:"role"`
	Content          string    `json:"content"`
	ModelUsed        *string   `json:"modelUsed,omitempty"`
	PipelineVersion  *string   `json:"pipelineVersion,omitempty"`
	PromptTokens     *int      `json:"promptTokens,omitempty"`
	CompletionTokens *int      `json:"completionTokens,omitempty"`
	ResponseTimeMs   *int      `json:"responseTimeMs,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
}

// Turn numbering: the initial assistant greeting is turn 1; the exchange for
// round r appends the user turn as 2r and the assistant turn as 2r+1.
func userTurnNumber(round int) int      { return 2 * round }
func assistantTurnNumber(round int) int { return 2*round + 1 }

type StartSessionInput struct {
	RunID        string
	PipelineName string
	UserID       string
	MaxRounds    int
	Answers      []pipeline.Answer
	User         map[string]any
}

// Exchange is the outcome of one committed coaching round.
type Exchange struct {
	Session         *Session
	UserTurn        *Turn
	AssistantTurn   *Turn
	UsedFallback    bool
	RoundsRemaining int
}

// Service drives coaching sessions: it resolves pipelines, executes rounds
// through the engine, and owns all session/turn persistence. Turn and session
// updates for a round are committed in a single transaction.
type Service struct {
	db       *sql.DB
	registry *Registry
	engines  map[llm.ProviderName]*pipeline.Engine
	filter   *pipeline.Filter
	bus      eventbus.EventBus
}

// NewService wires the session service. providers maps each pipeline provider
// to a configured (retry-wrapped) client; bus may be nil in tests.
func NewService(db *sql.DB, registry *Registry, providers map[llm.ProviderName]llm.Provider, bus eventbus.EventBus) *Service {
	engines := make(map[llm.ProviderName]*pipeline.Engine, len(providers))
	for name, p := range providers {
		engines[name] = pipeline.NewEngine(p)
	}
	return &Service{
		db:       db,
		registry: registry,
		engines:  engines,
		filter:   pipeline.NewFilter(),
		bus:      bus,
	}
}

// StartSession creates the session for a run and generates the opening
// coaching message. One session per run: a second start yields
// ErrSessionExists. Nothing is persisted when generation fails.
func (s *Service) StartSession(ctx context.Context, in StartSessionInput) (*Session, *Turn, error) {
	if in.RunID == "" {
		return nil, nil, fmt.Errorf("%w: run id is required", ErrSessionNotFound)
	}

	var count int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM coaching_sessions WHERE run_id = ?", in.RunID,
	).Scan(&count); err != nil {
		return nil, nil, fmt.Errorf("check existing session: %w", err)
	}
	if count > 0 {
		return nil, nil, ErrSessionExists
	}

	pl, err := s.registry.Resolve(ctx, in.PipelineName)
	if err != nil {
		return nil, nil, err
	}
	def, err := pl.Definition()
	if err != nil {
		return nil, nil, err
	}
	engine, ok := s.engines[pl.Provider]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrProviderUnavailable, pl.Provider)
	}

	vars := pipeline.CreateContext(in.Answers, in.User, map[string]any{"run_id": in.RunID})
	contextJSON, err := json.Marshal(vars)
	if err != nil {
		return nil, nil, fmt.Errorf("encode session context: %w", err)
	}

	res := engine.GenerateInitialMessage(ctx, def, vars, pl.GenerationConfig())
	if !res.Success {
		return nil, nil, fmt.Errorf("%w: %s", ErrGenerationFailed, res.Error)
	}

	maxRounds := in.MaxRounds
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}
	if maxRounds > MaxRoundsLimit {
		maxRounds = MaxRoundsLimit
	}

	now := time.Now().UTC()
	nowStr := now.Format(time.RFC3339)
	tokens, cost := usageTotals(res.LLMResponse)

	session := &Session{
		ID:                    uuid.NewString(),
		RunID:                 in.RunID,
		PipelineID:            pl.ID,
		UserID:                nullString(in.UserID),
		Status:                SessionStatusActive,
		Context:               contextJSON,
		CurrentRound:          1,
		MaxRounds:             maxRounds,
		StartedAt:             now,
		LastActivityAt:        now,
		TotalTokensUsed:       tokens,
		TotalCostMicrodollars: cost,
	}
	turn := assistantTurn(session.ID, 1, res, pl)
	turn.CreatedAt = now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin start session: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck
	}()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO coaching_sessions
			(id, run_id, pipeline_id, user_id, status, context_json, current_round, max_rounds,
			 started_at, last_activity_at, total_tokens_used, total_cost_microdollars)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		session.ID, session.RunID, session.PipelineID, session.UserID, session.Status,
		string(contextJSON), session.CurrentRound, session.MaxRounds,
		nowStr, nowStr, session.TotalTokensUsed, session.TotalCostMicrodollars,
	); err != nil {
		return nil, nil, fmt.Errorf("insert session: %w", err)
	}

	if err := insertTurn(ctx, tx, turn, nowStr); err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit start session: %w", err)
	}

	s.publishUsage(session.ID, pl, res)
	return session, turn, nil
}

// SendMessage executes one coaching round for the session bound to runID and
// commits both turns plus the session update atomically. The round counter is
// advanced with a compare-and-set on its previous value, so a double-submit
// commits at most one round; the loser gets ErrRoundConflict.
func (s *Service) SendMessage(ctx context.Context, runID, message string) (*Exchange, error) {
	if strings.TrimSpace(message) == "" {
		return nil, ErrEmptyMessage
	}

	session, err := s.getByRunID(ctx, runID)
	if err != nil {
		return nil, err
	}
	if session.Status != SessionStatusActive {
		return nil, ErrSessionNotActive
	}
	if session.CurrentRound >= session.MaxRounds {
		return nil, ErrRoundsExhausted
	}

	pl, err := s.registry.GetByID(ctx, session.PipelineID)
	if err != nil {
		return nil, err
	}
	def, err := pl.Definition()
	if err != nil {
		return nil, err
	}
	engine, ok := s.engines[pl.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderUnavailable, pl.Provider)
	}

	turns, err := s.turnsForSession(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	history := historyMessages(turns)

	var vars map[string]any
	if len(session.Context) > 0 {
		if err := json.Unmarshal(session.Context, &vars); err != nil {
			return nil, fmt.Errorf("decode session context: %w", err)
		}
	}

	round := session.CurrentRound
	log.Printf("coaching: run=%s round=%d user message: %s", runID, round, s.filter.SanitizeInput(message))

	res := engine.ExecuteRound(ctx, def, vars, history, message, pl.GenerationConfig())
	if !res.Success {
		return nil, fmt.Errorf("%w: %s", ErrGenerationFailed, res.Error)
	}

	now := time.Now().UTC()
	nowStr := now.Format(time.RFC3339)
	tokens, cost := usageTotals(res.LLMResponse)
	newRound := round + 1
	remaining := session.MaxRounds - newRound

	userTurn := &Turn{
		ID:         uuid.NewString(),
		SessionID:  session.ID,
		TurnNumber: userTurnNumber(round),
		Role:       string(llm.RoleUser),
		Content:    message,
		CreatedAt:  now,
	}
	asstTurn := assistantTurn(session.ID, assistantTurnNumber(round), res, pl)
	asstTurn.CreatedAt = now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin round commit: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck
	}()

	upd, err := tx.ExecContext(ctx, `
		UPDATE coaching_sessions
		SET current_round = ?,
		    last_activity_at = ?,
		    total_tokens_used = total_tokens_used + ?,
		    total_cost_microdollars = total_cost_microdollars + ?
		WHERE id = ? AND status = ? AND current_round = ?
	`, newRound, nowStr, tokens, cost, session.ID, SessionStatusActive, round)
	if err != nil {
		return nil, fmt.Errorf("advance round: %w", err)
	}
	affected, err := upd.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, ErrRoundConflict
	}

	if err := insertTurn(ctx, tx, userTurn, nowStr); err != nil {
		return nil, err
	}
	if err := insertTurn(ctx, tx, asstTurn, nowStr); err != nil {
		return nil, err
	}

	if remaining <= 0 {
		if _, err := tx.ExecContext(ctx, `
			UPDATE coaching_sessions
			SET status = ?, completed_at = ?
			WHERE id = ?
		`, SessionStatusCompleted, nowStr, session.ID); err != nil {
			return nil, fmt.Errorf("complete session: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit round: %w", err)
	}

	s.publishUsage(session.ID, pl, res)

	updated := *session
	updated.CurrentRound = newRound
	updated.LastActivityAt = now
	updated.TotalTokensUsed += tokens
	updated.TotalCostMicrodollars += cost
	if remaining <= 0 {
		updated.Status = SessionStatusCompleted
		updated.CompletedAt = &now
	}

	return &Exchange{
		Session:         &updated,
		UserTurn:        userTurn,
		AssistantTurn:   asstTurn,
		UsedFallback:    res.UsedFallback,
		RoundsRemaining: updated.RoundsRemaining(),
	}, nil
}

// GetSession returns the session for a run together with its full turn log.
func (s *Service) GetSession(ctx context.Context, runID string) (*Session, []*Turn, error) {
	session, err := s.getByRunID(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	turns, err := s.turnsForSession(ctx, session.ID)
	if err != nil {
		return nil, nil, err
	}
	return session, turns, nil
}

// EndSession explicitly completes a session. Ending an already-completed
// session is rejected; ending an abandoned one is allowed.
func (s *Service) EndSession(ctx context.Context, runID string) (*Session, error) {
	session, err := s.getByRunID(ctx, runID)
	if err != nil {
		return nil, err
	}
	if session.Status == SessionStatusCompleted {
		return nil, ErrSessionCompleted
	}

	now := time.Now().UTC()
	nowStr := now.Format(time.RFC3339)
	if _, err := s.db.ExecContext(ctx, `
		UPDATE coaching_sessions
		SET status = ?, completed_at = ?, last_activity_at = ?
		WHERE id = ?
	`, SessionStatusCompleted, nowStr, nowStr, session.ID); err != nil {
		return nil, fmt.Errorf("end session: %w", err)
	}

	session.Status = SessionStatusCompleted
	session.CompletedAt = &now
	session.LastActivityAt = now
	return session, nil
}

// --- internals ---

func (s *Service) getByRunID(ctx context.Context, runID string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, run_id, pipeline_id, user_id, status, context_json, current_round, max_rounds,
		       started_at, completed_at, last_activity_at, total_tokens_used, total_cost_microdollars
		FROM coaching_sessions
		WHERE run_id = ?
	`, runID)

	var (
		sess        Session
		contextJSON string
		startedAt   string
		completedAt *string
		lastAt      string
	)
	err := row.Scan(
		&sess.ID, &sess.RunID, &sess.PipelineID, &sess.UserID, &sess.Status,
		&contextJSON, &sess.CurrentRound, &sess.MaxRounds,
		&startedAt, &completedAt, &lastAt, &sess.TotalTokensUsed, &sess.TotalCostMicrodollars,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}

	sess.Context = json.RawMessage(contextJSON)
	sess.StartedAt = parseTime(startedAt)
	sess.LastActivityAt = parseTime(lastAt)
	if completedAt != nil {
		t := parseTime(*completedAt)
		sess.CompletedAt = &t
	}
	return &sess, nil
}

func (s *Service) turnsForSession(ctx context.Context, sessionID string) ([]*Turn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, turn_number, role, content, model_used, pipeline_version,
		       prompt_tokens, completion_tokens, response_time_ms, created_at
		FROM coach_turns
		WHERE session_id = ?
		ORDER BY turn_number
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	defer rows.Close()

	turns := make([]*Turn, 0)
	for rows.Next() {
		var (
			turn      Turn
			createdAt string
		)
		if err := rows.Scan(
			&turn.ID, &turn.SessionID, &turn.TurnNumber, &turn.Role, &turn.Content,
			&turn.ModelUsed, &turn.PipelineVersion,
			&turn.PromptTokens, &turn.CompletionTokens, &turn.ResponseTimeMs, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turn.CreatedAt = parseTime(createdAt)
		turns = append(turns, &turn)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, rowsErr
	}
	return turns, nil
}

// historyMessages converts the stored turn log into LLM conversation history.
func historyMessages(turns []*Turn) []llm.Message {
	history := make([]llm.Message, 0, len(turns))
	for _, t := range turns {
		history = append(history, llm.Message{Role: llm.Role(t.Role), Content: t.Content})
	}
	return history
}

// assistantTurn builds the assistant-side turn for a round result. Token and
// latency fields stay nil on fallback responses that skipped the LLM.
func assistantTurn(sessionID string, number int, res *pipeline.Result, pl *Pipeline) *Turn {
	turn := &Turn{
		ID:              uuid.NewString(),
		SessionID:       sessionID,
		TurnNumber:      number,
		Role:            string(llm.RoleAssistant),
		Content:         res.Response,
		PipelineVersion: &pl.Version,
	}
	if res.LLMResponse != nil {
		turn.ModelUsed = &res.LLMResponse.Model
		turn.PromptTokens = &res.LLMResponse.PromptTokens
		turn.CompletionTokens = &res.LLMResponse.CompletionTokens
		ms := int(res.LLMResponse.ResponseTimeMs)
		turn.ResponseTimeMs = &ms
	}
	return turn
}

func insertTurn(ctx context.Context, tx *sql.Tx, t *Turn, createdAt string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO coach_turns
			(id, session_id, turn_number, role, content, model_used, pipeline_version,
			 prompt_tokens, completion_tokens, response_time_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		t.ID, t.SessionID, t.TurnNumber, t.Role, t.Content, t.ModelUsed, t.PipelineVersion,
		t.PromptTokens, t.CompletionTokens, t.ResponseTimeMs, createdAt,
	)
	if err != nil {
		return fmt.Errorf("insert turn %d: %w", t.TurnNumber, err)
	}
	return nil
}

// usageTotals extracts the accounting deltas from a round result.
func usageTotals(resp *llm.Response) (tokens int, costMicrodollars int64) {
	if resp == nil {
		return 0, 0
	}
	return resp.TotalTokens, resp.CostMicrodollars()
}

func (s *Service) publishUsage(sessionID string, pl *Pipeline, res *pipeline.Result) {
	if s.bus == nil || res.LLMResponse == nil {
		return
	}
	resp := res.LLMResponse
	s.bus.Publish(TopicLLMUsage, UsageEvent{
		SessionID:        sessionID,
		Provider:         resp.Provider,
		Model:            resp.Model,
		PromptTokens:     resp.PromptTokens,
		CompletionTokens: resp.CompletionTokens,
		TotalTokens:      resp.TotalTokens,
		CostMicrodollars: resp.CostMicrodollars(),
		ResponseTimeMs:   int(resp.ResponseTimeMs),
	})
}
