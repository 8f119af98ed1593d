// Package usage persists per-call LLM usage records. The recorder consumes
// coaching usage events from the event bus off the request path, so a slow
// or failed usage write never delays a coaching response.
package usage

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/preflightlabs/preflight/internal/domain/coaching"
	"github.com/preflightlabs/preflight/internal/infra/eventbus"
)

// Recorder writes llm_usage rows and answers aggregate queries over them.
type Recorder struct {
	db *sql.DB
}

func NewRecorder(db *sql.DB) *Recorder {
	return &Recorder{db: db}
}

// Start subscribes to coaching usage events and records each one.
// Runs in the calling goroutine — launch with: go rec.Start(ctx, bus)
// Stops when ctx is cancelled.
func (r *Recorder) Start(ctx context.Context, bus eventbus.EventBus) {
	ch := bus.Subscribe(coaching.TopicLLMUsage)
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-ch:
			payload, ok := evt.Payload.(coaching.UsageEvent)
			if !ok {
				continue
			}
			// Best-effort: log and keep consuming
			if err := r.Record(ctx, payload, evt.OccurredAt); err != nil {
				log.Printf("usage: record session=%s: %v", payload.SessionID, err)
			}
		}
	}
}

// Record inserts one usage row.
func (r *Recorder) Record(ctx context.Context, ev coaching.UsageEvent, at time.Time) error {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO llm_usage
			(id, session_id, provider, model, prompt_tokens, completion_tokens,
			 total_tokens, cost_microdollars, response_time_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		uuid.NewString(), ev.SessionID, string(ev.Provider), ev.Model,
		ev.PromptTokens, ev.CompletionTokens, ev.TotalTokens,
		ev.CostMicrodollars, ev.ResponseTimeMs, at.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("insert llm_usage: %w", err)
	}
	return nil
}

// Totals aggregates recorded usage.
type Totals struct {
	Calls            int   `json:"calls"`
	TotalTokens      int   `json:"totalTokens"`
	CostMicrodollars int64 `json:"costMicrodollars"`
}

// TotalsForSession sums the recorded usage of one session.
func (r *Recorder) TotalsForSession(ctx context.Context, sessionID string) (Totals, error) {
	var t Totals
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(total_tokens), 0), COALESCE(SUM(cost_microdollars), 0)
		FROM llm_usage
		WHERE session_id = ?
	`, sessionID).Scan(&t.Calls, &t.TotalTokens, &t.CostMicrodollars)
	if err != nil {
		return Totals{}, fmt.Errorf("sum llm_usage: %w", err)
	}
	return t, nil
}
