// HTTP handler for per-session LLM usage totals.
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/preflightlabs/preflight/internal/domain/coaching"
	"github.com/preflightlabs/preflight/internal/domain/usage"
)

// UsageHandler exposes accounting totals recorded from the event bus.
type UsageHandler struct {
	coaching *coaching.Service
	recorder *usage.Recorder
}

// NewUsageHandler creates a new UsageHandler instance.
func NewUsageHandler(coachingService *coaching.Service, recorder *usage.Recorder) *UsageHandler {
	return &UsageHandler{coaching: coachingService, recorder: recorder}
}

// UsageResponse is the usage envelope for one session.
type UsageResponse struct {
	RunID            string `json:"runId"`
	SessionID        string `json:"sessionId"`
	Calls            int    `json:"calls"`
	TotalTokens      int    `json:"totalTokens"`
	CostMicrodollars int64  `json:"costMicrodollars"`
}

// SessionUsage handles GET /api/v1/coaching/sessions/{runID}/usage
func (h *UsageHandler) SessionUsage(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if runID == "" {
		writeError(w, http.StatusBadRequest, "run id is required")
		return
	}

	session, _, err := h.coaching.GetSession(r.Context(), runID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	totals, err := h.recorder.TotalsForSession(r.Context(), session.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, UsageResponse{
		RunID:            session.RunID,
		SessionID:        session.ID,
		Calls:            totals.Calls,
		TotalTokens:      totals.TotalTokens,
		CostMicrodollars: totals.CostMicrodollars,
	})
}
