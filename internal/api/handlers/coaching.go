// HTTP handlers for coaching session endpoints.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/preflightlabs/preflight/internal/api/ctxkeys"
	"github.com/preflightlabs/preflight/internal/domain/coaching"
	"github.com/preflightlabs/preflight/internal/domain/pipeline"
)

// CoachingHandler handles HTTP requests for coaching sessions.
type CoachingHandler struct {
	service *coaching.Service
}

// NewCoachingHandler creates a new CoachingHandler instance.
func NewCoachingHandler(service *coaching.Service) *CoachingHandler {
	return &CoachingHandler{service: service}
}

// SurveyAnswer is one survey response in a start request.
type SurveyAnswer struct {
	PageID    string `json:"pageId"`
	FieldName string `json:"fieldName"`
	Value     any    `json:"value"`
}

// StartSessionRequest is the request body for starting a session.
type StartSessionRequest struct {
	RunID        string         `json:"runId"`
	PipelineName string         `json:"pipelineName,omitempty"`
	MaxRounds    int            `json:"maxRounds,omitempty"`
	Answers      []SurveyAnswer `json:"answers,omitempty"`
	User         map[string]any `json:"user,omitempty"`
}

// SendMessageRequest is the request body for a coaching round.
type SendMessageRequest struct {
	Message string `json:"message"`
}

// SessionResponse is the session envelope returned by start/get/end.
type SessionResponse struct {
	Session         *coaching.Session `json:"session"`
	Turns           []*coaching.Turn  `json:"turns,omitempty"`
	RoundsRemaining int               `json:"roundsRemaining"`
}

// ExchangeResponse is returned after a committed coaching round.
type ExchangeResponse struct {
	Session         *coaching.Session `json:"session"`
	UserTurn        *coaching.Turn    `json:"userTurn"`
	AssistantTurn   *coaching.Turn    `json:"assistantTurn"`
	UsedFallback    bool              `json:"usedFallback"`
	RoundsRemaining int               `json:"roundsRemaining"`
}

// StartSession handles POST /api/v1/coaching/sessions
func (h *CoachingHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	var req StartSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.RunID == "" {
		writeError(w, http.StatusBadRequest, "runId is required")
		return
	}

	answers := make([]pipeline.Answer, len(req.Answers))
	for i, a := range req.Answers {
		answers[i] = pipeline.Answer{PageID: a.PageID, FieldName: a.FieldName, Value: a.Value}
	}

	session, initialTurn, err := h.service.StartSession(r.Context(), coaching.StartSessionInput{
		RunID:        req.RunID,
		PipelineName: req.PipelineName,
		UserID:       ctxkeys.Value(r.Context(), ctxkeys.UserID),
		MaxRounds:    req.MaxRounds,
		Answers:      answers,
		User:         req.User,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, SessionResponse{
		Session:         session,
		Turns:           []*coaching.Turn{initialTurn},
		RoundsRemaining: session.RoundsRemaining(),
	})
}

// SendMessage handles POST /api/v1/coaching/sessions/{runID}/messages
func (h *CoachingHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if runID == "" {
		writeError(w, http.StatusBadRequest, "run id is required")
		return
	}

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	exchange, err := h.service.SendMessage(r.Context(), runID, req.Message)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ExchangeResponse{
		Session:         exchange.Session,
		UserTurn:        exchange.UserTurn,
		AssistantTurn:   exchange.AssistantTurn,
		UsedFallback:    exchange.UsedFallback,
		RoundsRemaining: exchange.RoundsRemaining,
	})
}

// GetSession handles GET /api/v1/coaching/sessions/{runID}
func (h *CoachingHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if runID == "" {
		writeError(w, http.StatusBadRequest, "run id is required")
		return
	}

	session, turns, err := h.service.GetSession(r.Context(), runID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, SessionResponse{
		Session:         session,
		Turns:           turns,
		RoundsRemaining: session.RoundsRemaining(),
	})
}

// EndSession handles POST /api/v1/coaching/sessions/{runID}/end
func (h *CoachingHandler) EndSession(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if runID == "" {
		writeError(w, http.StatusBadRequest, "run id is required")
		return
	}

	session, err := h.service.EndSession(r.Context(), runID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, SessionResponse{
		Session:         session,
		RoundsRemaining: session.RoundsRemaining(),
	})
}
