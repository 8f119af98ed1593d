// HTTP handlers for prompt pipeline administration.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/preflightlabs/preflight/internal/domain/coaching"
	"github.com/preflightlabs/preflight/internal/infra/llm"
)

// PipelineHandler handles HTTP requests for pipeline CRUD operations.
type PipelineHandler struct {
	registry *coaching.Registry
}

// NewPipelineHandler creates a new PipelineHandler instance.
func NewPipelineHandler(registry *coaching.Registry) *PipelineHandler {
	return &PipelineHandler{registry: registry}
}

// CreatePipelineRequest is the request body for registering a pipeline.
type CreatePipelineRequest struct {
	Name        string          `json:"name"`
	Version     string          `json:"version,omitempty"`
	Description string          `json:"description,omitempty"`
	Spec        json.RawMessage `json:"spec,omitempty"`
	Preset      string          `json:"preset,omitempty"`
	Provider    string          `json:"provider"`
	Model       string          `json:"model"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"maxTokens,omitempty"`
}

// PipelineListResponse wraps the pipeline listing.
type PipelineListResponse struct {
	Data []*coaching.Pipeline `json:"data"`
}

// CreatePipeline handles POST /api/v1/pipelines
func (h *PipelineHandler) CreatePipeline(w http.ResponseWriter, r *http.Request) {
	var req CreatePipelineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	created, err := h.registry.Create(r.Context(), coaching.CreatePipelineInput{
		Name:        req.Name,
		Version:     req.Version,
		Description: req.Description,
		Spec:        req.Spec,
		Preset:      req.Preset,
		Provider:    llm.ProviderName(req.Provider),
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

// ListPipelines handles GET /api/v1/pipelines?active=true
func (h *PipelineHandler) ListPipelines(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"

	pipelines, err := h.registry.List(r.Context(), activeOnly)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, PipelineListResponse{Data: pipelines})
}

// GetPipeline handles GET /api/v1/pipelines/{id}
func (h *PipelineHandler) GetPipeline(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "pipeline id is required")
		return
	}

	pl, err := h.registry.GetByID(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, pl)
}

// DeactivatePipeline handles DELETE /api/v1/pipelines/{id}
func (h *PipelineHandler) DeactivatePipeline(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "pipeline id is required")
		return
	}

	if err := h.registry.Deactivate(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
