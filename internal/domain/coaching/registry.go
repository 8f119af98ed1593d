// Package coaching implements the coaching conversation domain: the
// prompt pipeline registry and the session lifecycle over the pipeline
// execution engine.
package coaching

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/preflightlabs/preflight/internal/domain/pipeline"
	"github.com/preflightlabs/preflight/internal/infra/llm"
)

var (
	ErrPipelineNotFound  = errors.New("pipeline not found or inactive")
	ErrPipelineNameTaken = errors.New("pipeline name already in use")
	ErrInvalidPipeline   = errors.New("invalid pipeline")
)

// DefaultPipelineName is a reserved name: it resolves to the newest active
// pipeline rather than any fixed row, so operators can roll out a replacement
// by creating a new active pipeline.
const DefaultPipelineName = "default"

// Pipeline is a stored, versioned prompt pipeline configuration.
type Pipeline struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Version     string           `json:"version"`
	Description *string          `json:"description,omitempty"`
	Spec        json.RawMessage  `json:"spec"`
	Provider    llm.ProviderName `json:"provider"`
	Model       string           `json:"model"`
	Temperature int              `json:"temperature"` // scaled, 0..100
	MaxTokens   int              `json:"maxTokens"`
	IsActive    bool             `json:"isActive"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}

// Definition decodes the stored spec blob into prompt templates.
func (p *Pipeline) Definition() (pipeline.Definition, error) {
	var def pipeline.Definition
	if len(p.Spec) == 0 {
		return def, nil
	}
	if err := json.Unmarshal(p.Spec, &def); err != nil {
		return def, fmt.Errorf("pipeline %q spec: %w", p.Name, err)
	}
	return def, nil
}

// GenerationConfig converts the stored parameters into an LLM call config.
// Temperature is persisted as an integer scaled by 100.
func (p *Pipeline) GenerationConfig() llm.Config {
	cfg := llm.DefaultConfig(p.Model)
	cfg.Temperature = float64(p.Temperature) / 100
	if p.MaxTokens > 0 {
		cfg.MaxTokens = p.MaxTokens
	}
	return cfg
}

type CreatePipelineInput struct {
	Name        string
	Version     string
	Description string
	Spec        json.RawMessage
	Preset      string // optional llm preset name seeding the fields below
	Provider    llm.ProviderName
	Model       string
	Temperature float64 // 0..2, persisted scaled by 100
	MaxTokens   int
}

// applyPreset fills unset generation fields from a named llm preset.
func (in *CreatePipelineInput) applyPreset() error {
	if in.Preset == "" {
		return nil
	}
	p, ok := llm.PresetFor(in.Preset)
	if !ok {
		return fmt.Errorf("%w: unknown preset %q", ErrInvalidPipeline, in.Preset)
	}
	if in.Provider == "" {
		in.Provider = p.Provider
	}
	if in.Model == "" {
		in.Model = p.Model
	}
	if in.Temperature == 0 {
		in.Temperature = p.Temperature
	}
	if in.MaxTokens == 0 {
		in.MaxTokens = p.MaxTokens
	}
	return nil
}

// Registry stores and resolves prompt pipelines.
type Registry struct {
	db *sql.DB
}

func NewRegistry(db *sql.DB) *Registry {
	return &Registry{db: db}
}

const pipelineColumns = `id, name, version, description, spec, provider, model,
       temperature, max_tokens, is_active, created_at, updated_at`

// Create stores a new pipeline. Names are unique; a duplicate yields
// ErrPipelineNameTaken. New pipelines are active immediately.
func (r *Registry) Create(ctx context.Context, in CreatePipelineInput) (*Pipeline, error) {
	if in.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidPipeline)
	}
	if err := in.applyPreset(); err != nil {
		return nil, err
	}
	if in.Model == "" {
		return nil, fmt.Errorf("%w: model is required", ErrInvalidPipeline)
	}
	if in.Provider != llm.ProviderOpenAI && in.Provider != llm.ProviderAnthropic {
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidPipeline, in.Provider)
	}
	if in.Temperature < 0 || in.Temperature > 2 {
		return nil, fmt.Errorf("%w: temperature %v out of range [0, 2]", ErrInvalidPipeline, in.Temperature)
	}

	var count int
	if err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM prompt_pipelines WHERE name = ?", in.Name,
	).Scan(&count); err != nil {
		return nil, fmt.Errorf("check pipeline name: %w", err)
	}
	if count > 0 {
		return nil, ErrPipelineNameTaken
	}

	version := in.Version
	if version == "" {
		version = "1.0.0"
	}
	spec := in.Spec
	if len(spec) == 0 {
		spec = json.RawMessage(`{}`)
	}
	maxTokens := in.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 200
	}

	id := uuid.NewString()
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO prompt_pipelines
			(id, name, version, description, spec, provider, model, temperature, max_tokens, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
	`,
		id, in.Name, version, nullString(in.Description), string(spec),
		string(in.Provider), in.Model, int(in.Temperature*100), maxTokens, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create pipeline: %w", err)
	}

	return r.GetByID(ctx, id)
}

// GetByID returns a pipeline regardless of its active flag.
func (r *Registry) GetByID(ctx context.Context, id string) (*Pipeline, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+pipelineColumns+" FROM prompt_pipelines WHERE id = ?", id)
	return scanPipeline(row)
}

// GetByName returns a pipeline by its unique name.
func (r *Registry) GetByName(ctx context.Context, name string) (*Pipeline, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+pipelineColumns+" FROM prompt_pipelines WHERE name = ?", name)
	return scanPipeline(row)
}

// List returns pipelines ordered by name.
func (r *Registry) List(ctx context.Context, activeOnly bool) ([]*Pipeline, error) {
	query := "SELECT " + pipelineColumns + " FROM prompt_pipelines"
	if activeOnly {
		query += " WHERE is_active = 1"
	}
	query += " ORDER BY name"

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list pipelines: %w", err)
	}
	defer rows.Close()

	pipelines := make([]*Pipeline, 0)
	for rows.Next() {
		p, scanErr := scanPipeline(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		pipelines = append(pipelines, p)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, rowsErr
	}
	return pipelines, nil
}

// Resolve maps a requested pipeline name to a usable pipeline. An empty name
// or DefaultPipelineName selects the newest active pipeline; any other name
// must match an active pipeline exactly.
func (r *Registry) Resolve(ctx context.Context, name string) (*Pipeline, error) {
	if name == "" || name == DefaultPipelineName {
		return r.newestActive(ctx)
	}

	p, err := r.GetByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if !p.IsActive {
		return nil, ErrPipelineNotFound
	}
	return p, nil
}

// Deactivate retires a pipeline from selection. Existing sessions keep their
// pipeline_id and continue against the retired row.
func (r *Registry) Deactivate(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE prompt_pipelines
		SET is_active = 0, updated_at = ?
		WHERE id = ?
	`, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("deactivate pipeline: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrPipelineNotFound
	}
	return nil
}

// newestActive returns the most recently created active pipeline.
// rowid breaks ties within the same timestamp second.
func (r *Registry) newestActive(ctx context.Context) (*Pipeline, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+pipelineColumns+`
		FROM prompt_pipelines
		WHERE is_active = 1
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1
	`)
	return scanPipeline(row)
}

// --- scanning helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPipeline(row rowScanner) (*Pipeline, error) {
	var (
		p         Pipeline
		spec      string
		provider  string
		isActive  int
		createdAt string
		updatedAt string
	)
	err := row.Scan(
		&p.ID, &p.Name, &p.Version, &p.Description, &spec, &provider, &p.Model,
		&p.Temperature, &p.MaxTokens, &isActive, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPipelineNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan pipeline: %w", err)
	}

	p.Spec = json.RawMessage(spec)
	p.Provider = llm.ProviderName(provider)
	p.IsActive = isActive != 0
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return &p, nil
}

// parseTime accepts both RFC3339 (rows written by Go) and SQLite's
// datetime('now') format (rows written by migrations).
func parseTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	t, _ := time.Parse("2006-01-02 15:04:05", s)
	return t
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
