// Route registration and go-chi router setup. Public routes (/health,
// /version) sit outside the auth stack; everything under /api/v1 runs through
// auth and per-user rate limiting.
package api

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/preflightlabs/preflight/internal/api/handlers"
	apmiddleware "github.com/preflightlabs/preflight/internal/api/middleware"
	"github.com/preflightlabs/preflight/internal/domain/coaching"
	"github.com/preflightlabs/preflight/internal/domain/usage"
	"github.com/preflightlabs/preflight/internal/version"
)

// Deps carries the wired services the router exposes over HTTP.
type Deps struct {
	DB                 *sql.DB
	Coaching           *coaching.Service
	Registry           *coaching.Registry
	Usage              *usage.Recorder
	AuthMode           string
	JWTSecret          []byte
	RateLimitPerMinute int
}

// NewRouter creates and configures a chi router with all routes.
func NewRouter(deps Deps) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (runs on all routes)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// ===== PUBLIC ROUTES (no auth required) =====

	// Health check, used by load balancers and probes. Pings the database so
	// a wedged SQLite file surfaces here instead of on the first session.
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if deps.DB != nil {
			if err := deps.DB.PingContext(ctx); err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(`{"status":"degraded"}`)) //nolint:errcheck
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`)) //nolint:errcheck
	})

	r.Get("/version", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte(version.String())) //nolint:errcheck
	})

	// ===== PROTECTED ROUTES =====

	coachingHandler := handlers.NewCoachingHandler(deps.Coaching)
	pipelineHandler := handlers.NewPipelineHandler(deps.Registry)
	usageHandler := handlers.NewUsageHandler(deps.Coaching, deps.Usage)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(apmiddleware.Auth(deps.AuthMode, deps.JWTSecret))
		r.Use(apmiddleware.RateLimit(deps.RateLimitPerMinute))

		r.Route("/coaching/sessions", func(r chi.Router) {
			r.Post("/", coachingHandler.StartSession)                // POST /api/v1/coaching/sessions
			r.Get("/{runID}", coachingHandler.GetSession)            // GET /api/v1/coaching/sessions/{runID}
			r.Post("/{runID}/messages", coachingHandler.SendMessage) // POST /api/v1/coaching/sessions/{runID}/messages
			r.Post("/{runID}/end", coachingHandler.EndSession)       // POST /api/v1/coaching/sessions/{runID}/end
			r.Get("/{runID}/usage", usageHandler.SessionUsage)       // GET /api/v1/coaching/sessions/{runID}/usage
		})

		r.Route("/pipelines", func(r chi.Router) {
			r.Post("/", pipelineHandler.CreatePipeline)           // POST /api/v1/pipelines
			r.Get("/", pipelineHandler.ListPipelines)             // GET /api/v1/pipelines
			r.Get("/{id}", pipelineHandler.GetPipeline)           // GET /api/v1/pipelines/{id}
			r.Delete("/{id}", pipelineHandler.DeactivatePipeline) // DELETE /api/v1/pipelines/{id}
		})
	})

	return r
}
