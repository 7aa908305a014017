// Package reviewapi exposes the thin HTTP contract the review surface
// needs: list/approve/reject suggestions, trigger expiry, edit the
// learned-preference blob, and read cycle status. It is not the web
// review UI itself, only the API the UI (or a curl script) talks to.
package reviewapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"triage-agent/internal/config"
	"triage-agent/internal/engine"
	"triage-agent/internal/store"
)

// EngineControl is the subset of *engine.Engine the review surface
// needs, narrowed to an interface so handlers can be tested against a
// fake without standing up a real mail/LLM-backed engine.
type EngineControl interface {
	Degradation() *engine.DegradationState
	Metrics() *engine.Metrics
	Pause()
	Resume()
	IsPaused() bool
	// ApplyMailboxEffects moves messageID into folder and, if folder
	// belongs to a configured Area, applies its taxonomy category.
	// Called once a suggestion is approved, auto-rule or human.
	ApplyMailboxEffects(ctx context.Context, messageID, folder string, cfg *config.TriageConfig)
}

// Server is the review-surface HTTP API.
type Server struct {
	router  chi.Router
	store   *store.DB
	engine  EngineControl
	watcher *config.Watcher
	logger  *slog.Logger
}

// New builds a Server with all routes registered.
func New(db *store.DB, eng EngineControl, watcher *config.Watcher, logger *slog.Logger) *Server {
	s := &Server{
		store:   db,
		engine:  eng,
		watcher: watcher,
		logger:  logger,
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(slogRequestLogger(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         300,
	}))

	s.router = r
	s.registerRoutes(r)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) registerRoutes(r chi.Router) {
	r.Get("/suggestions", s.listSuggestions)
	r.Post("/suggestions/{id}/approve", s.approveSuggestion)
	r.Post("/suggestions/{id}/reject", s.rejectSuggestion)
	r.Post("/maintenance/expire", s.expireSuggestions)
	r.Put("/state/classification_preferences", s.setPreferences)
	r.Get("/cycle-info", s.cycleInfo)
	r.Post("/engine/pause", s.pauseEngine)
	r.Post("/engine/resume", s.resumeEngine)
	r.Get("/health", s.health)
}

// slogRequestLogger logs each request at Info with status and
// duration, the same fields the teacher's LoggingMiddleware captured,
// routed through structured logging instead of the standard logger.
func slogRequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("reviewapi request",
				"method", r.Method, "path", r.URL.Path,
				"status", ww.Status(), "duration", time.Since(start))
		})
	}
}
