package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/dgallion1/refgest/internal/config"
	"github.com/dgallion1/refgest/internal/extract"
	"github.com/dgallion1/refgest/internal/pipeline"
	"github.com/dgallion1/refgest/internal/search"
	"github.com/dgallion1/refgest/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server is the HTTP API server for refgest.
type Server struct {
	router       chi.Router
	orchestrator *pipeline.Orchestrator
	store        *store.SQLite
	search       *search.Service
	llm          *extract.Observed
	log          *slog.Logger
	cfg          config.Config
}

// NewServer creates and configures the HTTP server.
func NewServer(orch *pipeline.Orchestrator, st *store.SQLite, svc *search.Service, llm *extract.Observed, log *slog.Logger, cfg config.Config) *Server {
	s := &Server{
		orchestrator: orch,
		store:        st,
		search:       svc,
		llm:          llm,
		log:          log,
		cfg:          cfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))

	// Public endpoints.
	r.Get("/health", s.handleHealth)

	// Authenticated endpoints.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.cfg.RefgestAPIKey, s.log))

		r.Post("/api/documents", s.handleSubmitDocuments)
		r.Get("/api/documents", s.handleListDocuments)
		r.Get("/api/documents/{docID}", s.handleGetDocument)
		r.Delete("/api/documents/{docID}", s.handleDeleteDocument)
		r.Post("/api/documents/{docID}/cancel", s.handleCancelDocument)
		r.Get("/api/documents/{docID}/sections", s.handleSections)
		r.Get("/api/documents/{docID}/references", s.handleGetReferences)
		r.Put("/api/documents/{docID}/references", s.handlePutReferences)

		r.Get("/api/jobs/{jobID}", s.handleJobStatus)

		r.Post("/api/search", s.handleSearch)
		r.Get("/api/stats/llm", s.handleLLMStats)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"queue_depth": s.orchestrator.QueueDepth(),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}
