package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgallion1/pageedit/internal/audit"
	"github.com/dgallion1/pageedit/internal/config"
	"github.com/dgallion1/pageedit/internal/session"
)

// StorageFetcher retrieves a page body in storage (XHTML) format, for the
// markdown export endpoint.
type StorageFetcher interface {
	FetchStorage(ctx context.Context, id string) (body, title string, err error)
}

// Server is the HTTP API server for pageedit.
type Server struct {
	router     chi.Router
	controller *session.Controller
	storage    StorageFetcher
	auditLog   *audit.Log
	log        *slog.Logger
	cfg        config.Config
}

// NewServer creates and configures the HTTP server. auditLog may be nil when
// auditing is disabled.
func NewServer(ctrl *session.Controller, storage StorageFetcher, auditLog *audit.Log, log *slog.Logger, cfg config.Config) *Server {
	s := &Server{
		controller: ctrl,
		storage:    storage,
		auditLog:   auditLog,
		log:        log,
		cfg:        cfg,
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
		r.Use(AuthMiddleware(s.cfg.PageeditAPIKey, s.log))

		r.Post("/api/sessions", s.handleBeginSession)
		r.Get("/api/sessions/{sessionID}", s.handleGetSession)
		r.Post("/api/sessions/{sessionID}/mode", s.handleChooseMode)
		r.Post("/api/sessions/{sessionID}/complete", s.handleComplete)

		r.Get("/api/documents/{docID}/backups", s.handleListBackups)
		r.Post("/api/documents/{docID}/rollback", s.handleRollback)
		r.Get("/api/documents/{docID}/export", s.handleExport)

		r.Get("/api/audit", s.handleAudit)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
