package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dgallion1/pageedit/internal/extract"
	"github.com/dgallion1/pageedit/internal/session"
)

func (s *Server) handleBeginSession(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)

	var req struct {
		DocumentID string `json:"document_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.DocumentID == "" {
		jsonError(w, "document_id is required", http.StatusBadRequest)
		return
	}

	writeResult(w, s.controller.Begin(r.Context(), req.DocumentID))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	snap := s.controller.GetSession(sessionID)
	if snap == nil {
		jsonError(w, "session not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snap)
}

func (s *Server) handleChooseMode(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	sessionID := chi.URLParam(r, "sessionID")

	var req struct {
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	writeResult(w, s.controller.ChooseMode(r.Context(), sessionID, extract.Mode(req.Mode)))
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	sessionID := chi.URLParam(r, "sessionID")

	var req struct {
		EditedText string `json:"edited_text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	writeResult(w, s.controller.Complete(r.Context(), sessionID, req.EditedText))
}

// writeResult serializes a controller result with a status derived from its
// error kind.
func writeResult(w http.ResponseWriter, res *session.Result) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusFor(res))
	json.NewEncoder(w).Encode(res)
}

func statusFor(res *session.Result) int {
	if res.Success {
		return http.StatusOK
	}
	switch res.ErrorKind {
	case session.ErrSession:
		return http.StatusBadRequest
	case session.ErrConflict:
		return http.StatusConflict
	case session.ErrValidation, session.ErrPathMismatch:
		return http.StatusUnprocessableEntity
	case session.ErrFetch, session.ErrWrite:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
