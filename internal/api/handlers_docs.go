package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dgallion1/pageedit/internal/export"
)

func (s *Server) handleListBackups(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")
	writeResult(w, s.controller.ListBackups(docID))
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	docID := chi.URLParam(r, "docID")

	// The backup handle is optional; an empty body restores the latest.
	var req struct {
		Backup string `json:"backup"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
	}

	writeResult(w, s.controller.Rollback(r.Context(), docID, req.Backup))
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")

	body, title, err := s.storage.FetchStorage(r.Context(), docID)
	if err != nil {
		jsonError(w, "fetch storage body: "+err.Error(), http.StatusBadGateway)
		return
	}
	markdown, err := export.StorageToMarkdown(strings.NewReader(body))
	if err != nil {
		jsonError(w, "convert to markdown: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"document_id": docID,
		"title":       title,
		"markdown":    markdown,
	})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if s.auditLog == nil {
		jsonError(w, "audit log disabled", http.StatusNotFound)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := s.auditLog.Recent(r.Context(), limit)
	if err != nil {
		jsonError(w, "read audit log: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"entries": entries})
}
