package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/ledgermigrate/internal/core"
)

// handleListTemplates returns the mapping templates of one collection.
func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	collection := r.URL.Query().Get("collection")
	if collection == "" {
		s.badRequest(w, r, "collection query parameter is required")
		return
	}

	templates, err := s.service.ListTemplates(r.Context(), collection)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(templates))
}

type matchRequest struct {
	Collection string   `json:"collection"`
	Headers    []string `json:"headers"`
}

// handleMatchTemplates finds templates matching the provided headers.
func (s *Server) handleMatchTemplates(w http.ResponseWriter, r *http.Request) {
	var req matchRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	if req.Collection == "" || len(req.Headers) == 0 {
		s.badRequest(w, r, "collection and headers are required")
		return
	}

	matches, err := s.service.MatchTemplates(r.Context(), req.Collection, req.Headers)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(matches))
}

func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	t, err := s.service.GetTemplate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// handleCreateTemplate stores a new template. Duplicate names within a
// collection are rejected with 400.
func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req core.MappingTemplate
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}

	t, err := s.service.CreateTemplate(r.Context(), req)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteTemplate(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
