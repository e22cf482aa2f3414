package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/ledgermigrate/internal/core"
	"github.com/JonMunkholm/ledgermigrate/internal/logging"
)

// handleDetect runs format detection on the raw request body.
func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	content, err := readBody(r, s.cfg.Import.MaxContentSize)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.service.DetectFormat(content, r.URL.Query().Get("filename")))
}

type suggestRequest struct {
	Format  core.SourceFormat `json:"format"`
	Headers []string          `json:"headers"`
	Targets []string          `json:"targets"`
}

// handleSuggestMappings proposes a target field for each header.
func (s *Server) handleSuggestMappings(w http.ResponseWriter, r *http.Request) {
	var req suggestRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	if len(req.Headers) == 0 {
		s.badRequest(w, r, "headers are required")
		return
	}
	writeJSON(w, http.StatusOK, s.service.SuggestMappings(req.Format, req.Headers, req.Targets))
}

// handleListBatches returns batches, optionally filtered by status and
// collection.
func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	batches, err := s.service.ListBatches(r.Context(), core.BatchFilter{
		Status:           core.BatchStatus(q.Get("status")),
		TargetCollection: q.Get("collection"),
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if batches == nil {
		batches = []*core.ImportBatch{}
	}
	writeJSON(w, http.StatusOK, batches)
}

func (s *Server) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	var req core.CreateBatchRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	b, err := s.service.CreateBatch(r.Context(), req)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	b, err := s.service.GetBatch(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleDeleteBatch(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteBatch(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleUpload parses the raw body into the batch.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	content, err := readBody(r, s.cfg.Import.MaxContentSize)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	ctx, cancel := s.operationContext(r)
	defer cancel()

	b, err := s.service.UploadContent(ctx, id, content, r.URL.Query().Get("filename"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	logging.WithFields(r.Context(), "batch_id", id).Info("upload accepted",
		"rows", b.TotalRows,
		"bytes", len(content),
	)
	writeJSON(w, http.StatusOK, b)
}

type mappingsRequest struct {
	Mappings []core.FieldMapping `json:"mappings"`
}

func (s *Server) handleGetMappings(w http.ResponseWriter, r *http.Request) {
	m, err := s.service.GetMappings(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mappingsRequest{Mappings: nonNil(m)})
}

func (s *Server) handleSaveMappings(w http.ResponseWriter, r *http.Request) {
	var req mappingsRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	m, err := s.service.SaveMappings(r.Context(), chi.URLParam(r, "id"), req.Mappings)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mappingsRequest{Mappings: nonNil(m)})
}

func (s *Server) handleApplyTemplate(w http.ResponseWriter, r *http.Request) {
	m, err := s.service.ApplyTemplate(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "templateID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mappingsRequest{Mappings: nonNil(m)})
}

type validateRequest struct {
	Rules []core.ValidationRule `json:"rules"`
}

// handleValidate runs declarative rules. Custom predicates cannot be sent
// over HTTP.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	res, err := s.service.Validate(r.Context(), chi.URLParam(r, "id"), req.Rules)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	res, err := s.service.Preview(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleCommit commits the batch with optional per-row resolutions.
func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	var opts core.CommitOptions
	if err := decodeJSON(r, &opts); err != nil {
		s.respondError(w, r, err)
		return
	}

	ctx, cancel := s.operationContext(r)
	defer cancel()

	b, err := s.service.Commit(ctx, chi.URLParam(r, "id"), opts)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleRevert(w http.ResponseWriter, r *http.Request) {
	res, err := s.service.Revert(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetErrors(w http.ResponseWriter, r *http.Request) {
	errs, err := s.service.GetErrors(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(errs))
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	entries, err := s.service.GetHistory(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(entries))
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
