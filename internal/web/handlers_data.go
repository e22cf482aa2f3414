package web

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/ledgermigrate/internal/bundlestore"
	"github.com/JonMunkholm/ledgermigrate/internal/core"
	"github.com/JonMunkholm/ledgermigrate/internal/logging"
)

// operationContext bounds long-running engine calls.
func (s *Server) operationContext(r *http.Request) (context.Context, context.CancelFunc) {
	if s.cfg.Import.OperationTimeout > 0 {
		return context.WithTimeout(r.Context(), s.cfg.Import.OperationTimeout)
	}
	return context.WithCancel(r.Context())
}

// exportView is an ExportJob without its payload, which is fetched from
// the download route.
type exportView struct {
	*core.ExportJob
	Result      []byte `json:"result,omitempty"`
	DownloadURL string `json:"downloadUrl"`
}

func newExportView(job *core.ExportJob) exportView {
	return exportView{ExportJob: job, DownloadURL: "/api/exports/" + job.ID + "/download"}
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var req core.ExportRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}

	ctx, cancel := s.operationContext(r)
	defer cancel()

	job, err := s.service.Export(ctx, req)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newExportView(job))
}

func (s *Server) handleGetExport(w http.ResponseWriter, r *http.Request) {
	job, err := s.service.GetExportJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newExportView(job))
}

// handleDownloadExport streams the stored export output as an attachment.
func (s *Server) handleDownloadExport(w http.ResponseWriter, r *http.Request) {
	job, err := s.service.GetExportJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	filename := fmt.Sprintf("%s-%s%s", job.Collection, job.ID, job.Format.Extension())
	w.Header().Set("Content-Type", job.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(job.Result); err != nil {
		logging.FromContext(r.Context()).Warn("export download interrupted", "job_id", job.ID, "error", err)
	}
}

type backupRequest struct {
	Name        string   `json:"name"`
	Collections []string `json:"collections"`
}

type backupResponse struct {
	bundlestore.Info
	Version     string   `json:"version"`
	Collections []string `json:"collections"`
	RecordCount int      `json:"recordCount"`
}

// handleCreateBackup snapshots collections and stores the bundle.
func (s *Server) handleCreateBackup(w http.ResponseWriter, r *http.Request) {
	if s.bundles == nil {
		s.respondError(w, r, fmt.Errorf("%w: backups are not configured", core.ErrNotFound))
		return
	}
	var req backupRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}

	ctx, cancel := s.operationContext(r)
	defer cancel()

	bundle, err := s.service.Backup(ctx, req.Collections)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	data, err := core.MarshalBundle(bundle)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = bundlestore.DefaultName(bundle.ExportedAt)
	}
	info, err := s.bundles.Save(ctx, name, data)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	names := make([]string, 0, len(bundle.Collections))
	for n := range bundle.Collections {
		names = append(names, n)
	}
	logging.FromContext(r.Context()).Info("backup stored", "name", info.Name, "collections", len(names), "bytes", info.Size)
	sort.Strings(names)
	writeJSON(w, http.StatusCreated, backupResponse{
		Info:        info,
		Version:     bundle.Version,
		Collections: names,
		RecordCount: bundle.RecordCount(),
	})
}

func (s *Server) handleListBackups(w http.ResponseWriter, r *http.Request) {
	if s.bundles == nil {
		writeJSON(w, http.StatusOK, []bundlestore.Info{})
		return
	}
	infos, err := s.bundles.List(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(infos))
}

// handleRestoreBackup loads a stored bundle and restores it.
// mode is merge (default) or replace.
func (s *Server) handleRestoreBackup(w http.ResponseWriter, r *http.Request) {
	if s.bundles == nil {
		s.respondError(w, r, fmt.Errorf("%w: backups are not configured", core.ErrNotFound))
		return
	}
	mode := core.RestoreMode(r.URL.Query().Get("mode"))
	if mode == "" {
		mode = core.RestoreMerge
	}

	ctx, cancel := s.operationContext(r)
	defer cancel()

	data, err := s.bundles.Load(ctx, chi.URLParam(r, "name"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	res, err := s.service.Restore(ctx, data, mode)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
