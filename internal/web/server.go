// Package web provides the JSON HTTP API over the import engine.
package web

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/ledgermigrate/internal/bundlestore"
	"github.com/JonMunkholm/ledgermigrate/internal/config"
	"github.com/JonMunkholm/ledgermigrate/internal/core"
	mw "github.com/JonMunkholm/ledgermigrate/internal/web/middleware"
)

// Server is the HTTP server for the import API.
type Server struct {
	service *core.Service
	bundles bundlestore.Store
	cfg     *config.Config
	router  *chi.Mux
	server  *http.Server

	apiLimiter    *rateLimiter
	uploadLimiter *rateLimiter
}

// NewServer creates a new Server instance. bundles may be nil, in which
// case the backup routes answer 404.
func NewServer(service *core.Service, bundles bundlestore.Store, cfg *config.Config) *Server {
	s := &Server{
		service: service,
		bundles: bundles,
		cfg:     cfg,
		router:  chi.NewRouter(),
	}
	if cfg.Rate.Enabled {
		s.apiLimiter = newRateLimiter(cfg.Rate.RequestsPerMinute, time.Minute)
		s.uploadLimiter = newRateLimiter(cfg.Rate.UploadLimit, time.Minute)
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(mw.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(mw.Logger)
	s.router.Use(middleware.Recoverer)
	if s.cfg.Server.RequestTimeout > 0 {
		s.router.Use(middleware.Timeout(s.cfg.Server.RequestTimeout))
	}
	s.router.Use(securityHeaders)
	s.router.Use(requestMeta)
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(mw.APIKeyAuth(&s.cfg.Security))
		r.Use(s.apiLimiter.middleware)

		r.Post("/detect", s.handleDetect)
		r.Post("/mappings/suggest", s.handleSuggestMappings)

		r.Route("/batches", func(r chi.Router) {
			r.Get("/", s.handleListBatches)
			r.Post("/", s.handleCreateBatch)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetBatch)
				r.Delete("/", s.handleDeleteBatch)
				r.With(s.uploadLimiter.middleware).Post("/upload", s.handleUpload)
				r.Get("/mappings", s.handleGetMappings)
				r.Put("/mappings", s.handleSaveMappings)
				r.Post("/mappings/template/{templateID}", s.handleApplyTemplate)
				r.Post("/validate", s.handleValidate)
				r.Post("/preview", s.handlePreview)
				r.With(s.uploadLimiter.middleware).Post("/commit", s.handleCommit)
				r.Post("/revert", s.handleRevert)
				r.Get("/errors", s.handleGetErrors)
				r.Get("/history", s.handleGetHistory)
			})
		})

		r.Route("/templates", func(r chi.Router) {
			r.Get("/", s.handleListTemplates)
			r.Post("/", s.handleCreateTemplate)
			r.Post("/match", s.handleMatchTemplates)
			r.Get("/{id}", s.handleGetTemplate)
			r.Delete("/{id}", s.handleDeleteTemplate)
		})

		r.Post("/exports", s.handleExport)
		r.Get("/exports/{id}", s.handleGetExport)
		r.Get("/exports/{id}/download", s.handleDownloadExport)

		r.Post("/backups", s.handleCreateBackup)
		r.Get("/backups", s.handleListBackups)
		r.Post("/backups/{name}/restore", s.handleRestoreBackup)
	})
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	slog.Info("server listening", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server and the limiter sweepers.
func (s *Server) Shutdown(ctx context.Context) error {
	s.apiLimiter.stop()
	s.uploadLimiter.stop()
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// securityHeaders adds security headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Ping(r.Context()); err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"activeCommits": s.service.Limiter().Status().Active,
	})
}
