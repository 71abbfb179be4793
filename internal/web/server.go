// Package web serves the import API: upload a spreadsheet, adjust the column
// mapping, validate, run the import in the background and follow its
// progress over Server-Sent Events.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/JonMunkholm/homeinventory/internal/config"
	"github.com/JonMunkholm/homeinventory/internal/importer"
	"github.com/JonMunkholm/homeinventory/internal/logging"
	"github.com/JonMunkholm/homeinventory/internal/mapping"
	"github.com/JonMunkholm/homeinventory/internal/web/middleware"
)

// Backend is the persistence the API needs beyond the import sessions.
// Both the postgres and in-memory stores satisfy it.
type Backend interface {
	Ping(ctx context.Context) error
	Opener() importer.Opener
	ListProfiles(ctx context.Context) ([]mapping.Profile, error)
	GetProfile(ctx context.Context, id uuid.UUID) (mapping.Profile, error)
	SaveProfile(ctx context.Context, p mapping.Profile) (mapping.Profile, error)
	DeleteProfile(ctx context.Context, id uuid.UUID) error
}

// Server is the HTTP server for the import API.
type Server struct {
	imports *importer.Service
	backend Backend
	cfg     *config.Config
	router  *chi.Mux
	server  *http.Server
}

// NewServer creates a Server with its middleware and routes installed.
func NewServer(imports *importer.Service, backend Backend, cfg *config.Config) *Server {
	s := &Server{
		imports: imports,
		backend: backend,
		cfg:     cfg,
		router:  chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(middleware.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(middleware.Logger)
	s.router.Use(chimw.Recoverer)
	s.router.Use(securityHeaders)

	if s.cfg.Rate.Enabled {
		s.router.Use(newRateLimiter(s.cfg.Rate.RequestsPerMinute, time.Minute).middleware)
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	uploads := func(next http.Handler) http.Handler { return next }
	if s.cfg.Rate.Enabled {
		uploads = newRateLimiter(s.cfg.Rate.ImportsPerMinute, time.Minute).middleware
	}

	s.router.Route("/api", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(s.cfg.Security))

		// Progress streams stay open for the length of an import.
		r.Get("/imports/{id}/progress", s.handleProgress)

		r.Group(func(r chi.Router) {
			if s.cfg.Server.RequestTimeout > 0 {
				r.Use(chimw.Timeout(s.cfg.Server.RequestTimeout))
			}

			r.Get("/fields", s.handleFields)

			r.With(uploads).Post("/imports", s.handleCreateImport)
			r.Get("/imports/{id}", s.handleGetImport)
			r.Delete("/imports/{id}", s.handleDeleteImport)
			r.Get("/imports/{id}/preview", s.handlePreview)
			r.Put("/imports/{id}/mapping", s.handleUpdateMapping)
			r.Post("/imports/{id}/profile/{profileID}", s.handleApplyProfile)
			r.Post("/imports/{id}/validate", s.handleValidate)
			r.Post("/imports/{id}/execute", s.handleExecute)
			r.Post("/imports/{id}/cancel", s.handleCancel)
			r.Get("/imports/{id}/errors.xlsx", s.handleErrorReport)
			r.Post("/imports/{id}/reset", s.handleReset)

			r.Get("/profiles", s.handleListProfiles)
			r.Post("/profiles", s.handleSaveProfile)
			r.Get("/profiles/match", s.handleMatchProfiles)
			r.Delete("/profiles/{profileID}", s.handleDeleteProfile)
		})
	})
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address until Shutdown.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	slog.Info("starting server", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for active ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// securityHeaders adds hardening headers to every response.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		h.Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

// writeJSON encodes v with status. Encoding errors are logged since the
// header is already sent.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context()).Error("json encode failed", "error", err)
	}
}
