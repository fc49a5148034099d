package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MikeSquared-Agency/chatvault/internal/htmlimport"
	"github.com/MikeSquared-Agency/chatvault/internal/importer"
	"github.com/MikeSquared-Agency/chatvault/internal/store"
)

// maxUploadBytes caps an uploaded HTML document.
const maxUploadBytes = 32 << 20

type Server struct {
	router   *chi.Mux
	httpSrv  *http.Server
	store    store.Store
	importer *importer.Importer
	html     *htmlimport.Importer
	port     int
}

func NewServer(port int, apiToken string, db store.Store, imp *importer.Importer, html *htmlimport.Importer) *Server {
	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router:   router,
		store:    db,
		importer: imp,
		html:     html,
		port:     port,
	}

	router.Get("/health", s.health)
	router.Get("/api/v1/chatvault/status", s.status)

	router.Route("/api/v1/import", func(r chi.Router) {
		r.Get("/logs", s.importLogs)
		r.Group(func(r chi.Router) {
			r.Use(BearerAuthMiddleware(apiToken))
			r.Post("/run", s.importRun)
			r.Post("/folders/{name}", s.importFolder)
			r.Post("/html", s.importHTML)
		})
	})

	router.With(BearerAuthMiddleware(apiToken)).
		Delete("/api/v1/conversations/{id}", s.deleteConversation)

	return s
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	slog.Info("API server starting", "addr", addr)
	s.httpSrv = &http.Server{Addr: addr, Handler: s.router}
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	logs, err := s.store.ListImportLogs(r.Context())
	if err != nil {
		httpError(w, http.StatusInternalServerError, "list import logs: %v", err)
		return
	}

	completed := 0
	for _, l := range logs {
		if l.Status == "completed" {
			completed++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"service":          "chatvault",
		"status":           "ok",
		"folders_imported": completed,
		"folders_total":    len(logs),
	})
}

// importRun handles POST /api/v1/import/run: a full-archive import.
func (s *Server) importRun(w http.ResponseWriter, r *http.Request) {
	result, err := s.importer.Run(r.Context())
	if err != nil {
		httpError(w, http.StatusInternalServerError, "import run failed: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// importFolder handles POST /api/v1/import/folders/{name}.
func (s *Server) importFolder(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" {
		httpError(w, http.StatusBadRequest, "folder name is required")
		return
	}
	writeJSON(w, http.StatusOK, s.importer.ImportFolder(r.Context(), name))
}

// importHTML handles POST /api/v1/import/html: the request body is the
// raw HTML document; filename and provider ride in query parameters.
func (s *Server) importHTML(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes))
	if err != nil {
		httpError(w, http.StatusBadRequest, "read body: %v", err)
		return
	}
	if len(body) == 0 {
		httpError(w, http.StatusBadRequest, "empty body")
		return
	}

	filename := r.URL.Query().Get("filename")
	if filename == "" {
		filename = "upload.html"
	}
	opts := htmlimport.Options{
		Filename:     filename,
		ModTime:      time.Now(),
		ProviderHint: htmlimport.Provider(r.URL.Query().Get("provider")),
	}

	ctx := r.Context()
	tx, err := s.store.Begin(ctx)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "begin tx: %v", err)
		return
	}
	result, err := s.html.Import(ctx, tx, body, opts)
	if err != nil {
		_ = tx.Rollback(ctx)
		httpError(w, http.StatusUnprocessableEntity, "html import failed: %v", err)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		httpError(w, http.StatusInternalServerError, "commit: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) importLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := s.store.ListImportLogs(r.Context())
	if err != nil {
		httpError(w, http.StatusInternalServerError, "list import logs: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs, "count": len(logs)})
}

// deleteConversation handles DELETE /api/v1/conversations/{id}: cascades
// to messages, feedback, comparisons and timeline entries.
func (s *Server) deleteConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		httpError(w, http.StatusBadRequest, "conversation id is required")
		return
	}
	if err := s.store.DeleteConversation(r.Context(), id); err != nil {
		httpError(w, http.StatusInternalServerError, "delete conversation: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, format string, args ...any) {
	writeJSON(w, code, map[string]string{"error": fmt.Sprintf(format, args...)})
}
