// Package server is a development implementation of the editing backend:
// file upload, editing sessions, session images, the operation log and
// commit into an edited PDF.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/lehigh-university-libraries/pdfstamp/internal/models"
	"github.com/lehigh-university-libraries/pdfstamp/internal/raster"
	"github.com/lehigh-university-libraries/pdfstamp/internal/replay"
	"github.com/lehigh-university-libraries/pdfstamp/internal/storage"
)

type Options struct {
	// StorageDir holds uploaded PDFs, images and edited output
	StorageDir string
	// APIKey, when set, is required in X-API-Key on file and session creation
	APIKey string
	// PublicURL prefixes editor links handed out with new sessions
	PublicURL string
}

type Handler struct {
	store storage.Store
	opts  Options

	now       func() time.Time
	pageCount func(path string) (int, error)
	compose   func(ctx context.Context, inFile, outFile string, stamps []replay.Stamp) error
}

func New(store storage.Store, opts Options) *Handler {
	if opts.StorageDir == "" {
		opts.StorageDir = "storage"
	}
	return &Handler{
		store:     store,
		opts:      opts,
		now:       time.Now,
		pageCount: raster.PageCount,
		compose:   replay.Compose,
	}
}

// Routes returns the API mux mounted under /api/v1
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/files/upload", h.requireAPIKey(h.HandleUploadFile))
	mux.HandleFunc("GET /api/v1/files/{fileId}", h.requireAPIKey(h.HandleGetFile))
	mux.HandleFunc("GET /api/v1/files/{fileId}/download", h.requireAPIKey(h.HandleDownloadOriginal))
	mux.HandleFunc("POST /api/v1/files/{fileId}/sessions", h.requireAPIKey(h.HandleCreateSession))
	mux.HandleFunc("POST /api/v1/files/{fileId}/sessions/{sessionId}/commit", h.HandleCommit)
	mux.HandleFunc("GET /api/v1/files/{fileId}/sessions/{sessionId}/download", h.HandleDownloadEdited)

	mux.HandleFunc("GET /api/v1/sessions/{sessionId}/info", h.HandleSessionInfo)
	mux.HandleFunc("POST /api/v1/sessions/{sessionId}/images", h.HandleUploadImage)
	mux.HandleFunc("GET /api/v1/sessions/{sessionId}/images/{imageId}", h.HandleGetImage)
	mux.HandleFunc("POST /api/v1/sessions/{sessionId}/operations", h.HandleAppendOperation)
	mux.HandleFunc("GET /api/v1/sessions/{sessionId}/operations", h.HandleListOperations)
	mux.HandleFunc("DELETE /api/v1/sessions/{sessionId}/operations", h.HandleClearOperations)
	mux.HandleFunc("DELETE /api/v1/sessions/{sessionId}/operations/{operationId}", h.HandleDeleteOperation)
	mux.HandleFunc("GET /api/v1/sessions/{sessionId}/download", h.HandleDownloadEdited)

	mux.HandleFunc("GET /healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			slog.Error("Unable to write healthcheck", "err", err)
		}
	})
	return mux
}

// Response helpers
func (h *Handler) writeJSON(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Unable to encode JSON response", "err", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, message string, code int) {
	if code >= http.StatusInternalServerError {
		slog.Error(message, "status", code)
	} else {
		slog.Warn(message, "status", code)
	}
	h.writeJSON(w, code, map[string]string{"detail": message})
}

func (h *Handler) requireAPIKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.opts.APIKey != "" && r.Header.Get("X-API-Key") != h.opts.APIKey {
			h.writeError(w, "Invalid API key", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// Session helpers

// sessionOrError loads the session named in the path and checks its token.
// Completed sessions are allowed only when allowCompleted is set.
func (h *Handler) sessionOrError(w http.ResponseWriter, r *http.Request, allowCompleted bool) (*storage.Session, bool) {
	session, err := h.store.GetSession(r.Context(), r.PathValue("sessionId"))
	if errors.Is(err, storage.ErrNotFound) {
		h.writeError(w, "Session not found", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		h.writeError(w, "Failed to load session: "+err.Error(), http.StatusInternalServerError)
		return nil, false
	}
	if token := r.URL.Query().Get("session_token"); token == "" || token != session.Token {
		h.writeError(w, "Invalid session token", http.StatusUnauthorized)
		return nil, false
	}
	if !h.now().Before(session.ExpiresAt) {
		h.writeError(w, "Session expired", http.StatusForbidden)
		return nil, false
	}
	if !allowCompleted && session.Status == models.SessionCompleted {
		h.writeError(w, "Session already completed", http.StatusForbidden)
		return nil, false
	}
	return session, true
}

// File operation helpers
func (h *Handler) ensureDir(parts ...string) (string, error) {
	dir := filepath.Join(append([]string{h.opts.StorageDir}, parts...)...)
	return dir, os.MkdirAll(dir, 0755)
}
