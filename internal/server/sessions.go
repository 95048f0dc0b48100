package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"image"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lehigh-university-libraries/pdfstamp/internal/models"
	"github.com/lehigh-university-libraries/pdfstamp/internal/oplog"
	"github.com/lehigh-university-libraries/pdfstamp/internal/storage"

	// decoders for image.DecodeConfig
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

const defaultSessionHours = 24

func (h *Handler) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	f, ok := h.fileOrError(w, r)
	if !ok {
		return
	}

	req := models.SessionRequest{
		ExpiresInHours: defaultSessionHours,
		Permissions:    models.Permissions{CanEdit: true, CanDownload: true},
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			h.writeError(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
			return
		}
	}
	if req.ExpiresInHours <= 0 {
		req.ExpiresInHours = defaultSessionHours
	}

	now := h.now().UTC()
	session := &storage.Session{
		ID:          uuid.NewString(),
		FileID:      f.ID,
		Token:       uuid.NewString(),
		Status:      models.SessionActive,
		CallbackURL: req.CallbackURL,
		Permissions: req.Permissions,
		ExpiresAt:   now.Add(time.Duration(req.ExpiresInHours) * time.Hour),
		CreatedAt:   now,
	}
	if err := h.store.CreateSession(r.Context(), session); err != nil {
		h.writeError(w, "Failed to create session: "+err.Error(), http.StatusInternalServerError)
		return
	}
	slog.Info("Session created", "session_id", session.ID, "file_id", f.ID, "expires_at", session.ExpiresAt)

	editorURL := strings.TrimRight(h.opts.PublicURL, "/") + "/editor?session=" +
		url.QueryEscape(session.ID) + "&token=" + url.QueryEscape(session.Token)
	h.writeJSON(w, http.StatusCreated, models.SessionCreated{
		SessionID:    session.ID,
		FileID:       f.ID,
		SessionToken: session.Token,
		EditorURL:    editorURL,
		ExpiresAt:    session.ExpiresAt,
		Permissions:  session.Permissions,
	})
}

func (h *Handler) HandleSessionInfo(w http.ResponseWriter, r *http.Request) {
	session, err := h.store.GetSession(r.Context(), r.PathValue("sessionId"))
	if errors.Is(err, storage.ErrNotFound) {
		h.writeError(w, "Session not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.writeError(w, "Failed to load session: "+err.Error(), http.StatusInternalServerError)
		return
	}
	// info stays readable after expiry and commit so clients can explain why editing is refused
	if r.URL.Query().Get("session_token") != session.Token {
		h.writeError(w, "Invalid session token", http.StatusUnauthorized)
		return
	}

	info := models.SessionInfo{
		ID:           session.ID,
		FileID:       session.FileID,
		SessionToken: session.Token,
		Status:       session.Status,
		ExpiresAt:    session.ExpiresAt,
		CreatedAt:    session.CreatedAt,
		Permissions:  session.Permissions,
	}
	if f, err := h.store.GetFile(r.Context(), session.FileID); err == nil {
		info.FileName = f.OriginalFilename
		info.PageCount = f.PageCount
	}
	h.writeJSON(w, http.StatusOK, info)
}

func (h *Handler) HandleUploadImage(w http.ResponseWriter, r *http.Request) {
	session, ok := h.sessionOrError(w, r, false)
	if !ok {
		return
	}
	if !session.Permissions.CanEdit {
		h.writeError(w, "Session does not allow editing", http.StatusForbidden)
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		h.writeError(w, "Failed to read image: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, oplog.MaxImageSize))
	if err != nil {
		h.writeError(w, "Failed to read image contents: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if err := oplog.ValidateImage(header.Filename, data); err != nil {
		h.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		h.writeError(w, "Unable to decode image: "+err.Error(), http.StatusBadRequest)
		return
	}

	dir, err := h.ensureDir("images", session.ID)
	if err != nil {
		h.writeError(w, "Failed to create storage directory: "+err.Error(), http.StatusInternalServerError)
		return
	}
	id := uuid.NewString()
	stored := id + strings.ToLower(filepath.Ext(header.Filename))
	path := filepath.Join(dir, stored)
	if err := os.WriteFile(path, data, 0644); err != nil {
		h.writeError(w, "Failed to store image: "+err.Error(), http.StatusInternalServerError)
		return
	}

	img := &storage.Image{
		ImageAsset: models.ImageAsset{
			ID:               id,
			SessionID:        session.ID,
			OriginalFilename: filepath.Base(header.Filename),
			StoredFilename:   stored,
			FileSize:         int64(len(data)),
			MimeType:         http.DetectContentType(data),
			Width:            cfg.Width,
			Height:           cfg.Height,
			UploadedAt:       h.now().UTC(),
			ImageURL:         models.ImageURL(session.ID, id),
		},
		Path: path,
	}
	if err := h.store.AddImage(r.Context(), img); err != nil {
		h.writeError(w, "Failed to save image: "+err.Error(), http.StatusInternalServerError)
		return
	}
	slog.Info("Image uploaded", "session_id", session.ID, "image_id", id, "width", cfg.Width, "height", cfg.Height)
	h.writeJSON(w, http.StatusCreated, img.ImageAsset)
}

// HandleGetImage serves image bytes without a token so image URLs can be
// used directly as sources.
func (h *Handler) HandleGetImage(w http.ResponseWriter, r *http.Request) {
	img, err := h.store.GetImage(r.Context(), r.PathValue("sessionId"), r.PathValue("imageId"))
	if errors.Is(err, storage.ErrNotFound) {
		h.writeError(w, "Image not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.writeError(w, "Failed to load image: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", img.MimeType)
	http.ServeFile(w, r, img.Path)
}
