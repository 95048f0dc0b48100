package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/lehigh-university-libraries/pdfstamp/internal/models"
	"github.com/lehigh-university-libraries/pdfstamp/internal/replay"
)

// HandleCommit folds the session log, stamps the placed images into a copy
// of the original PDF and completes the session.
func (h *Handler) HandleCommit(w http.ResponseWriter, r *http.Request) {
	session, ok := h.sessionOrError(w, r, false)
	if !ok {
		return
	}
	if session.FileID != r.PathValue("fileId") {
		h.writeError(w, "Session does not belong to this file", http.StatusBadRequest)
		return
	}
	f, ok := h.fileOrError(w, r)
	if !ok {
		return
	}

	ops, err := h.store.ListOperations(r.Context(), session.ID)
	if err != nil {
		h.writeError(w, "Failed to list operations: "+err.Error(), http.StatusInternalServerError)
		return
	}
	images := replay.Fold(ops)
	stamps, err := replay.Stamps(images, func(imageID string) (string, int, int, error) {
		img, err := h.store.GetImage(r.Context(), session.ID, imageID)
		if err != nil {
			return "", 0, 0, err
		}
		return img.Path, img.Width, img.Height, nil
	})
	if err != nil {
		h.writeError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	dir, err := h.ensureDir("edited")
	if err != nil {
		h.writeError(w, "Failed to create storage directory: "+err.Error(), http.StatusInternalServerError)
		return
	}
	out := filepath.Join(dir, session.ID+".pdf")
	if err := h.compose(r.Context(), f.Path, out, stamps); err != nil {
		h.writeError(w, "Failed to compose edited PDF: "+err.Error(), http.StatusInternalServerError)
		return
	}
	stat, err := os.Stat(out)
	if err != nil {
		h.writeError(w, "Edited PDF missing: "+err.Error(), http.StatusInternalServerError)
		return
	}

	completed := h.now().UTC()
	session.Status = models.SessionCompleted
	session.CompletedAt = &completed
	session.EditedPath = out
	if err := h.store.UpdateSession(r.Context(), session); err != nil {
		h.writeError(w, "Failed to complete session: "+err.Error(), http.StatusInternalServerError)
		return
	}
	slog.Info("Session committed", "session_id", session.ID, "operations", len(ops), "images", len(images))

	h.writeJSON(w, http.StatusOK, models.CommitResult{
		SessionID:      session.ID,
		FileID:         f.ID,
		Status:         session.Status,
		EditedFilePath: out,
		EditedFileSize: stat.Size(),
		DownloadURL:    fmt.Sprintf("/api/v1/sessions/%s/download", session.ID),
		CompletedAt:    completed,
	})
}

func (h *Handler) HandleDownloadEdited(w http.ResponseWriter, r *http.Request) {
	session, ok := h.sessionOrError(w, r, true)
	if !ok {
		return
	}
	if !session.Permissions.CanDownload {
		h.writeError(w, "Session does not allow downloads", http.StatusForbidden)
		return
	}
	if fileID := r.PathValue("fileId"); fileID != "" && fileID != session.FileID {
		h.writeError(w, "Session does not belong to this file", http.StatusBadRequest)
		return
	}
	if session.Status != models.SessionCompleted || session.EditedPath == "" {
		h.writeError(w, "Session has not been committed", http.StatusConflict)
		return
	}

	name := "edited.pdf"
	if f, err := h.store.GetFile(r.Context(), session.FileID); err == nil {
		name = "edited_" + f.OriginalFilename
	}
	serveAttachment(w, r, session.EditedPath, name, "application/pdf")
}
