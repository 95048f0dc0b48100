package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/lehigh-university-libraries/pdfstamp/internal/models"
	"github.com/lehigh-university-libraries/pdfstamp/internal/oplog"
	"github.com/lehigh-university-libraries/pdfstamp/internal/storage"
)

func (h *Handler) HandleUploadFile(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, "Failed to read file: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()

	// one byte over the limit is enough to reject
	data, err := io.ReadAll(io.LimitReader(file, oplog.MaxPDFSize+1))
	if err != nil {
		h.writeError(w, "Failed to read file contents: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if err := oplog.ValidatePDF(header.Filename, data); err != nil {
		h.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	dir, err := h.ensureDir("files")
	if err != nil {
		h.writeError(w, "Failed to create storage directory: "+err.Error(), http.StatusInternalServerError)
		return
	}
	id := uuid.NewString()
	stored := id + ".pdf"
	path := filepath.Join(dir, stored)
	if err := os.WriteFile(path, data, 0644); err != nil {
		h.writeError(w, "Failed to store file: "+err.Error(), http.StatusInternalServerError)
		return
	}

	pages, err := h.pageCount(path)
	if err != nil {
		_ = os.Remove(path)
		h.writeError(w, "Invalid PDF: "+err.Error(), http.StatusBadRequest)
		return
	}

	f := &storage.File{
		FileInfo: models.FileInfo{
			ID:               id,
			Filename:         stored,
			OriginalFilename: filepath.Base(header.Filename),
			FileSize:         int64(len(data)),
			PageCount:        pages,
			MimeType:         "application/pdf",
			UploadedAt:       h.now().UTC(),
		},
		Path: path,
	}
	if err := h.store.CreateFile(r.Context(), f); err != nil {
		h.writeError(w, "Failed to save file: "+err.Error(), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusCreated, f.FileInfo)
}

func (h *Handler) fileOrError(w http.ResponseWriter, r *http.Request) (*storage.File, bool) {
	f, err := h.store.GetFile(r.Context(), r.PathValue("fileId"))
	if errors.Is(err, storage.ErrNotFound) {
		h.writeError(w, "File not found", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		h.writeError(w, "Failed to load file: "+err.Error(), http.StatusInternalServerError)
		return nil, false
	}
	return f, true
}

func (h *Handler) HandleGetFile(w http.ResponseWriter, r *http.Request) {
	f, ok := h.fileOrError(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, f.FileInfo)
}

func (h *Handler) HandleDownloadOriginal(w http.ResponseWriter, r *http.Request) {
	f, ok := h.fileOrError(w, r)
	if !ok {
		return
	}
	serveAttachment(w, r, f.Path, f.OriginalFilename, "application/pdf")
}

func serveAttachment(w http.ResponseWriter, r *http.Request, path, name, contentType string) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.ServeFile(w, r, path)
}
