package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/lehigh-university-libraries/pdfstamp/internal/models"
	"github.com/lehigh-university-libraries/pdfstamp/internal/storage"
)

func (h *Handler) HandleAppendOperation(w http.ResponseWriter, r *http.Request) {
	session, ok := h.sessionOrError(w, r, false)
	if !ok {
		return
	}
	if !session.Permissions.CanEdit {
		h.writeError(w, "Session does not allow editing", http.StatusForbidden)
		return
	}

	var req models.OperationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := req.Validate(); err != nil {
		h.writeError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	record, err := h.store.AppendOperation(r.Context(), session.ID, req)
	if err != nil {
		h.writeError(w, "Failed to append operation: "+err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusCreated, record)
}

func (h *Handler) HandleListOperations(w http.ResponseWriter, r *http.Request) {
	session, ok := h.sessionOrError(w, r, true)
	if !ok {
		return
	}
	ops, err := h.store.ListOperations(r.Context(), session.ID)
	if err != nil {
		h.writeError(w, "Failed to list operations: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if ops == nil {
		ops = []models.Operation{}
	}
	h.writeJSON(w, http.StatusOK, models.OperationList{Operations: ops, Total: len(ops)})
}

func (h *Handler) HandleClearOperations(w http.ResponseWriter, r *http.Request) {
	session, ok := h.sessionOrError(w, r, false)
	if !ok {
		return
	}
	n, err := h.store.ClearOperations(r.Context(), session.ID)
	if err != nil {
		h.writeError(w, "Failed to clear operations: "+err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"message":       "Operations cleared",
		"deleted_count": n,
	})
}

func (h *Handler) HandleDeleteOperation(w http.ResponseWriter, r *http.Request) {
	session, ok := h.sessionOrError(w, r, false)
	if !ok {
		return
	}
	err := h.store.DeleteOperation(r.Context(), session.ID, r.PathValue("operationId"))
	if errors.Is(err, storage.ErrNotFound) {
		h.writeError(w, "Operation not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.writeError(w, "Failed to delete operation: "+err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"message": "Operation deleted"})
}
