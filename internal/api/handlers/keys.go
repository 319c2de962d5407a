package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	stderrors "errors"

	"pubarmour/internal/engine/licenses"
	"pubarmour/internal/pkg/errors"
	"pubarmour/internal/platform/audit"
)

type KeyHandler struct {
	licenses *licenses.Service
	audit    *audit.Logger
}

func NewKeyHandler(svc *licenses.Service, auditLog *audit.Logger) *KeyHandler {
	return &KeyHandler{licenses: svc, audit: auditLog}
}

type issueRequest struct {
	DurationHours int    `json:"duration_hours"`
	Note          string `json:"note"`
	MaxUses       *int   `json:"maxUses"`
	Count         int    `json:"count"`
}

func (h *KeyHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DurationHours < 1 {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "duration_hours required", nil)
		return
	}

	key, err := h.licenses.Issue(req.DurationHours, req.Note, req.MaxUses)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "failed to issue key", nil)
		return
	}

	h.audit.Record("key_issued", "key", key.ID, req.Note, clientIP(r))

	writeJSON(w, http.StatusOK, map[string]string{
		"key":     key.ID,
		"expires": time.Unix(key.ExpiresAt, 0).UTC().Format(time.RFC3339),
		"note":    key.Note,
	})
}

func (h *KeyHandler) GenerateBatch(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DurationHours < 1 {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "duration_hours required", nil)
		return
	}
	if req.Count == 0 {
		req.Count = 1
	}

	keys, err := h.licenses.IssueBatch(req.Count, req.DurationHours, req.Note, req.MaxUses)
	if err != nil {
		if stderrors.Is(err, licenses.ErrBadBatchSize) {
			errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, err.Error(), nil)
			return
		}
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "failed to issue keys", nil)
		return
	}

	h.audit.Record("key_batch_issued", "key", "", req.Note, clientIP(r))

	issued := make([]map[string]string, 0, len(keys))
	for _, k := range keys {
		issued = append(issued, map[string]string{
			"key":     k.ID,
			"expires": time.Unix(k.ExpiresAt, 0).UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"keys": issued, "note": req.Note})
}

type keyRequest struct {
	Key string `json:"key"`
}

func (h *KeyHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "key_revoked", h.licenses.Revoke)
}

func (h *KeyHandler) ResetDevice(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "key_device_reset", h.licenses.ResetDevice)
}

func (h *KeyHandler) Delete(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "key_deleted", h.licenses.Delete)
}

func (h *KeyHandler) mutate(w http.ResponseWriter, r *http.Request, action string, op func(string) error) {
	var req keyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Key == "" {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "key required", nil)
		return
	}

	if err := op(req.Key); err != nil {
		if stderrors.Is(err, licenses.ErrNotFound) {
			errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Key not found", nil)
			return
		}
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "key update failed", nil)
		return
	}

	h.audit.Record(action, "key", req.Key, "", clientIP(r))
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *KeyHandler) List(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.licenses.List()
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "failed to list keys", nil)
		return
	}
	writeJSON(w, http.StatusOK, statuses)
}
