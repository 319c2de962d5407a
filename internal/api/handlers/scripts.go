package handlers

import (
	"encoding/json"
	"net/http"

	stderrors "errors"

	"pubarmour/internal/engine/licenses"
	"pubarmour/internal/engine/scripts"
	"pubarmour/internal/pkg/errors"
	"pubarmour/internal/platform/audit"
)

type ScriptHandler struct {
	scripts  *scripts.Repository
	licenses *licenses.Service
	audit    *audit.Logger
}

func NewScriptHandler(repo *scripts.Repository, lic *licenses.Service, auditLog *audit.Logger) *ScriptHandler {
	return &ScriptHandler{scripts: repo, licenses: lic, audit: auditLog}
}

func (h *ScriptHandler) Upload(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name            string `json:"name"`
		Content         string `json:"content"`
		Description     string `json:"description"`
		SkipObfuscation bool   `json:"skipObfuscation"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" || req.Content == "" {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Name and content required.", nil)
		return
	}

	safe := scripts.SanitizeName(req.Name)
	if safe == "" {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid name.", nil)
		return
	}

	isNew, err := h.scripts.Upsert(safe, req.Content, req.Description, req.SkipObfuscation)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "upload failed", nil)
		return
	}

	h.audit.Record("script_uploaded", "script", safe, "", clientIP(r))
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "name": safe, "isNew": isNew})
}

func (h *ScriptHandler) List(w http.ResponseWriter, r *http.Request) {
	infos, err := h.scripts.List()
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "failed to list scripts", nil)
		return
	}
	writeJSON(w, http.StatusOK, infos)
}

func (h *ScriptHandler) Delete(w http.ResponseWriter, r *http.Request) {
	name := scripts.SanitizeName(routeParam(r, "name"))

	if err := h.scripts.Delete(name); err != nil {
		h.writeScriptError(w, err)
		return
	}

	h.audit.Record("script_deleted", "script", name, "", clientIP(r))
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *ScriptHandler) Content(w http.ResponseWriter, r *http.Request) {
	name := scripts.SanitizeName(routeParam(r, "name"))

	script, err := h.scripts.Get(name)
	if err != nil {
		h.writeScriptError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"content": script.Content})
}

func (h *ScriptHandler) ResetExecutions(w http.ResponseWriter, r *http.Request) {
	name := scripts.SanitizeName(routeParam(r, "name"))

	if err := h.scripts.ResetExecutions(name); err != nil {
		h.writeScriptError(w, err)
		return
	}

	h.audit.Record("script_execs_reset", "script", name, "", clientIP(r))
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *ScriptHandler) Stats(w http.ResponseWriter, r *http.Request) {
	count, executions, size, err := h.scripts.Totals()
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "stats failed", nil)
		return
	}
	totalKeys, activeKeys, err := h.licenses.Counts()
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "stats failed", nil)
		return
	}

	writeJSON(w, http.StatusOK, scripts.Stats{
		ScriptCount:     count,
		TotalExecutions: executions,
		TotalSize:       size,
		ActiveKeys:      activeKeys,
		TotalKeys:       totalKeys,
	})
}

func (h *ScriptHandler) writeScriptError(w http.ResponseWriter, err error) {
	if stderrors.Is(err, scripts.ErrNotFound) {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Not found.", nil)
		return
	}
	errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "script operation failed", nil)
}
