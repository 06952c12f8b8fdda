package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/shepherd-cms/shepherd/pkg/configs"
)

// updateRequest is the body of PUT /api/config/{id}.
type updateRequest struct {
	Settings    json.RawMessage `json:"settings"`
	ChangeNotes string          `json:"change_notes"`
}

// rollbackRequest is the optional body of POST rollback.
type rollbackRequest struct {
	ChangeNotes string `json:"change_notes"`
}

// deleteResponse reports how many versions a delete removed.
type deleteResponse struct {
	ConfigID        string `json:"config_id"`
	DeletedVersions int64  `json:"deleted_versions"`
}

// createConfig handles POST /api/config.
func (h *Handler) createConfig(w http.ResponseWriter, r *http.Request) {
	var req configs.NewConfig
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if who := actor(r); who != "" {
		req.UpdatedBy = who
	}

	created, err := h.deps.Service.Create(r.Context(), req)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// getConfig handles GET /api/config/{id} and returns the latest version.
func (h *Handler) getConfig(w http.ResponseWriter, r *http.Request) {
	v, err := h.deps.Service.GetLatest(r.Context(), r.PathValue(pathParamID))
	if err != nil {
		h.serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// getConfigVersion handles GET /api/config/{id}/version/{version}.
func (h *Handler) getConfigVersion(w http.ResponseWriter, r *http.Request) {
	version, ok := parseVersion(w, r)
	if !ok {
		return
	}

	v, err := h.deps.Service.GetVersion(r.Context(), r.PathValue(pathParamID), version)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// updateConfig handles PUT /api/config/{id}.
func (h *Handler) updateConfig(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	updated, err := h.deps.Service.Update(r.Context(), r.PathValue(pathParamID), req.Settings, actor(r), req.ChangeNotes)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// rollbackConfig handles POST /api/config/{id}/rollback/{version}. The
// request body is optional and may carry change notes.
func (h *Handler) rollbackConfig(w http.ResponseWriter, r *http.Request) {
	version, ok := parseVersion(w, r)
	if !ok {
		return
	}

	var req rollbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rolled, err := h.deps.Service.Rollback(r.Context(), r.PathValue(pathParamID), version, actor(r), req.ChangeNotes)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rolled)
}

// configHistory handles GET /api/config/history/{id}, newest first.
func (h *Handler) configHistory(w http.ResponseWriter, r *http.Request) {
	versions, err := h.deps.Service.History(r.Context(), r.PathValue(pathParamID))
	if err != nil {
		h.serviceError(w, err)
		return
	}
	if versions == nil {
		versions = []configs.ConfigurationVersion{}
	}
	writeJSON(w, http.StatusOK, versions)
}

// queryConfigs handles GET /api/config/query with optional app_name and
// environment filters, returning the latest version of each match.
func (h *Handler) queryConfigs(w http.ResponseWriter, r *http.Request) {
	filter := configs.Filter{
		AppName:     r.URL.Query().Get("app_name"),
		Environment: r.URL.Query().Get("environment"),
	}

	versions, err := h.deps.Service.Query(r.Context(), filter)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	if versions == nil {
		versions = []configs.ConfigurationVersion{}
	}
	writeJSON(w, http.StatusOK, versions)
}

// deleteConfig handles DELETE /api/config/{id} and removes every version.
func (h *Handler) deleteConfig(w http.ResponseWriter, r *http.Request) {
	configID := r.PathValue(pathParamID)
	count, err := h.deps.Service.Delete(r.Context(), configID)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	if count == 0 {
		writeError(w, http.StatusNotFound, "configuration not found")
		return
	}
	writeJSON(w, http.StatusOK, deleteResponse{ConfigID: configID, DeletedVersions: count})
}

func parseVersion(w http.ResponseWriter, r *http.Request) (int, bool) {
	version, err := strconv.Atoi(r.PathValue(pathParamVersion))
	if err != nil || version < 1 {
		writeError(w, http.StatusBadRequest, "version must be a positive integer")
		return 0, false
	}
	return version, true
}
