package httpapi

import (
	"net/http"

	"officeadmin.org/internal/audit"
	"officeadmin.org/internal/siteconfig"
)

type updateConfigRequest struct {
	Value       *string `json:"value"`
	Description *string `json:"description" validate:"omitempty,max=512"`
	Group       *string `json:"group" validate:"omitempty,max=64"`
}

type batchConfigRequest struct {
	Items []siteconfig.KeyValue `json:"items" validate:"required,min=1,max=100,dive"`
}

// Public reads

func (a *API) handlePublicConfigList(w http.ResponseWriter, r *http.Request) {
	entries, err := a.config.ListPublic(r.Context(), r.URL.Query().Get("group"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": entries})
}

func (a *API) handlePublicConfigMap(w http.ResponseWriter, r *http.Request) {
	values, err := a.config.PublicMap(r.Context(), r.URL.Query().Get("group"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, values)
}

func (a *API) handlePublicConfigGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := a.config.PublicGroups(r.Context())
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": groups})
}

func (a *API) handlePublicConfigByKey(w http.ResponseWriter, r *http.Request) {
	entry, err := a.config.PublicByKey(r.Context(), r.PathValue("key"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (a *API) handlePublicConfigByID(w http.ResponseWriter, r *http.Request) {
	entry, err := a.config.PublicByID(r.Context(), r.PathValue("id"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// Full reads

func (a *API) handleConfigList(w http.ResponseWriter, r *http.Request) {
	entries, err := a.config.List(r.Context(), r.URL.Query().Get("group"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": entries})
}

func (a *API) handleConfigMap(w http.ResponseWriter, r *http.Request) {
	values, err := a.config.Map(r.Context(), r.URL.Query().Get("group"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, values)
}

func (a *API) handleConfigGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := a.config.Groups(r.Context())
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": groups})
}

func (a *API) handleConfigByKey(w http.ResponseWriter, r *http.Request) {
	entry, err := a.config.ByKey(r.Context(), r.PathValue("key"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (a *API) handleConfigByID(w http.ResponseWriter, r *http.Request) {
	entry, err := a.config.ByID(r.Context(), r.PathValue("id"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// Writes

func (a *API) handleCreateConfig(w http.ResponseWriter, r *http.Request) {
	var req siteconfig.Input
	if !bind(w, r, &req) {
		return
	}
	entry, err := a.config.Create(r.Context(), req)
	if err != nil {
		handleError(w, r, err)
		return
	}
	a.auditConfig(r, "create", entry.Key)
	writeJSON(w, http.StatusCreated, entry)
}

func (a *API) handleSetConfig(w http.ResponseWriter, r *http.Request) {
	var req siteconfig.Input
	if !bind(w, r, &req) {
		return
	}
	entry, err := a.config.Set(r.Context(), req.Key, req.Value, req.Description, req.Group)
	if err != nil {
		handleError(w, r, err)
		return
	}
	a.auditConfig(r, "set", entry.Key)
	writeJSON(w, http.StatusOK, entry)
}

func (a *API) handleBatchConfig(w http.ResponseWriter, r *http.Request) {
	var req batchConfigRequest
	if !bind(w, r, &req) {
		return
	}
	entries, err := a.config.BatchUpsert(r.Context(), req.Items)
	if err != nil {
		handleError(w, r, err)
		return
	}
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		keys = append(keys, e.Key)
	}
	_ = audit.LogEvent(r.Context(), audit.EventConfigChanged, map[string]any{
		"action": "batch",
		"keys":   keys,
	})
	writeJSON(w, http.StatusOK, map[string]any{"items": entries})
}

func (a *API) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req updateConfigRequest
	if !bind(w, r, &req) {
		return
	}
	entry, err := a.config.Update(r.Context(), r.PathValue("id"), siteconfig.Update(req))
	if err != nil {
		handleError(w, r, err)
		return
	}
	a.auditConfig(r, "update", entry.Key)
	writeJSON(w, http.StatusOK, entry)
}

func (a *API) handleUpdateConfigByKey(w http.ResponseWriter, r *http.Request) {
	var req updateConfigRequest
	if !bind(w, r, &req) {
		return
	}
	entry, err := a.config.UpdateByKey(r.Context(), r.PathValue("key"), siteconfig.Update(req))
	if err != nil {
		handleError(w, r, err)
		return
	}
	a.auditConfig(r, "update", entry.Key)
	writeJSON(w, http.StatusOK, entry)
}

func (a *API) handleDeleteConfig(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := a.config.Delete(r.Context(), id); err != nil {
		handleError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventConfigChanged, map[string]any{"action": "delete", "id": id})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleDeleteConfigByKey(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if err := a.config.DeleteByKey(r.Context(), key); err != nil {
		handleError(w, r, err)
		return
	}
	a.auditConfig(r, "delete", key)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) auditConfig(r *http.Request, action, key string) {
	_ = audit.LogEvent(r.Context(), audit.EventConfigChanged, map[string]any{
		"action": action,
		"key":    key,
	})
}
