package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/adnanbaig/browserfarm/internal/fault"
	"github.com/adnanbaig/browserfarm/pkg/models"
)

// CreateTab handles POST /v1/instances/{id}/tabs
func (h *Handler) CreateTab(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req models.CreateTabRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, fault.New(fault.KindConfigurationInvalid, "invalid request body: %s", err.Error()))
			return
		}
	}

	tab, err := h.mgr.OpenTab(r.Context(), id, req.URL)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, tab)
}

// ListTabs handles GET /v1/instances/{id}/tabs
func (h *Handler) ListTabs(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	tabs, err := h.mgr.ListTabs(id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, tabs)
}

// GetTab handles GET /v1/instances/{id}/tabs/{tabId}
func (h *Handler) GetTab(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	tab, err := h.mgr.GetTab(vars["id"], vars["tabId"])
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, tab)
}

// CloseTab handles DELETE /v1/instances/{id}/tabs/{tabId}
func (h *Handler) CloseTab(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	if err := h.mgr.CloseTab(r.Context(), vars["id"], vars["tabId"]); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ActivateTab handles POST /v1/instances/{id}/tabs/{tabId}/activate
func (h *Handler) ActivateTab(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	if err := h.mgr.ActivateTab(r.Context(), vars["id"], vars["tabId"]); err != nil {
		writeError(w, err)
		return
	}

	tab, err := h.mgr.GetTab(vars["id"], vars["tabId"])
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, tab)
}
