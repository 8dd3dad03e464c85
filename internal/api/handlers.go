package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/adnanbaig/browserfarm/internal/dispatch"
	"github.com/adnanbaig/browserfarm/internal/fault"
	"github.com/adnanbaig/browserfarm/internal/manager"
	"github.com/adnanbaig/browserfarm/pkg/models"
)

// Handler holds dependencies for HTTP handlers
type Handler struct {
	mgr        *manager.Manager
	dispatcher *dispatch.Dispatcher
}

// NewHandler creates a new HTTP handler
func NewHandler(mgr *manager.Manager, dispatcher *dispatch.Dispatcher) *Handler {
	return &Handler{
		mgr:        mgr,
		dispatcher: dispatcher,
	}
}

// CreateInstance handles POST /v1/instances
func (h *Handler) CreateInstance(w http.ResponseWriter, r *http.Request) {
	var req models.CreateInstanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fault.New(fault.KindConfigurationInvalid, "invalid request body: %s", err.Error()))
		return
	}

	inst, err := h.mgr.Create(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, inst)
}

// GetInstance handles GET /v1/instances/{id}
func (h *Handler) GetInstance(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	inst, err := h.mgr.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, inst)
}

// ListInstances handles GET /v1/instances
func (h *Handler) ListInstances(w http.ResponseWriter, r *http.Request) {
	summaries := h.mgr.List()
	global, hits, misses := h.mgr.GlobalMetrics()

	writeJSON(w, http.StatusOK, map[string]any{
		"instances": summaries,
		"global":    global,
		"optionsCache": map[string]int64{
			"hits":   hits,
			"misses": misses,
		},
	})
}

// DestroyInstance handles DELETE /v1/instances/{id}
func (h *Handler) DestroyInstance(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))

	if err := h.mgr.Destroy(r.Context(), id, force); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Invoke handles POST /v1/instances/{id}/invoke
func (h *Handler) Invoke(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req models.InvokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fault.New(fault.KindProtocolError, "invalid request body: %s", err.Error()))
		return
	}

	result, err := h.dispatcher.Invoke(r.Context(), id, req.TabID, req.Domain, req.Method, req.Params)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// GetDebugURL handles GET /v1/instances/{id}/debug
func (h *Handler) GetDebugURL(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	inst, err := h.mgr.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"debuggerUrl": fmt.Sprintf("ws://%s/v1/instances/%s/ws", r.Host, inst.ID),
		"instanceId":  inst.ID,
		"state":       string(inst.State),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps fault kinds to HTTP statuses and serializes the
// structured error as the response body
func writeError(w http.ResponseWriter, err error) {
	var fe *fault.Error
	if !errors.As(err, &fe) {
		fe = fault.Wrap(err, fault.KindInternal, err.Error())
	}

	writeJSON(w, statusFor(fe.Kind), fe)
}

func statusFor(kind fault.Kind) int {
	switch kind {
	case fault.KindNotFound:
		return http.StatusNotFound
	case fault.KindResourceBusy:
		return http.StatusConflict
	case fault.KindCapacityExceeded:
		return http.StatusTooManyRequests
	case fault.KindConfigurationInvalid:
		return http.StatusBadRequest
	case fault.KindTimedOut:
		return http.StatusGatewayTimeout
	case fault.KindEngineUnavailable:
		return http.StatusServiceUnavailable
	case fault.KindProtocolError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
