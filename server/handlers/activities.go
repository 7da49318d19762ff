package handlers

import (
	"log/slog"
	"net/http"

	"github.com/nomis52/activityhost/host"
)

// ActivitiesHandler lists loaded activities and loads new ones.
type ActivitiesHandler struct {
	logger *slog.Logger
	host   Host
}

// NewActivitiesHandler creates a new ActivitiesHandler.
func NewActivitiesHandler(logger *slog.Logger, h Host) *ActivitiesHandler {
	return &ActivitiesHandler{
		logger: logger,
		host:   h,
	}
}

// ServeHTTP implements http.Handler.
func (h *ActivitiesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, h.host.Snapshots())
	case http.MethodPost:
		h.load(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{Error: "method not allowed"})
	}
}

func (h *ActivitiesHandler) load(w http.ResponseWriter, r *http.Request) {
	var req host.LoadRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	id, err := h.host.Load(r.Context(), req)
	if err != nil {
		h.logger.Warn("load rejected", "name", req.Name, "type", req.Type, "error", err)
		writeError(w, err)
		return
	}

	snap, err := h.host.Snapshot(id)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Location", "/api/activities/"+id.String())
	writeJSON(w, http.StatusCreated, snap)
}

// TypesHandler lists the activity types that can be loaded.
type TypesHandler struct {
	loader ActivityLoader
}

// NewTypesHandler creates a new TypesHandler.
func NewTypesHandler(loader ActivityLoader) *TypesHandler {
	return &TypesHandler{loader: loader}
}

// ServeHTTP implements http.Handler.
func (h *TypesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.loader.Types())
}
