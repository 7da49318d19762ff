package handlers

import (
	"log/slog"
	"net/http"
)

// ActivityHandler returns or unloads a single activity.
type ActivityHandler struct {
	logger *slog.Logger
	host   Host
}

// NewActivityHandler creates a new ActivityHandler.
func NewActivityHandler(logger *slog.Logger, h Host) *ActivityHandler {
	return &ActivityHandler{
		logger: logger,
		host:   h,
	}
}

// ServeHTTP implements http.Handler.
func (h *ActivityHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, err := activityID(r, h.host)
	if err != nil {
		writeError(w, err)
		return
	}

	switch r.Method {
	case http.MethodGet:
		snap, err := h.host.Snapshot(id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	case http.MethodDelete:
		if err := h.host.Unload(r.Context(), id); err != nil {
			if statusFor(err) == http.StatusNotFound {
				writeError(w, err)
				return
			}
			// The activity is gone even when its shutdown failed.
			h.logger.Warn("unload reported errors", "activity_id", id, "error", err)
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.Header().Set("Allow", "GET, DELETE")
		writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{Error: "method not allowed"})
	}
}
