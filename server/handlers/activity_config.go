package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/nomis52/activityhost/lifecycle"
)

// UpdateConfigHandler merges a JSON object of string values into an
// activity's configuration.
type UpdateConfigHandler struct {
	logger *slog.Logger
	host   Host
}

// NewUpdateConfigHandler creates a new UpdateConfigHandler.
func NewUpdateConfigHandler(logger *slog.Logger, h Host) *UpdateConfigHandler {
	return &UpdateConfigHandler{
		logger: logger,
		host:   h,
	}
}

// ServeHTTP implements http.Handler.
func (h *UpdateConfigHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, err := activityID(r, h.host)
	if err != nil {
		writeError(w, err)
		return
	}

	var update map[string]string
	if err := readJSON(r, &update); err != nil {
		writeError(w, err)
		return
	}

	if err := h.host.UpdateConfiguration(r.Context(), id, update); err != nil {
		var hookErr *lifecycle.HookError
		if !errors.As(err, &hookErr) {
			writeError(w, err)
			return
		}
		h.logger.Warn("configuration update failed activity", "activity_id", id, "error", err)
	}

	snap, err := h.host.Snapshot(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
