package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/nomis52/activityhost/lifecycle"
)

// Actions accepted by ActionHandler.
const (
	ActionStartup    = "startup"
	ActionActivate   = "activate"
	ActionDeactivate = "deactivate"
	ActionShutdown   = "shutdown"
	ActionRestart    = "restart"
	ActionCheck      = "check"
)

// ActionHandler requests a lifecycle transition and returns the resulting
// snapshot.
type ActionHandler struct {
	logger *slog.Logger
	host   Host
}

// NewActionHandler creates a new ActionHandler.
func NewActionHandler(logger *slog.Logger, h Host) *ActionHandler {
	return &ActionHandler{
		logger: logger,
		host:   h,
	}
}

// ServeHTTP implements http.Handler.
func (h *ActionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, err := activityID(r, h.host)
	if err != nil {
		writeError(w, err)
		return
	}

	action := r.PathValue("action")
	run, ok := h.action(action)
	if !ok {
		writeError(w, fmt.Errorf("%w: unknown action %q", errBadRequest, action))
		return
	}

	h.logger.Info("lifecycle request", "activity_id", id, "action", action)
	if err := run(r.Context(), id); err != nil {
		var hookErr *lifecycle.HookError
		if !errors.As(err, &hookErr) {
			writeError(w, err)
			return
		}
		// The activity failed; report its new state alongside the error.
		h.logger.Warn("lifecycle request failed activity", "activity_id", id, "action", action, "error", err)
	}

	snap, err := h.host.Snapshot(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *ActionHandler) action(name string) (func(context.Context, uuid.UUID) error, bool) {
	switch name {
	case ActionStartup:
		return h.host.Startup, true
	case ActionActivate:
		return h.host.Activate, true
	case ActionDeactivate:
		return h.host.Deactivate, true
	case ActionShutdown:
		return h.host.Shutdown, true
	case ActionRestart:
		return h.host.Restart, true
	case ActionCheck:
		return h.host.CheckState, true
	default:
		return nil, false
	}
}
