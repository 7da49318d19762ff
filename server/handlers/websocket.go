package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/nomis52/activityhost/transport"
)

// WebSocketHandler attaches a client connection to an activity.
type WebSocketHandler struct {
	logger   *slog.Logger
	resolver ActivityResolver
	server   ConnectionServer
}

// NewWebSocketHandler creates a new WebSocketHandler.
func NewWebSocketHandler(logger *slog.Logger, resolver ActivityResolver, server ConnectionServer) *WebSocketHandler {
	return &WebSocketHandler{
		logger:   logger,
		resolver: resolver,
		server:   server,
	}
}

// ServeHTTP implements http.Handler.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, err := activityID(r, h.resolver)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.server.Serve(w, r, id); err != nil {
		if errors.Is(err, transport.ErrUnknownActivity) {
			writeJSON(w, http.StatusNotFound, ErrorResponse{Error: err.Error()})
			return
		}
		// The upgrade has already responded.
		h.logger.Warn("websocket session failed", "activity_id", id, "error", err)
	}
}
