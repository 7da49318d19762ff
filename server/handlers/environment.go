package handlers

import "net/http"

// EnvironmentResponse lists the keys of the shared environment. Values are
// not exposed.
type EnvironmentResponse struct {
	Keys []string `json:"keys"`
}

// EnvironmentHandler handles requests for the shared environment.
type EnvironmentHandler struct {
	provider EnvironmentProvider
}

// NewEnvironmentHandler creates a new EnvironmentHandler.
func NewEnvironmentHandler(provider EnvironmentProvider) *EnvironmentHandler {
	return &EnvironmentHandler{provider: provider}
}

// ServeHTTP implements http.Handler.
func (h *EnvironmentHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	keys := h.provider.EnvironmentKeys()
	if keys == nil {
		keys = []string{}
	}
	writeJSON(w, http.StatusOK, EnvironmentResponse{Keys: keys})
}
