package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/nomis52/activityhost/logging"
)

// LogsHandler returns the captured log entries of an activity. The optional
// "since" query parameter is an RFC 3339 timestamp.
type LogsHandler struct {
	host Host
}

// NewLogsHandler creates a new LogsHandler.
func NewLogsHandler(h Host) *LogsHandler {
	return &LogsHandler{host: h}
}

// ServeHTTP implements http.Handler.
func (h *LogsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, err := activityID(r, h.host)
	if err != nil {
		writeError(w, err)
		return
	}

	var since time.Time
	if s := r.URL.Query().Get("since"); s != "" {
		since, err = time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, fmt.Errorf("%w: since: %v", errBadRequest, err))
			return
		}
	}

	entries, err := h.host.Logs(id, since)
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []logging.LogEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
