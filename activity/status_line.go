package activity

import (
	"log/slog"

	"github.com/google/uuid"
)

// StatusLine is an activity's one-line, human-readable status. Each change
// is logged on the activity's logger and published to the host's
// StatusHandler, where snapshots pick it up.
type StatusLine struct {
	id      uuid.UUID
	logger  *slog.Logger
	handler *StatusHandler
}

// NewStatusLine binds a status line to an activity. A nil handler keeps
// the status in the log only.
func NewStatusLine(id uuid.UUID, logger *slog.Logger, handler *StatusHandler) *StatusLine {
	return &StatusLine{
		id:      id,
		logger:  logger,
		handler: handler,
	}
}

// Set replaces the status. Setting the current status again is not logged.
func (sl *StatusLine) Set(status string) {
	if sl.handler != nil && !sl.handler.swap(sl.id, status) {
		return
	}
	sl.logger.Info(status, "status", true)
}

// Get returns the current status, or "" without a handler.
func (sl *StatusLine) Get() string {
	if sl.handler == nil {
		return ""
	}
	return sl.handler.Get(sl.id)
}
