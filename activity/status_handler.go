package activity

import (
	"maps"
	"sync"

	"github.com/google/uuid"
)

// StatusHandler holds the current status of every loaded activity.
type StatusHandler struct {
	mu       sync.RWMutex
	statuses map[uuid.UUID]string
}

// NewStatusHandler creates an empty status handler.
func NewStatusHandler() *StatusHandler {
	return &StatusHandler{
		statuses: make(map[uuid.UUID]string),
	}
}

// Set records the status of an activity.
func (sh *StatusHandler) Set(id uuid.UUID, status string) {
	sh.swap(id, status)
}

// swap records status and reports whether it differs from the previous one.
func (sh *StatusHandler) swap(id uuid.UUID, status string) bool {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	prev, ok := sh.statuses[id]
	sh.statuses[id] = status
	return !ok || prev != status
}

// Get returns the status of an activity, or "" if none was set.
func (sh *StatusHandler) Get(id uuid.UUID) string {
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return sh.statuses[id]
}

// Remove forgets the status of an unloaded activity.
func (sh *StatusHandler) Remove(id uuid.UUID) {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	delete(sh.statuses, id)
}

// All returns a copy of every status.
func (sh *StatusHandler) All() map[uuid.UUID]string {
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return maps.Clone(sh.statuses)
}
