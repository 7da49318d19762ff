package bus

import (
	"maps"

	"github.com/google/uuid"
)

// Event is a published notification.
// Events are values; listeners receive their own copy of the top-level Data
// map and must treat nested values as read-only.
type Event struct {
	Type   string         `json:"type"`
	Source uuid.UUID      `json:"source"`
	Data   map[string]any `json:"data,omitempty"`
}

// NewEvent creates an event holding a copy of data.
func NewEvent(eventType string, source uuid.UUID, data map[string]any) Event {
	return Event{
		Type:   eventType,
		Source: source,
		Data:   maps.Clone(data),
	}
}

// Value returns the data value for key and whether it was present.
func (e Event) Value(key string) (any, bool) {
	v, ok := e.Data[key]
	return v, ok
}

// clone returns a copy of e with its own top-level Data map.
func (e Event) clone() Event {
	e.Data = maps.Clone(e.Data)
	return e
}
