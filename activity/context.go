package activity

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/nomis52/activityhost/bus"
)

// Environment is the read-only view of host-wide shared values.
// Value returns (nil, false) for unset keys.
type Environment interface {
	Value(key string) (any, bool)
}

// EventClient is an activity's handle on the event bus.
// Events published through it carry the activity ID as their source and
// listeners subscribed through it are removed when the activity unloads.
type EventClient interface {
	Publish(ctx context.Context, topic, eventType string, data map[string]any)
	Subscribe(topic string, listener bus.Listener) bus.Handle
	Unsubscribe(h bus.Handle) bool
}

// WebChannel sends JSON payloads to the web clients connected to an activity.
type WebChannel interface {
	Broadcast(ctx context.Context, payload any) error
	Send(ctx context.Context, connectionID string, payload any) error
	Connections() []string
}

// Context is handed to an activity factory at construction.
type Context struct {
	ID     uuid.UUID
	Name   string
	Type   string
	Logger *slog.Logger
	Config *Config
	Env    Environment
	Status *StatusLine

	// Events is nil when the host runs without an event bus.
	Events EventClient
	// Web is nil when the host runs without a transport adapter.
	Web WebChannel
}

// Publish publishes through Events when present and is a no-op otherwise.
func (c *Context) Publish(ctx context.Context, topic, eventType string, data map[string]any) {
	if c.Events == nil {
		c.Logger.Debug("event bus unavailable, dropping event", "topic", topic, "type", eventType)
		return
	}
	c.Events.Publish(ctx, topic, eventType, data)
}

// Broadcast sends payload to every web client when a web channel is present.
func (c *Context) Broadcast(ctx context.Context, payload any) error {
	if c.Web == nil {
		c.Logger.Debug("web channel unavailable, dropping broadcast")
		return nil
	}
	return c.Web.Broadcast(ctx, payload)
}
