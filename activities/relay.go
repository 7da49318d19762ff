package activities

import (
	"context"
	"errors"
	"fmt"

	"github.com/nomis52/activityhost/activity"
	"github.com/nomis52/activityhost/bus"
)

// Relay connects a bus topic to the activity's web clients. While active,
// events published on the topic by others are broadcast to every client,
// and JSON objects sent by clients are published on the topic.
//
// Configuration:
//
//	topic       bus topic to relay (required)
//	event_type  type of events published for client messages, default "message"
type Relay struct {
	activity.Base
	actx *activity.Context

	topic     string
	eventType string
	handle    bus.Handle
	active    bool
	clients   int
	relayed   int
}

// NewRelay builds a relay. Its hooks run on the activity's executor, so its
// fields need no locking.
func NewRelay(actx *activity.Context) (activity.Activity, error) {
	if actx.Events == nil {
		return nil, errors.New("relay requires an event bus")
	}
	return &Relay{actx: actx}, nil
}

func (r *Relay) OnStartup(ctx context.Context) error {
	return activity.CaptureError(r.actx.Status, func() error {
		topic, err := r.actx.Config.Required("topic")
		if err != nil {
			return err
		}
		r.eventType = r.actx.Config.GetOr("event_type", "message")
		r.subscribe(topic)
		r.actx.Status.Set(fmt.Sprintf("relaying %s", topic))
		return nil
	})
}

func (r *Relay) OnActivate(context.Context) error {
	r.active = true
	return nil
}

func (r *Relay) OnDeactivate(context.Context) error {
	r.active = false
	return nil
}

func (r *Relay) OnShutdown(context.Context) error {
	r.unsubscribe()
	r.active = false
	return nil
}

// OnCleanup also runs alone when a Failed relay is reset, so the
// subscription is released here as well.
func (r *Relay) OnCleanup(context.Context) error {
	r.unsubscribe()
	return nil
}

func (r *Relay) OnFailure(_ context.Context, err error) error {
	r.active = false
	r.actx.Status.Set(fmt.Sprintf("failed: %v", err))
	return nil
}

func (r *Relay) OnConfigurationUpdate(_ context.Context, update map[string]string) error {
	if t, ok := update["event_type"]; ok && t != "" {
		r.eventType = t
	}
	topic, ok := update["topic"]
	if !ok || topic == r.topic {
		return nil
	}
	if topic == "" {
		return errors.New("topic cannot be removed")
	}
	r.unsubscribe()
	r.subscribe(topic)
	r.actx.Status.Set(fmt.Sprintf("relaying %s", topic))
	return nil
}

func (r *Relay) OnConnect(context.Context, string) error {
	r.clients++
	r.actx.Logger.Debug("client connected", "clients", r.clients)
	return nil
}

func (r *Relay) OnClose(context.Context, string) error {
	r.clients--
	r.actx.Logger.Debug("client disconnected", "clients", r.clients)
	return nil
}

func (r *Relay) OnMessage(ctx context.Context, connectionID string, payload map[string]any) error {
	if !r.active {
		return nil
	}
	eventType := r.eventType
	if t, ok := payload["type"].(string); ok && t != "" {
		eventType = t
	}
	r.actx.Publish(ctx, r.topic, eventType, payload)
	r.actx.Logger.Debug("published client message", "connection_id", connectionID, "type", eventType)
	return nil
}

func (r *Relay) subscribe(topic string) {
	r.topic = topic
	r.handle = r.actx.Events.Subscribe(topic, r.relay)
}

func (r *Relay) unsubscribe() {
	r.actx.Events.Unsubscribe(r.handle)
	r.handle = bus.Handle{}
}

// relay broadcasts events from other publishers. Events this relay
// published itself are skipped.
func (r *Relay) relay(ctx context.Context, ev bus.Event) error {
	if !r.active || ev.Source == r.actx.ID {
		return nil
	}
	r.relayed++
	return r.actx.Broadcast(ctx, map[string]any{
		"topic":  r.topic,
		"type":   ev.Type,
		"source": ev.Source.String(),
		"data":   ev.Data,
	})
}
