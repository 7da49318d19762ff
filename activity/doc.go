// Package activity defines the surface shared between hosted activities and
// the host runtime.
//
// An activity is any type implementing Activity. Embed Base to get no-op
// implementations of every hook and override only the ones you need:
//
//	type Greeter struct {
//	    activity.Base
//	    actx *activity.Context
//	}
//
//	func NewGreeter(actx *activity.Context) (activity.Activity, error) {
//	    return &Greeter{actx: actx}, nil
//	}
//
//	func (g *Greeter) OnActivate(ctx context.Context) error {
//	    g.actx.Status.Set("greeting")
//	    g.actx.Publish(ctx, "greetings", "hello", map[string]any{"name": g.actx.Name})
//	    return nil
//	}
//
// # Context
//
// Each activity receives a Context at construction. It carries the activity
// identity, a logger, its Config, a read-only view of the host Environment
// and the optional collaborators (event bus client, web channel). Optional
// collaborators are nil when the host was built without them; check once in
// the constructor rather than on every call.
//
// # Hooks
//
// The host never calls two hooks of the same activity concurrently. Hooks of
// different activities may run in parallel.
//
// # Status
//
// StatusLine lets an activity publish a short human readable status that the
// host exposes alongside its lifecycle state:
//
//	handler := activity.NewStatusHandler()
//	sl := activity.NewStatusLine(id, logger, handler)
//	sl.Set("waiting for clients")
//	handler.Get(id) // "waiting for clients"
package activity
