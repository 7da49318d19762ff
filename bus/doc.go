// Package bus provides the in-process event bus that decouples activities
// from each other.
//
// # Delivery
//
// Publish delivers an event synchronously to the listeners subscribed to the
// topic at the moment Publish is called, in subscription order. Subscribing
// or unsubscribing from inside a listener affects later publishes only.
// Publish returns once every listener has returned, so listeners must not
// block for long.
//
// A listener that returns an error or panics is isolated: the failure is
// logged as a ListenerError and delivery continues with the next listener.
//
// The bus does not suppress self-delivery. A listener that must ignore its
// own events compares Event.Source with its own ID.
//
// # Clients
//
// Activities use a Client obtained from Bus.Client. The client stamps the
// owner's ID on published events, runs the owner's listeners through the
// owner's Invoker so they never overlap its other hooks, and removes all of
// the owner's subscriptions on Close.
//
// Publishing from inside one activity's hook to another activity's listener
// does not wait for that listener: the delivery is queued on the
// subscriber's Invoker and runs after Publish returns, in publish order.
// Waiting there would let two activities publishing to each other hold one
// executor each while waiting for the other's. Self-delivery from a hook and
// publishes from outside any hook stay synchronous.
//
//	b := bus.New(bus.WithLogger(logger))
//	c := b.Client(activityID, executor)
//	c.Subscribe("activity", func(ctx context.Context, ev bus.Event) error {
//	    if ev.Source == activityID {
//	        return nil
//	    }
//	    return handle(ev)
//	})
//	c.Publish(ctx, "activity", "activate", map[string]any{"action": "activate"})
package bus
