package bus

import (
	"context"

	"github.com/google/uuid"
)

// Invoker serializes the listener calls of one owner with the owner's other
// work.
type Invoker interface {
	// Invoke runs fn once no other work of the owner is running and waits
	// for it to return.
	Invoke(ctx context.Context, fn func(context.Context) error) error
	// MustQueue reports whether waiting on the owner from ctx could deadlock,
	// because ctx already holds another owner's Invoker.
	MustQueue(ctx context.Context) bool
	// Post queues fn behind the owner's pending work and returns at once.
	Post(fn func(context.Context) error)
}

// Client is a bus handle scoped to one owner.
type Client struct {
	bus     *Bus
	owner   uuid.UUID
	invoker Invoker
}

// Client returns a client for owner. invoker may be nil, in which case
// listeners run directly on the publisher's goroutine.
func (b *Bus) Client(owner uuid.UUID, invoker Invoker) *Client {
	return &Client{bus: b, owner: owner, invoker: invoker}
}

// Owner returns the ID stamped on events published through c.
func (c *Client) Owner() uuid.UUID {
	return c.owner
}

// Publish creates an event sourced from the owner and publishes it on topic.
func (c *Client) Publish(ctx context.Context, topic, eventType string, data map[string]any) {
	c.bus.Publish(ctx, topic, NewEvent(eventType, c.owner, data))
}

// Subscribe registers listener on topic on behalf of the owner.
func (c *Client) Subscribe(topic string, listener Listener) Handle {
	return c.bus.subscribe(c.owner, topic, listener, c.invoker)
}

// Unsubscribe removes a subscription made through c.
func (c *Client) Unsubscribe(h Handle) bool {
	return c.bus.Unsubscribe(h)
}

// Close removes every subscription made through c.
func (c *Client) Close() int {
	return c.bus.RemoveOwner(c.owner)
}
