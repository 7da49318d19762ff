// Package bridge forwards selected event bus topics between hosts over a
// pub/sub backend such as Redis.
//
// Every event published locally on a bridged topic is sent to the channel
// prefix+topic, wrapped in an envelope naming the sending host. Events
// received from other hosts are published on the local bus with their
// original source; they are not forwarded again.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/nomis52/activityhost/bus"
)

const (
	defaultPrefix = "activityhost:"
	outboundQueue = 256
)

// ErrNoTopics is returned when a bridge is created without topics.
var ErrNoTopics = errors.New("bridge requires at least one topic")

// Envelope is the wire form of a forwarded event.
type Envelope struct {
	Origin uuid.UUID `json:"origin"`
	Topic  string    `json:"topic"`
	Event  bus.Event `json:"event"`
}

type remoteKey struct{}

// Bridge connects a local bus to a PubSub backend.
type Bridge struct {
	bus    *bus.Bus
	ps     PubSub
	topics []string
	prefix string
	origin uuid.UUID
	logger *slog.Logger

	out chan Envelope

	mu      sync.Mutex
	handles []bus.Handle
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bridge) {
		b.logger = logger
	}
}

// WithChannelPrefix sets the prefix prepended to topics to form channel
// names. The default is "activityhost:".
func WithChannelPrefix(prefix string) Option {
	return func(b *Bridge) {
		b.prefix = prefix
	}
}

// WithOrigin sets the host identity stamped on outgoing envelopes.
func WithOrigin(id uuid.UUID) Option {
	return func(b *Bridge) {
		b.origin = id
	}
}

// New creates a bridge for topics. It does nothing until Run is called.
func New(local *bus.Bus, ps PubSub, topics []string, opts ...Option) (*Bridge, error) {
	if len(topics) == 0 {
		return nil, ErrNoTopics
	}
	b := &Bridge{
		bus:    local,
		ps:     ps,
		topics: topics,
		prefix: defaultPrefix,
		origin: uuid.New(),
		logger: slog.Default(),
		out:    make(chan Envelope, outboundQueue),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "bridge", "origin", b.origin)
	return b, nil
}

// Origin returns the identity of this end of the bridge.
func (b *Bridge) Origin() uuid.UUID {
	return b.origin
}

// Run subscribes to the bridged channels and local topics and forwards
// events in both directions until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	channels := make([]string, len(b.topics))
	for i, t := range b.topics {
		channels[i] = b.prefix + t
	}
	in, closeSub, err := b.ps.Subscribe(ctx, channels...)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeSub(); err != nil {
			b.logger.Debug("closing subscription", "error", err)
		}
	}()

	b.subscribeLocal()
	defer b.unsubscribeLocal()

	b.logger.Info("bridge running", "topics", b.topics)
	for {
		select {
		case <-ctx.Done():
			b.logger.Info("bridge shutting down")
			return nil
		case env := <-b.out:
			b.send(ctx, env)
		case msg, ok := <-in:
			if !ok {
				return errors.New("subscription closed")
			}
			b.Inject(ctx, msg)
		}
	}
}

// Inject publishes a message received from the backend on the local bus.
// Messages from this bridge's own origin and malformed messages are
// dropped.
func (b *Bridge) Inject(ctx context.Context, msg Message) {
	var env Envelope
	if err := json.Unmarshal(msg.Payload, &env); err != nil {
		b.logger.Warn("dropping malformed message", "channel", msg.Channel, "error", err)
		return
	}
	if env.Origin == b.origin {
		return
	}
	if want := strings.TrimPrefix(msg.Channel, b.prefix); env.Topic != want {
		b.logger.Warn("dropping message for mismatched topic", "channel", msg.Channel, "topic", env.Topic)
		return
	}
	b.bus.Publish(context.WithValue(ctx, remoteKey{}, env.Origin), env.Topic, env.Event)
}

func (b *Bridge) subscribeLocal() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, topic := range b.topics {
		b.handles = append(b.handles, b.bus.Subscribe(topic, b.forward(topic)))
	}
}

func (b *Bridge) unsubscribeLocal() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, h := range b.handles {
		b.bus.Unsubscribe(h)
	}
	b.handles = nil
}

// forward queues local events for sending. It never blocks the publisher:
// when the queue is full the event is dropped.
func (b *Bridge) forward(topic string) bus.Listener {
	return func(ctx context.Context, ev bus.Event) error {
		if ctx.Value(remoteKey{}) != nil {
			return nil
		}
		select {
		case b.out <- Envelope{Origin: b.origin, Topic: topic, Event: ev}:
			return nil
		default:
			return fmt.Errorf("bridge queue full, dropping %s event", ev.Type)
		}
	}
}

func (b *Bridge) send(ctx context.Context, env Envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		b.logger.Warn("encoding event", "topic", env.Topic, "error", err)
		return
	}
	if err := b.ps.Publish(ctx, b.prefix+env.Topic, payload); err != nil {
		b.logger.Warn("forwarding event failed", "topic", env.Topic, "error", err)
	}
}
