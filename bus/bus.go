package bus

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/nomis52/activityhost/metrics"
)

// Listener receives events published on a topic.
type Listener func(ctx context.Context, ev Event) error

// Handle identifies a subscription. The zero Handle matches no subscription.
type Handle struct {
	topic string
	id    uint64
}

// Topic returns the topic the subscription was made on.
func (h Handle) Topic() string {
	return h.topic
}

type subscription struct {
	id       uint64
	owner    uuid.UUID
	listener Listener
	invoker  Invoker
	removed  atomic.Bool
}

// Bus is an in-process publish/subscribe router keyed by topic.
type Bus struct {
	logger  *slog.Logger
	metrics *metrics.HostMetrics

	mu     sync.RWMutex
	topics map[string][]*subscription
	nextID uint64
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger used to report listener failures.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		b.logger = logger.With("component", "bus")
	}
}

// WithMetrics records publishes and listener failures.
func WithMetrics(m *metrics.HostMetrics) Option {
	return func(b *Bus) {
		b.metrics = m
	}
}

// New creates an empty Bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		logger: slog.Default().With("component", "bus"),
		topics: make(map[string][]*subscription),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers listener on topic and returns its handle.
func (b *Bus) Subscribe(topic string, listener Listener) Handle {
	return b.subscribe(uuid.Nil, topic, listener, nil)
}

func (b *Bus) subscribe(owner uuid.UUID, topic string, listener Listener, invoker Invoker) Handle {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &subscription{id: b.nextID, owner: owner, listener: listener, invoker: invoker}

	// Copy on write so that in-flight publishes keep iterating their snapshot.
	subs := b.topics[topic]
	next := make([]*subscription, len(subs), len(subs)+1)
	copy(next, subs)
	b.topics[topic] = append(next, sub)

	b.logger.Debug("listener subscribed", "topic", topic, "subscription", sub.id)
	return Handle{topic: topic, id: sub.id}
}

// Unsubscribe removes the subscription identified by h.
// It returns false if the subscription was already removed.
func (b *Bus) Unsubscribe(h Handle) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.topics[h.topic]
	i := slices.IndexFunc(subs, func(s *subscription) bool { return s.id == h.id })
	if i < 0 {
		return false
	}
	subs[i].removed.Store(true)
	b.setTopic(h.topic, slices.Delete(slices.Clone(subs), i, i+1))
	b.logger.Debug("listener unsubscribed", "topic", h.topic, "subscription", h.id)
	return true
}

// RemoveOwner removes every subscription made through owner's Client and
// returns how many were removed.
func (b *Bus) RemoveOwner(owner uuid.UUID) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for topic, subs := range b.topics {
		kept := slices.DeleteFunc(slices.Clone(subs), func(s *subscription) bool {
			if s.owner != owner {
				return false
			}
			s.removed.Store(true)
			return true
		})
		if n := len(subs) - len(kept); n > 0 {
			removed += n
			b.setTopic(topic, kept)
		}
	}
	return removed
}

// setTopic stores subs for topic, dropping the topic when empty. Callers hold mu.
func (b *Bus) setTopic(topic string, subs []*subscription) {
	if len(subs) == 0 {
		delete(b.topics, topic)
		return
	}
	b.topics[topic] = subs
}

// Publish delivers ev to every listener subscribed to topic when Publish is
// called, in subscription order. Listener failures are logged and do not
// stop delivery to the remaining listeners.
//
// A listener owned by an Invoker runs through it. When ctx holds some other
// owner's Invoker, as it does inside an activity hook, the delivery is
// queued on the listener's Invoker and Publish does not wait for it. Queued
// deliveries run in the order they were queued and are dropped if the
// subscription is removed first.
func (b *Bus) Publish(ctx context.Context, topic string, ev Event) {
	b.mu.RLock()
	subs := b.topics[topic]
	b.mu.RUnlock()

	b.metrics.EventPublished(topic)

	for _, sub := range subs {
		b.dispatch(ctx, topic, sub, ev.clone())
	}
}

func (b *Bus) dispatch(ctx context.Context, topic string, sub *subscription, ev Event) {
	switch {
	case sub.invoker == nil:
		b.run(ctx, topic, sub, ev)
	case sub.invoker.MustQueue(ctx):
		sub.invoker.Post(func(ctx context.Context) error {
			if !sub.removed.Load() {
				b.run(ctx, topic, sub, ev)
			}
			return nil
		})
	default:
		err := sub.invoker.Invoke(ctx, func(ctx context.Context) error {
			b.run(ctx, topic, sub, ev)
			return nil
		})
		if err != nil {
			b.report(topic, sub, ev, err)
		}
	}
}

// run invokes the listener and reports its failure.
func (b *Bus) run(ctx context.Context, topic string, sub *subscription, ev Event) {
	if err := b.deliver(ctx, sub, ev); err != nil {
		b.report(topic, sub, ev, err)
	}
}

func (b *Bus) report(topic string, sub *subscription, ev Event, err error) {
	lerr := &ListenerError{Topic: topic, Subscription: sub.id, Err: err}
	b.logger.Error("listener failed", "topic", topic, "event_type", ev.Type, "subscription", sub.id, "error", lerr)
	b.metrics.ListenerFailed(topic)
}

// deliver invokes a single listener, converting a panic into an error.
func (b *Bus) deliver(ctx context.Context, sub *subscription, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panicked: %v", r)
		}
	}()
	return sub.listener(ctx, ev)
}

// Subscribers returns the number of listeners currently subscribed to topic.
func (b *Bus) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

// Topics returns the topics that currently have at least one listener.
func (b *Bus) Topics() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	topics := make([]string, 0, len(b.topics))
	for t := range b.topics {
		topics = append(topics, t)
	}
	slices.Sort(topics)
	return topics
}
