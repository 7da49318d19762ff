package host

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/nomis52/activityhost/bus"
)

type notice struct {
	topic string
	event bus.Event
}

// notifier publishes host notices from its own goroutine so that a state
// change inside one activity's hook never waits on another activity's
// listeners. Notices are published in the order they were queued. The queue
// is unbounded so that notify never blocks a hook.
type notifier struct {
	bus *bus.Bus

	mu      sync.Mutex
	cond    *sync.Cond
	closed  bool
	pending []notice
	done    chan struct{}
}

func newNotifier(b *bus.Bus) *notifier {
	n := &notifier{
		bus:  b,
		done: make(chan struct{}),
	}
	n.cond = sync.NewCond(&n.mu)
	go n.run()
	return n
}

func (n *notifier) run() {
	defer close(n.done)
	for {
		n.mu.Lock()
		for len(n.pending) == 0 && !n.closed {
			n.cond.Wait()
		}
		if len(n.pending) == 0 {
			n.mu.Unlock()
			return
		}
		batch := n.pending
		n.pending = nil
		n.mu.Unlock()

		for _, nt := range batch {
			n.bus.Publish(context.Background(), nt.topic, nt.event)
		}
	}
}

func (n *notifier) notify(topic, eventType string, source uuid.UUID, data map[string]any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.pending = append(n.pending, notice{topic: topic, event: bus.NewEvent(eventType, source, data)})
	n.cond.Signal()
}

// close stops accepting notices and waits until queued ones are published.
func (n *notifier) close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	n.cond.Signal()
	n.mu.Unlock()
	<-n.done
}
