package lifecycle

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Executor serializes the hooks and callbacks of one activity.
//
// Work submitted through Invoke runs while holding the executor. A nested
// Invoke whose context was derived from the holding context runs inline
// instead of waiting, so an activity that publishes an event to itself from
// within a hook does not deadlock. The hold ends when the work returns: a
// context kept past that point no longer runs inline.
//
// Work from other activities is queued with Post and runs in order on the
// executor's mailbox, so no activity waits for another while holding its own
// executor.
type Executor struct {
	sem chan struct{}

	mu       sync.Mutex
	mailbox  []func(context.Context) error
	draining bool
}

// hold is the token bound into a context by the work holding an executor.
type hold struct {
	e        *Executor
	released atomic.Bool
}

func (h *hold) live() bool {
	return h != nil && !h.released.Load()
}

type heldKey struct {
	e *Executor
}

// holdingKey marks a context holding any executor.
type holdingKey struct{}

// NewExecutor creates an idle executor.
func NewExecutor() *Executor {
	return &Executor{sem: make(chan struct{}, 1)}
}

// Invoke runs fn while holding the executor. It returns ctx.Err() if ctx is
// done before the executor could be acquired.
func (e *Executor) Invoke(ctx context.Context, fn func(context.Context) error) error {
	if e.Held(ctx) {
		return fn(ctx)
	}
	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	h := &hold{e: e}
	defer e.release(h)
	return fn(h.bind(ctx))
}

// Held reports whether ctx was derived from the context of work currently
// holding e.
func (e *Executor) Held(ctx context.Context) bool {
	h, _ := ctx.Value(heldKey{e}).(*hold)
	return h.live()
}

// Busy reports whether some work currently holds the executor.
func (e *Executor) Busy() bool {
	return len(e.sem) > 0
}

// MustQueue reports whether ctx holds another executor. Waiting on e from
// such a context could deadlock against work of e waiting the other way.
func (e *Executor) MustQueue(ctx context.Context) bool {
	if e.Held(ctx) {
		return false
	}
	h, _ := ctx.Value(holdingKey{}).(*hold)
	return h.live()
}

// Post queues fn on the mailbox and returns immediately. Queued work runs in
// order, each item holding the executor, with a context that carries no
// values from the poster.
func (e *Executor) Post(fn func(context.Context) error) {
	e.mu.Lock()
	e.mailbox = append(e.mailbox, fn)
	if e.draining {
		e.mu.Unlock()
		return
	}
	e.draining = true
	e.mu.Unlock()
	go e.runMailbox()
}

func (e *Executor) runMailbox() {
	for {
		e.mu.Lock()
		if len(e.mailbox) == 0 {
			e.draining = false
			e.mu.Unlock()
			return
		}
		fn := e.mailbox[0]
		e.mailbox[0] = nil
		e.mailbox = e.mailbox[1:]
		e.mu.Unlock()

		_ = e.Invoke(context.Background(), fn)
	}
}

// drain runs fn once in-flight work has finished, waiting at most timeout.
// If the executor is still held after timeout, fn runs anyway and drain
// reports forced.
func (e *Executor) drain(ctx context.Context, timeout time.Duration, fn func(context.Context) error) (forced bool, err error) {
	if e.Held(ctx) {
		return false, fn(ctx)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	h := &hold{e: e}
	select {
	case e.sem <- struct{}{}:
		defer e.release(h)
		return false, fn(h.bind(ctx))
	case <-timer.C:
	case <-ctx.Done():
	}
	// Forced: run without the executor. The context is still marked so that
	// nested calls from fn do not block on the stuck hook.
	defer h.released.Store(true)
	return true, fn(h.bind(ctx))
}

func (h *hold) bind(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, heldKey{h.e}, h)
	return context.WithValue(ctx, holdingKey{}, h)
}

func (e *Executor) release(h *hold) {
	h.released.Store(true)
	<-e.sem
}
