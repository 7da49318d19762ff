package transport

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/nomis52/activityhost/metrics"
)

// Sender writes encoded payloads to one client.
type Sender interface {
	Send(data []byte) error
	Close() error
}

// Handler receives the connection callbacks of one activity.
type Handler interface {
	OnConnect(ctx context.Context, connectionID string) error
	OnClose(ctx context.Context, connectionID string) error
	OnMessage(ctx context.Context, connectionID string, payload map[string]any) error
}

type connection struct {
	id       string
	seq      uint64
	activity uuid.UUID
	sender   Sender
}

// Adapter tracks the open connections of every registered activity.
type Adapter struct {
	logger  *slog.Logger
	metrics *metrics.HostMetrics
	next    atomic.Uint64

	mu       sync.RWMutex
	handlers map[uuid.UUID]Handler
	conns    map[string]*connection
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) {
		a.logger = logger
	}
}

// WithMetrics records connection counts and send failures.
func WithMetrics(m *metrics.HostMetrics) Option {
	return func(a *Adapter) {
		a.metrics = m
	}
}

// NewAdapter creates an adapter with no registered activities.
func NewAdapter(opts ...Option) *Adapter {
	a := &Adapter{
		logger:   slog.Default(),
		handlers: make(map[uuid.UUID]Handler),
		conns:    make(map[string]*connection),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("component", "transport")
	return a
}

// Register routes the callbacks of activityID's connections to h.
func (a *Adapter) Register(activityID uuid.UUID, h Handler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handlers[activityID] = h
}

// Registered reports whether activityID accepts connections.
func (a *Adapter) Registered(activityID uuid.UUID) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.handlers[activityID]
	return ok
}

// Unregister stops routing to activityID and closes its connections. The
// activity is not notified; it is being unloaded. Returns the number of
// connections closed.
func (a *Adapter) Unregister(activityID uuid.UUID) int {
	a.mu.Lock()
	delete(a.handlers, activityID)
	var closing []*connection
	for id, c := range a.conns {
		if c.activity == activityID {
			closing = append(closing, c)
			delete(a.conns, id)
		}
	}
	a.mu.Unlock()

	for _, c := range closing {
		a.closeSender(c)
	}
	return len(closing)
}

// Connect opens a connection to activityID and returns its ID.
// OnConnect errors are logged; the connection stays open.
func (a *Adapter) Connect(ctx context.Context, activityID uuid.UUID, s Sender) (string, error) {
	a.mu.Lock()
	h, ok := a.handlers[activityID]
	if !ok {
		a.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrUnknownActivity, activityID)
	}
	seq := a.next.Add(1)
	c := &connection{
		id:       "conn-" + strconv.FormatUint(seq, 10),
		seq:      seq,
		activity: activityID,
		sender:   s,
	}
	a.conns[c.id] = c
	a.mu.Unlock()

	a.metrics.ConnectionOpened()
	a.logger.Debug("connection opened", "activity_id", activityID, "connection_id", c.id)

	if err := h.OnConnect(ctx, c.id); err != nil {
		a.logger.Warn("connect callback failed", "activity_id", activityID, "connection_id", c.id, "error", err)
	}
	return c.id, nil
}

// Disconnect closes a connection and calls the owner's OnClose.
func (a *Adapter) Disconnect(ctx context.Context, connectionID string) error {
	c, h, ok := a.remove(connectionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConnection, connectionID)
	}
	a.closeSender(c)
	a.notifyClose(ctx, h, c)
	return nil
}

// Receive forwards a message from a client to the owning activity.
// OnMessage errors are logged and do not close the connection.
func (a *Adapter) Receive(ctx context.Context, connectionID string, payload map[string]any) error {
	a.mu.RLock()
	c, ok := a.conns[connectionID]
	var h Handler
	if ok {
		h = a.handlers[c.activity]
	}
	a.mu.RUnlock()
	if !ok || h == nil {
		return fmt.Errorf("%w: %s", ErrUnknownConnection, connectionID)
	}

	if err := h.OnMessage(ctx, connectionID, payload); err != nil {
		a.logger.Warn("message callback failed", "activity_id", c.activity, "connection_id", connectionID, "error", err)
	}
	return nil
}

// Connections returns the open connection IDs of activityID in the order
// they were opened.
func (a *Adapter) Connections(activityID uuid.UUID) []string {
	conns := a.snapshot(activityID)
	ids := make([]string, len(conns))
	for i, c := range conns {
		ids[i] = c.id
	}
	return ids
}

// Broadcast encodes payload as JSON once and sends it to every open
// connection of activityID concurrently. Failed connections are pruned and
// logged; they do not fail the broadcast. Only an encoding error is
// returned.
func (a *Adapter) Broadcast(ctx context.Context, activityID uuid.UUID, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	conns := a.snapshot(activityID)
	if len(conns) == 0 {
		return nil
	}

	errs := make([]error, len(conns))
	var wg sync.WaitGroup
	for i, c := range conns {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = c.sender.Send(data)
		}()
	}
	wg.Wait()

	for i, c := range conns {
		if errs[i] != nil {
			a.prune(ctx, c, errs[i])
		}
	}
	return nil
}

// Send encodes payload and sends it to one connection. A failed send prunes
// the connection and returns a *SendError.
func (a *Adapter) Send(ctx context.Context, connectionID string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	a.mu.RLock()
	c, ok := a.conns[connectionID]
	a.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConnection, connectionID)
	}

	if err := c.sender.Send(data); err != nil {
		return a.prune(ctx, c, err)
	}
	return nil
}

// Close closes every connection without notifying activities.
func (a *Adapter) Close() error {
	a.mu.Lock()
	conns := a.conns
	a.conns = make(map[string]*connection)
	a.mu.Unlock()

	var errs []error
	for _, c := range conns {
		if err := c.sender.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", c.id, err))
		}
		a.metrics.ConnectionClosed()
	}
	return errors.Join(errs...)
}

// For returns the channel an activity uses to reach its own clients.
func (a *Adapter) For(activityID uuid.UUID) *Channel {
	return &Channel{adapter: a, activityID: activityID}
}

func (a *Adapter) prune(ctx context.Context, c *connection, cause error) error {
	serr := &SendError{ConnectionID: c.id, Err: cause}
	a.metrics.SendFailed()
	a.logger.Warn("send failed, dropping connection", "activity_id", c.activity, "connection_id", c.id, "error", cause)

	// A concurrent broadcast or disconnect may have removed it already.
	if _, h, ok := a.remove(c.id); ok {
		a.closeSender(c)
		a.notifyClose(ctx, h, c)
	}
	return serr
}

func (a *Adapter) remove(connectionID string) (*connection, Handler, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.conns[connectionID]
	if !ok {
		return nil, nil, false
	}
	delete(a.conns, connectionID)
	return c, a.handlers[c.activity], true
}

func (a *Adapter) closeSender(c *connection) {
	if err := c.sender.Close(); err != nil {
		a.logger.Debug("closing connection", "connection_id", c.id, "error", err)
	}
	a.metrics.ConnectionClosed()
}

func (a *Adapter) notifyClose(ctx context.Context, h Handler, c *connection) {
	if h == nil {
		return
	}
	if err := h.OnClose(ctx, c.id); err != nil {
		a.logger.Warn("close callback failed", "activity_id", c.activity, "connection_id", c.id, "error", err)
	}
}

func (a *Adapter) snapshot(activityID uuid.UUID) []*connection {
	a.mu.RLock()
	var conns []*connection
	for _, c := range a.conns {
		if c.activity == activityID {
			conns = append(conns, c)
		}
	}
	a.mu.RUnlock()

	slices.SortFunc(conns, func(x, y *connection) int {
		return cmp.Compare(x.seq, y.seq)
	})
	return conns
}

// Channel is the adapter scoped to one activity.
type Channel struct {
	adapter    *Adapter
	activityID uuid.UUID
}

// Broadcast sends payload to every client of the activity.
func (c *Channel) Broadcast(ctx context.Context, payload any) error {
	return c.adapter.Broadcast(ctx, c.activityID, payload)
}

// Send sends payload to one client of the activity.
func (c *Channel) Send(ctx context.Context, connectionID string, payload any) error {
	c.adapter.mu.RLock()
	conn, ok := c.adapter.conns[connectionID]
	c.adapter.mu.RUnlock()
	if !ok || conn.activity != c.activityID {
		return fmt.Errorf("%w: %s", ErrUnknownConnection, connectionID)
	}
	return c.adapter.Send(ctx, connectionID, payload)
}

// Connections returns the activity's open connection IDs.
func (c *Channel) Connections() []string {
	return c.adapter.Connections(c.activityID)
}
