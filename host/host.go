package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nomis52/activityhost/activity"
	"github.com/nomis52/activityhost/bus"
	"github.com/nomis52/activityhost/environment"
	"github.com/nomis52/activityhost/lifecycle"
	"github.com/nomis52/activityhost/logging"
	"github.com/nomis52/activityhost/metrics"
	"github.com/nomis52/activityhost/registry"
	"github.com/nomis52/activityhost/transport"
)

const (
	// StateTopic carries a notice for every lifecycle state change. The
	// event source is the activity ID and the data holds "name", "from"
	// and "to".
	StateTopic = "activity.state"

	// StateChanged is the event type published on StateTopic.
	StateChanged = "state_changed"

	// EnvBus is the environment key of the host's *bus.Bus.
	EnvBus = "bus"

	// EnvTransport is the environment key of the host's *transport.Adapter.
	EnvTransport = "transport"
)

// Factory builds an activity for a freshly loaded instance.
type Factory func(actx *activity.Context) (activity.Activity, error)

// LoadRequest names a registered activity type and its initial
// configuration.
type LoadRequest struct {
	Name   string            `json:"name" yaml:"name"`
	Type   string            `json:"type" yaml:"type"`
	Config map[string]string `json:"config,omitempty" yaml:"config"`
}

// Failure is passed to the supervisor when an activity enters Failed.
type Failure struct {
	ActivityID uuid.UUID
	Name       string
	Err        error
}

// Host loads activities and drives their lifecycles.
type Host struct {
	base         *slog.Logger
	logger       *slog.Logger
	metrics      *metrics.HostMetrics
	bus          *bus.Bus
	transport    *transport.Adapter
	env          *environment.Environment
	envSeed      map[string]any
	registry     *registry.Registry
	statuses     *activity.StatusHandler
	loggerHook   logging.LoggerHook
	drainTimeout time.Duration
	supervisor   func(Failure)
	notifier     *notifier

	typesMu sync.RWMutex
	types   map[string]Factory

	// mu orders loads and unloads so the environment is torn down only
	// once the last activity is gone.
	mu      sync.Mutex
	clients map[uuid.UUID]*bus.Client
	closed  bool
}

// Option configures a Host.
type Option func(*Host)

// WithLogger sets the base logger activity loggers derive from.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Host) {
		h.logger = logger
	}
}

// WithMetrics records host instruments.
func WithMetrics(m *metrics.HostMetrics) Option {
	return func(h *Host) {
		h.metrics = m
	}
}

// WithBus gives activities an event client on b.
func WithBus(b *bus.Bus) Option {
	return func(h *Host) {
		h.bus = b
	}
}

// WithTransport gives activities a web channel on a and routes its
// connection callbacks to them.
func WithTransport(a *transport.Adapter) Option {
	return func(h *Host) {
		h.transport = a
	}
}

// WithEnvironment seeds the environment each time it is initialized.
func WithEnvironment(seed map[string]any) Option {
	return func(h *Host) {
		h.envSeed = maps.Clone(seed)
	}
}

// WithLoggerHook controls how activity loggers are built, for example to
// capture their records.
func WithLoggerHook(hook logging.LoggerHook) Option {
	return func(h *Host) {
		h.loggerHook = hook
	}
}

// WithDrainTimeout bounds how long unloading waits for an in-flight hook.
func WithDrainTimeout(d time.Duration) Option {
	return func(h *Host) {
		h.drainTimeout = d
	}
}

// WithSupervisor is called for every transition to Failed. It runs while the
// failed activity's executor is held and must not block on that activity.
func WithSupervisor(fn func(Failure)) Option {
	return func(h *Host) {
		h.supervisor = fn
	}
}

// New creates a host with no activity types registered.
func New(opts ...Option) *Host {
	h := &Host{
		logger:       slog.Default(),
		statuses:     activity.NewStatusHandler(),
		loggerHook:   logging.PlainLoggerHook{},
		drainTimeout: 5 * time.Second,
		types:        make(map[string]Factory),
		clients:      make(map[uuid.UUID]*bus.Client),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.base = h.logger
	h.env = environment.New(environment.WithLogger(h.logger))
	h.registry = registry.New(registry.WithLogger(h.logger), registry.WithStatusHandler(h.statuses))
	if h.bus != nil {
		h.notifier = newNotifier(h.bus)
	}
	h.logger = h.logger.With("component", "host")
	return h
}

// RegisterType makes typ loadable. Registering a type twice replaces the
// factory.
func (h *Host) RegisterType(typ string, f Factory) {
	h.typesMu.Lock()
	defer h.typesMu.Unlock()
	h.types[typ] = f
}

// Types returns the registered activity types, sorted.
func (h *Host) Types() []string {
	h.typesMu.RLock()
	defer h.typesMu.RUnlock()
	return slices.Sorted(maps.Keys(h.types))
}

// Start initializes the environment.
func (h *Host) Start(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	h.initEnvironment()
	return nil
}

func (h *Host) initEnvironment() {
	seed := maps.Clone(h.envSeed)
	if seed == nil {
		seed = make(map[string]any)
	}
	if h.bus != nil {
		seed[EnvBus] = h.bus
	}
	if h.transport != nil {
		seed[EnvTransport] = h.transport
	}
	h.env.Init(seed)
}

// Environment returns the read-only view of the shared environment.
func (h *Host) Environment() environment.Reader {
	return h.env
}

// EnvironmentKeys returns the keys currently set in the environment.
func (h *Host) EnvironmentKeys() []string {
	return h.env.Keys()
}

// Registry returns the activity registry.
func (h *Host) Registry() *registry.Registry {
	return h.registry
}

// Resolve returns the ID of the activity referenced by ID or name.
func (h *Host) Resolve(ref string) (uuid.UUID, error) {
	rec, err := h.registry.Resolve(ref)
	if err != nil {
		return uuid.Nil, err
	}
	return rec.ID, nil
}

// Snapshot describes one loaded activity.
func (h *Host) Snapshot(id uuid.UUID) (registry.Snapshot, error) {
	return h.registry.Snapshot(id)
}

// Snapshots describes every loaded activity, sorted by name.
func (h *Host) Snapshots() []registry.Snapshot {
	return h.registry.Snapshots()
}

// Load creates an activity of req.Type in Unloaded state and returns its ID.
func (h *Host) Load(ctx context.Context, req LoadRequest) (uuid.UUID, error) {
	if strings.TrimSpace(req.Name) == "" || req.Type == "" {
		return uuid.Nil, fmt.Errorf("%w: name and type are required", ErrInvalidRequest)
	}
	h.typesMu.RLock()
	factory, ok := h.types[req.Type]
	h.typesMu.RUnlock()
	if !ok {
		return uuid.Nil, fmt.Errorf("%w: %q", ErrUnknownType, req.Type)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return uuid.Nil, ErrClosed
	}
	if _, err := h.registry.Lookup(req.Name); err == nil {
		return uuid.Nil, fmt.Errorf("%w: name %q", registry.ErrDuplicate, req.Name)
	}
	if !h.env.Ready() {
		h.initEnvironment()
	}

	id := uuid.New()
	exec := lifecycle.NewExecutor()
	cfg := activity.NewConfig(req.Config)
	logger := h.loggerHook.LoggerFor(h.base, id, req.Name)

	actx := &activity.Context{
		ID:     id,
		Name:   req.Name,
		Type:   req.Type,
		Logger: logger,
		Config: cfg,
		Env:    h.env,
		Status: activity.NewStatusLine(id, logger, h.statuses),
	}
	var client *bus.Client
	if h.bus != nil {
		client = h.bus.Client(id, exec)
		actx.Events = client
	}
	if h.transport != nil {
		actx.Web = h.transport.For(id)
	}

	act, err := factory(actx)
	if err != nil {
		if client != nil {
			client.Close()
		}
		return uuid.Nil, fmt.Errorf("creating %s activity %q: %w", req.Type, req.Name, err)
	}

	ctrl := lifecycle.New(id, act,
		lifecycle.WithExecutor(exec),
		lifecycle.WithConfig(cfg),
		lifecycle.WithLogger(logger),
		lifecycle.WithMetrics(h.metrics),
		lifecycle.WithDrainTimeout(h.drainTimeout),
		lifecycle.WithStateObserver(h.observer(req.Name)),
		lifecycle.WithFailureReporter(h.reportFailure),
	)
	if err := h.registry.Add(registry.NewRecord(id, req.Name, req.Type, ctrl)); err != nil {
		if client != nil {
			client.Close()
		}
		return uuid.Nil, err
	}
	if client != nil {
		h.clients[id] = client
	}
	if h.transport != nil {
		h.transport.Register(id, ctrl)
	}

	h.updateGauge()
	h.logger.Info("activity loaded", "activity_id", id, "name", req.Name, "type", req.Type)
	return id, nil
}

// Startup starts the activity with the given ID.
func (h *Host) Startup(ctx context.Context, id uuid.UUID) error {
	return h.with(id, func(c *lifecycle.Controller) error { return c.Startup(ctx) })
}

// Activate activates the activity with the given ID.
func (h *Host) Activate(ctx context.Context, id uuid.UUID) error {
	return h.with(id, func(c *lifecycle.Controller) error { return c.Activate(ctx) })
}

// Deactivate deactivates the activity with the given ID.
func (h *Host) Deactivate(ctx context.Context, id uuid.UUID) error {
	return h.with(id, func(c *lifecycle.Controller) error { return c.Deactivate(ctx) })
}

// Shutdown shuts down the activity with the given ID, leaving it loaded.
func (h *Host) Shutdown(ctx context.Context, id uuid.UUID) error {
	return h.with(id, func(c *lifecycle.Controller) error { return c.Shutdown(ctx) })
}

// Restart shuts down, or resets, the activity and starts it again.
func (h *Host) Restart(ctx context.Context, id uuid.UUID) error {
	return h.with(id, func(c *lifecycle.Controller) error { return c.Restart(ctx) })
}

// CheckState runs the state check of one activity.
func (h *Host) CheckState(ctx context.Context, id uuid.UUID) error {
	return h.with(id, func(c *lifecycle.Controller) error { return c.CheckState(ctx) })
}

// UpdateConfiguration merges update into the activity's configuration.
func (h *Host) UpdateConfiguration(ctx context.Context, id uuid.UUID, update map[string]string) error {
	return h.with(id, func(c *lifecycle.Controller) error { return c.UpdateConfiguration(ctx, update) })
}

func (h *Host) with(id uuid.UUID, fn func(*lifecycle.Controller) error) error {
	rec, err := h.registry.Get(id)
	if err != nil {
		return err
	}
	return fn(rec.Controller)
}

// CheckAll runs the state check of every loaded activity in parallel and
// returns the failures.
func (h *Host) CheckAll(ctx context.Context) error {
	recs := h.registry.List()
	errs := make([]error, len(recs))

	var wg sync.WaitGroup
	for i, rec := range recs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = rec.Controller.CheckState(ctx)
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Unload shuts the activity down and removes it. Its subscriptions and
// connections are dropped even if shutdown fails. Unloading the last
// activity tears down the environment.
func (h *Host) Unload(ctx context.Context, id uuid.UUID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.unload(ctx, id)
}

func (h *Host) unload(ctx context.Context, id uuid.UUID) error {
	rec, err := h.registry.Get(id)
	if err != nil {
		return err
	}

	shutdownErr := rec.Controller.Shutdown(ctx)
	if rec.State() == activity.Failed {
		// Shutdown hook failed: run cleanup before releasing the activity.
		if err := rec.Controller.Shutdown(ctx); err != nil {
			h.logger.Warn("reset during unload failed", "activity_id", id, "error", err)
		}
	}

	if h.transport != nil {
		h.transport.Unregister(id)
	}
	if client, ok := h.clients[id]; ok {
		client.Close()
		delete(h.clients, id)
	}
	if _, err := h.registry.Remove(id); err != nil {
		return err
	}
	h.statuses.Remove(id)
	if c := h.collector(); c != nil {
		c.Remove(id.String())
	}
	h.updateGauge()
	h.logger.Info("activity unloaded", "activity_id", id, "name", rec.Name)

	if h.registry.Len() == 0 && h.env.Ready() {
		if err := h.env.Close(); err != nil {
			h.logger.Warn("environment teardown reported errors", "error", err)
		}
	}
	return shutdownErr
}

// UnloadAll unloads every activity.
func (h *Host) UnloadAll(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var errs []error
	for _, rec := range h.registry.List() {
		if err := h.unload(ctx, rec.ID); err != nil {
			errs = append(errs, fmt.Errorf("unloading %q: %w", rec.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Close unloads every activity and stops publishing notices. The host
// cannot be used afterwards.
func (h *Host) Close(ctx context.Context) error {
	err := h.UnloadAll(ctx)

	h.mu.Lock()
	h.closed = true
	if h.env.Ready() {
		if cerr := h.env.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}
	h.mu.Unlock()

	if h.notifier != nil {
		h.notifier.close()
	}
	return err
}

// Logs returns the captured log entries of an activity logged at or after
// since. It returns nil when the host does not capture activity logs.
func (h *Host) Logs(id uuid.UUID, since time.Time) ([]logging.LogEntry, error) {
	if _, err := h.registry.Get(id); err != nil {
		return nil, err
	}
	c := h.collector()
	if c == nil {
		return nil, nil
	}
	return c.Entries(id.String(), since), nil
}

func (h *Host) collector() *logging.LogCollector {
	if c, ok := h.loggerHook.(interface{ Collector() *logging.LogCollector }); ok {
		return c.Collector()
	}
	return nil
}

func (h *Host) observer(name string) func(lifecycle.Transition) {
	return func(tr lifecycle.Transition) {
		h.updateGauge()
		if h.notifier == nil {
			return
		}
		data := map[string]any{
			"name": name,
			"from": tr.From.String(),
			"to":   tr.To.String(),
		}
		if tr.Err != nil {
			data["error"] = tr.Err.Error()
		}
		h.notifier.notify(StateTopic, StateChanged, tr.ActivityID, data)
	}
}

func (h *Host) reportFailure(id uuid.UUID, err error) {
	h.registry.ReportFailure(id, err)
	if h.supervisor == nil {
		return
	}
	f := Failure{ActivityID: id, Err: err}
	if rec, gerr := h.registry.Get(id); gerr == nil {
		f.Name = rec.Name
	}
	h.supervisor(f)
}

func (h *Host) updateGauge() {
	if h.metrics == nil {
		return
	}
	states := activity.AllStates()
	names := make([]string, len(states))
	for i, s := range states {
		names[i] = s.String()
	}
	h.metrics.SetActivities(names, h.registry.StateCounts())
}
