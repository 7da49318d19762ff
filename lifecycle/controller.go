package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nomis52/activityhost/activity"
	"github.com/nomis52/activityhost/metrics"
)

const defaultDrainTimeout = 5 * time.Second

// Transition describes a completed state change.
type Transition struct {
	ActivityID uuid.UUID
	From       activity.State
	To         activity.State
	// Err is the failure that caused a transition to Failed.
	Err error
}

// Controller drives one activity through its lifecycle.
type Controller struct {
	id           uuid.UUID
	act          activity.Activity
	exec         *Executor
	config       *activity.Config
	logger       *slog.Logger
	metrics      *metrics.HostMetrics
	drainTimeout time.Duration
	observer     func(Transition)
	reporter     func(uuid.UUID, error)

	mu        sync.RWMutex
	state     activity.State
	lastErr   error
	startedAt time.Time
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger. It is expected to identify the activity
// already; the default logger is tagged with the activity ID.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithMetrics records transitions and hook failures.
func WithMetrics(m *metrics.HostMetrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// WithExecutor shares an executor with other components that call into the
// same activity, such as its bus client.
func WithExecutor(e *Executor) Option {
	return func(c *Controller) {
		c.exec = e
	}
}

// WithConfig sets the configuration that updates are merged into.
func WithConfig(cfg *activity.Config) Option {
	return func(c *Controller) {
		c.config = cfg
	}
}

// WithDrainTimeout bounds how long Shutdown waits for an in-flight hook.
func WithDrainTimeout(d time.Duration) Option {
	return func(c *Controller) {
		c.drainTimeout = d
	}
}

// WithStateObserver is called after every state change, while the
// activity's executor is still held.
func WithStateObserver(fn func(Transition)) Option {
	return func(c *Controller) {
		c.observer = fn
	}
}

// WithFailureReporter is called once for every transition to Failed, after
// OnFailure has returned.
func WithFailureReporter(fn func(id uuid.UUID, err error)) Option {
	return func(c *Controller) {
		c.reporter = fn
	}
}

// New creates a controller for act in the Unloaded state.
func New(id uuid.UUID, act activity.Activity, opts ...Option) *Controller {
	c := &Controller{
		id:           id,
		act:          act,
		drainTimeout: defaultDrainTimeout,
		state:        activity.Unloaded,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.exec == nil {
		c.exec = NewExecutor()
	}
	if c.config == nil {
		c.config = activity.NewConfig(nil)
	}
	if c.logger == nil {
		c.logger = slog.Default().With("activity_id", id.String())
	}
	c.logger = c.logger.With("component", "lifecycle")
	return c
}

// ID returns the controlled activity's ID.
func (c *Controller) ID() uuid.UUID {
	return c.id
}

// State returns the current lifecycle state.
func (c *Controller) State() activity.State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Err returns the failure that caused the most recent transition to Failed,
// or nil if the activity has not failed since it last started.
func (c *Controller) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// StartedAt returns when the last successful startup completed.
func (c *Controller) StartedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.startedAt
}

// Config returns the activity configuration.
func (c *Controller) Config() *activity.Config {
	return c.config
}

// Invoke runs fn under the activity's executor.
func (c *Controller) Invoke(ctx context.Context, fn func(context.Context) error) error {
	return c.exec.Invoke(ctx, fn)
}

// Startup moves an Unloaded activity to Inactive through Starting.
// Starting an activity that is already running is a no-op.
func (c *Controller) Startup(ctx context.Context) error {
	if s := c.State(); s != activity.Unloaded && !s.IsRunning() {
		return illegal("startup", s)
	}
	return c.exec.Invoke(ctx, func(ctx context.Context) error {
		switch s := c.State(); {
		case s.IsRunning():
			return nil
		case s != activity.Unloaded:
			return illegal("startup", s)
		}

		begin := time.Now()
		c.setState(activity.Starting, nil)
		if err := c.call(ctx, "OnStartup", c.act.OnStartup); err != nil {
			c.fail(ctx, err)
			return err
		}

		c.mu.Lock()
		c.startedAt = time.Now()
		c.lastErr = nil
		c.mu.Unlock()
		c.setState(activity.Inactive, nil)
		c.logger.Info("activity started", "duration", time.Since(begin))
		return nil
	})
}

// Activate moves an Inactive activity to Active.
// Activating an Active activity is a no-op.
func (c *Controller) Activate(ctx context.Context) error {
	if s := c.State(); !s.IsRunning() {
		return illegal("activate", s)
	}
	return c.exec.Invoke(ctx, func(ctx context.Context) error {
		switch s := c.State(); s {
		case activity.Active:
			return nil
		case activity.Inactive:
		default:
			return illegal("activate", s)
		}

		if err := c.call(ctx, "OnActivate", c.act.OnActivate); err != nil {
			c.fail(ctx, err)
			return err
		}
		c.setState(activity.Active, nil)
		return nil
	})
}

// Deactivate moves an Active activity to Inactive.
// Deactivating an Inactive activity is a no-op.
func (c *Controller) Deactivate(ctx context.Context) error {
	if s := c.State(); !s.IsRunning() {
		return illegal("deactivate", s)
	}
	return c.exec.Invoke(ctx, func(ctx context.Context) error {
		switch s := c.State(); s {
		case activity.Inactive:
			return nil
		case activity.Active:
		default:
			return illegal("deactivate", s)
		}
		return c.deactivate(ctx)
	})
}

func (c *Controller) deactivate(ctx context.Context) error {
	if err := c.call(ctx, "OnDeactivate", c.act.OnDeactivate); err != nil {
		c.fail(ctx, err)
		return err
	}
	c.setState(activity.Inactive, nil)
	return nil
}

// Shutdown returns the activity to Unloaded.
//
// An Active activity is deactivated first. An Inactive activity runs
// OnShutdown then OnCleanup. A Failed activity only runs OnCleanup, whose
// error is logged; this is how a failed activity is reset before a restart.
//
// Shutdown waits for an in-flight hook for at most the drain timeout, then
// proceeds anyway and logs a warning.
func (c *Controller) Shutdown(ctx context.Context) error {
	if c.State() == activity.Unloaded {
		return nil
	}

	forced, err := c.exec.drain(ctx, c.drainTimeout, func(ctx context.Context) error {
		switch s := c.State(); s {
		case activity.Unloaded:
			return nil
		case activity.Active:
			if err := c.deactivate(ctx); err != nil {
				return err
			}
			return c.shutdown(ctx)
		case activity.Inactive:
			return c.shutdown(ctx)
		default:
			c.reset(ctx)
			return nil
		}
	})
	if forced {
		c.logger.Warn("shutdown proceeded while a hook was still running", "drain_timeout", c.drainTimeout)
	}
	return err
}

func (c *Controller) shutdown(ctx context.Context) error {
	c.setState(activity.Stopping, nil)
	if err := c.call(ctx, "OnShutdown", c.act.OnShutdown); err != nil {
		c.fail(ctx, err)
		return err
	}
	if err := c.call(ctx, "OnCleanup", c.act.OnCleanup); err != nil {
		c.fail(ctx, err)
		return err
	}
	c.setState(activity.Unloaded, nil)
	return nil
}

// reset cleans up after a failure, or after a forced shutdown interrupted a
// transition, and returns to Unloaded.
func (c *Controller) reset(ctx context.Context) {
	if err := c.call(ctx, "OnCleanup", c.act.OnCleanup); err != nil {
		c.logger.Error("cleanup after failure failed", "error", err)
	}
	c.setState(activity.Unloaded, nil)
}

// Restart shuts the activity down, resetting it if it fails on the way, and
// starts it again.
func (c *Controller) Restart(ctx context.Context) error {
	var errs []error
	if err := c.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if c.State() == activity.Failed {
		if err := c.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.Startup(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// CheckState polls OnCheckState for an Inactive or Active activity. A false
// result, error or panic moves the activity to Failed and the HookError is
// returned. Activities in other states, or busy running another hook, are
// skipped.
func (c *Controller) CheckState(ctx context.Context) error {
	if !c.exec.Held(ctx) && c.exec.Busy() {
		c.logger.Debug("skipping state check, hook in progress")
		return nil
	}
	return c.exec.Invoke(ctx, func(ctx context.Context) error {
		if !c.State().IsRunning() {
			return nil
		}
		err := c.call(ctx, "OnCheckState", func(ctx context.Context) error {
			if !c.act.OnCheckState(ctx) {
				return ErrCheckFailed
			}
			return nil
		})
		if err != nil {
			c.fail(ctx, err)
			return err
		}
		return nil
	})
}

// UpdateConfiguration merges update into the activity's configuration and,
// when the activity is running, calls OnConfigurationUpdate. Updates with an
// empty key are skipped and ErrInvalidConfiguration is returned without
// touching the activity.
func (c *Controller) UpdateConfiguration(ctx context.Context, update map[string]string) error {
	for k := range update {
		if strings.TrimSpace(k) == "" {
			c.logger.Warn("skipping configuration update with empty key", "keys", len(update))
			return fmt.Errorf("%w: empty key", ErrInvalidConfiguration)
		}
	}

	return c.exec.Invoke(ctx, func(ctx context.Context) error {
		c.config.Merge(update)
		if !c.State().IsRunning() {
			return nil
		}
		err := c.call(ctx, "OnConfigurationUpdate", func(ctx context.Context) error {
			return c.act.OnConfigurationUpdate(ctx, maps.Clone(update))
		})
		if err != nil {
			c.fail(ctx, err)
			return err
		}
		return nil
	})
}

// OnConnect forwards a new web client connection to a running activity.
func (c *Controller) OnConnect(ctx context.Context, connectionID string) error {
	return c.forward(ctx, "OnConnect", func(ctx context.Context) error {
		return c.act.OnConnect(ctx, connectionID)
	})
}

// OnClose forwards a closed web client connection to a running activity.
func (c *Controller) OnClose(ctx context.Context, connectionID string) error {
	return c.forward(ctx, "OnClose", func(ctx context.Context) error {
		return c.act.OnClose(ctx, connectionID)
	})
}

// OnMessage forwards a web client message to a running activity.
func (c *Controller) OnMessage(ctx context.Context, connectionID string, payload map[string]any) error {
	return c.forward(ctx, "OnMessage", func(ctx context.Context) error {
		return c.act.OnMessage(ctx, connectionID, payload)
	})
}

// forward runs a transport callback. Callback errors are returned to the
// transport but do not change the lifecycle state.
func (c *Controller) forward(ctx context.Context, hook string, fn func(context.Context) error) error {
	return c.exec.Invoke(ctx, func(ctx context.Context) error {
		if s := c.State(); !s.IsRunning() {
			c.logger.Debug("dropping callback for activity that is not running", "hook", hook, "state", s)
			return nil
		}
		return c.call(ctx, hook, fn)
	})
}

// call runs a hook, converting errors and panics into a *HookError.
func (c *Controller) call(ctx context.Context, hook string, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &HookError{ActivityID: c.id, Hook: hook, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	if err := fn(ctx); err != nil {
		return &HookError{ActivityID: c.id, Hook: hook, Err: err}
	}
	return nil
}

// fail moves the activity to Failed, runs OnFailure once and reports the
// failure. A failing OnFailure is logged and not retried.
func (c *Controller) fail(ctx context.Context, cause error) {
	hook := "unknown"
	var herr *HookError
	if errors.As(cause, &herr) {
		hook = herr.Hook
	}
	c.metrics.HookFailed(hook)
	c.logger.Error("activity failed", "hook", hook, "error", cause)
	c.setState(activity.Failed, cause)

	ferr := c.call(ctx, "OnFailure", func(ctx context.Context) error {
		return c.act.OnFailure(ctx, cause)
	})
	if ferr != nil {
		c.logger.Error("failure hook failed", "error", ferr)
	}

	if c.reporter != nil {
		c.reporter(c.id, cause)
	}
}

func (c *Controller) setState(to activity.State, cause error) {
	c.mu.Lock()
	from := c.state
	c.state = to
	if cause != nil {
		c.lastErr = cause
	}
	c.mu.Unlock()

	c.metrics.Transition(from.String(), to.String())
	c.logger.Debug("state changed", "from", from, "to", to)
	if c.observer != nil {
		c.observer(Transition{ActivityID: c.id, From: from, To: to, Err: cause})
	}
}
