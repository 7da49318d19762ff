package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nomis52/activityhost/activity"
)

// recorder is a test activity that records hook calls and can be told to
// fail individual hooks.
type recorder struct {
	activity.Base

	mu       sync.Mutex
	calls    []string
	failures map[string]error
	panics   map[string]bool
	healthy  bool
	updates  []map[string]string
	failErr  error
	block    chan struct{}
}

func newRecorder() *recorder {
	return &recorder{
		failures: map[string]error{},
		panics:   map[string]bool{},
		healthy:  true,
	}
}

func (r *recorder) record(hook string) error {
	r.mu.Lock()
	r.calls = append(r.calls, hook)
	err := r.failures[hook]
	p := r.panics[hook]
	block := r.block
	r.mu.Unlock()

	if p {
		panic(hook + " exploded")
	}
	if block != nil && hook == "OnStartup" {
		<-block
	}
	return err
}

func (r *recorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recorder) OnStartup(context.Context) error { return r.record("OnStartup") }
func (r *recorder) OnActivate(context.Context) error { return r.record("OnActivate") }
func (r *recorder) OnDeactivate(context.Context) error { return r.record("OnDeactivate") }
func (r *recorder) OnShutdown(context.Context) error { return r.record("OnShutdown") }
func (r *recorder) OnCleanup(context.Context) error { return r.record("OnCleanup") }

func (r *recorder) OnFailure(_ context.Context, err error) error {
	r.mu.Lock()
	r.failErr = err
	r.mu.Unlock()
	return r.record("OnFailure")
}

func (r *recorder) OnCheckState(context.Context) bool {
	_ = r.record("OnCheckState")
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.healthy
}

func (r *recorder) OnConfigurationUpdate(_ context.Context, update map[string]string) error {
	r.mu.Lock()
	r.updates = append(r.updates, update)
	r.mu.Unlock()
	return r.record("OnConfigurationUpdate")
}

func (r *recorder) OnMessage(context.Context, string, map[string]any) error {
	return r.record("OnMessage")
}

func newTestController(t *testing.T, act activity.Activity, opts ...Option) *Controller {
	t.Helper()
	return New(uuid.New(), act, opts...)
}

func TestController_HappyPath(t *testing.T) {
	rec := newRecorder()
	var transitions []Transition
	c := newTestController(t, rec, WithStateObserver(func(tr Transition) {
		transitions = append(transitions, tr)
	}))
	ctx := context.Background()

	require.NoError(t, c.Startup(ctx))
	assert.Equal(t, activity.Inactive, c.State())
	assert.False(t, c.StartedAt().IsZero())

	require.NoError(t, c.Activate(ctx))
	assert.Equal(t, activity.Active, c.State())

	require.NoError(t, c.Deactivate(ctx))
	assert.Equal(t, activity.Inactive, c.State())

	require.NoError(t, c.Shutdown(ctx))
	assert.Equal(t, activity.Unloaded, c.State())

	assert.Equal(t, []string{"OnStartup", "OnActivate", "OnDeactivate", "OnShutdown", "OnCleanup"}, rec.Calls())

	var got []activity.State
	for _, tr := range transitions {
		got = append(got, tr.To)
	}
	assert.Equal(t, []activity.State{
		activity.Starting, activity.Inactive, activity.Active, activity.Inactive, activity.Stopping, activity.Unloaded,
	}, got)
}

func TestController_NoopTransitions(t *testing.T) {
	rec := newRecorder()
	c := newTestController(t, rec)
	ctx := context.Background()

	require.NoError(t, c.Startup(ctx))
	require.NoError(t, c.Deactivate(ctx), "deactivate while inactive is a no-op")
	require.NoError(t, c.Activate(ctx))
	require.NoError(t, c.Activate(ctx), "activate while active is a no-op")
	require.NoError(t, c.Startup(ctx), "startup while running is a no-op")

	assert.Equal(t, []string{"OnStartup", "OnActivate"}, rec.Calls())
	assert.Equal(t, activity.Active, c.State())
}

func TestController_IllegalTransitions(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		setup func(c *Controller, rec *recorder)
		call  func(c *Controller) error
		want  activity.State
	}{
		{
			name:  "activate while unloaded",
			setup: func(*Controller, *recorder) {},
			call:  func(c *Controller) error { return c.Activate(ctx) },
			want:  activity.Unloaded,
		},
		{
			name:  "deactivate while unloaded",
			setup: func(*Controller, *recorder) {},
			call:  func(c *Controller) error { return c.Deactivate(ctx) },
			want:  activity.Unloaded,
		},
		{
			name: "startup while failed",
			setup: func(c *Controller, rec *recorder) {
				rec.failures["OnActivate"] = errors.New("boom")
				require.NoError(t, c.Startup(ctx))
				require.Error(t, c.Activate(ctx))
			},
			call: func(c *Controller) error { return c.Startup(ctx) },
			want: activity.Failed,
		},
		{
			name: "activate while failed",
			setup: func(c *Controller, rec *recorder) {
				rec.failures["OnStartup"] = errors.New("boom")
				require.Error(t, c.Startup(ctx))
			},
			call: func(c *Controller) error { return c.Activate(ctx) },
			want: activity.Failed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := newRecorder()
			c := newTestController(t, rec)
			tt.setup(c, rec)
			before := len(rec.Calls())

			err := tt.call(c)
			require.ErrorIs(t, err, ErrIllegalTransition)
			assert.Equal(t, tt.want, c.State())
			assert.Len(t, rec.Calls(), before, "no hook may run for an illegal transition")
		})
	}
}

func TestController_ActivateDuringStartupIsRejected(t *testing.T) {
	rec := newRecorder()
	rec.block = make(chan struct{})
	c := newTestController(t, rec)

	done := make(chan error, 1)
	go func() { done <- c.Startup(context.Background()) }()

	require.Eventually(t, func() bool { return c.State() == activity.Starting }, time.Second, time.Millisecond)

	err := c.Activate(context.Background())
	assert.ErrorIs(t, err, ErrIllegalTransition)

	close(rec.block)
	require.NoError(t, <-done)
	assert.Equal(t, activity.Inactive, c.State())
	assert.NotContains(t, rec.Calls(), "OnActivate")
}

func TestController_HookFailure(t *testing.T) {
	rec := newRecorder()
	cause := errors.New("connect refused")
	rec.failures["OnActivate"] = cause

	var reported []error
	c := newTestController(t, rec, WithFailureReporter(func(id uuid.UUID, err error) {
		reported = append(reported, err)
	}))
	ctx := context.Background()

	require.NoError(t, c.Startup(ctx))
	err := c.Activate(ctx)
	require.Error(t, err)

	var herr *HookError
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, "OnActivate", herr.Hook)
	assert.Equal(t, c.ID(), herr.ActivityID)
	assert.ErrorIs(t, err, cause)

	assert.Equal(t, activity.Failed, c.State())
	assert.Equal(t, err, c.Err())
	assert.Equal(t, []string{"OnStartup", "OnActivate", "OnFailure"}, rec.Calls())
	assert.ErrorIs(t, rec.failErr, cause)
	require.Len(t, reported, 1)
	assert.ErrorIs(t, reported[0], cause)
}

func TestController_HookPanicBecomesHookError(t *testing.T) {
	rec := newRecorder()
	rec.panics["OnStartup"] = true
	c := newTestController(t, rec)

	err := c.Startup(context.Background())
	var herr *HookError
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, "OnStartup", herr.Hook)
	assert.Contains(t, herr.Error(), "OnStartup exploded")
	assert.Equal(t, activity.Failed, c.State())
}

func TestController_FailingOnFailureIsIsolated(t *testing.T) {
	rec := newRecorder()
	rec.failures["OnStartup"] = errors.New("boom")
	rec.panics["OnFailure"] = true

	reports := 0
	c := newTestController(t, rec, WithFailureReporter(func(uuid.UUID, error) { reports++ }))

	err := c.Startup(context.Background())
	require.Error(t, err)
	assert.Equal(t, activity.Failed, c.State())
	assert.Equal(t, 1, reports)
	assert.Equal(t, []string{"OnStartup", "OnFailure"}, rec.Calls())
}

func TestController_ShutdownFromActiveDeactivatesFirst(t *testing.T) {
	rec := newRecorder()
	c := newTestController(t, rec)
	ctx := context.Background()

	require.NoError(t, c.Startup(ctx))
	require.NoError(t, c.Activate(ctx))
	require.NoError(t, c.Shutdown(ctx))

	assert.Equal(t, activity.Unloaded, c.State())
	assert.Equal(t, []string{"OnStartup", "OnActivate", "OnDeactivate", "OnShutdown", "OnCleanup"}, rec.Calls())
}

func TestController_ShutdownWhileUnloadedIsNoop(t *testing.T) {
	rec := newRecorder()
	c := newTestController(t, rec)

	require.NoError(t, c.Shutdown(context.Background()))
	assert.Empty(t, rec.Calls())
}

func TestController_ShutdownFromFailedResets(t *testing.T) {
	rec := newRecorder()
	rec.failures["OnStartup"] = errors.New("boom")
	c := newTestController(t, rec)
	ctx := context.Background()

	require.Error(t, c.Startup(ctx))
	rec.failures["OnCleanup"] = errors.New("cleanup also broken")

	require.NoError(t, c.Shutdown(ctx), "cleanup errors during reset are logged only")
	assert.Equal(t, activity.Unloaded, c.State())
	assert.Equal(t, []string{"OnStartup", "OnFailure", "OnCleanup"}, rec.Calls())
}

func TestController_ShutdownHookFailure(t *testing.T) {
	rec := newRecorder()
	rec.failures["OnShutdown"] = errors.New("stuck")
	c := newTestController(t, rec)
	ctx := context.Background()

	require.NoError(t, c.Startup(ctx))
	err := c.Shutdown(ctx)

	var herr *HookError
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, "OnShutdown", herr.Hook)
	assert.Equal(t, activity.Failed, c.State())
	assert.NotContains(t, rec.Calls(), "OnCleanup")
}

func TestController_Restart(t *testing.T) {
	t.Run("from active", func(t *testing.T) {
		rec := newRecorder()
		c := newTestController(t, rec)
		ctx := context.Background()

		require.NoError(t, c.Startup(ctx))
		require.NoError(t, c.Activate(ctx))
		require.NoError(t, c.Restart(ctx))

		assert.Equal(t, activity.Inactive, c.State())
		assert.Equal(t, []string{
			"OnStartup", "OnActivate", "OnDeactivate", "OnShutdown", "OnCleanup", "OnStartup",
		}, rec.Calls())
	})

	t.Run("from failed", func(t *testing.T) {
		rec := newRecorder()
		rec.failures["OnActivate"] = errors.New("boom")
		c := newTestController(t, rec)
		ctx := context.Background()

		require.NoError(t, c.Startup(ctx))
		require.Error(t, c.Activate(ctx))
		require.NoError(t, c.Restart(ctx))

		assert.Equal(t, activity.Inactive, c.State())
		assert.Nil(t, c.Err())
	})

	t.Run("shutdown hook fails", func(t *testing.T) {
		rec := newRecorder()
		rec.failures["OnShutdown"] = errors.New("stuck")
		c := newTestController(t, rec)
		ctx := context.Background()

		require.NoError(t, c.Startup(ctx))
		err := c.Restart(ctx)
		require.Error(t, err)
		assert.Equal(t, activity.Inactive, c.State(), "the failed activity is reset and started again")
	})
}

func TestController_CheckState(t *testing.T) {
	ctx := context.Background()

	t.Run("skipped when unloaded", func(t *testing.T) {
		rec := newRecorder()
		c := newTestController(t, rec)
		require.NoError(t, c.CheckState(ctx))
		assert.Empty(t, rec.Calls())
	})

	t.Run("healthy", func(t *testing.T) {
		rec := newRecorder()
		c := newTestController(t, rec)
		require.NoError(t, c.Startup(ctx))
		require.NoError(t, c.CheckState(ctx))
		assert.Equal(t, activity.Inactive, c.State())
	})

	t.Run("unhealthy fails once", func(t *testing.T) {
		rec := newRecorder()
		rec.healthy = false
		c := newTestController(t, rec)
		require.NoError(t, c.Startup(ctx))
		require.NoError(t, c.Activate(ctx))

		err := c.CheckState(ctx)
		require.ErrorIs(t, err, ErrCheckFailed)
		assert.Equal(t, activity.Failed, c.State())

		require.NoError(t, c.CheckState(ctx), "failed activities are not checked")
		assert.Equal(t, []string{"OnStartup", "OnActivate", "OnCheckState", "OnFailure"}, rec.Calls())
	})

	t.Run("panic fails", func(t *testing.T) {
		rec := newRecorder()
		rec.panics["OnCheckState"] = true
		c := newTestController(t, rec)
		require.NoError(t, c.Startup(ctx))

		var herr *HookError
		require.ErrorAs(t, c.CheckState(ctx), &herr)
		assert.Equal(t, "OnCheckState", herr.Hook)
		assert.Equal(t, activity.Failed, c.State())
	})
}

func TestController_UpdateConfiguration(t *testing.T) {
	ctx := context.Background()

	t.Run("merged and forwarded while running", func(t *testing.T) {
		rec := newRecorder()
		cfg := activity.NewConfig(map[string]string{"a": "1"})
		c := newTestController(t, rec, WithConfig(cfg))
		require.NoError(t, c.Startup(ctx))

		require.NoError(t, c.UpdateConfiguration(ctx, map[string]string{"b": "2"}))
		assert.Equal(t, map[string]string{"a": "1", "b": "2"}, cfg.Snapshot())
		require.Len(t, rec.updates, 1)
		assert.Equal(t, map[string]string{"b": "2"}, rec.updates[0])
	})

	t.Run("merged only while unloaded", func(t *testing.T) {
		rec := newRecorder()
		c := newTestController(t, rec)

		require.NoError(t, c.UpdateConfiguration(ctx, map[string]string{"b": "2"}))
		v, ok := c.Config().Get("b")
		assert.True(t, ok)
		assert.Equal(t, "2", v)
		assert.Empty(t, rec.Calls())
	})

	t.Run("empty key rejected", func(t *testing.T) {
		rec := newRecorder()
		c := newTestController(t, rec)
		require.NoError(t, c.Startup(ctx))

		err := c.UpdateConfiguration(ctx, map[string]string{"": "x", "ok": "y"})
		require.ErrorIs(t, err, ErrInvalidConfiguration)
		assert.Empty(t, rec.updates)
		assert.Empty(t, c.Config().Keys())
		assert.Equal(t, activity.Inactive, c.State())
	})

	t.Run("handler error fails", func(t *testing.T) {
		rec := newRecorder()
		rec.failures["OnConfigurationUpdate"] = errors.New("bad value")
		c := newTestController(t, rec)
		require.NoError(t, c.Startup(ctx))

		var herr *HookError
		require.ErrorAs(t, c.UpdateConfiguration(ctx, map[string]string{"k": "v"}), &herr)
		assert.Equal(t, "OnConfigurationUpdate", herr.Hook)
		assert.Equal(t, activity.Failed, c.State())
	})
}

func TestController_TransportCallbacks(t *testing.T) {
	ctx := context.Background()
	rec := newRecorder()
	c := newTestController(t, rec)

	require.NoError(t, c.OnMessage(ctx, "conn-1", map[string]any{"x": 1.0}))
	assert.Empty(t, rec.Calls(), "callbacks are dropped before startup")

	require.NoError(t, c.Startup(ctx))
	rec.failures["OnMessage"] = errors.New("bad payload")

	err := c.OnMessage(ctx, "conn-1", map[string]any{"x": 1.0})
	var herr *HookError
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, activity.Inactive, c.State(), "transport callback errors are not fatal")
}

func TestController_DrainTimeoutForcesShutdown(t *testing.T) {
	rec := newRecorder()
	c := newTestController(t, rec, WithDrainTimeout(10*time.Millisecond))
	ctx := context.Background()
	require.NoError(t, c.Startup(ctx))

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = c.Invoke(ctx, func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started
	defer close(release)

	require.NoError(t, c.Shutdown(ctx))
	assert.Equal(t, activity.Unloaded, c.State())
}

func TestController_NestedCallFromHook(t *testing.T) {
	ctx := context.Background()
	var c *Controller
	act := &nestedActivity{check: func(ctx context.Context) error {
		return c.UpdateConfiguration(ctx, map[string]string{"from": "hook"})
	}}
	c = newTestController(t, act, WithDrainTimeout(time.Second))

	done := make(chan error, 1)
	go func() { done <- c.Startup(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("nested call from a hook deadlocked")
	}
	v, _ := c.Config().Get("from")
	assert.Equal(t, "hook", v)
}

type nestedActivity struct {
	activity.Base
	check func(ctx context.Context) error
}

func (a *nestedActivity) OnStartup(ctx context.Context) error {
	return a.check(ctx)
}
