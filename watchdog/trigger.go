// Package watchdog runs host maintenance tasks on cron schedules, most
// importantly the periodic state check of every loaded activity.
//
// Example usage:
//
//	wd, err := watchdog.New("@every 10s", host, watchdog.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	wd.Start(ctx)  // Returns immediately, runs in background
//	<-ctx.Done()   // Wait for shutdown signal
package watchdog

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrInvalidSchedule is returned when a schedule cannot be parsed.
var ErrInvalidSchedule = errors.New("invalid schedule")

// Task is one scheduled unit of work.
type Task func(ctx context.Context) error

// Trigger runs a Task according to a cron schedule. Runs never overlap: the
// next run is scheduled after the previous one returns.
type Trigger struct {
	name     string
	spec     string
	schedule cron.Schedule
	task     Task
	timeout  time.Duration
	logger   *slog.Logger

	runs     atomic.Int64
	failures atomic.Int64
	done     chan struct{}
}

// Option configures a Trigger.
type Option func(*Trigger)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Trigger) {
		t.logger = logger
	}
}

// WithTimeout bounds each run. Zero means no bound.
func WithTimeout(d time.Duration) Option {
	return func(t *Trigger) {
		t.timeout = d
	}
}

// NewTrigger parses spec and returns a trigger for task. spec is a standard
// five field cron expression or a descriptor such as "@every 10s" or
// "@hourly".
func NewTrigger(name, spec string, task Task, opts ...Option) (*Trigger, error) {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, errors.Join(ErrInvalidSchedule, err)
	}

	t := &Trigger{
		name:     name,
		spec:     spec,
		schedule: schedule,
		task:     task,
		logger:   slog.Default(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With("component", "watchdog", "task", name)
	return t, nil
}

// Name returns the task name.
func (t *Trigger) Name() string {
	return t.name
}

// Spec returns the schedule the trigger was created with.
func (t *Trigger) Spec() string {
	return t.spec
}

// Start launches the scheduling loop. It returns immediately; the loop
// exits when ctx is cancelled, after which Done is closed.
func (t *Trigger) Start(ctx context.Context) {
	go t.loop(ctx)
}

// Done is closed once a started trigger has stopped.
func (t *Trigger) Done() <-chan struct{} {
	return t.done
}

// NextRun returns the next scheduled run time from now.
func (t *Trigger) NextRun() time.Time {
	return t.schedule.Next(time.Now())
}

// Runs returns how many runs completed and how many of them failed.
func (t *Trigger) Runs() (total, failed int64) {
	return t.runs.Load(), t.failures.Load()
}

func (t *Trigger) loop(ctx context.Context) {
	defer close(t.done)
	for {
		next := t.schedule.Next(time.Now())
		wait := time.Until(next)
		t.logger.Debug("waiting for next scheduled run", "next_run", next, "wait_duration", wait)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			t.logger.Info("trigger shutting down")
			return
		case <-timer.C:
			_ = t.RunOnce(ctx)
		}
	}
}

// RunOnce runs the task immediately and records the result.
func (t *Trigger) RunOnce(ctx context.Context) error {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	start := time.Now()
	err := t.task(ctx)
	t.runs.Add(1)
	if err != nil {
		t.failures.Add(1)
		t.logger.Warn("scheduled run completed with error", "error", err, "duration", time.Since(start))
		return err
	}
	t.logger.Debug("scheduled run completed", "duration", time.Since(start))
	return nil
}
