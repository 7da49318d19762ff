package activities

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nomis52/activityhost/activity"
)

// missedBeats is how many intervals may pass without a beat before the
// heartbeat reports itself unhealthy.
const missedBeats = 3

// Heartbeat publishes a beat event on a topic and to its web clients at a
// fixed interval while active.
//
// Configuration:
//
//	interval  time between beats, default 1s
//	topic     bus topic for beat events, default "heartbeat"
type Heartbeat struct {
	activity.Base
	actx *activity.Context

	interval time.Duration
	topic    string

	mu     sync.Mutex
	cancel context.CancelFunc

	beats    atomic.Int64
	lastBeat atomic.Int64
}

// NewHeartbeat builds a heartbeat activity.
func NewHeartbeat(actx *activity.Context) (activity.Activity, error) {
	return &Heartbeat{actx: actx}, nil
}

func (h *Heartbeat) OnStartup(context.Context) error {
	return activity.CaptureError(h.actx.Status, func() error {
		interval, err := h.actx.Config.Duration("interval", time.Second)
		if err != nil {
			return err
		}
		if interval <= 0 {
			return fmt.Errorf("interval must be positive, got %s", interval)
		}
		h.interval = interval
		h.topic = h.actx.Config.GetOr("topic", "heartbeat")
		return nil
	})
}

func (h *Heartbeat) OnActivate(context.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	h.mu.Lock()
	h.cancel = cancel
	h.mu.Unlock()

	h.lastBeat.Store(time.Now().UnixNano())
	go h.run(ctx, h.interval)
	h.actx.Status.Set(fmt.Sprintf("beating every %s", h.interval))
	return nil
}

func (h *Heartbeat) OnDeactivate(context.Context) error {
	h.stop()
	h.actx.Status.Set("paused")
	return nil
}

func (h *Heartbeat) OnShutdown(context.Context) error {
	h.stop()
	return nil
}

func (h *Heartbeat) OnFailure(context.Context, error) error {
	h.stop()
	return nil
}

// OnCheckState reports unhealthy when an active heartbeat has not beaten
// for several intervals.
func (h *Heartbeat) OnCheckState(context.Context) bool {
	if !h.running() {
		return true
	}
	last := time.Unix(0, h.lastBeat.Load())
	return time.Since(last) < missedBeats*h.interval
}

func (h *Heartbeat) OnConfigurationUpdate(_ context.Context, update map[string]string) error {
	v, ok := update["interval"]
	if !ok {
		return nil
	}
	interval, err := time.ParseDuration(v)
	if err != nil || interval <= 0 {
		return fmt.Errorf("invalid interval %q", v)
	}
	h.interval = interval
	if h.running() {
		h.stop()
		return h.OnActivate(context.Background())
	}
	return nil
}

// Beats returns the number of beats sent since the activity was created.
func (h *Heartbeat) Beats() int64 {
	return h.beats.Load()
}

func (h *Heartbeat) running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancel != nil
}

// stop cancels the beat loop without waiting for it: the loop may be blocked
// delivering a beat that needs this activity's executor.
func (h *Heartbeat) stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

func (h *Heartbeat) run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n := h.beats.Add(1)
			h.lastBeat.Store(now.UnixNano())
			data := map[string]any{"count": n, "time": now.UTC().Format(time.RFC3339Nano)}
			h.actx.Publish(ctx, h.topic, "beat", data)
			if err := h.actx.Broadcast(ctx, data); err != nil {
				h.actx.Logger.Warn("broadcasting beat", "error", err)
			}
		}
	}
}
