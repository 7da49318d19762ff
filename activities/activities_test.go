package activities

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nomis52/activityhost/activity"
	"github.com/nomis52/activityhost/bus"
	"github.com/nomis52/activityhost/host"
	"github.com/nomis52/activityhost/transport"
)

type captureSender struct {
	mu   sync.Mutex
	msgs []map[string]any
}

func (s *captureSender) Send(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, m)
	return nil
}

func (s *captureSender) Close() error { return nil }

func (s *captureSender) messages() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]any(nil), s.msgs...)
}

type testHost struct {
	*host.Host
	bus       *bus.Bus
	transport *transport.Adapter
}

func newTestHost(t *testing.T) *testHost {
	t.Helper()
	b := bus.New()
	a := transport.NewAdapter()
	h := host.New(
		host.WithLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))),
		host.WithBus(b),
		host.WithTransport(a),
	)
	Register(h)
	t.Cleanup(func() { _ = h.Close(context.Background()) })
	return &testHost{Host: h, bus: b, transport: a}
}

func (th *testHost) run(t *testing.T, typ string, cfg map[string]string) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	id, err := th.Load(ctx, host.LoadRequest{Name: typ + "-1", Type: typ, Config: cfg})
	require.NoError(t, err)
	require.NoError(t, th.Startup(ctx, id))
	require.NoError(t, th.Activate(ctx, id))
	return id
}

func TestRegister(t *testing.T) {
	th := newTestHost(t)
	assert.Equal(t, []string{HeartbeatType, RelayType}, th.Types())
}

func TestRelay_BroadcastsEventsFromOthers(t *testing.T) {
	th := newTestHost(t)
	ctx := context.Background()
	id := th.run(t, RelayType, map[string]string{"topic": "activity"})

	sender := &captureSender{}
	_, err := th.transport.Connect(ctx, id, sender)
	require.NoError(t, err)

	other := uuid.New()
	th.bus.Publish(ctx, "activity", bus.NewEvent("activity", other, map[string]any{"action": "activate"}))
	th.bus.Publish(ctx, "activity", bus.NewEvent("activity", id, map[string]any{"action": "echo"}))

	msgs := sender.messages()
	require.Len(t, msgs, 1, "events published by the relay itself are not relayed")
	assert.Equal(t, "activity", msgs[0]["type"])
	assert.Equal(t, other.String(), msgs[0]["source"])
	assert.Equal(t, map[string]any{"action": "activate"}, msgs[0]["data"])
}

func TestRelay_InactiveDoesNotRelay(t *testing.T) {
	th := newTestHost(t)
	ctx := context.Background()
	id := th.run(t, RelayType, map[string]string{"topic": "activity"})
	require.NoError(t, th.Deactivate(ctx, id))

	sender := &captureSender{}
	_, err := th.transport.Connect(ctx, id, sender)
	require.NoError(t, err)

	th.bus.Publish(ctx, "activity", bus.NewEvent("activity", uuid.New(), nil))
	assert.Empty(t, sender.messages())
}

func TestRelay_PublishesClientMessages(t *testing.T) {
	th := newTestHost(t)
	ctx := context.Background()
	id := th.run(t, RelayType, map[string]string{"topic": "activity", "event_type": "command"})

	var got []bus.Event
	th.bus.Subscribe("activity", func(_ context.Context, ev bus.Event) error {
		got = append(got, ev)
		return nil
	})

	connID, err := th.transport.Connect(ctx, id, &captureSender{})
	require.NoError(t, err)
	require.NoError(t, th.transport.Receive(ctx, connID, map[string]any{"imageUrl": "x.jpg"}))
	require.NoError(t, th.transport.Receive(ctx, connID, map[string]any{"type": "custom"}))

	require.Len(t, got, 2)
	assert.Equal(t, "command", got[0].Type)
	assert.Equal(t, id, got[0].Source)
	assert.Equal(t, "x.jpg", got[0].Data["imageUrl"])
	assert.Equal(t, "custom", got[1].Type)
}

func TestRelay_ConfigurationUpdateMovesTopic(t *testing.T) {
	th := newTestHost(t)
	ctx := context.Background()
	id := th.run(t, RelayType, map[string]string{"topic": "a"})

	require.NoError(t, th.UpdateConfiguration(ctx, id, map[string]string{"topic": "b"}))
	assert.Equal(t, 0, th.bus.Subscribers("a"))
	assert.Equal(t, 1, th.bus.Subscribers("b"))
}

func TestRelay_MissingTopicFailsStartup(t *testing.T) {
	th := newTestHost(t)
	ctx := context.Background()
	id, err := th.Load(ctx, host.LoadRequest{Name: "r", Type: RelayType})
	require.NoError(t, err)

	require.Error(t, th.Startup(ctx, id))
	snap, err := th.Registry().Snapshot(id)
	require.NoError(t, err)
	assert.Equal(t, activity.Failed, snap.State)
	assert.Contains(t, snap.Status, "topic")
}

func TestHeartbeat_BeatsWhileActive(t *testing.T) {
	th := newTestHost(t)
	ctx := context.Background()

	var beats sync.WaitGroup
	beats.Add(2)
	var mu sync.Mutex
	count := 0
	th.bus.Subscribe("pulse", func(_ context.Context, ev bus.Event) error {
		mu.Lock()
		defer mu.Unlock()
		count++
		if count <= 2 {
			beats.Done()
		}
		return nil
	})

	id := th.run(t, HeartbeatType, map[string]string{"interval": "10ms", "topic": "pulse"})
	sender := &captureSender{}
	_, err := th.transport.Connect(ctx, id, sender)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() { beats.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("no beats received")
	}

	require.NoError(t, th.CheckState(ctx, id))
	require.NoError(t, th.Deactivate(ctx, id))
	rec, err := th.Registry().Get(id)
	require.NoError(t, err)
	assert.Equal(t, activity.Inactive, rec.State())
	require.Eventually(t, func() bool { return len(sender.messages()) > 0 }, time.Second, 5*time.Millisecond)
}

func TestHeartbeat_InvalidInterval(t *testing.T) {
	th := newTestHost(t)
	ctx := context.Background()
	id, err := th.Load(ctx, host.LoadRequest{Name: "hb", Type: HeartbeatType, Config: map[string]string{"interval": "-1s"}})
	require.NoError(t, err)
	assert.Error(t, th.Startup(ctx, id))
}

func TestHeartbeat_CheckStateDetectsStall(t *testing.T) {
	actx := &activity.Context{
		ID:     uuid.New(),
		Logger: slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)),
		Config: activity.NewConfig(map[string]string{"interval": "1h"}),
	}
	actx.Status = activity.NewStatusLine(actx.ID, actx.Logger, nil)
	act, err := NewHeartbeat(actx)
	require.NoError(t, err)
	hb := act.(*Heartbeat)
	ctx := context.Background()

	require.NoError(t, hb.OnStartup(ctx))
	assert.True(t, hb.OnCheckState(ctx), "inactive heartbeat is healthy")

	require.NoError(t, hb.OnActivate(ctx))
	assert.True(t, hb.OnCheckState(ctx))

	hb.lastBeat.Store(time.Now().Add(-4 * time.Hour).UnixNano())
	assert.False(t, hb.OnCheckState(ctx))
	require.NoError(t, hb.OnShutdown(ctx))
}

func TestRelay_RestartAfterFailureSubscribesOnce(t *testing.T) {
	th := newTestHost(t)
	ctx := context.Background()
	id := th.run(t, RelayType, map[string]string{"topic": "t"})

	require.Error(t, th.UpdateConfiguration(ctx, id, map[string]string{"topic": ""}))
	rec, err := th.Registry().Get(id)
	require.NoError(t, err)
	require.Equal(t, activity.Failed, rec.State())

	require.NoError(t, th.UpdateConfiguration(ctx, id, map[string]string{"topic": "t"}))
	require.NoError(t, th.Restart(ctx, id))
	require.NoError(t, th.Activate(ctx, id))
	assert.Equal(t, 1, th.bus.Subscribers("t"))

	sender := &captureSender{}
	_, err = th.transport.Connect(ctx, id, sender)
	require.NoError(t, err)
	th.bus.Publish(ctx, "t", bus.NewEvent("note", uuid.New(), nil))
	assert.Len(t, sender.messages(), 1)
}
