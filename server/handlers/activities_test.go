package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nomis52/activityhost/activity"
	"github.com/nomis52/activityhost/config"
	"github.com/nomis52/activityhost/host"
	"github.com/nomis52/activityhost/lifecycle"
	"github.com/nomis52/activityhost/logging"
	"github.com/nomis52/activityhost/registry"
)

// mockHost keeps activities in memory and records requested actions.
type mockHost struct {
	snaps     map[uuid.UUID]registry.Snapshot
	actions   []string
	actionErr error
	updates   []map[string]string
	unloadErr error
	logs      []logging.LogEntry
	since     time.Time
}

func newMockHost() *mockHost {
	return &mockHost{snaps: map[uuid.UUID]registry.Snapshot{}}
}

func (m *mockHost) add(name string) uuid.UUID {
	id := uuid.New()
	m.snaps[id] = registry.Snapshot{ID: id, Name: name, Type: "relay", State: activity.Unloaded}
	return id
}

func (m *mockHost) Resolve(ref string) (uuid.UUID, error) {
	for id, s := range m.snaps {
		if id.String() == ref || s.Name == ref {
			return id, nil
		}
	}
	return uuid.Nil, fmt.Errorf("%w: %s", registry.ErrNotFound, ref)
}

func (m *mockHost) Snapshot(id uuid.UUID) (registry.Snapshot, error) {
	s, ok := m.snaps[id]
	if !ok {
		return registry.Snapshot{}, registry.ErrNotFound
	}
	return s, nil
}

func (m *mockHost) Snapshots() []registry.Snapshot {
	out := make([]registry.Snapshot, 0, len(m.snaps))
	for _, s := range m.snaps {
		out = append(out, s)
	}
	return out
}

func (m *mockHost) Load(_ context.Context, req host.LoadRequest) (uuid.UUID, error) {
	if req.Type != "relay" {
		return uuid.Nil, fmt.Errorf("%w: %q", host.ErrUnknownType, req.Type)
	}
	if _, err := m.Resolve(req.Name); err == nil {
		return uuid.Nil, registry.ErrDuplicate
	}
	return m.add(req.Name), nil
}

func (m *mockHost) Types() []string {
	return []string{"heartbeat", "relay"}
}

func (m *mockHost) Unload(_ context.Context, id uuid.UUID) error {
	delete(m.snaps, id)
	return m.unloadErr
}

func (m *mockHost) transition(name string, id uuid.UUID, to activity.State) error {
	m.actions = append(m.actions, name)
	if m.actionErr != nil {
		return m.actionErr
	}
	s := m.snaps[id]
	s.State = to
	m.snaps[id] = s
	return nil
}

func (m *mockHost) Startup(_ context.Context, id uuid.UUID) error {
	return m.transition("startup", id, activity.Inactive)
}

func (m *mockHost) Activate(_ context.Context, id uuid.UUID) error {
	return m.transition("activate", id, activity.Active)
}

func (m *mockHost) Deactivate(_ context.Context, id uuid.UUID) error {
	return m.transition("deactivate", id, activity.Inactive)
}

func (m *mockHost) Shutdown(_ context.Context, id uuid.UUID) error {
	return m.transition("shutdown", id, activity.Unloaded)
}

func (m *mockHost) Restart(_ context.Context, id uuid.UUID) error {
	return m.transition("restart", id, activity.Inactive)
}

func (m *mockHost) CheckState(_ context.Context, id uuid.UUID) error {
	return m.transition("check", id, m.snaps[id].State)
}

func (m *mockHost) UpdateConfiguration(_ context.Context, id uuid.UUID, update map[string]string) error {
	m.updates = append(m.updates, update)
	for k := range update {
		if strings.TrimSpace(k) == "" {
			return lifecycle.ErrInvalidConfiguration
		}
	}
	s := m.snaps[id]
	s.Config = update
	m.snaps[id] = s
	return nil
}

func (m *mockHost) Logs(_ uuid.UUID, since time.Time) ([]logging.LogEntry, error) {
	m.since = since
	return m.logs, nil
}

func (m *mockHost) EnvironmentKeys() []string {
	return []string{"bus", "site", "transport"}
}

func (m *mockHost) Config() *config.Config {
	cfg := &config.Config{Bridge: config.BridgeConfig{RedisAddr: "redis:6379", RedisPassword: "secret"}}
	cfg.SetDefaults()
	return cfg
}

func newTestMux(m *mockHost) *http.ServeMux {
	logger := slog.Default()
	mux := http.NewServeMux()
	mux.Handle("/api/activities", NewActivitiesHandler(logger, m))
	mux.Handle("GET /api/types", NewTypesHandler(m))
	mux.Handle("/api/activities/{id}", NewActivityHandler(logger, m))
	mux.Handle("POST /api/activities/{id}/{action}", NewActionHandler(logger, m))
	mux.Handle("PUT /api/activities/{id}/config", NewUpdateConfigHandler(logger, m))
	mux.Handle("GET /api/activities/{id}/logs", NewLogsHandler(m))
	mux.Handle("GET /api/environment", NewEnvironmentHandler(m))
	mux.Handle("GET /api/config", NewConfigHandler(m))
	return mux
}

func do(t *testing.T, mux http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func TestActivitiesHandler_List(t *testing.T) {
	m := newMockHost()
	m.add("chat")

	w := do(t, newTestMux(m), http.MethodGet, "/api/activities", "")

	assert.Equal(t, http.StatusOK, w.Code)
	var got []registry.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "chat", got[0].Name)
	assert.Contains(t, w.Body.String(), `"state":"unloaded"`)
}

func TestActivitiesHandler_Load(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{name: "created", body: `{"name":"chat","type":"relay","config":{"topic":"chat"}}`, wantStatus: http.StatusCreated},
		{name: "unknown type", body: `{"name":"chat","type":"nope"}`, wantStatus: http.StatusBadRequest},
		{name: "malformed body", body: `{"name":`, wantStatus: http.StatusBadRequest},
		{name: "unknown field", body: `{"name":"chat","type":"relay","colour":"red"}`, wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMockHost()
			w := do(t, newTestMux(m), http.MethodPost, "/api/activities", tt.body)
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}

	t.Run("duplicate name", func(t *testing.T) {
		m := newMockHost()
		m.add("chat")
		w := do(t, newTestMux(m), http.MethodPost, "/api/activities", `{"name":"chat","type":"relay"}`)
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("location header", func(t *testing.T) {
		m := newMockHost()
		w := do(t, newTestMux(m), http.MethodPost, "/api/activities", `{"name":"chat","type":"relay"}`)
		require.Equal(t, http.StatusCreated, w.Code)
		id, err := m.Resolve("chat")
		require.NoError(t, err)
		assert.Equal(t, "/api/activities/"+id.String(), w.Header().Get("Location"))
	})
}

func TestActivitiesHandler_MethodNotAllowed(t *testing.T) {
	w := do(t, newTestMux(newMockHost()), http.MethodPatch, "/api/activities", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestTypesHandler(t *testing.T) {
	w := do(t, newTestMux(newMockHost()), http.MethodGet, "/api/types", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `["heartbeat","relay"]`, w.Body.String())
}

func TestActivityHandler(t *testing.T) {
	m := newMockHost()
	id := m.add("chat")
	mux := newTestMux(m)

	t.Run("get by id", func(t *testing.T) {
		w := do(t, mux, http.MethodGet, "/api/activities/"+id.String(), "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"name":"chat"`)
	})

	t.Run("get by name", func(t *testing.T) {
		w := do(t, mux, http.MethodGet, "/api/activities/chat", "")
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("not found", func(t *testing.T) {
		w := do(t, mux, http.MethodGet, "/api/activities/missing", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("delete", func(t *testing.T) {
		m.unloadErr = errors.New("shutdown hook failed")
		w := do(t, mux, http.MethodDelete, "/api/activities/chat", "")
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Empty(t, m.snaps)
	})
}

func TestActionHandler(t *testing.T) {
	tests := []struct {
		action     string
		actionErr  error
		wantStatus int
		wantState  activity.State
	}{
		{action: "startup", wantStatus: http.StatusOK, wantState: activity.Inactive},
		{action: "activate", wantStatus: http.StatusOK, wantState: activity.Active},
		{action: "deactivate", wantStatus: http.StatusOK, wantState: activity.Inactive},
		{action: "shutdown", wantStatus: http.StatusOK, wantState: activity.Unloaded},
		{action: "restart", wantStatus: http.StatusOK, wantState: activity.Inactive},
		{action: "check", wantStatus: http.StatusOK, wantState: activity.Unloaded},
		{action: "explode", wantStatus: http.StatusBadRequest, wantState: activity.Unloaded},
		{
			action:     "activate",
			actionErr:  fmt.Errorf("%w: cannot activate from unloaded", lifecycle.ErrIllegalTransition),
			wantStatus: http.StatusConflict,
			wantState:  activity.Unloaded,
		},
		{
			action:     "startup",
			actionErr:  &lifecycle.HookError{Hook: "OnStartup", Err: errors.New("boom")},
			wantStatus: http.StatusOK,
			wantState:  activity.Unloaded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			m := newMockHost()
			id := m.add("chat")
			m.actionErr = tt.actionErr

			w := do(t, newTestMux(m), http.MethodPost, "/api/activities/"+id.String()+"/"+tt.action, "")

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantState, m.snaps[id].State)
		})
	}
}

func TestUpdateConfigHandler(t *testing.T) {
	m := newMockHost()
	id := m.add("chat")
	mux := newTestMux(m)

	w := do(t, mux, http.MethodPut, "/api/activities/chat/config", `{"topic":"news"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]string{"topic": "news"}, m.snaps[id].Config)

	w = do(t, mux, http.MethodPut, "/api/activities/chat/config", `{" ":"x"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, mux, http.MethodPut, "/api/activities/chat/config", `{"topic":1}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Len(t, m.updates, 2)
}

func TestLogsHandler(t *testing.T) {
	m := newMockHost()
	m.add("chat")
	mux := newTestMux(m)

	w := do(t, mux, http.MethodGet, "/api/activities/chat/logs", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	m.logs = []logging.LogEntry{{Level: "INFO", Message: "hello"}}
	w = do(t, mux, http.MethodGet, "/api/activities/chat/logs?since=2026-01-02T03:04:05Z", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"message":"hello"`)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), m.since)

	w = do(t, mux, http.MethodGet, "/api/activities/chat/logs?since=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEnvironmentHandler(t *testing.T) {
	w := do(t, newTestMux(newMockHost()), http.MethodGet, "/api/environment", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"keys":["bus","site","transport"]}`, w.Body.String())
}

func TestConfigHandler(t *testing.T) {
	w := do(t, newTestMux(newMockHost()), http.MethodGet, "/api/config", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/yaml", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "redis_password: REDACTED")
	assert.NotContains(t, w.Body.String(), "secret")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{registry.ErrNotFound, http.StatusNotFound},
		{registry.ErrDuplicate, http.StatusConflict},
		{lifecycle.ErrIllegalTransition, http.StatusConflict},
		{host.ErrUnknownType, http.StatusBadRequest},
		{host.ErrInvalidRequest, http.StatusBadRequest},
		{lifecycle.ErrInvalidConfiguration, http.StatusBadRequest},
		{host.ErrClosed, http.StatusServiceUnavailable},
		{&lifecycle.HookError{Hook: "OnActivate", Err: errors.New("x")}, http.StatusUnprocessableEntity},
		{errors.New("other"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(fmt.Errorf("wrapped: %w", tt.err)))
		})
	}
}
