package registry

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nomis52/activityhost/activity"
	"github.com/nomis52/activityhost/lifecycle"
)

func newRecord(name string) *Record {
	id := uuid.New()
	return NewRecord(id, name, "test", lifecycle.New(id, activity.Base{}))
}

func TestRegistry_AddGetRemove(t *testing.T) {
	r := New()
	rec := newRecord("relay")

	require.NoError(t, r.Add(rec))
	assert.Equal(t, 1, r.Len())

	got, err := r.Get(rec.ID)
	require.NoError(t, err)
	assert.Same(t, rec, got)

	got, err = r.Lookup("relay")
	require.NoError(t, err)
	assert.Same(t, rec, got)

	removed, err := r.Remove(rec.ID)
	require.NoError(t, err)
	assert.Same(t, rec, removed)
	assert.Equal(t, 0, r.Len())

	_, err = r.Get(rec.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = r.Lookup("relay")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = r.Remove(rec.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistry_AddDuplicate(t *testing.T) {
	r := New()
	rec := newRecord("relay")
	require.NoError(t, r.Add(rec))

	tests := []struct {
		name string
		rec  *Record
	}{
		{name: "same id", rec: NewRecord(rec.ID, "other", "test", rec.Controller)},
		{name: "same name", rec: newRecord("relay")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, r.Add(tt.rec), ErrDuplicate)
		})
	}
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_Resolve(t *testing.T) {
	r := New()
	rec := newRecord("heartbeat")
	require.NoError(t, r.Add(rec))

	byID, err := r.Resolve(rec.ID.String())
	require.NoError(t, err)
	assert.Same(t, rec, byID)

	byName, err := r.Resolve("heartbeat")
	require.NoError(t, err)
	assert.Same(t, rec, byName)

	_, err = r.Resolve(uuid.NewString())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistry_ListSortedByName(t *testing.T) {
	r := New()
	for _, name := range []string{"charlie", "alpha", "bravo"} {
		require.NoError(t, r.Add(newRecord(name)))
	}

	var names []string
	for _, rec := range r.List() {
		names = append(names, rec.Name)
	}
	assert.Equal(t, []string{"alpha", "bravo", "charlie"}, names)
}

func TestRegistry_ReportFailure(t *testing.T) {
	r := New()
	rec := newRecord("relay")
	require.NoError(t, r.Add(rec))

	r.ReportFailure(rec.ID, errors.New("first"))
	r.ReportFailure(rec.ID, errors.New("second"))
	r.ReportFailure(uuid.New(), errors.New("ignored"))

	count, last, at := rec.Failures()
	assert.Equal(t, 2, count)
	assert.EqualError(t, last, "second")
	assert.False(t, at.IsZero())
}

func TestRegistry_Snapshot(t *testing.T) {
	statuses := activity.NewStatusHandler()
	r := New(WithStatusHandler(statuses))

	id := uuid.New()
	cfg := activity.NewConfig(map[string]string{"interval": "1s"})
	ctrl := lifecycle.New(id, activity.Base{}, lifecycle.WithConfig(cfg))
	rec := NewRecord(id, "heartbeat", "heartbeat", ctrl)
	require.NoError(t, r.Add(rec))
	require.NoError(t, ctrl.Startup(context.Background()))
	statuses.Set(id, "beating")
	r.ReportFailure(id, errors.New("missed beat"))

	snap, err := r.Snapshot(id)
	require.NoError(t, err)
	assert.Equal(t, "heartbeat", snap.Name)
	assert.Equal(t, activity.Inactive, snap.State)
	assert.Equal(t, map[string]string{"interval": "1s"}, snap.Config)
	assert.Equal(t, "beating", snap.Status)
	require.NotNil(t, snap.StartedAt)
	assert.Equal(t, 1, snap.Failures)
	assert.Equal(t, "missed beat", snap.LastFailure)

	data, err := json.Marshal(snap)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"state":"inactive"`)

	assert.Equal(t, map[string]int{"inactive": 1}, r.StateCounts())
	assert.Len(t, r.Snapshots(), 1)
}
