// Package registry tracks the activities loaded in a host.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nomis52/activityhost/activity"
	"github.com/nomis52/activityhost/lifecycle"
)

var (
	// ErrNotFound is returned when no activity matches the requested ID or name.
	ErrNotFound = errors.New("activity not found")

	// ErrDuplicate is returned when an activity with the same ID or name is
	// already registered.
	ErrDuplicate = errors.New("activity already registered")
)

// Record is a loaded activity instance. The registry owns it from load
// until unload.
type Record struct {
	ID         uuid.UUID
	Name       string
	Type       string
	Controller *lifecycle.Controller
	LoadedAt   time.Time

	mu            sync.Mutex
	failures      int
	lastFailure   error
	lastFailureAt time.Time
}

// NewRecord creates a record for an activity loaded now.
func NewRecord(id uuid.UUID, name, typ string, ctrl *lifecycle.Controller) *Record {
	return &Record{
		ID:         id,
		Name:       name,
		Type:       typ,
		Controller: ctrl,
		LoadedAt:   time.Now(),
	}
}

// State returns the activity's current lifecycle state.
func (r *Record) State() activity.State {
	return r.Controller.State()
}

// Failures returns the number of failures reported for the activity and the
// most recent one.
func (r *Record) Failures() (count int, last error, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failures, r.lastFailure, r.lastFailureAt
}

// Snapshot is the serializable view of a record.
type Snapshot struct {
	ID            uuid.UUID         `json:"id"`
	Name          string            `json:"name"`
	Type          string            `json:"type"`
	State         activity.State    `json:"state"`
	Config        map[string]string `json:"config"`
	Status        string            `json:"status,omitempty"`
	LoadedAt      time.Time         `json:"loaded_at"`
	StartedAt     *time.Time        `json:"started_at,omitempty"`
	Failures      int               `json:"failures"`
	LastFailure   string            `json:"last_failure,omitempty"`
	LastFailureAt *time.Time        `json:"last_failure_at,omitempty"`
}

// Registry is a concurrency-safe set of records indexed by ID and name.
type Registry struct {
	logger   *slog.Logger
	statuses *activity.StatusHandler

	mu     sync.RWMutex
	byID   map[uuid.UUID]*Record
	byName map[string]*Record
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithStatusHandler includes the status lines stored in h in snapshots.
func WithStatusHandler(h *activity.StatusHandler) Option {
	return func(r *Registry) {
		r.statuses = h
	}
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		logger: slog.Default(),
		byID:   make(map[uuid.UUID]*Record),
		byName: make(map[string]*Record),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "registry")
	return r
}

// Add registers rec. Names and IDs must be unique.
func (r *Registry) Add(rec *Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[rec.ID]; ok {
		return fmt.Errorf("%w: id %s", ErrDuplicate, rec.ID)
	}
	if _, ok := r.byName[rec.Name]; ok {
		return fmt.Errorf("%w: name %q", ErrDuplicate, rec.Name)
	}
	r.byID[rec.ID] = rec
	r.byName[rec.Name] = rec
	r.logger.Debug("activity registered", "activity_id", rec.ID, "name", rec.Name, "type", rec.Type)
	return nil
}

// Get returns the record with the given ID.
func (r *Registry) Get(id uuid.UUID) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %s", ErrNotFound, id)
	}
	return rec, nil
}

// Lookup returns the record with the given name.
func (r *Registry) Lookup(name string) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: name %q", ErrNotFound, name)
	}
	return rec, nil
}

// Resolve accepts either an activity ID or a name.
func (r *Registry) Resolve(ref string) (*Record, error) {
	if id, err := uuid.Parse(ref); err == nil {
		return r.Get(id)
	}
	return r.Lookup(ref)
}

// Remove unregisters and returns the record with the given ID.
func (r *Registry) Remove(id uuid.UUID) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %s", ErrNotFound, id)
	}
	delete(r.byID, id)
	delete(r.byName, rec.Name)
	return rec, nil
}

// Len returns the number of registered activities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// List returns the records sorted by name.
func (r *Registry) List() []*Record {
	r.mu.RLock()
	recs := make([]*Record, 0, len(r.byID))
	for _, rec := range r.byID {
		recs = append(recs, rec)
	}
	r.mu.RUnlock()

	slices.SortFunc(recs, func(a, b *Record) int {
		return strings.Compare(a.Name, b.Name)
	})
	return recs
}

// ReportFailure records a failure of the activity with the given ID.
// Failures of activities that are no longer registered are logged and
// dropped.
func (r *Registry) ReportFailure(id uuid.UUID, err error) {
	rec, gerr := r.Get(id)
	if gerr != nil {
		r.logger.Warn("failure reported for unknown activity", "activity_id", id, "error", err)
		return
	}

	rec.mu.Lock()
	rec.failures++
	rec.lastFailure = err
	rec.lastFailureAt = time.Now()
	count := rec.failures
	rec.mu.Unlock()

	r.logger.Error("activity failed", "activity_id", id, "name", rec.Name, "failures", count, "error", err)
}

// Snapshot returns the serializable view of the record with the given ID.
func (r *Registry) Snapshot(id uuid.UUID) (Snapshot, error) {
	rec, err := r.Get(id)
	if err != nil {
		return Snapshot{}, err
	}
	return r.snapshot(rec), nil
}

// Snapshots returns the views of every record sorted by name.
func (r *Registry) Snapshots() []Snapshot {
	recs := r.List()
	snaps := make([]Snapshot, 0, len(recs))
	for _, rec := range recs {
		snaps = append(snaps, r.snapshot(rec))
	}
	return snaps
}

// StateCounts returns the number of records in each state.
func (r *Registry) StateCounts() map[string]int {
	counts := make(map[string]int)
	for _, rec := range r.List() {
		counts[rec.State().String()]++
	}
	return counts
}

func (r *Registry) snapshot(rec *Record) Snapshot {
	s := Snapshot{
		ID:       rec.ID,
		Name:     rec.Name,
		Type:     rec.Type,
		State:    rec.State(),
		Config:   rec.Controller.Config().Snapshot(),
		LoadedAt: rec.LoadedAt,
	}
	if started := rec.Controller.StartedAt(); !started.IsZero() {
		s.StartedAt = &started
	}
	if r.statuses != nil {
		s.Status = r.statuses.Get(rec.ID)
	}

	count, last, at := rec.Failures()
	s.Failures = count
	if last != nil {
		s.LastFailure = last.Error()
		s.LastFailureAt = &at
	}
	return s
}
