// Package handlers provides HTTP handlers for the activity host's control
// plane.
//
// Each handler is in its own file and implements http.Handler.
// Handlers use interfaces to access host dependencies, avoiding
// circular imports.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/nomis52/activityhost/config"
	"github.com/nomis52/activityhost/host"
	"github.com/nomis52/activityhost/logging"
	"github.com/nomis52/activityhost/registry"
)

// ConfigProvider provides access to the current configuration.
type ConfigProvider interface {
	Config() *config.Config
}

// ActivityResolver maps an activity ID or name from the URL to an ID.
type ActivityResolver interface {
	Resolve(ref string) (uuid.UUID, error)
}

// SnapshotProvider describes loaded activities.
type SnapshotProvider interface {
	Snapshot(id uuid.UUID) (registry.Snapshot, error)
	Snapshots() []registry.Snapshot
}

// ActivityLoader loads new activities.
type ActivityLoader interface {
	Load(ctx context.Context, req host.LoadRequest) (uuid.UUID, error)
	Types() []string
}

// ActivityUnloader unloads activities.
type ActivityUnloader interface {
	Unload(ctx context.Context, id uuid.UUID) error
}

// LifecycleDriver requests lifecycle transitions.
type LifecycleDriver interface {
	Startup(ctx context.Context, id uuid.UUID) error
	Activate(ctx context.Context, id uuid.UUID) error
	Deactivate(ctx context.Context, id uuid.UUID) error
	Shutdown(ctx context.Context, id uuid.UUID) error
	Restart(ctx context.Context, id uuid.UUID) error
	CheckState(ctx context.Context, id uuid.UUID) error
}

// ConfigUpdater applies configuration updates to running activities.
type ConfigUpdater interface {
	UpdateConfiguration(ctx context.Context, id uuid.UUID, update map[string]string) error
}

// LogProvider returns captured activity logs.
type LogProvider interface {
	Logs(id uuid.UUID, since time.Time) ([]logging.LogEntry, error)
}

// EnvironmentProvider lists the shared environment keys.
type EnvironmentProvider interface {
	EnvironmentKeys() []string
}

// ConnectionServer serves a client connection for an activity.
type ConnectionServer interface {
	Serve(w http.ResponseWriter, r *http.Request, activityID uuid.UUID) error
}

// Host is everything the activity handlers need from the host runtime.
type Host interface {
	ActivityResolver
	SnapshotProvider
	ActivityLoader
	ActivityUnloader
	LifecycleDriver
	ConfigUpdater
	LogProvider
	EnvironmentProvider
}
