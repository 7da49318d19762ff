package activity

import (
	"context"
)

// Activity is the hook surface the host invokes.
//
// IMPLEMENTATION CONTRACT:
// - Lifecycle hooks are called by the lifecycle controller in state order
// - Returning an error (or panicking) from a lifecycle hook moves the activity to Failed
// - OnFailure is called exactly once per failure; its own error is only logged
// - OnCheckState is polled while Inactive or Active; false moves the activity to Failed
// - Connection hooks are forwarded from the transport adapter; their errors are logged
// - No two hooks of the same activity run concurrently
// - The ctx passed to a hook identifies that hook's turn on the executor and
//   stops doing so when the hook returns; goroutines started by a hook that
//   outlive it must not expect to run inline with later hooks
// - Events published from a hook reach the activity's own listeners before
//   Publish returns; other activities' listeners run afterwards, in order
type Activity interface {
	// OnStartup acquires resources. Called on Unloaded -> Starting.
	OnStartup(ctx context.Context) error

	// OnActivate is called on Inactive -> Active.
	OnActivate(ctx context.Context) error

	// OnDeactivate is called on Active -> Inactive.
	OnDeactivate(ctx context.Context) error

	// OnShutdown is called on Inactive -> Stopping.
	OnShutdown(ctx context.Context) error

	// OnCleanup releases resources after OnShutdown, and when a failed
	// activity is reset.
	OnCleanup(ctx context.Context) error

	// OnFailure is called after the activity entered Failed. err is the
	// failure that caused the transition.
	OnFailure(ctx context.Context, err error) error

	// OnCheckState reports whether the activity is still healthy.
	OnCheckState(ctx context.Context) bool

	// OnConfigurationUpdate is called after update has been merged into the
	// activity's Config.
	OnConfigurationUpdate(ctx context.Context, update map[string]string) error

	// OnConnect is called when a web client connects.
	OnConnect(ctx context.Context, connectionID string) error

	// OnClose is called when a web client disconnects or is pruned after a
	// failed send.
	OnClose(ctx context.Context, connectionID string) error

	// OnMessage is called for every JSON object received from a web client.
	OnMessage(ctx context.Context, connectionID string, payload map[string]any) error
}

// Base implements every Activity hook as a no-op. OnCheckState reports
// healthy.
type Base struct{}

func (Base) OnStartup(context.Context) error { return nil }
func (Base) OnActivate(context.Context) error { return nil }
func (Base) OnDeactivate(context.Context) error { return nil }
func (Base) OnShutdown(context.Context) error { return nil }
func (Base) OnCleanup(context.Context) error { return nil }
func (Base) OnFailure(context.Context, error) error { return nil }
func (Base) OnCheckState(context.Context) bool { return true }
func (Base) OnConfigurationUpdate(context.Context, map[string]string) error { return nil }
func (Base) OnConnect(context.Context, string) error { return nil }
func (Base) OnClose(context.Context, string) error { return nil }
func (Base) OnMessage(context.Context, string, map[string]any) error { return nil }

var _ Activity = Base{}
