// Package host composes the event bus, transport adapter, lifecycle
// controllers, registry and environment into a runtime that loads and
// drives activities.
//
// Activity types are registered by name with a Factory. Load builds an
// activity.Context for the new instance, calls the factory and registers the
// result in Unloaded state; Startup, Activate and the other operations are
// then requested by ID. Failed activities are reported to the supervisor
// callback and are never restarted automatically.
package host
