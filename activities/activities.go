// Package activities contains the activity types built into the
// activityhost binary.
package activities

import "github.com/nomis52/activityhost/host"

const (
	// RelayType is the type name of the relay activity.
	RelayType = "relay"
	// HeartbeatType is the type name of the heartbeat activity.
	HeartbeatType = "heartbeat"
)

// Register makes the built-in activity types loadable on h.
func Register(h *host.Host) {
	h.RegisterType(RelayType, NewRelay)
	h.RegisterType(HeartbeatType, NewHeartbeat)
}
