package activity

import "fmt"

// State is the lifecycle state of a hosted activity.
type State int

const (
	// Unloaded is the initial and final state. The activity holds no resources.
	Unloaded State = iota

	// Starting indicates OnStartup is running.
	Starting

	// Inactive is the quiescent state after a successful startup.
	Inactive

	// Active indicates the activity has been activated.
	Active

	// Stopping indicates OnShutdown and OnCleanup are running.
	Stopping

	// Failed indicates a hook failed or a state check reported the activity
	// unhealthy. Only an explicit shutdown or restart leaves this state.
	Failed
)

// String returns a human-readable representation of the State
func (s State) String() string {
	switch s {
	case Unloaded:
		return "unloaded"
	case Starting:
		return "starting"
	case Inactive:
		return "inactive"
	case Active:
		return "active"
	case Stopping:
		return "stopping"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state using its String form.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state from its String form.
func (s *State) UnmarshalText(text []byte) error {
	parsed, err := ParseState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseState returns the state named by name.
func ParseState(name string) (State, error) {
	for _, st := range AllStates() {
		if st.String() == name {
			return st, nil
		}
	}
	return Unloaded, fmt.Errorf("unknown activity state %q", name)
}

// IsRunning returns true if the activity has started and not yet failed or
// begun stopping.
func (s State) IsRunning() bool {
	return s == Inactive || s == Active
}

// IsTerminal returns true for states from which no hook will be invoked
// without an external request.
func (s State) IsTerminal() bool {
	return s == Unloaded || s == Failed
}

// AllStates lists every state in declaration order.
func AllStates() []State {
	return []State{Unloaded, Starting, Inactive, Active, Stopping, Failed}
}
