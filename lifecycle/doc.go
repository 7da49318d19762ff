// Package lifecycle drives hosted activities through their states.
//
// A Controller owns one activity and its Executor. Every hook of the
// activity, including transport callbacks and bus listeners routed through
// the same executor, runs one at a time. Different activities have
// different executors and run in parallel.
//
// Transition requests return nil when the transition happened or was a
// no-op (activating an Active activity), and an error wrapping
// ErrIllegalTransition when the current state does not allow it. A hook
// that fails moves the activity to Failed; the returned error is a
// *HookError.
package lifecycle
