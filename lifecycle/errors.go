package lifecycle

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrIllegalTransition is returned when a transition is requested from a
	// state that does not allow it. The activity's state is unchanged.
	ErrIllegalTransition = errors.New("illegal lifecycle transition")

	// ErrInvalidConfiguration is returned for configuration updates that are
	// rejected before reaching the activity.
	ErrInvalidConfiguration = errors.New("invalid configuration update")

	// ErrCheckFailed is the cause recorded when OnCheckState reports false.
	ErrCheckFailed = errors.New("state check reported activity unhealthy")
)

// HookError describes a lifecycle hook that failed. It is fatal to the
// activity: the controller moves it to Failed.
type HookError struct {
	ActivityID uuid.UUID
	Hook       string
	Err        error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("activity %s: %s: %v", e.ActivityID, e.Hook, e.Err)
}

func (e *HookError) Unwrap() error {
	return e.Err
}

// illegal builds an ErrIllegalTransition naming the request and state.
func illegal(request string, from fmt.Stringer) error {
	return fmt.Errorf("%w: cannot %s from %s", ErrIllegalTransition, request, from)
}
