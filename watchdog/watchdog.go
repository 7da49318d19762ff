package watchdog

import (
	"context"
)

// Checker runs the state check of every loaded activity.
type Checker interface {
	CheckAll(ctx context.Context) error
}

// New returns a trigger that checks every activity on spec. Activities that
// fail the check are moved to Failed by their controllers; the watchdog only
// logs the aggregate error.
func New(spec string, c Checker, opts ...Option) (*Trigger, error) {
	return NewTrigger("state-check", spec, c.CheckAll, opts...)
}
