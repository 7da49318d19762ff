package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownActivity is returned when connecting to an activity that has
	// no registered handler.
	ErrUnknownActivity = errors.New("activity not registered with transport")

	// ErrUnknownConnection is returned for connection IDs that are not open.
	ErrUnknownConnection = errors.New("unknown connection")
)

// SendError reports a failed write to one connection. The connection has
// been closed and dropped by the time the error is returned.
type SendError struct {
	ConnectionID string
	Err          error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send to %s: %v", e.ConnectionID, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}
