package host

import "errors"

var (
	// ErrUnknownType is returned when loading an activity type that has not
	// been registered.
	ErrUnknownType = errors.New("unknown activity type")

	// ErrInvalidRequest is returned for load requests missing a name or type.
	ErrInvalidRequest = errors.New("invalid load request")

	// ErrClosed is returned once the host has been closed.
	ErrClosed = errors.New("host closed")
)
