package bus

import "fmt"

// ListenerError describes a listener that failed during a publish.
type ListenerError struct {
	Topic        string
	Subscription uint64
	Err          error
}

func (e *ListenerError) Error() string {
	return fmt.Sprintf("listener %d on topic %q: %v", e.Subscription, e.Topic, e.Err)
}

func (e *ListenerError) Unwrap() error {
	return e.Err
}
