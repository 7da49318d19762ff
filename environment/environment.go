// Package environment holds the values shared by every activity in a host
// process.
package environment

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
)

// Reader is the read-only view handed to activities.
type Reader interface {
	Value(key string) (any, bool)
}

// Environment is a concurrency-safe key/value store owned by the host.
// Values implementing io.Closer are closed when the environment is torn
// down.
type Environment struct {
	logger *slog.Logger

	mu     sync.RWMutex
	values map[string]any
	order  []string
	ready  bool
}

// Option configures an Environment.
type Option func(*Environment)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Environment) {
		e.logger = logger
	}
}

// New creates an empty environment that is not yet initialized.
func New(opts ...Option) *Environment {
	e := &Environment{
		logger: slog.Default(),
		values: make(map[string]any),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "environment")
	return e
}

// Init marks the environment ready and stores seed. Init on a ready
// environment is a no-op and returns false.
func (e *Environment) Init(seed map[string]any) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ready {
		return false
	}
	for k, v := range seed {
		e.setLocked(k, v)
	}
	e.ready = true
	e.logger.Info("environment initialized", "keys", len(e.values))
	return true
}

// Ready reports whether the environment has been initialized and not torn
// down since.
func (e *Environment) Ready() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ready
}

// Set stores value under key, replacing any previous value.
func (e *Environment) Set(key string, value any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.setLocked(key, value)
}

func (e *Environment) setLocked(key string, value any) {
	if _, ok := e.values[key]; !ok {
		e.order = append(e.order, key)
	}
	e.values[key] = value
}

// Value returns the value stored under key. Unset keys return (nil, false).
func (e *Environment) Value(key string) (any, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.values[key]
	return v, ok
}

// Keys returns the stored keys in sorted order.
func (e *Environment) Keys() []string {
	e.mu.RLock()
	keys := make([]string, 0, len(e.values))
	for k := range e.values {
		keys = append(keys, k)
	}
	e.mu.RUnlock()
	slices.Sort(keys)
	return keys
}

// Close tears the environment down. Values implementing io.Closer are closed
// in reverse insertion order and all values are removed. The environment can
// be initialized again afterwards.
func (e *Environment) Close() error {
	e.mu.Lock()
	order := e.order
	values := e.values
	e.order = nil
	e.values = make(map[string]any)
	e.ready = false
	e.mu.Unlock()

	var errs []error
	for i := len(order) - 1; i >= 0; i-- {
		c, ok := values[order[i]].(io.Closer)
		if !ok {
			continue
		}
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %q: %w", order[i], err))
		}
	}
	e.logger.Info("environment torn down", "keys", len(order))
	return errors.Join(errs...)
}

// Lookup returns the value under key converted to T. It returns false if
// the key is unset or holds a value of another type.
func Lookup[T any](r Reader, key string) (T, bool) {
	var zero T
	v, ok := r.Value(key)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	if !ok {
		return zero, false
	}
	return t, true
}
