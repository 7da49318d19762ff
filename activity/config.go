package activity

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"sync"
	"time"
)

// Config holds an activity's string-keyed configuration.
// It is safe for concurrent use. Values are kept as the raw strings they
// were supplied as; the typed getters parse on read.
type Config struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewConfig creates a Config seeded with a copy of values.
func NewConfig(values map[string]string) *Config {
	c := &Config{values: make(map[string]string, len(values))}
	maps.Copy(c.values, values)
	return c
}

// Get returns the value for key and whether it was set.
func (c *Config) Get(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[key]
	return v, ok
}

// GetOr returns the value for key, or def if unset.
func (c *Config) GetOr(key, def string) string {
	if v, ok := c.Get(key); ok {
		return v
	}
	return def
}

// Required returns the value for key or an error naming the missing key.
func (c *Config) Required(key string) (string, error) {
	v, ok := c.Get(key)
	if !ok || v == "" {
		return "", fmt.Errorf("required configuration %q is not set", key)
	}
	return v, nil
}

// Int returns the value for key parsed as an int, or def if unset.
func (c *Config) Int(key string, def int) (int, error) {
	v, ok := c.Get(key)
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("configuration %q: %w", key, err)
	}
	return n, nil
}

// Bool returns the value for key parsed as a bool, or def if unset.
func (c *Config) Bool(key string, def bool) (bool, error) {
	v, ok := c.Get(key)
	if !ok {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("configuration %q: %w", key, err)
	}
	return b, nil
}

// Duration returns the value for key parsed with time.ParseDuration, or def
// if unset.
func (c *Config) Duration(key string, def time.Duration) (time.Duration, error) {
	v, ok := c.Get(key)
	if !ok {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("configuration %q: %w", key, err)
	}
	return d, nil
}

// Merge applies update on top of the current values.
// An empty value removes the key.
func (c *Config) Merge(update map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range update {
		if v == "" {
			delete(c.values, k)
			continue
		}
		c.values[k] = v
	}
}

// Snapshot returns a copy of all values.
func (c *Config) Snapshot() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.values)
}

// Keys returns the configured keys in sorted order.
func (c *Config) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Sorted(maps.Keys(c.values))
}
