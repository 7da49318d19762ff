package logging

import (
	"slices"
	"sync"
	"time"
)

const defaultCapacity = 500

// LogEntry is one captured record.
type LogEntry struct {
	Time       time.Time      `json:"time"`
	Level      string         `json:"level"`
	Message    string         `json:"message"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// LogCollector keeps the most recent records of each activity. Each activity
// has its own ring of at most capacity entries; older entries are dropped.
type LogCollector struct {
	capacity int

	mu    sync.RWMutex
	rings map[string]*ring
}

type ring struct {
	entries []LogEntry
	start   int
	dropped int
}

func (r *ring) add(e LogEntry, capacity int) {
	if len(r.entries) < capacity {
		r.entries = append(r.entries, e)
		return
	}
	r.entries[r.start] = e
	r.start = (r.start + 1) % capacity
	r.dropped++
}

func (r *ring) ordered() []LogEntry {
	out := make([]LogEntry, 0, len(r.entries))
	out = append(out, r.entries[r.start:]...)
	return append(out, r.entries[:r.start]...)
}

// CollectorOption configures a LogCollector.
type CollectorOption func(*LogCollector)

// WithCapacity sets the number of entries kept per activity.
func WithCapacity(n int) CollectorOption {
	return func(c *LogCollector) {
		if n > 0 {
			c.capacity = n
		}
	}
}

// NewLogCollector creates an empty collector.
func NewLogCollector(opts ...CollectorOption) *LogCollector {
	c := &LogCollector{
		capacity: defaultCapacity,
		rings:    make(map[string]*ring),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Add stores entry for activityID.
func (c *LogCollector) Add(activityID string, entry LogEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.rings[activityID]
	if !ok {
		r = &ring{}
		c.rings[activityID] = r
	}
	r.add(entry, c.capacity)
}

// Entries returns a copy of the entries kept for activityID, oldest first.
// A non-zero since drops entries logged before it.
func (c *LogCollector) Entries(activityID string, since time.Time) []LogEntry {
	c.mu.RLock()
	r, ok := c.rings[activityID]
	if !ok {
		c.mu.RUnlock()
		return nil
	}
	entries := r.ordered()
	c.mu.RUnlock()

	if since.IsZero() {
		return entries
	}
	return slices.DeleteFunc(entries, func(e LogEntry) bool {
		return e.Time.Before(since)
	})
}

// Dropped returns how many entries of activityID were evicted.
func (c *LogCollector) Dropped(activityID string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if r, ok := c.rings[activityID]; ok {
		return r.dropped
	}
	return 0
}

// Activities returns the IDs that have captured entries, sorted.
func (c *LogCollector) Activities() []string {
	c.mu.RLock()
	ids := make([]string, 0, len(c.rings))
	for id := range c.rings {
		ids = append(ids, id)
	}
	c.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

// Remove forgets the entries of an unloaded activity.
func (c *LogCollector) Remove(activityID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rings, activityID)
}
