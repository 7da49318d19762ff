package logging

import (
	"log/slog"

	"github.com/google/uuid"
)

// LoggerHook builds the logger handed to an activity.
type LoggerHook interface {
	LoggerFor(base *slog.Logger, activityID uuid.UUID, name string) *slog.Logger
}

// PlainLoggerHook tags the base logger with the activity's identity.
type PlainLoggerHook struct{}

func (PlainLoggerHook) LoggerFor(base *slog.Logger, activityID uuid.UUID, name string) *slog.Logger {
	return base.With("activity_id", activityID.String(), "activity_name", name)
}

// CapturingLoggerHook additionally copies every record into a collector,
// keyed by the activity ID.
type CapturingLoggerHook struct {
	collector *LogCollector
	level     slog.Leveler
}

// NewCapturingLoggerHook creates a hook capturing at level and above. level
// may be nil to capture everything.
func NewCapturingLoggerHook(collector *LogCollector, level slog.Leveler) *CapturingLoggerHook {
	return &CapturingLoggerHook{collector: collector, level: level}
}

func (p *CapturingLoggerHook) LoggerFor(base *slog.Logger, activityID uuid.UUID, name string) *slog.Logger {
	h := NewCapturingHandler(base.Handler(), p.collector, activityID.String(), p.level)
	return PlainLoggerHook{}.LoggerFor(slog.New(h), activityID, name)
}

// Collector returns the collector records are captured into.
func (p *CapturingLoggerHook) Collector() *LogCollector {
	return p.collector
}
