package logging

import (
	"context"
	"log/slog"
)

// CapturingHandler copies every record into a LogCollector under one
// activity ID and passes it on to the underlying handler.
//
// Records are captured at or above the capture level even when the
// underlying handler would drop them, so an activity's debug output can be
// inspected without raising the process log level.
type CapturingHandler struct {
	underlying slog.Handler
	collector  *LogCollector
	activityID string
	level      slog.Leveler
	attrs      []slog.Attr
	prefix     string
}

// NewCapturingHandler wraps underlying. level may be nil to capture
// everything.
func NewCapturingHandler(underlying slog.Handler, collector *LogCollector, activityID string, level slog.Leveler) *CapturingHandler {
	if level == nil {
		level = slog.LevelDebug
	}
	return &CapturingHandler{
		underlying: underlying,
		collector:  collector,
		activityID: activityID,
		level:      level,
	}
}

func (h *CapturingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level.Level() || h.underlying.Enabled(ctx, level)
}

func (h *CapturingHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= h.level.Level() {
		entry := LogEntry{
			Time:       r.Time,
			Level:      r.Level.String(),
			Message:    r.Message,
			Attributes: make(map[string]any, r.NumAttrs()+len(h.attrs)),
		}
		for _, a := range h.attrs {
			entry.Attributes[a.Key] = resolveValue(a.Value)
		}
		r.Attrs(func(a slog.Attr) bool {
			if a.Key != "" {
				entry.Attributes[h.prefix+a.Key] = resolveValue(a.Value)
			}
			return true
		})
		h.collector.Add(h.activityID, entry)
	}

	if !h.underlying.Enabled(ctx, r.Level) {
		return nil
	}
	return h.underlying.Handle(ctx, r)
}

// WithAttrs keeps capturing through logger.With chains. Attributes added
// inside a group are stored under dotted keys.
func (h *CapturingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.underlying = h.underlying.WithAttrs(attrs)
	c.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	c.attrs = append(c.attrs, h.attrs...)
	for _, a := range attrs {
		c.attrs = append(c.attrs, slog.Attr{Key: h.prefix + a.Key, Value: a.Value})
	}
	return &c
}

func (h *CapturingHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := *h
	c.underlying = h.underlying.WithGroup(name)
	c.prefix = h.prefix + name + "."
	return &c
}

// resolveValue converts a slog.Value to a JSON-serializable value.
func resolveValue(v slog.Value) any {
	v = v.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindInt64:
		return v.Int64()
	case slog.KindUint64:
		return v.Uint64()
	case slog.KindFloat64:
		return v.Float64()
	case slog.KindBool:
		return v.Bool()
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time()
	case slog.KindGroup:
		group := make(map[string]any)
		for _, a := range v.Group() {
			group[a.Key] = resolveValue(a.Value)
		}
		return group
	default:
		switch x := v.Any().(type) {
		case error:
			return x.Error()
		case interface{ String() string }:
			return x.String()
		default:
			return x
		}
	}
}
