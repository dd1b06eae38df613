package logging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// TraceHandler is an slog.Handler that mirrors records at or above a level
// into a TraceBuffer in addition to a wrapped base handler (typically
// stderr).
type TraceHandler struct {
	base   slog.Handler
	buf    *TraceBuffer
	level  slog.Leveler
	attrs  []slog.Attr
	groups []string
}

// NewTraceHandler wraps base. Records at level or above are also added to
// buf as TypeLog records.
func NewTraceHandler(base slog.Handler, buf *TraceBuffer, level slog.Leveler) *TraceHandler {
	return &TraceHandler{base: base, buf: buf, level: level}
}

// Enabled implements slog.Handler.
func (h *TraceHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.base.Enabled(ctx, level) || level >= h.level.Level()
}

// Handle implements slog.Handler.
func (h *TraceHandler) Handle(ctx context.Context, r slog.Record) error {
	var err error
	if h.base.Enabled(ctx, r.Level) {
		err = h.base.Handle(ctx, r)
	}
	if r.Level >= h.level.Level() {
		h.buf.Add(newLogRecord(r.Level, formatRecord(r, h.attrs, h.groups)))
	}
	return err
}

// WithAttrs implements slog.Handler.
func (h *TraceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &TraceHandler{
		base:   h.base.WithAttrs(attrs),
		buf:    h.buf,
		level:  h.level,
		attrs:  append(append([]slog.Attr{}, h.attrs...), attrs...),
		groups: h.groups,
	}
}

// WithGroup implements slog.Handler.
func (h *TraceHandler) WithGroup(name string) slog.Handler {
	return &TraceHandler{
		base:   h.base.WithGroup(name),
		buf:    h.buf,
		level:  h.level,
		attrs:  h.attrs,
		groups: append(append([]string{}, h.groups...), name),
	}
}

// formatRecord produces a compact text representation of a log record.
func formatRecord(r slog.Record, preAttrs []slog.Attr, groups []string) string {
	var b strings.Builder
	b.WriteString(r.Message)

	for _, a := range preAttrs {
		fmt.Fprintf(&b, " %s=%s", a.Key, a.Value.String())
	}

	r.Attrs(func(a slog.Attr) bool {
		key := a.Key
		if len(groups) > 0 {
			key = strings.Join(groups, ".") + "." + key
		}
		fmt.Fprintf(&b, " %s=%s", key, a.Value.String())
		return true
	})

	return b.String()
}
