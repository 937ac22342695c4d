package logger

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"strings"
)

// NewSlogHandler returns a slog.Handler that forwards records to the provided Logger.
// If logger is nil, it returns nil.
func NewSlogHandler(l *Logger) slog.Handler {
	if l == nil {
		return nil
	}
	return &slogAdapter{log: l}
}

// StdLogger returns a *log.Logger that forwards every line to l at the given
// level. net/http only accepts this type for its ErrorLog.
func StdLogger(l *Logger, level slog.Level) *log.Logger {
	return slog.NewLogLogger(NewSlogHandler(l), level)
}

// boundAttr is an attribute together with the groups that were open when it
// was attached through WithAttrs.
type boundAttr struct {
	groups []string
	attr   slog.Attr
}

type slogAdapter struct {
	log    *Logger
	groups []string
	attrs  []boundAttr
}

func (h *slogAdapter) Enabled(_ context.Context, level slog.Level) bool {
	if h.log == nil {
		return false
	}
	return slogLevelToLoggerLevel(level) >= h.log.GetLevel()
}

func (h *slogAdapter) Handle(_ context.Context, record slog.Record) error {
	if h.log == nil {
		return nil
	}

	var builder strings.Builder
	builder.WriteString(record.Message)
	first := record.Message == ""

	for _, bound := range h.attrs {
		first = writeAttr(&builder, bound.attr, bound.groups, first)
	}
	record.Attrs(func(attr slog.Attr) bool {
		first = writeAttr(&builder, attr, h.groups, first)
		return true
	})

	message := builder.String()
	switch {
	case record.Level >= slog.LevelError:
		h.log.Error("%s", message)
	case record.Level >= slog.LevelWarn:
		h.log.Warn("%s", message)
	case record.Level >= slog.LevelInfo:
		h.log.Info("%s", message)
	default:
		h.log.Debug("%s", message)
	}

	return nil
}

func (h *slogAdapter) WithAttrs(attrs []slog.Attr) slog.Handler {
	bound := make([]boundAttr, 0, len(h.attrs)+len(attrs))
	bound = append(bound, h.attrs...)
	groups := append([]string(nil), h.groups...)
	for _, attr := range attrs {
		bound = append(bound, boundAttr{groups: groups, attr: attr})
	}
	return &slogAdapter{
		log:    h.log,
		groups: groups,
		attrs:  bound,
	}
}

func (h *slogAdapter) WithGroup(name string) slog.Handler {
	groups := append([]string(nil), h.groups...)
	if name != "" {
		groups = append(groups, name)
	}
	return &slogAdapter{
		log:    h.log,
		groups: groups,
		attrs:  h.attrs,
	}
}

func slogLevelToLoggerLevel(level slog.Level) Level {
	switch {
	case level >= slog.LevelError:
		return LevelError
	case level >= slog.LevelWarn:
		return LevelWarn
	case level >= slog.LevelInfo:
		return LevelInfo
	default:
		return LevelDebug
	}
}

func writeAttr(builder *strings.Builder, attr slog.Attr, prefix []string, first bool) bool {
	if attr.Equal(slog.Attr{}) {
		return first
	}

	if attr.Value.Kind() == slog.KindGroup {
		groupPrefix := appendKey(prefix, attr.Key)
		for _, nested := range attr.Value.Group() {
			first = writeAttr(builder, nested, groupPrefix, first)
		}
		return first
	}

	key := attr.Key
	if key == "" {
		key = "attr"
	}

	if !first {
		builder.WriteByte(' ')
	}
	fmt.Fprintf(builder, "%s=%v", strings.Join(appendKey(prefix, key), "."), attr.Value)
	return false
}

func appendKey(prefix []string, key string) []string {
	combined := make([]string, 0, len(prefix)+1)
	combined = append(combined, prefix...)
	return append(combined, key)
}
