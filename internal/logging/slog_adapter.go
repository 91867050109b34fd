// internal/logging/slog_adapter.go

package logging

import (
	"context"
	"log/slog"

	"github.com/rs/zerolog"
)

// slogHandler feeds slog records into zerolog. Suture's event hook only speaks slog.
type slogHandler struct {
	logger zerolog.Logger
	prefix string
}

// NewSlogLogger creates an slog.Logger backed by the given zerolog logger
func NewSlogLogger(logger zerolog.Logger) *slog.Logger {
	return slog.New(&slogHandler{logger: logger})
}

func (h *slogHandler) Enabled(_ context.Context, level slog.Level) bool {
	lvl := zerologLevel(level)
	return lvl >= h.logger.GetLevel() && lvl >= zerolog.GlobalLevel()
}

func (h *slogHandler) Handle(_ context.Context, record slog.Record) error {
	event := h.logger.WithLevel(zerologLevel(record.Level))
	record.Attrs(func(attr slog.Attr) bool {
		if err, ok := attr.Value.Resolve().Any().(error); ok {
			event = event.AnErr(h.prefix+attr.Key, err)
		} else {
			event = event.Interface(h.prefix+attr.Key, attr.Value.Resolve().Any())
		}
		return true
	})
	event.Msg(record.Message)
	return nil
}

func (h *slogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	ctx := h.logger.With()
	for _, attr := range attrs {
		if err, ok := attr.Value.Resolve().Any().(error); ok {
			ctx = ctx.AnErr(h.prefix+attr.Key, err)
		} else {
			ctx = ctx.Interface(h.prefix+attr.Key, attr.Value.Resolve().Any())
		}
	}
	return &slogHandler{logger: ctx.Logger(), prefix: h.prefix}
}

func (h *slogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &slogHandler{logger: h.logger, prefix: h.prefix + name + "."}
}

func zerologLevel(level slog.Level) zerolog.Level {
	switch {
	case level >= slog.LevelError:
		return zerolog.ErrorLevel
	case level >= slog.LevelWarn:
		return zerolog.WarnLevel
	case level >= slog.LevelInfo:
		return zerolog.InfoLevel
	default:
		return zerolog.DebugLevel
	}
}
