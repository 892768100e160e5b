// FeedCore - Personalized Short-Form Feed Ranking and Retraining
// Copyright 2026 Driftlab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftlab/feedcore

package logging

import (
	"context"
	"log/slog"

	"github.com/rs/zerolog"
)

// Slog returns a *slog.Logger that forwards records to the global zerolog
// logger. Libraries that take slog (the supervisor event hook) plug into
// the same output stream this way.
func Slog() *slog.Logger {
	return slog.New(zerologHandler{})
}

// zerologHandler adapts slog records onto zerolog events.
type zerologHandler struct {
	fields []slog.Attr
}

func (h zerologHandler) Enabled(_ context.Context, level slog.Level) bool {
	return slogToZerologLevel(level) >= Logger().GetLevel()
}

func (h zerologHandler) Handle(_ context.Context, rec slog.Record) error {
	logger := Logger()
	ev := logger.WithLevel(slogToZerologLevel(rec.Level))
	for _, attr := range h.fields {
		ev = appendAttr(ev, attr)
	}
	rec.Attrs(func(attr slog.Attr) bool {
		ev = appendAttr(ev, attr)
		return true
	})
	ev.Msg(rec.Message)
	return nil
}

func (h zerologHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.fields)+len(attrs))
	merged = append(merged, h.fields...)
	merged = append(merged, attrs...)
	return zerologHandler{fields: merged}
}

func (h zerologHandler) WithGroup(name string) slog.Handler {
	// Groups are flattened; the group name prefixes nothing. Suture's
	// event hook does not use groups.
	return h
}

func appendAttr(ev *zerolog.Event, attr slog.Attr) *zerolog.Event {
	switch attr.Value.Kind() {
	case slog.KindString:
		return ev.Str(attr.Key, attr.Value.String())
	case slog.KindInt64:
		return ev.Int64(attr.Key, attr.Value.Int64())
	case slog.KindUint64:
		return ev.Uint64(attr.Key, attr.Value.Uint64())
	case slog.KindFloat64:
		return ev.Float64(attr.Key, attr.Value.Float64())
	case slog.KindBool:
		return ev.Bool(attr.Key, attr.Value.Bool())
	case slog.KindDuration:
		return ev.Dur(attr.Key, attr.Value.Duration())
	case slog.KindTime:
		return ev.Time(attr.Key, attr.Value.Time())
	default:
		return ev.Interface(attr.Key, attr.Value.Any())
	}
}

func slogToZerologLevel(level slog.Level) zerolog.Level {
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
