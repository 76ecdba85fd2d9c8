// Package logutil builds the slog logger used by the commands.
package logutil

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"time"
)

// LevelTrace is below slog.LevelDebug and used for per-tensor shape logs.
const LevelTrace slog.Level = slog.LevelDebug - 4

// NewLogger returns a text logger writing to w at or above level. Records
// carry their source file only when level is DEBUG or lower.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		AddSource:   level <= slog.LevelDebug,
		ReplaceAttr: replaceAttr,
	}))
}

func replaceAttr(groups []string, attr slog.Attr) slog.Attr {
	if len(groups) > 0 {
		return attr
	}
	switch attr.Key {
	case slog.LevelKey:
		if lvl, ok := attr.Value.Any().(slog.Level); ok && lvl == LevelTrace {
			attr.Value = slog.StringValue("TRACE")
		}
	case slog.SourceKey:
		if src, ok := attr.Value.Any().(*slog.Source); ok {
			src.File = filepath.Base(src.File)
		}
	}
	return attr
}

// Trace logs at LevelTrace on the default logger, attributed to its caller.
func Trace(msg string, args ...any) {
	logger := slog.Default()
	ctx := context.Background()
	if !logger.Enabled(ctx, LevelTrace) {
		return
	}
	var pcs [1]uintptr
	runtime.Callers(2, pcs[:])
	record := slog.NewRecord(time.Now(), LevelTrace, msg, pcs[0])
	record.Add(args...)
	_ = logger.Handler().Handle(ctx, record)
}
