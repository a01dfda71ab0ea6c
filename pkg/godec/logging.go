package godec

import (
	"context"
	"log/slog"
)

// quietHandler drops records below Warn. Errors still reach the caller as
// return values; quiet only trims diagnostics.
type quietHandler struct {
	slog.Handler
}

func (h quietHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= slog.LevelWarn && h.Handler.Enabled(ctx, level)
}

func (h quietHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return quietHandler{h.Handler.WithAttrs(attrs)}
}

func (h quietHandler) WithGroup(name string) slog.Handler {
	return quietHandler{h.Handler.WithGroup(name)}
}

func sessionLogger(base *slog.Logger, quiet bool, sessionID string) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	if quiet {
		base = slog.New(quietHandler{base.Handler()})
	}
	return base.With("session_id", sessionID)
}
