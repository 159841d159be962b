package logger

import (
	"io"
	"log/slog"
	"strings"
)

// Canonical field names of the daemon's structured log records. External
// verifiers key on exactly these.
const (
	FieldLevel   = "level"
	FieldTime    = "time"
	FieldMessage = "message"
)

// NewJSONHandler returns a slog handler emitting one JSON object per
// line with level, time and message fields. slog's default "msg" key is
// renamed to "message" and levels are lowercased to match the wire
// contract of the daemon's log files.
func NewJSONHandler(w io.Writer, level slog.Level) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) > 0 {
				return a
			}
			switch a.Key {
			case slog.MessageKey:
				a.Key = FieldMessage
			case slog.LevelKey:
				if lvl, ok := a.Value.Any().(slog.Level); ok {
					a.Value = slog.StringValue(strings.ToLower(lvl.String()))
				}
			}
			return a
		},
	})
}
