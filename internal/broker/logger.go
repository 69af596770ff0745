package broker

import (
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
)

// watermill reports every subscription and consumer-group rebalance at info; those land at debug.
var levelMapping = map[slog.Level]slog.Level{
	slog.LevelDebug: slog.LevelDebug,
	slog.LevelInfo:  slog.LevelDebug,
	slog.LevelWarn:  slog.LevelWarn,
	slog.LevelError: slog.LevelError,
}

// NewLogger adapts a slog logger for watermill components.
func NewLogger(l *slog.Logger) watermill.LoggerAdapter {
	if l == nil {
		l = slog.Default()
	}
	return watermill.NewSlogLoggerWithLevelMapping(l, levelMapping)
}
