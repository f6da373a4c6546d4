package service

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/romashorodok/conferencing-platform/pkg/variables"
	"go.uber.org/fx"
)

var loggerWriter io.Writer = os.Stdout

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelDebug
	}
}

func NewLogger(w io.Writer, level string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		AddSource: false,
		Level:     parseLevel(level),
	}))
}

func logger() *slog.Logger {
	return NewLogger(loggerWriter, variables.Env(variables.LOG_LEVEL_NAME, variables.LOG_LEVEL_DEFAULT))
}

var LoggerModule = fx.Module("logger", fx.Provide(
	logger,
))
