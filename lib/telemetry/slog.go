package telemetry

import (
	"io"
	"log/slog"
	"time"

	"github.com/lmittmann/tint"
)

// InitSlog installs a colored stderr text logger as the default, attrs
// are added to every line.
func InitSlog(w io.Writer, verbose bool, attrs ...any) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	})).With(attrs...)
	slog.SetDefault(logger)
	return logger
}
