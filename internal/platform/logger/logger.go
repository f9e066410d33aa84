package logger

import (
	"log/slog"
	"os"
)

// New returns the default structured logger. Services receive it via
// functional options so tests can swap in a quiet one.
func New() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}
