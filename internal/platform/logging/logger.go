package logging

import (
	"io"
	"log/slog"
	"os"
)

func New(env, service string) *slog.Logger {
	return newWithWriter(os.Stdout, env, service)
}

func newWithWriter(w io.Writer, env, service string) *slog.Logger {
	var h slog.Handler
	if env == "prod" || env == "production" {
		h = slog.NewJSONHandler(w, nil)
	} else {
		h = slog.NewTextHandler(w, nil)
	}
	return slog.New(h).With("service", service)
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
