package logger

import (
	"io"
	"log/slog"
	"os"

	"github.com/pkg/errors"
)

// New returns a text logger writing to w at the given level.
// An unknown level falls back to INFO and is reported through the new logger.
func New(w io.Writer, level string) *slog.Logger {
	l, err := ParseLevel(level)
	log := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: l}))
	if err != nil {
		log.Warn(err.Error())
	}
	return log
}

// Open returns a logger appending to the file at path, or writing to
// stderr if path is empty, together with its output.
func Open(path string, level string) (*slog.Logger, io.WriteCloser, error) {
	if len(path) == 0 {
		return New(os.Stderr, level), nopCloser{os.Stderr}, nil
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0666)
	if err != nil {
		return nil, nil, errors.Wrap(err, "opening log file")
	}
	return New(f, level), f, nil
}

// ParseLevel maps DEBUG, INFO, WARN and ERROR to slog levels
func ParseLevel(level string) (slog.Level, error) {
	switch level {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO":
		return slog.LevelInfo, nil
	case "WARN":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, errors.Errorf("unknown log level %q, using INFO", level)
	}
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
