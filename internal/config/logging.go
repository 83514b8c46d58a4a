package config

import (
	"io"
	"log/slog"
	"os"

	slogmulti "github.com/samber/slog-multi"
)

// SetupLogger builds the process logger from cfg: human-readable text on
// stderr and JSON lines appended to cfg.LogFile. If the file cannot be opened
// the logger degrades to stderr only. The returned cleanup closes the file.
func SetupLogger(cfg Config) (*slog.Logger, func() error) {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	stderrHandler := slog.NewTextHandler(os.Stderr, opts)

	if cfg.LogFile == "" {
		return slog.New(stderrHandler), func() error { return nil }
	}

	file, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		logger := slog.New(stderrHandler)
		logger.Error("failed to open log file, using stderr only", "error", err, "file", cfg.LogFile)
		return logger, func() error { return nil }
	}

	logger := slog.New(slogmulti.Fanout(stderrHandler, slog.NewJSONHandler(file, opts)))
	return logger, file.Close
}

// SetupLoggerWithWriters is SetupLogger over arbitrary writers, for tests.
func SetupLoggerWithWriters(stderr, file io.Writer, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	return slog.New(slogmulti.Fanout(
		slog.NewTextHandler(stderr, opts),
		slog.NewJSONHandler(file, opts),
	))
}
