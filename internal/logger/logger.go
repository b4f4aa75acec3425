// Package logger provides structured logging setup for decisiongate.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/Strob0t/decisiongate/internal/config"
)

// New creates a *slog.Logger from the given Logging config.
// Output is JSON to stdout (and the rotating file when configured) with a
// "service" attribute on every record. The returned Closer flushes the async
// handler and closes the file sink.
func New(cfg config.Logging) (*slog.Logger, Closer) {
	level := parseLevel(cfg.Level)

	var out io.Writer = os.Stdout
	var file *lumberjack.Logger
	if cfg.File != "" {
		file = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		out = io.MultiWriter(os.Stdout, file)
	}

	var handler slog.Handler = slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: level,
	})
	var closer Closer = nopCloser{}
	if cfg.Async {
		size, workers := cfg.BufferSize, cfg.Workers
		if size <= 0 {
			size = 10000
		}
		if workers <= 0 {
			workers = 1
		}
		ah := NewAsyncHandler(handler, size, workers)
		handler = ah
		closer = ah
	}
	if file != nil {
		closer = fileCloser{next: closer, file: file}
	}

	// Correlation IDs are attached before the async hop, which drops the context.
	handler = &correlationHandler{inner: handler}

	return slog.New(handler).With("service", cfg.Service), closer
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type fileCloser struct {
	next Closer
	file *lumberjack.Logger
}

func (c fileCloser) Close() {
	c.next.Close()
	_ = c.file.Close()
}
