package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	mu       sync.Mutex
	rotating *lumberjack.Logger
)

// Init installs the global slog logger from cfg. Safe to call again on
// config reload; a previously opened rotating file writer is closed rather
// than leaked.
func Init(cfg Config) error {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	var writers []io.Writer
	if cfg.Stderr || cfg.File == "" {
		writers = append(writers, os.Stderr)
	}

	mu.Lock()
	if rotating != nil {
		rotating.Close()
		rotating = nil
	}
	if cfg.File != "" {
		rotating = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxAge:     cfg.MaxAgeDays,
			MaxBackups: cfg.MaxBackups,
			Compress:   cfg.Compress,
		}
		writers = append(writers, rotating)
	}
	mu.Unlock()

	if len(writers) == 0 {
		writers = append(writers, os.Stderr)
	}

	out := io.MultiWriter(writers...)
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "", "json":
		handler = slog.NewJSONHandler(out, opts)
	case "text":
		handler = slog.NewTextHandler(out, opts)
	default:
		return fmt.Errorf("unsupported log format: %s (must be json or text)", cfg.Format)
	}

	slog.SetDefault(slog.New(handler))
	return nil
}

// Flush closes the rotating file writer so buffered bytes hit disk before
// the daemon exits.
func Flush() {
	mu.Lock()
	defer mu.Unlock()
	if rotating != nil {
		rotating.Close()
	}
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown level: %s", s)
	}
}
