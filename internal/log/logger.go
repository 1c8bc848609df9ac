// Package log implements structured logging using slog.
package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"firestige.xyz/flowgate/internal/config"
)

var (
	mu      sync.Mutex
	outputs []io.Closer
)

// Init builds the process logger from configuration and installs it as the
// slog default. Components receive it through their constructors.
func Init(cfg config.LogConfig) error {
	logger, closers, err := New(cfg, os.Stdout)
	if err != nil {
		return err
	}
	mu.Lock()
	old := outputs
	outputs = closers
	mu.Unlock()
	closeAll(old)

	slog.SetDefault(logger)
	return nil
}

// New builds a logger writing to stdout plus the configured outputs. The
// returned closers release file outputs.
func New(cfg config.LogConfig, stdout io.Writer) (*slog.Logger, []io.Closer, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level: %w", err)
	}

	// stdout is always included
	writers := []io.Writer{stdout}
	var closers []io.Closer

	if cfg.Outputs.File.Enabled {
		w, err := createFileWriter(cfg.Outputs.File)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create file output: %w", err)
		}
		writers = append(writers, w)
		closers = append(closers, w)
	}

	out := io.MultiWriter(writers...)
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(out, opts)
	case "text":
		handler = slog.NewTextHandler(out, opts)
	default:
		return nil, nil, fmt.Errorf("unsupported log format: %s (must be json or text)", cfg.Format)
	}
	return slog.New(handler), closers, nil
}

// Get returns the process logger.
func Get() *slog.Logger {
	return slog.Default()
}

// Flush closes file outputs opened by Init. Later writes to a rotated file
// reopen it, so Flush is safe before a last log line.
func Flush() {
	mu.Lock()
	old := outputs
	outputs = nil
	mu.Unlock()
	closeAll(old)
}

func closeAll(cs []io.Closer) {
	for _, c := range cs {
		_ = c.Close()
	}
}

// parseLevel converts string level to slog.Level.
func parseLevel(levelStr string) (slog.Level, error) {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown level: %s", levelStr)
	}
}

// createFileWriter creates a lumberjack file writer for log rotation.
func createFileWriter(fc config.FileOutputConfig) (*lumberjack.Logger, error) {
	if fc.Path == "" {
		return nil, fmt.Errorf("file output requires 'path' field")
	}
	return &lumberjack.Logger{
		Filename:   fc.Path,
		MaxSize:    fc.Rotation.MaxSizeMB,
		MaxBackups: fc.Rotation.MaxBackups,
		MaxAge:     fc.Rotation.MaxAgeDays,
		Compress:   fc.Rotation.Compress,
	}, nil
}
