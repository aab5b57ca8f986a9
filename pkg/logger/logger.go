package logger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Config describes how the application logger should behave.
type Config struct {
	Level       string
	Format      string
	OutputPaths []string
	// Debug forces the debug level regardless of Level.
	Debug  bool
	Rotate RotateConfig
}

// RotateConfig controls size based rotation of file outputs.
type RotateConfig struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

var (
	mu            sync.Mutex
	defaultLogger *slog.Logger
	closers       []io.Closer
)

// Init configures the global logger instance. Calling it again replaces the
// previous logger and closes its file outputs.
func Init(cfg Config) error {
	logger, fileClosers, err := build(cfg)
	if err != nil {
		return err
	}

	mu.Lock()
	previous := closers
	defaultLogger = logger
	closers = fileClosers
	mu.Unlock()

	slog.SetDefault(logger)

	var closeErr error
	for _, closer := range previous {
		closeErr = errors.Join(closeErr, closer.Close())
	}
	return closeErr
}

func build(cfg Config) (*slog.Logger, []io.Closer, error) {
	level := ParseLevel(cfg.Level)
	if cfg.Debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level, AddSource: level == slog.LevelDebug}

	writers := make([]io.Writer, 0, len(cfg.OutputPaths))
	var fileClosers []io.Closer
	if len(cfg.OutputPaths) == 0 {
		writers = append(writers, os.Stdout)
	}
	for _, out := range cfg.OutputPaths {
		writer, closer, err := openWriter(out, cfg.Rotate)
		if err != nil {
			for _, c := range fileClosers {
				_ = c.Close()
			}
			return nil, nil, err
		}
		if closer != nil {
			fileClosers = append(fileClosers, closer)
		}
		writers = append(writers, writer)
	}

	var writer io.Writer
	if len(writers) == 1 {
		writer = writers[0]
	} else {
		writer = io.MultiWriter(writers...)
	}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(writer, opts)
	} else {
		handler = slog.NewJSONHandler(writer, opts)
	}
	return slog.New(handler), fileClosers, nil
}

func openWriter(path string, rotate RotateConfig) (io.Writer, io.Closer, error) {
	switch strings.ToLower(strings.TrimSpace(path)) {
	case "", "stdout":
		return os.Stdout, nil, nil
	case "stderr":
		return os.Stderr, nil, nil
	default:
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log directory: %w", err)
		}
		writer, err := newRotatingWriter(path, rotate.MaxSizeMB, rotate.MaxBackups, rotate.MaxAgeDays)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file %s: %w", path, err)
		}
		return writer, writer, nil
	}
}

// ParseLevel maps a textual level onto slog levels, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// L returns the structured logger instance.
func L() *slog.Logger {
	mu.Lock()
	logger := defaultLogger
	mu.Unlock()
	if logger != nil {
		return logger
	}
	_ = Init(Config{})
	mu.Lock()
	defer mu.Unlock()
	return defaultLogger
}

// Sync closes file outputs, flushing anything buffered by the OS.
func Sync() error {
	mu.Lock()
	pending := closers
	closers = nil
	mu.Unlock()

	var err error
	for _, closer := range pending {
		err = errors.Join(err, closer.Close())
	}
	return err
}

// Named returns a child logger tagged with the provided component name.
func Named(name string) *slog.Logger {
	return L().With(slog.String("component", name))
}
