package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds the logging settings the runtime exposes: a level, an
// optional log file, console output, and credential redaction.
type Config struct {
	Level     string
	File      string
	Console   bool
	Redaction bool
}

// Logger owns the configured zerolog instance and the log file handle.
type Logger struct {
	zl   zerolog.Logger
	file *os.File
}

// New builds the logger and installs it as the global zerolog logger.
func New(cfg Config) (*Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	l := &Logger{}
	var writers []io.Writer
	if cfg.Console {
		writers = append(writers, os.Stderr)
	}
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		l.file, err = os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		writers = append(writers, l.file)
	}

	var out io.Writer
	switch len(writers) {
	case 0:
		out = os.Stderr
	case 1:
		out = writers[0]
	default:
		out = io.MultiWriter(writers...)
	}
	if cfg.Redaction {
		out = NewRedactor().Wrap(out)
	}

	l.zl = zerolog.New(out).Level(level).With().Timestamp().Logger()
	log.Logger = l.zl
	return l, nil
}

// GetZerolog returns the configured zerolog.Logger.
func (l *Logger) GetZerolog() zerolog.Logger {
	return l.zl
}

// Close releases the log file handle.
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}
