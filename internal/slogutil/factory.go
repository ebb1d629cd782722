package slogutil

import (
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"

	"affected/internal/config"
)

// LoggerFactory builds the CLI logger.
// Level precedence: CLI flags > config > default (warn for the CLI).
type LoggerFactory struct {
	config   config.LoggingConfig
	cliLevel slog.Level
	cliSet   bool
	closers  []io.Closer
}

// NewLoggerFactory creates a new logger factory. cliSet reports whether
// cliLevel came from an explicit -v or --quiet flag.
func NewLoggerFactory(cfg config.LoggingConfig, cliLevel slog.Level, cliSet bool) *LoggerFactory {
	return &LoggerFactory{config: cfg, cliLevel: cliLevel, cliSet: cliSet}
}

// CLILogger logs to w and, when logFile (or the configured file) is set,
// tees every record into that file as well. The file receives records at
// debug level regardless of the console level.
func (f *LoggerFactory) CLILogger(w io.Writer, logFile string) (*slog.Logger, error) {
	level := f.effectiveLevel()
	console := NewFormatHandler(w, f.config.Format, level)
	if h, ok := console.(*Handler); ok && isTerminal(w) {
		console = h.NoTime()
	}

	if logFile == "" {
		logFile = f.config.File
	}
	if logFile == "" {
		return slog.New(console), nil
	}

	fileLogger, closer, err := NewFileLoggerWithRotation(logFile, f.config.Format, slog.LevelDebug, f.config.MaxSize, f.config.MaxBackups)
	if err != nil {
		return slog.New(console), err
	}
	f.closers = append(f.closers, closer)
	return slog.New(NewTeeHandler(console, fileLogger.Handler())), nil
}

// effectiveLevel returns the console level.
func (f *LoggerFactory) effectiveLevel() slog.Level {
	if f.cliSet {
		return f.cliLevel
	}
	if f.config.Level != "" {
		return LevelFromString(f.config.Level)
	}
	return slog.LevelWarn
}

// Close closes all open log files.
func (f *LoggerFactory) Close() error {
	var firstErr error
	for _, c := range f.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	f.closers = nil
	return firstErr
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	return ok && (isatty.IsTerminal(file.Fd()) || isatty.IsCygwinTerminal(file.Fd()))
}
