// Package logging provides structured logging for the tracker daemon. Every
// subsystem tags its lines with a component prefix (store, broadcaster,
// httpapi, ...) over a shared process-wide default logger.
package logging

import (
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// Logger wraps charmbracelet/log so subsystems can derive component-tagged
// children without caring about the underlying options.
type Logger struct {
	*log.Logger
	timeFormat string
}

// Config holds logger configuration.
type Config struct {
	Level      string
	TimeFormat string
}

// New creates a logger writing to stderr at the given level.
func New(cfg *Config) *Logger {
	timeFormat := cfg.TimeFormat
	if timeFormat == "" {
		timeFormat = time.TimeOnly
	}

	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		TimeFormat:      timeFormat,
	})
	logger.SetLevel(parseLevel(cfg.Level))

	return &Logger{Logger: logger, timeFormat: timeFormat}
}

// Component returns a logger whose lines carry the component name as prefix,
// at the same level as the parent.
func (l *Logger) Component(name string) *Logger {
	child := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		TimeFormat:      l.timeFormat,
		Prefix:          name,
	})
	child.SetLevel(l.GetLevel())
	return &Logger{Logger: child, timeFormat: l.timeFormat}
}

func parseLevel(level string) log.Level {
	switch strings.ToLower(level) {
	case "debug":
		return log.DebugLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	case "fatal":
		return log.FatalLevel
	default:
		return log.InfoLevel
	}
}

// Process-wide default logger. Subsystems derive their component loggers
// from it; main replaces it once the config's debug_mode is known.
var defaultLogger = New(&Config{Level: "info"})

// SetDefault replaces the default logger.
func SetDefault(l *Logger) {
	defaultLogger = l
}

// GetDefault returns the default logger.
func GetDefault() *Logger {
	return defaultLogger
}
