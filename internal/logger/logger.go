// Package logger wraps logrus with the dual console/file destination
// setup the daemon's entry point expects.
package logger

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// ConsoleConfig configures the console logging destination.
type ConsoleConfig struct {
	Enabled bool
	Level   string
	Format  string
}

// FileConfig configures the file logging destination.
type FileConfig struct {
	Enabled bool
	Level   string
	Format  string
	Path    string
}

// Config contains logger configuration.
type Config struct {
	Console ConsoleConfig
	File    FileConfig
}

// Logger handles application logging across one or two destinations;
// when neither is enabled, NewLogger falls back to the console.
type Logger struct {
	fileLogger     *logrus.Logger
	consoleLogger  *logrus.Logger
	fileEnabled    bool
	consoleEnabled bool
	fileHandle     *os.File
}

// NewLogger creates a new application logger with multiple outputs.
func NewLogger(cfg *Config) (*Logger, error) {
	l := &Logger{}

	if cfg.Console.Enabled {
		l.consoleLogger = buildLogrus(cfg.Console.Level, cfg.Console.Format, os.Stdout, true)
		l.consoleEnabled = true
	}

	if cfg.File.Enabled && cfg.File.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File.Path), 0755); err != nil {
			return nil, fmt.Errorf("logger: create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.File.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("logger: open log file: %w", err)
		}
		l.fileHandle = f
		l.fileLogger = buildLogrus(cfg.File.Level, cfg.File.Format, f, false)
		l.fileEnabled = true
	}

	if !l.fileEnabled && !l.consoleEnabled {
		l.consoleLogger = buildLogrus("info", "text", os.Stdout, true)
		l.consoleEnabled = true
	}

	return l, nil
}

func buildLogrus(level, format string, out *os.File, colors bool) *logrus.Logger {
	log := logrus.New()

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)

	if format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	} else {
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
			ForceColors:     colors,
		})
	}

	log.SetOutput(out)
	return log
}

// Close releases the underlying file handle, if any.
func (l *Logger) Close() error {
	if l.fileHandle != nil {
		return l.fileHandle.Close()
	}
	return nil
}

// Info logs an info message to every enabled destination.
func (l *Logger) Info(msg string, fields ...interface{}) {
	l.log(logrus.InfoLevel, msg, fields...)
}

// Warn logs a warning message to every enabled destination.
func (l *Logger) Warn(msg string, fields ...interface{}) {
	l.log(logrus.WarnLevel, msg, fields...)
}

// Error logs an error message to every enabled destination.
func (l *Logger) Error(msg string, fields ...interface{}) {
	l.log(logrus.ErrorLevel, msg, fields...)
}

// Debug logs a debug message to every enabled destination.
func (l *Logger) Debug(msg string, fields ...interface{}) {
	l.log(logrus.DebugLevel, msg, fields...)
}

func (l *Logger) log(level logrus.Level, msg string, fields ...interface{}) {
	logFields := l.parseFields(fields...)

	for _, dest := range []*logrus.Logger{l.fileLoggerOrNil(), l.consoleLoggerOrNil()} {
		if dest == nil {
			continue
		}
		entry := dest.WithFields(logFields)
		switch level {
		case logrus.InfoLevel:
			entry.Info(msg)
		case logrus.WarnLevel:
			entry.Warn(msg)
		case logrus.ErrorLevel:
			entry.Error(msg)
		case logrus.DebugLevel:
			entry.Debug(msg)
		}
	}
}

func (l *Logger) fileLoggerOrNil() *logrus.Logger {
	if l.fileEnabled {
		return l.fileLogger
	}
	return nil
}

func (l *Logger) consoleLoggerOrNil() *logrus.Logger {
	if l.consoleEnabled {
		return l.consoleLogger
	}
	return nil
}

// parseFields converts variadic key/value arguments to logrus.Fields.
func (l *Logger) parseFields(fields ...interface{}) logrus.Fields {
	result := make(logrus.Fields)
	for i := 0; i < len(fields)-1; i += 2 {
		if key, ok := fields[i].(string); ok {
			result[key] = fields[i+1]
		}
	}
	return result
}
