// Package logging provides structured, leveled logging shared by every
// engine component.
package logging

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// LogLevel represents different logging levels, kept distinct from
// logrus.Level so callers of this package never need to import logrus
// directly.
type LogLevel int

const (
	// LevelError only logs errors
	LevelError LogLevel = iota
	// LevelWarn logs warnings and errors
	LevelWarn
	// LevelInfo logs general information, warnings and errors
	LevelInfo
	// LevelDebug logs detailed debug information and all above
	LevelDebug
	// LevelTrace logs very detailed trace information and all above
	LevelTrace
)

func (l LogLevel) logrusLevel() logrus.Level {
	switch l {
	case LevelError:
		return logrus.ErrorLevel
	case LevelWarn:
		return logrus.WarnLevel
	case LevelInfo:
		return logrus.InfoLevel
	case LevelDebug:
		return logrus.DebugLevel
	case LevelTrace:
		return logrus.TraceLevel
	default:
		return logrus.InfoLevel
	}
}

// Logger wraps a logrus.Entry, adding the WithPrefix propagation style the
// rest of the engine expects while keeping printf-style level methods.
type Logger struct {
	entry *logrus.Entry
	mu    sync.RWMutex
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// GetLogger returns the default logger instance.
func GetLogger() *Logger {
	once.Do(func() {
		base := logrus.New()
		base.SetOutput(os.Stdout)
		base.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02T15:04:05.000000Z07:00",
		})
		base.SetLevel(logrus.InfoLevel)

		defaultLogger = &Logger{entry: logrus.NewEntry(base).WithField("component", "repeatfs")}

		if level := os.Getenv("LOG_LEVEL"); level != "" {
			switch level {
			case "ERROR":
				defaultLogger.SetLevel(LevelError)
			case "WARN":
				defaultLogger.SetLevel(LevelWarn)
			case "INFO":
				defaultLogger.SetLevel(LevelInfo)
			case "DEBUG":
				defaultLogger.SetLevel(LevelDebug)
			case "TRACE":
				defaultLogger.SetLevel(LevelTrace)
			}
		}

		if os.Getenv("FUSE_DEBUG") != "" {
			defaultLogger.SetLevel(LevelDebug)
		}
	})
	return defaultLogger
}

// NewLogger creates a standalone logger with the given component field,
// useful for tests that want isolation from the process-wide default.
func NewLogger(component string) *Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetLevel(logrus.InfoLevel)
	return &Logger{entry: logrus.NewEntry(l).WithField("component", component)}
}

// SetLevel sets the logging level.
func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entry.Logger.SetLevel(level.logrusLevel())
}

// WithPrefix creates a new logger scoped to a sub-component, preserving the
// underlying logrus output and level.
func (l *Logger) WithPrefix(prefix string) *Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return &Logger{entry: l.entry.WithField("scope", prefix)}
}

// WithField attaches a single structured field (e.g. "path", "pid",
// "cache_key") to the next log line.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return &Logger{entry: l.entry.WithField(key, value)}
}

// WithFields attaches several structured fields at once.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return &Logger{entry: l.entry.WithFields(fields)}
}

// Error logs an error message.
func (l *Logger) Error(format string, args ...interface{}) {
	l.entry.Errorf(format, args...)
}

// Warn logs a warning message.
func (l *Logger) Warn(format string, args ...interface{}) {
	l.entry.Warnf(format, args...)
}

// Info logs an informational message.
func (l *Logger) Info(format string, args ...interface{}) {
	l.entry.Infof(format, args...)
}

// Debug logs a debug message.
func (l *Logger) Debug(format string, args ...interface{}) {
	l.entry.Debugf(format, args...)
}

// Trace logs a trace message.
func (l *Logger) Trace(format string, args ...interface{}) {
	l.entry.Tracef(format, args...)
}
