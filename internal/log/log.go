// Package log provides the printf-style logrus wrapper shared by every hoover component.
package log

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Fields is an alias so callers do not import logrus directly.
type Fields = logrus.Fields

// Logger wraps logrus.Logger for dependency injection
type Logger struct {
	log *logrus.Logger
}

// New creates a logger writing to stdout. The level comes from LOG_LEVEL
// (trace, debug, info, warn, error) and defaults to info.
func New() *Logger {
	return NewWithOutput(os.Stdout)
}

// NewWithOutput creates a logger writing to w.
func NewWithOutput(w io.Writer) *Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	logger := &Logger{log: l}
	logger.log.SetLevel(logrus.InfoLevel)
	logger.SetLevel(os.Getenv("LOG_LEVEL"))
	return logger
}

// SetLevel changes the level at runtime. Unknown names are ignored.
func (l *Logger) SetLevel(level string) {
	switch level {
	case "trace":
		l.log.SetLevel(logrus.TraceLevel)
	case "debug":
		l.log.SetLevel(logrus.DebugLevel)
	case "info":
		l.log.SetLevel(logrus.InfoLevel)
	case "warn", "warning":
		l.log.SetLevel(logrus.WarnLevel)
	case "error":
		l.log.SetLevel(logrus.ErrorLevel)
	case "fatal":
		l.log.SetLevel(logrus.FatalLevel)
	}
}

// SetVerbosity maps a repeated -v count onto a level: 1 is debug, 2 or
// more is trace. Zero leaves the current level alone.
func (l *Logger) SetVerbosity(count int) {
	switch {
	case count >= 2:
		l.log.SetLevel(logrus.TraceLevel)
	case count == 1:
		l.log.SetLevel(logrus.DebugLevel)
	}
}

// Level returns the current level name.
func (l *Logger) Level() string {
	return l.log.GetLevel().String()
}

// Logrus returns the underlying logrus instance
func (l *Logger) Logrus() *logrus.Logger {
	return l.log
}

// Trace logs trace-level messages
func (l *Logger) Trace(format string, v ...interface{}) {
	l.log.Tracef(format, v...)
}

// Debug logs debug messages
func (l *Logger) Debug(format string, v ...interface{}) {
	l.log.Debugf(format, v...)
}

// DebugWithFields logs a debug message with structured fields
func (l *Logger) DebugWithFields(fields Fields, format string, v ...interface{}) {
	l.log.WithFields(fields).Debugf(format, v...)
}

// Info logs informational messages
func (l *Logger) Info(format string, v ...interface{}) {
	l.log.Infof(format, v...)
}

// InfoWithFields logs an info message with structured fields
func (l *Logger) InfoWithFields(fields Fields, format string, v ...interface{}) {
	l.log.WithFields(fields).Infof(format, v...)
}

// Warn logs warning messages
func (l *Logger) Warn(format string, v ...interface{}) {
	l.log.Warnf(format, v...)
}

// WarnWithFields logs a warning with structured fields
func (l *Logger) WarnWithFields(fields Fields, format string, v ...interface{}) {
	l.log.WithFields(fields).Warnf(format, v...)
}

// Error logs error messages
func (l *Logger) Error(format string, v ...interface{}) {
	l.log.Errorf(format, v...)
}

// ErrorWithFields logs an error with structured fields
func (l *Logger) ErrorWithFields(fields Fields, format string, v ...interface{}) {
	l.log.WithFields(fields).Errorf(format, v...)
}

// Fatal logs an error message and exits
func (l *Logger) Fatal(format string, v ...interface{}) {
	l.log.Fatalf(format, v...)
}

// WithFields creates an entry carrying structured fields
func (l *Logger) WithFields(fields Fields) *logrus.Entry {
	return l.log.WithFields(fields)
}
