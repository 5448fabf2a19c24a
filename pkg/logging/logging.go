// Package logging provides structured, component-scoped logging for the
// mesh node, built on logrus.
package logging

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger wraps a logrus entry with a fixed component field.
type Logger struct {
	entry *logrus.Entry
}

// New creates a Logger at the given level, writing to stderr as JSON-free
// text (matching the teacher's plain logrus formatter usage).
func New(level string) *Logger {
	base := logrus.New()
	base.SetOutput(os.Stderr)
	base.SetLevel(ParseLevel(level))
	return &Logger{entry: logrus.NewEntry(base)}
}

// ParseLevel parses a level string, defaulting to Info on failure.
func ParseLevel(level string) logrus.Level {
	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// Component returns a child logger tagging all entries with component=name.
func (l *Logger) Component(name string) *Logger {
	return &Logger{entry: l.entry.WithField("component", name)}
}

// With returns a child logger carrying the given key-value pairs.
func (l *Logger) With(kv ...interface{}) *Logger {
	fields := logrus.Fields{}
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		fields[key] = kv[i+1]
	}
	return &Logger{entry: l.entry.WithFields(fields)}
}

func (l *Logger) Debug(args ...interface{}) { l.entry.Debug(args...) }
func (l *Logger) Info(args ...interface{})  { l.entry.Info(args...) }
func (l *Logger) Warn(args ...interface{})  { l.entry.Warn(args...) }
func (l *Logger) Error(args ...interface{}) { l.entry.Error(args...) }

func (l *Logger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }

var defaultLogger = New("info")

// SetDefault replaces the package default logger.
func SetDefault(l *Logger) { defaultLogger = l }

// GetDefault returns the package default logger.
func GetDefault() *Logger { return defaultLogger }
