// Package logging provides a structured logger used throughout mergebot.
package logging

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger wraps logrus with a chainable, copy-on-write field context.
type Logger struct {
	*logrus.Logger
	fields logrus.Fields
}

// New creates a logger configured from LOG_LEVEL and LOG_FORMAT.
func New() *Logger {
	logger := logrus.New()

	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		logger.SetLevel(logrus.DebugLevel)
	case "warn", "warning":
		logger.SetLevel(logrus.WarnLevel)
	case "error":
		logger.SetLevel(logrus.ErrorLevel)
	case "fatal":
		logger.SetLevel(logrus.FatalLevel)
	case "panic":
		logger.SetLevel(logrus.PanicLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}

	switch strings.ToLower(os.Getenv("LOG_FORMAT")) {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	default:
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
			ForceColors:     shouldUseColors(),
		})
	}

	return &Logger{Logger: logger, fields: make(logrus.Fields)}
}

// WithField returns a derived logger carrying an additional field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.WithFields(logrus.Fields{key: value})
}

// WithFields returns a derived logger carrying additional fields.
func (l *Logger) WithFields(fields logrus.Fields) *Logger {
	merged := make(logrus.Fields, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Logger{Logger: l.Logger, fields: merged}
}

// WithError returns a derived logger carrying the error field.
func (l *Logger) WithError(err error) *Logger {
	return l.WithField("error", err)
}

// WithComponent tags the logger with the originating component name.
func (l *Logger) WithComponent(component string) *Logger {
	return l.WithField("component", component)
}

// WithPR tags the logger with a pull request number.
func (l *Logger) WithPR(number int) *Logger {
	return l.WithField("pr", number)
}

func (l *Logger) Debug(args ...interface{})                 { l.Logger.WithFields(l.fields).Debug(args...) }
func (l *Logger) Debugf(format string, args ...interface{}) { l.Logger.WithFields(l.fields).Debugf(format, args...) }
func (l *Logger) Info(args ...interface{})                  { l.Logger.WithFields(l.fields).Info(args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.Logger.WithFields(l.fields).Infof(format, args...) }
func (l *Logger) Warn(args ...interface{})                  { l.Logger.WithFields(l.fields).Warn(args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.Logger.WithFields(l.fields).Warnf(format, args...) }
func (l *Logger) Error(args ...interface{})                 { l.Logger.WithFields(l.fields).Error(args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.Logger.WithFields(l.fields).Errorf(format, args...) }

func shouldUseColors() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("FORCE_COLOR") != "" {
		return true
	}
	return false
}

var global = New()

// SetGlobal replaces the package-level logger, used by main at startup.
func SetGlobal(l *Logger) { global = l }

// Global returns the package-level logger.
func Global() *Logger { return global }
