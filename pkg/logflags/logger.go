package logflags

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Logger is what the engine, the freeze writers and the RPC layer log to.
// Only the levels memctl actually emits are exposed.
type Logger interface {
	WithField(key string, value interface{}) Logger
	WithFields(fields Fields) Logger
	WithError(err error) Logger

	Debug(args ...interface{})
	Info(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})

	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// LoggerFactory builds the Logger of a layer. fields always carries the
// "layer" key, out is nil unless --log-dest was given.
type LoggerFactory func(level logrus.Level, fields Fields, out io.Writer) Logger

var loggerFactory LoggerFactory

// SetLoggerFactory replaces the logrus backed loggers returned by the
// *Logger functions of this package. A nil factory restores them.
func SetLoggerFactory(lf LoggerFactory) {
	loggerFactory = lf
}

// Fields are structured fields attached to every message of a Logger.
type Fields map[string]interface{}

// logrusLogger adapts a logrus entry, whose With* methods return entries
// rather than Loggers.
type logrusLogger struct {
	*logrus.Entry
}

func (l *logrusLogger) WithField(key string, value interface{}) Logger {
	return &logrusLogger{l.Entry.WithField(key, value)}
}

func (l *logrusLogger) WithFields(fields Fields) Logger {
	return &logrusLogger{l.Entry.WithFields(logrus.Fields(fields))}
}

func (l *logrusLogger) WithError(err error) Logger {
	return &logrusLogger{l.Entry.WithError(err)}
}
