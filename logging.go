package rudp

import (
	"os"

	golog "gopkg.in/op/go-logging.v1"
)

// Logger decouples the engine from any one logging backend. Debug is for
// per-packet accounting, Info for lifecycle events, Warn for
// malformed/duplicate input, Error for conditions that tear a connection
// down.
type Logger interface {
	Debug(format string, v ...interface{})
	Info(format string, v ...interface{})
	Warn(format string, v ...interface{})
	Error(format string, v ...interface{})
}

// goLoggingLogger adapts gopkg.in/op/go-logging.v1's *logging.Logger to the
// Logger interface, in the same GetLogger(name)-per-component shape
// katzenpost's own log.Backend wrapper uses (server/cborplugin/client.go,
// talek/replica/main.go: logBackend.GetLogger("name")).
type goLoggingLogger struct {
	inner *golog.Logger
}

// NewDefaultLogger builds the Logger installed automatically when
// Config.Logger is left nil: a gopkg.in/op/go-logging.v1 logger named name,
// writing leveled, timestamped lines to stderr.
func NewDefaultLogger(name string) Logger {
	backend := golog.NewLogBackend(os.Stderr, "", 0)
	formatter := golog.NewBackendFormatter(backend, golog.MustStringFormatter(
		`%{time:15:04:05.000} %{level:.4s} [%{module}] %{message}`,
	))
	leveled := golog.AddModuleLevel(formatter)
	leveled.SetLevel(golog.INFO, "")
	golog.SetBackend(leveled)
	return &goLoggingLogger{inner: golog.MustGetLogger(name)}
}

func (l *goLoggingLogger) Debug(format string, v ...interface{}) { l.inner.Debugf(format, v...) }
func (l *goLoggingLogger) Info(format string, v ...interface{})  { l.inner.Infof(format, v...) }
func (l *goLoggingLogger) Warn(format string, v ...interface{})  { l.inner.Warningf(format, v...) }
func (l *goLoggingLogger) Error(format string, v ...interface{}) { l.inner.Errorf(format, v...) }

// nopLogger discards everything; used in tests that don't want log noise.
type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
