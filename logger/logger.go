// Package logger defines the printf-style logging interface used throughout
// the broker.
package logger

import "fmt"

// Logger is implemented by the logrus adapter in this package and by any
// custom logger an embedder plugs in.
type Logger interface {
	Fatal(format string, a ...any)
	Err(format string, a ...any)
	Warn(format string, a ...any)
	Info(format string, a ...any)
	Debug(format string, a ...any)
}

// NilLogger drops everything except Fatal, which panics.
type NilLogger struct{}

var _ Logger = (*NilLogger)(nil)

func (*NilLogger) Fatal(format string, a ...any) { panic(fmt.Sprintf(format, a...)) }
func (*NilLogger) Err(string, ...any)            {}
func (*NilLogger) Warn(string, ...any)           {}
func (*NilLogger) Info(string, ...any)           {}
func (*NilLogger) Debug(string, ...any)          {}
