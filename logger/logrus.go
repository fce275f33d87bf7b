package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Options controls the default logrus-backed logger.
type Options struct {
	Level  string    // logrus level name, "info" when empty
	Output io.Writer // os.Stdout when nil
}

type logrusLogger struct {
	entry *logrus.Entry
}

// NewLogrus returns a Logger writing through logrus. Setting AMQP_DEBUG=1 in the
// environment forces debug level regardless of Options.Level.
func NewLogrus(opts Options) Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000000",
	})

	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	l.SetOutput(out)

	level := logrus.InfoLevel
	if opts.Level != "" {
		if parsed, err := logrus.ParseLevel(opts.Level); err == nil {
			level = parsed
		} else {
			l.Warnf("unknown log level %q, using info", opts.Level)
		}
	}
	if os.Getenv("AMQP_DEBUG") == "1" {
		level = logrus.DebugLevel
	}
	l.SetLevel(level)

	return &logrusLogger{entry: logrus.NewEntry(l).WithField("component", "amqp")}
}

// FromLogrus wraps an existing logrus logger.
func FromLogrus(l *logrus.Logger) Logger {
	return &logrusLogger{entry: logrus.NewEntry(l)}
}

// WithFields scopes l to the given fields when it is logrus-backed. Other
// implementations are returned unchanged.
func WithFields(l Logger, fields logrus.Fields) Logger {
	if ll, ok := l.(*logrusLogger); ok {
		return &logrusLogger{entry: ll.entry.WithFields(fields)}
	}
	return l
}

func (l *logrusLogger) Fatal(format string, a ...any) { l.entry.Fatalf(format, a...) }
func (l *logrusLogger) Err(format string, a ...any)   { l.entry.Errorf(format, a...) }
func (l *logrusLogger) Warn(format string, a ...any)  { l.entry.Warnf(format, a...) }
func (l *logrusLogger) Info(format string, a ...any)  { l.entry.Infof(format, a...) }
func (l *logrusLogger) Debug(format string, a ...any) { l.entry.Debugf(format, a...) }
