package logger

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestLogrusLevels(t *testing.T) {
	t.Setenv("AMQP_DEBUG", "")
	var buf bytes.Buffer
	l := NewLogrus(Options{Level: "warn", Output: &buf})

	l.Info("hidden %d", 1)
	l.Warn("shown %d", 2)
	l.Err("also shown %s", "x")

	out := buf.String()
	assert.NotContains(t, out, "hidden 1")
	assert.Contains(t, out, "shown 2")
	assert.Contains(t, out, "also shown x")
}

func TestLogrusDebugFromEnv(t *testing.T) {
	t.Setenv("AMQP_DEBUG", "1")
	var buf bytes.Buffer
	l := NewLogrus(Options{Level: "error", Output: &buf})

	l.Debug("frame %s", "METHOD")
	assert.Contains(t, buf.String(), "frame METHOD")
}

func TestWithFields(t *testing.T) {
	t.Setenv("AMQP_DEBUG", "")
	var buf bytes.Buffer
	l := WithFields(NewLogrus(Options{Output: &buf}), logrus.Fields{"conn": "127.0.0.1:5555"})

	l.Info("opened")
	assert.Contains(t, buf.String(), "conn=\"127.0.0.1:5555\"")

	nl := &NilLogger{}
	assert.Same(t, nl, WithFields(nl, logrus.Fields{"a": 1}))
}

func TestNilLoggerFatalPanics(t *testing.T) {
	assert.PanicsWithValue(t, "boom 7", func() {
		(&NilLogger{}).Fatal("boom %d", 7)
	})
}
