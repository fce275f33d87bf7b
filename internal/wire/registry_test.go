package wire

import (
	"testing"

	amqpError "github.com/aleybovich/carrot-broker/amqperror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_UnknownMethod(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Decode([]byte{0, 60, 0, 99})
	require.Error(t, err)

	amqpErr, ok := amqpError.As(err)
	require.True(t, ok)
	assert.Equal(t, amqpError.CommandInvalid, amqpErr.Code)
	assert.True(t, amqpErr.Hard)
	assert.Equal(t, uint16(60), amqpErr.ClassID)
	assert.Equal(t, uint16(99), amqpErr.MethodID)
	assert.Contains(t, amqpErr.Text, "60.99")
}

func TestRegistry_Truncated(t *testing.T) {
	reg := NewRegistry()
	payload, err := EncodeMethod(&BasicPublish{Exchange: "x", RoutingKey: "key"})
	require.NoError(t, err)

	_, err = reg.Decode(payload[:len(payload)-3])
	amqpErr, ok := amqpError.As(err)
	require.True(t, ok)
	assert.Equal(t, amqpError.FrameError, amqpErr.Code)
	assert.True(t, amqpErr.Hard)

	_, err = reg.Decode([]byte{0})
	amqpErr, ok = amqpError.As(err)
	require.True(t, ok)
	assert.Equal(t, amqpError.FrameError, amqpErr.Code)
}

func TestRegistry_BindIsPerInstance(t *testing.T) {
	a := NewRegistry()
	b := NewRegistry()

	called := false
	a.Bind(ClassConnection, MethodConnectionStartOk, func(r *ArgReader) (Method, error) {
		called = true
		m := &ConnectionStartOk{}
		m.Read(r)
		m.Mechanism = "REBOUND"
		return m, r.Err()
	})

	payload, err := EncodeMethod(&ConnectionStartOk{Mechanism: "PLAIN", ClientProperties: Table{}})
	require.NoError(t, err)

	got, err := a.Decode(payload)
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, "REBOUND", got.(*ConnectionStartOk).Mechanism)

	got, err = b.Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, "PLAIN", got.(*ConnectionStartOk).Mechanism)
}

func TestMethodName(t *testing.T) {
	assert.Equal(t, "basic.publish", MethodName(ClassBasic, MethodBasicPublish))
	assert.Equal(t, "dtx.set-timeout-ok", MethodName(ClassDtx, MethodDtxSetTimeoutOk))
	assert.Equal(t, "class(7).method(1)", MethodName(7, 1))
	assert.Equal(t, "queue.method(99)", MethodName(ClassQueue, 99))
}
