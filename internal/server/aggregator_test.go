package server

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amqpError "github.com/aleybovich/carrot-broker/amqperror"
	"github.com/aleybovich/carrot-broker/internal/wire"
)

func encodeHeader(t *testing.T, classID uint16, size uint64, props wire.Properties) []byte {
	t.Helper()
	b, err := wire.ContentHeader{ClassID: classID, BodySize: size, Properties: props}.Encode()
	require.NoError(t, err)
	return b
}

func TestAggregatorAssemblesChunkedBody(t *testing.T) {
	body := bytes.Repeat([]byte("carrot"), 1000)

	for _, chunk := range []int{1, 7, 512, len(body)} {
		var a ContentAggregator
		require.NoError(t, a.Begin(&wire.BasicPublish{Exchange: "ex", RoutingKey: "rk"}))
		assert.True(t, a.InProgress())

		done, err := a.Header(encodeHeader(t, wire.ClassBasic, uint64(len(body)), wire.Properties{ContentType: "text/plain"}))
		require.NoError(t, err)
		require.False(t, done)

		rest := body
		for len(rest) > 0 {
			n := min(chunk, len(rest))
			done, err = a.Body(rest[:n])
			require.NoError(t, err)
			rest = rest[n:]
			assert.Equal(t, len(rest) == 0, done, "chunk size %d", chunk)
		}

		c := a.Take()
		assert.Equal(t, body, c.Body)
		assert.Equal(t, "text/plain", c.Properties.ContentType)
		assert.Equal(t, "rk", c.Publish.RoutingKey)
		assert.False(t, a.InProgress())
	}
}

func TestAggregatorEmptyBodyCompletesOnHeader(t *testing.T) {
	var a ContentAggregator
	require.NoError(t, a.Begin(&wire.BasicPublish{}))
	done, err := a.Header(encodeHeader(t, wire.ClassBasic, 0, wire.Properties{}))
	require.NoError(t, err)
	assert.True(t, done)
	assert.Empty(t, a.Take().Body)
}

func TestAggregatorRejectsOversizedBody(t *testing.T) {
	var a ContentAggregator
	require.NoError(t, a.Begin(&wire.BasicPublish{}))
	_, err := a.Header(encodeHeader(t, wire.ClassBasic, 4, wire.Properties{}))
	require.NoError(t, err)

	_, err = a.Body([]byte("abcdef"))
	e, ok := amqpError.As(err)
	require.True(t, ok)
	assert.Equal(t, amqpError.NotAllowed, e.Code)
	assert.False(t, e.Hard)
	assert.False(t, a.InProgress(), "overflow resets the aggregator")
}

func TestAggregatorOutOfOrderFrames(t *testing.T) {
	var a ContentAggregator

	_, err := a.Header(encodeHeader(t, wire.ClassBasic, 1, wire.Properties{}))
	assert.Error(t, err, "header without publish")

	_, err = a.Body([]byte("x"))
	assert.Error(t, err, "body without publish")

	require.NoError(t, a.Begin(&wire.BasicPublish{}))
	assert.Error(t, a.Begin(&wire.BasicPublish{}), "second publish while awaiting header")

	_, err = a.Body([]byte("x"))
	assert.Error(t, err, "body while awaiting header")

	_, err = a.Header(encodeHeader(t, wire.ClassBasic, 2, wire.Properties{}))
	require.NoError(t, err)
	_, err = a.Header(encodeHeader(t, wire.ClassBasic, 2, wire.Properties{}))
	assert.Error(t, err, "header while awaiting body")
}

func TestAggregatorHeaderForWrongClass(t *testing.T) {
	var a ContentAggregator
	require.NoError(t, a.Begin(&wire.BasicPublish{}))
	_, err := a.Header(encodeHeader(t, wire.ClassQueue, 1, wire.Properties{}))
	e, ok := amqpError.As(err)
	require.True(t, ok)
	assert.Equal(t, amqpError.NotAllowed, e.Code)
}

func TestAggregatorMalformedHeaderIsFrameError(t *testing.T) {
	var a ContentAggregator
	require.NoError(t, a.Begin(&wire.BasicPublish{}))
	_, err := a.Header([]byte{0, 60})
	e, ok := amqpError.As(err)
	require.True(t, ok)
	assert.Equal(t, amqpError.FrameError, e.Code)
	assert.True(t, e.Hard)
}
