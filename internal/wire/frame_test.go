package wire

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"testing"

	amqpError "github.com/aleybovich/carrot-broker/amqperror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_RoundTrip(t *testing.T) {
	frames := []Frame{
		{Type: FrameMethod, Channel: 0, Payload: []byte{0, 10, 0, 11}},
		{Type: FrameHeader, Channel: 7, Payload: bytes.Repeat([]byte{0xAB}, 300)},
		{Type: FrameBody, Channel: 65535, Payload: []byte{}},
		{Type: FrameHeartbeat, Channel: 0, Payload: nil},
	}
	for _, f := range frames {
		enc := Encode(f)
		require.Len(t, enc, FrameOverhead+len(f.Payload))

		// trailing bytes of the next frame must not be touched
		buf := append(append([]byte(nil), enc...), 0x01, 0x02, 0x03)
		got, n, err := Decode(buf, 0)
		require.NoError(t, err)
		assert.Equal(t, len(enc), n)
		assert.Equal(t, f.Type, got.Type)
		assert.Equal(t, f.Channel, got.Channel)
		assert.Equal(t, len(f.Payload), len(got.Payload))
		if len(f.Payload) > 0 {
			assert.Equal(t, f.Payload, got.Payload)
		}
		assert.Equal(t, []byte{0x01, 0x02, 0x03}, buf[n:])
	}
}

func TestDecode_Incomplete(t *testing.T) {
	enc := Encode(Frame{Type: FrameBody, Channel: 1, Payload: []byte("hello")})
	for i := 0; i < len(enc); i++ {
		_, n, err := Decode(enc[:i], 0)
		assert.True(t, errors.Is(err, ErrIncomplete), "prefix of %d bytes", i)
		assert.Zero(t, n)
	}
}

func TestDecode_BadFrameEnd(t *testing.T) {
	enc := Encode(Frame{Type: FrameBody, Channel: 1, Payload: []byte("x")})
	enc[len(enc)-1] = 0x00

	_, _, err := Decode(enc, 0)
	require.Error(t, err)
	amqpErr, ok := amqpError.As(err)
	require.True(t, ok)
	assert.Equal(t, amqpError.FrameError, amqpErr.Code)
	assert.True(t, amqpErr.Hard)
}

func TestDecode_FrameMax(t *testing.T) {
	payload := make([]byte, FrameMinSize-FrameOverhead)
	enc := Encode(Frame{Type: FrameBody, Channel: 1, Payload: payload})

	_, n, err := Decode(enc, FrameMinSize)
	require.NoError(t, err, "a frame of exactly frame-max bytes is allowed")
	assert.Equal(t, FrameMinSize, n)

	enc = Encode(Frame{Type: FrameBody, Channel: 1, Payload: append(payload, 0)})
	_, _, err = Decode(enc, FrameMinSize)
	amqpErr, ok := amqpError.As(err)
	require.True(t, ok)
	assert.Equal(t, amqpError.FrameError, amqpErr.Code)
}

// oneByteReader returns at most one byte per Read.
type oneByteReader struct{ r io.Reader }

func (o oneByteReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	return o.r.Read(p[:1])
}

func TestReader_Stream(t *testing.T) {
	var stream bytes.Buffer
	stream.Write(ProtocolHeader)
	big := bytes.Repeat([]byte("z"), 200*1024)
	stream.Write(Encode(Frame{Type: FrameMethod, Channel: 1, Payload: []byte{0, 60, 0, 40}}))
	stream.Write(Encode(Frame{Type: FrameBody, Channel: 1, Payload: big}))
	stream.Write(Encode(Frame{Type: FrameHeartbeat}))

	fr := NewReader(oneByteReader{&stream}, 0)
	hdr, err := fr.ReadProtocolHeader()
	require.NoError(t, err)
	require.NoError(t, CheckProtocolHeader(hdr))

	f, err := fr.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, byte(FrameMethod), f.Type)
	assert.Equal(t, []byte{0, 60, 0, 40}, f.Payload)

	f, err = fr.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, byte(FrameBody), f.Type)
	assert.Equal(t, big, f.Payload)

	f, err = fr.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, byte(FrameHeartbeat), f.Type)

	_, err = fr.ReadFrame()
	assert.ErrorIs(t, err, io.EOF)
}

func TestCheckProtocolHeader(t *testing.T) {
	assert.NoError(t, CheckProtocolHeader([]byte("AMQP\x00\x00\x09\x01")))
	assert.Error(t, CheckProtocolHeader([]byte("AMQP\x00\x00\x08\x00")))
	assert.Error(t, CheckProtocolHeader([]byte("HTTP/1.1")))
}

func TestWriteFrames(t *testing.T) {
	var out bytes.Buffer
	w := bufio.NewWriter(&out)
	a := Frame{Type: FrameMethod, Channel: 3, Payload: []byte{1, 2}}
	b := Frame{Type: FrameBody, Channel: 3, Payload: []byte("body")}
	require.NoError(t, WriteFrames(w, a, b))

	assert.Equal(t, append(Encode(a), Encode(b)...), out.Bytes())
}
