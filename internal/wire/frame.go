// Package wire implements the AMQP 0-9-1 binary format: the frame envelope,
// field tables, content headers and the typed method argument lists.
package wire

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	amqpError "github.com/aleybovich/carrot-broker/amqperror"
)

// Frame types
const (
	FrameMethod    = 1
	FrameHeader    = 2
	FrameBody      = 3
	FrameHeartbeat = 8
	FrameEnd       = 0xCE
)

const (
	// FrameHeaderSize is type(1) + channel(2) + size(4)
	FrameHeaderSize = 7
	// FrameOverhead is the header plus the end marker
	FrameOverhead = FrameHeaderSize + 1
	// FrameMinSize is the smallest frame-max a peer may negotiate
	FrameMinSize = 4096
)

// ProtocolHeader opens every AMQP 0-9-1 connection.
var ProtocolHeader = []byte{'A', 'M', 'Q', 'P', 0, 0, 9, 1}

// ErrIncomplete reports that more bytes are needed before a frame can be decoded.
var ErrIncomplete = errors.New("incomplete frame")

// Frame is one transmission unit. Payload may share memory with the buffer it
// was decoded from; it must be copied by anyone who keeps it past the next read.
type Frame struct {
	Type    byte
	Channel uint16
	Payload []byte
}

// Decode parses one frame from the start of buf without blocking. It returns
// the frame and the number of bytes consumed, ErrIncomplete when buf does not
// yet hold a whole frame, or a connection-level FRAME_ERROR for a bad end
// marker or a payload above frameMax (0 disables the size check).
func Decode(buf []byte, frameMax uint32) (Frame, int, error) {
	if len(buf) < FrameHeaderSize {
		return Frame{}, 0, ErrIncomplete
	}

	size := binary.BigEndian.Uint32(buf[3:7])
	if frameMax > 0 && uint64(size)+FrameOverhead > uint64(frameMax) {
		return Frame{}, 0, amqpError.Hard(amqpError.FrameError, "frame size %d exceeds negotiated max %d", size, frameMax)
	}

	total := FrameHeaderSize + int(size) + 1
	if len(buf) < total {
		return Frame{}, 0, ErrIncomplete
	}
	if buf[total-1] != FrameEnd {
		return Frame{}, 0, amqpError.Hard(amqpError.FrameError, "invalid frame-end octet 0x%02x", buf[total-1])
	}

	f := Frame{
		Type:    buf[0],
		Channel: binary.BigEndian.Uint16(buf[1:3]),
		Payload: buf[FrameHeaderSize : total-1 : total-1],
	}
	return f, total, nil
}

// Append encodes f onto dst. The size field always comes from len(f.Payload).
func Append(dst []byte, f Frame) []byte {
	var hdr [FrameHeaderSize]byte
	hdr[0] = f.Type
	binary.BigEndian.PutUint16(hdr[1:3], f.Channel)
	binary.BigEndian.PutUint32(hdr[3:7], uint32(len(f.Payload)))
	dst = append(dst, hdr[:]...)
	dst = append(dst, f.Payload...)
	return append(dst, FrameEnd)
}

// Encode returns the wire form of f.
func Encode(f Frame) []byte {
	return Append(make([]byte, 0, len(f.Payload)+FrameOverhead), f)
}

// Reader pulls frames off a byte stream, feeding Decode from a growing buffer.
type Reader struct {
	r        io.Reader
	buf      []byte
	start    int
	end      int
	FrameMax uint32
}

// NewReader wraps r. frameMax may be changed later through the field.
func NewReader(r io.Reader, frameMax uint32) *Reader {
	return &Reader{r: r, buf: make([]byte, 64*1024), FrameMax: frameMax}
}

// ReadFrame blocks until a whole frame is available. The returned payload is
// only valid until the next call.
func (fr *Reader) ReadFrame() (Frame, error) {
	for {
		f, n, err := Decode(fr.buf[fr.start:fr.end], fr.FrameMax)
		if err == nil {
			fr.start += n
			return f, nil
		}
		if !errors.Is(err, ErrIncomplete) {
			return Frame{}, err
		}
		if err := fr.fill(); err != nil {
			return Frame{}, err
		}
	}
}

// ReadProtocolHeader consumes the 8 byte greeting.
func (fr *Reader) ReadProtocolHeader() ([]byte, error) {
	for fr.end-fr.start < len(ProtocolHeader) {
		if err := fr.fill(); err != nil {
			return nil, err
		}
	}
	hdr := append([]byte(nil), fr.buf[fr.start:fr.start+len(ProtocolHeader)]...)
	fr.start += len(ProtocolHeader)
	return hdr, nil
}

func (fr *Reader) fill() error {
	if fr.start > 0 {
		n := copy(fr.buf, fr.buf[fr.start:fr.end])
		fr.start, fr.end = 0, n
	}
	if fr.end == len(fr.buf) {
		// the pending frame is larger than the buffer
		grown := make([]byte, 2*len(fr.buf))
		copy(grown, fr.buf[:fr.end])
		fr.buf = grown
	}
	n, err := fr.r.Read(fr.buf[fr.end:])
	fr.end += n
	if n > 0 {
		return nil
	}
	if err == nil {
		err = io.ErrNoProgress
	}
	return err
}

// CheckProtocolHeader validates a client greeting.
func CheckProtocolHeader(hdr []byte) error {
	if !bytes.Equal(hdr, ProtocolHeader) {
		return fmt.Errorf("unsupported protocol header %q", hdr)
	}
	return nil
}

// WriteFrames writes frames to w as one unit and flushes it.
func WriteFrames(w *bufio.Writer, frames ...Frame) error {
	for _, f := range frames {
		var hdr [FrameHeaderSize]byte
		hdr[0] = f.Type
		binary.BigEndian.PutUint16(hdr[1:3], f.Channel)
		binary.BigEndian.PutUint32(hdr[3:7], uint32(len(f.Payload)))
		if _, err := w.Write(hdr[:]); err != nil {
			return fmt.Errorf("writing frame header: %w", err)
		}
		if _, err := w.Write(f.Payload); err != nil {
			return fmt.Errorf("writing frame payload: %w", err)
		}
		if err := w.WriteByte(FrameEnd); err != nil {
			return fmt.Errorf("writing frame end: %w", err)
		}
	}
	return w.Flush()
}

// FrameTypeName names a frame type for logs.
func FrameTypeName(frameType byte) string {
	switch frameType {
	case FrameMethod:
		return "METHOD"
	case FrameHeader:
		return "HEADER"
	case FrameBody:
		return "BODY"
	case FrameHeartbeat:
		return "HEARTBEAT"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", frameType)
	}
}
