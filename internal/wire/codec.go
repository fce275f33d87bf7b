package wire

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ArgReader decodes method arguments from a payload. The first failure
// sticks: later reads return zero values and Err reports the failure.
type ArgReader struct {
	buf  []byte
	off  int
	err  error
	bits byte
	nbit int
}

// NewArgReader reads from b.
func NewArgReader(b []byte) *ArgReader {
	return &ArgReader{buf: b}
}

// Err returns the first decoding failure.
func (r *ArgReader) Err() error { return r.err }

// Len reports the number of unread bytes.
func (r *ArgReader) Len() int { return len(r.buf) - r.off }

// Rest returns the unread bytes without consuming them.
func (r *ArgReader) Rest() []byte { return r.buf[r.off:] }

func (r *ArgReader) take(n int, what string) []byte {
	r.nbit = 0
	if r.err != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.buf) {
		r.err = fmt.Errorf("truncated %s: need %d bytes, have %d", what, n, len(r.buf)-r.off)
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *ArgReader) Octet() uint8 {
	if b := r.take(1, "octet"); b != nil {
		return b[0]
	}
	return 0
}

func (r *ArgReader) Short() uint16 {
	if b := r.take(2, "short"); b != nil {
		return binary.BigEndian.Uint16(b)
	}
	return 0
}

func (r *ArgReader) Long() uint32 {
	if b := r.take(4, "long"); b != nil {
		return binary.BigEndian.Uint32(b)
	}
	return 0
}

func (r *ArgReader) LongLong() uint64 {
	if b := r.take(8, "long-long"); b != nil {
		return binary.BigEndian.Uint64(b)
	}
	return 0
}

// Bit reads the next packed boolean. Consecutive bits share an octet,
// least significant bit first; any other read starts a new octet.
func (r *ArgReader) Bit() bool {
	if r.nbit == 0 || r.nbit == 8 {
		b := r.take(1, "bit octet")
		if b == nil {
			return false
		}
		r.bits = b[0]
		r.nbit = 0
	}
	v := r.bits&(1<<r.nbit) != 0
	r.nbit++
	return v
}

func (r *ArgReader) ShortStr() string {
	n := int(r.Octet())
	return string(r.take(n, "short string"))
}

func (r *ArgReader) LongStr() []byte {
	n := r.Long()
	if n > math.MaxInt32 {
		r.fail("long string length %d out of range", n)
		return nil
	}
	b := r.take(int(n), "long string")
	if r.err != nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (r *ArgReader) Table() Table {
	n := r.Long()
	raw := r.take(int(n), "field table")
	if r.err != nil {
		return nil
	}
	t, err := decodeTable(raw)
	if err != nil {
		r.err = err
		return nil
	}
	return t
}

func (r *ArgReader) fail(format string, a ...any) {
	if r.err == nil {
		r.err = fmt.Errorf(format, a...)
	}
}

// ArgWriter encodes method arguments.
type ArgWriter struct {
	buf  []byte
	bitp int // index of the octet holding pending bits, -1 when none
	nbit int
	err  error
}

// NewArgWriter starts an empty payload.
func NewArgWriter() *ArgWriter {
	return &ArgWriter{buf: make([]byte, 0, 64), bitp: -1}
}

// Bytes returns the encoded payload.
func (w *ArgWriter) Bytes() []byte { return w.buf }

// Err returns the first encoding failure.
func (w *ArgWriter) Err() error { return w.err }

func (w *ArgWriter) endBits() {
	w.bitp = -1
	w.nbit = 0
}

func (w *ArgWriter) Octet(v uint8) {
	w.endBits()
	w.buf = append(w.buf, v)
}

func (w *ArgWriter) Short(v uint16) {
	w.endBits()
	w.buf = binary.BigEndian.AppendUint16(w.buf, v)
}

func (w *ArgWriter) Long(v uint32) {
	w.endBits()
	w.buf = binary.BigEndian.AppendUint32(w.buf, v)
}

func (w *ArgWriter) LongLong(v uint64) {
	w.endBits()
	w.buf = binary.BigEndian.AppendUint64(w.buf, v)
}

// Bit packs a boolean into the current bit octet, starting a new one after 8.
func (w *ArgWriter) Bit(v bool) {
	if w.bitp < 0 || w.nbit == 8 {
		w.buf = append(w.buf, 0)
		w.bitp = len(w.buf) - 1
		w.nbit = 0
	}
	if v {
		w.buf[w.bitp] |= 1 << w.nbit
	}
	w.nbit++
}

func (w *ArgWriter) ShortStr(s string) {
	w.endBits()
	if len(s) > math.MaxUint8 {
		if w.err == nil {
			w.err = fmt.Errorf("short string too long: %d bytes", len(s))
		}
		s = s[:math.MaxUint8]
	}
	w.buf = append(w.buf, byte(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *ArgWriter) LongStr(b []byte) {
	w.endBits()
	w.buf = binary.BigEndian.AppendUint32(w.buf, uint32(len(b)))
	w.buf = append(w.buf, b...)
}

func (w *ArgWriter) Table(t Table) {
	w.endBits()
	var err error
	w.buf, err = appendTable(w.buf, t)
	if err != nil && w.err == nil {
		w.err = err
	}
}

// Array reads a field array.
func (r *ArgReader) Array() []any {
	v, err := readFieldValue(r, 'A')
	if err != nil {
		r.fail("%w", err)
		return nil
	}
	arr, _ := v.([]any)
	return arr
}

func (w *ArgWriter) Array(items []any) {
	w.endBits()
	enc, err := appendFieldValue(nil, items)
	if err != nil {
		if w.err == nil {
			w.err = err
		}
		return
	}
	w.buf = append(w.buf, enc[1:]...)
}
