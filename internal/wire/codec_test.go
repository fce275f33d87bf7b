package wire

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArgs_BitPacking(t *testing.T) {
	w := NewArgWriter()
	w.Bit(true)
	w.Bit(false)
	w.Bit(true)
	w.Short(0x0102)
	w.Bit(true)
	require.NoError(t, w.Err())

	// three bits share one octet, the short flushes them, the last bit opens a new octet
	assert.Equal(t, []byte{0x05, 0x01, 0x02, 0x01}, w.Bytes())

	r := NewArgReader(w.Bytes())
	assert.True(t, r.Bit())
	assert.False(t, r.Bit())
	assert.True(t, r.Bit())
	assert.Equal(t, uint16(0x0102), r.Short())
	assert.True(t, r.Bit())
	require.NoError(t, r.Err())
	assert.Zero(t, r.Len())
}

func TestArgs_NineBitsUseTwoOctets(t *testing.T) {
	w := NewArgWriter()
	for i := 0; i < 9; i++ {
		w.Bit(true)
	}
	assert.Equal(t, []byte{0xFF, 0x01}, w.Bytes())
}

func TestArgs_StickyError(t *testing.T) {
	r := NewArgReader([]byte{0x00})
	assert.Zero(t, r.Short())
	require.Error(t, r.Err())
	first := r.Err()
	assert.Zero(t, r.Octet())
	assert.Equal(t, first, r.Err())
}

func TestArgs_ShortStrTooLong(t *testing.T) {
	w := NewArgWriter()
	w.ShortStr(strings.Repeat("a", 256))
	assert.Error(t, w.Err())

	w = NewArgWriter()
	w.ShortStr(strings.Repeat("a", 255))
	assert.NoError(t, w.Err())
}

func TestTable_AllTypes(t *testing.T) {
	ts := time.Unix(1700000000, 0).UTC()
	in := Table{
		"bool":    true,
		"i8":      int8(-3),
		"u8":      uint8(200),
		"i16":     int16(math.MinInt16),
		"u16":     uint16(math.MaxUint16),
		"i32":     int32(math.MinInt32),
		"u32":     uint32(math.MaxUint32),
		"i64":     int64(math.MaxInt64),
		"f32":     float32(1.5),
		"f64":     float64(-2.25),
		"dec":     Decimal{Scale: 2, Value: 12345},
		"str":     "hello",
		"bytes":   []byte{0, 1, 2},
		"arr":     []any{"a", int32(1), true},
		"time":    ts,
		"nested":  Table{"k": "v"},
		"void":    nil,
		"empty":   "",
		"emptyT":  Table{},
		"emptyAr": []any{},
	}
	enc, err := EncodeTable(in)
	require.NoError(t, err)

	out, err := DecodeTable(enc)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestTable_IntEncodesAsLong(t *testing.T) {
	enc, err := EncodeTable(Table{"n": 7})
	require.NoError(t, err)
	out, err := DecodeTable(enc)
	require.NoError(t, err)
	assert.Equal(t, int64(7), out["n"])
}

func TestTable_Deterministic(t *testing.T) {
	in := Table{"b": "2", "a": "1", "c": "3"}
	first, err := EncodeTable(in)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := EncodeTable(in)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestTable_Errors(t *testing.T) {
	_, err := EncodeTable(Table{"bad": struct{}{}})
	assert.Error(t, err)

	_, err = DecodeTable([]byte{0, 0, 0, 10, 1})
	assert.Error(t, err, "length beyond buffer")

	// key "k", unknown type 'Z'
	_, err = DecodeTable([]byte{0, 0, 0, 3, 1, 'k', 'Z'})
	assert.Error(t, err)
}

func TestArgs_Array(t *testing.T) {
	w := NewArgWriter()
	w.Array([]any{[]byte("x"), "y"})
	require.NoError(t, w.Err())

	r := NewArgReader(w.Bytes())
	arr := r.Array()
	require.NoError(t, r.Err())
	assert.Equal(t, []any{[]byte("x"), "y"}, arr)
}
