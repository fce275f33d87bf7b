package wire

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"time"
)

// Table is an AMQP field table. Values use these Go types:
//
//	t bool, b int8, B uint8, s int16, u uint16, I int32, i uint32, l int64,
//	f float32, d float64, D Decimal, S string, x []byte, A []any,
//	T time.Time, F Table, V nil
type Table map[string]any

// Decimal is the AMQP decimal-value: Value scaled down by 10^Scale.
type Decimal struct {
	Scale uint8
	Value int32
}

func decodeTable(raw []byte) (Table, error) {
	t := make(Table)
	r := NewArgReader(raw)
	for r.Len() > 0 {
		key := r.ShortStr()
		typ := r.Octet()
		if r.err != nil {
			return nil, fmt.Errorf("malformed table: %w", r.err)
		}
		v, err := readFieldValue(r, typ)
		if err != nil {
			return nil, fmt.Errorf("reading value for key '%s' (type %c): %w", key, typ, err)
		}
		t[key] = v
	}
	return t, nil
}

func readFieldValue(r *ArgReader, typ byte) (any, error) {
	var v any
	switch typ {
	case 't':
		v = r.Octet() != 0
	case 'b':
		v = int8(r.Octet())
	case 'B':
		v = r.Octet()
	case 's':
		v = int16(r.Short())
	case 'u':
		v = r.Short()
	case 'I':
		v = int32(r.Long())
	case 'i':
		v = r.Long()
	case 'l':
		v = int64(r.LongLong())
	case 'f':
		v = math.Float32frombits(r.Long())
	case 'd':
		v = math.Float64frombits(r.LongLong())
	case 'D':
		scale := r.Octet()
		v = Decimal{Scale: scale, Value: int32(r.Long())}
	case 'S':
		v = string(r.LongStr())
	case 'x':
		v = r.LongStr()
	case 'A':
		raw := r.take(int(r.Long()), "field array")
		if r.err != nil {
			break
		}
		arr := make([]any, 0)
		ar := NewArgReader(raw)
		for ar.Len() > 0 {
			elemType := ar.Octet()
			if ar.err != nil {
				return nil, ar.err
			}
			elem, err := readFieldValue(ar, elemType)
			if err != nil {
				return nil, fmt.Errorf("reading value in field array (type %c): %w", elemType, err)
			}
			arr = append(arr, elem)
		}
		v = arr
	case 'T':
		v = time.Unix(int64(r.LongLong()), 0).UTC()
	case 'F':
		v = r.Table()
	case 'V':
		v = nil
	default:
		return nil, fmt.Errorf("unsupported field table value type: %c (%d)", typ, typ)
	}
	if r.err != nil {
		return nil, r.err
	}
	return v, nil
}

// appendTable writes the table with its length prefix. Keys are sorted so the
// encoding is deterministic.
func appendTable(dst []byte, t Table) ([]byte, error) {
	lenAt := len(dst)
	dst = append(dst, 0, 0, 0, 0)

	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var err error
	for _, k := range keys {
		if len(k) > math.MaxUint8 {
			return dst, fmt.Errorf("table key too long: %d bytes", len(k))
		}
		dst = append(dst, byte(len(k)))
		dst = append(dst, k...)
		if dst, err = appendFieldValue(dst, t[k]); err != nil {
			return dst, fmt.Errorf("serializing value for key '%s' (type %T): %w", k, t[k], err)
		}
	}
	binary.BigEndian.PutUint32(dst[lenAt:], uint32(len(dst)-lenAt-4))
	return dst, nil
}

func appendFieldValue(dst []byte, value any) ([]byte, error) {
	switch v := value.(type) {
	case bool:
		b := byte(0)
		if v {
			b = 1
		}
		dst = append(dst, 't', b)
	case int8:
		dst = append(dst, 'b', byte(v))
	case uint8:
		dst = append(dst, 'B', v)
	case int16:
		dst = binary.BigEndian.AppendUint16(append(dst, 's'), uint16(v))
	case uint16:
		dst = binary.BigEndian.AppendUint16(append(dst, 'u'), v)
	case int32:
		dst = binary.BigEndian.AppendUint32(append(dst, 'I'), uint32(v))
	case uint32:
		dst = binary.BigEndian.AppendUint32(append(dst, 'i'), v)
	case int:
		dst = binary.BigEndian.AppendUint64(append(dst, 'l'), uint64(v))
	case int64:
		dst = binary.BigEndian.AppendUint64(append(dst, 'l'), uint64(v))
	case float32:
		dst = binary.BigEndian.AppendUint32(append(dst, 'f'), math.Float32bits(v))
	case float64:
		dst = binary.BigEndian.AppendUint64(append(dst, 'd'), math.Float64bits(v))
	case Decimal:
		dst = append(dst, 'D', v.Scale)
		dst = binary.BigEndian.AppendUint32(dst, uint32(v.Value))
	case string:
		dst = binary.BigEndian.AppendUint32(append(dst, 'S'), uint32(len(v)))
		dst = append(dst, v...)
	case []byte:
		dst = binary.BigEndian.AppendUint32(append(dst, 'x'), uint32(len(v)))
		dst = append(dst, v...)
	case []any:
		dst = append(dst, 'A')
		lenAt := len(dst)
		dst = append(dst, 0, 0, 0, 0)
		for _, item := range v {
			var err error
			if dst, err = appendFieldValue(dst, item); err != nil {
				return dst, fmt.Errorf("writing item of type %T in field array: %w", item, err)
			}
		}
		binary.BigEndian.PutUint32(dst[lenAt:], uint32(len(dst)-lenAt-4))
	case time.Time:
		dst = binary.BigEndian.AppendUint64(append(dst, 'T'), uint64(v.Unix()))
	case Table:
		return appendTable(append(dst, 'F'), v)
	case map[string]any:
		return appendTable(append(dst, 'F'), Table(v))
	case nil:
		dst = append(dst, 'V')
	default:
		return dst, fmt.Errorf("unsupported type for field table serialization: %T", v)
	}
	return dst, nil
}

// EncodeTable returns the length-prefixed encoding of t.
func EncodeTable(t Table) ([]byte, error) {
	return appendTable(nil, t)
}

// DecodeTable parses a length-prefixed table.
func DecodeTable(b []byte) (Table, error) {
	r := NewArgReader(b)
	t := r.Table()
	return t, r.Err()
}
