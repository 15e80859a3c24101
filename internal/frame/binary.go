package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Binary layout (little endian), shared with guest code:
//
//	string  u32 len, bytes
//	value   u8 kind, payload (bool u8, i32, i64, f32, f64, string; nil: none)
//	row     u32 n, n × (string key, value)
//	vector  u8 kind, u32 n, n × payload
//	table   u32 n, n × (string key, vector)
//	strings u32 n, n × string

// ErrMalformed is returned when a buffer does not hold a valid encoding.
var ErrMalformed = errors.New("malformed columnar buffer")

func appendU32(b []byte, v uint32) []byte { return binary.LittleEndian.AppendUint32(b, v) }

func appendString(b []byte, s string) []byte {
	b = appendU32(b, uint32(len(s)))
	return append(b, s...)
}

// AppendValue appends the encoding of v to b.
func AppendValue(b []byte, v Value) []byte {
	b = append(b, byte(v.Kind))
	return appendPayload(b, v)
}

func appendPayload(b []byte, v Value) []byte {
	switch v.Kind {
	case KindBool:
		if v.B {
			return append(b, 1)
		}
		return append(b, 0)
	case KindInt32:
		return appendU32(b, uint32(v.I32))
	case KindInt64:
		return binary.LittleEndian.AppendUint64(b, uint64(v.I64))
	case KindFloat32:
		return appendU32(b, math.Float32bits(v.F32))
	case KindFloat64:
		return binary.LittleEndian.AppendUint64(b, math.Float64bits(v.F64))
	case KindString:
		return appendString(b, v.S)
	}
	return b
}

// AppendRow appends the encoding of r to b.
func AppendRow(b []byte, r Row) []byte {
	b = appendU32(b, uint32(len(r)))
	for _, it := range r {
		b = appendString(b, it.Key)
		b = AppendValue(b, it.Value)
	}
	return b
}

// AppendVector appends the encoding of v to b.
func AppendVector(b []byte, v Vector) []byte {
	n := v.Len()
	b = append(b, byte(v.Kind))
	b = appendU32(b, uint32(n))
	for i := range n {
		b = appendPayload(b, v.At(i))
	}
	return b
}

// AppendTable appends the encoding of t to b.
func AppendTable(b []byte, t Table) []byte {
	b = appendU32(b, uint32(len(t)))
	for _, c := range t {
		b = appendString(b, c.Key)
		b = AppendVector(b, c.Vector)
	}
	return b
}

// AppendStrings appends the encoding of a string list to b.
func AppendStrings(b []byte, ss []string) []byte {
	b = appendU32(b, uint32(len(ss)))
	for _, s := range ss {
		b = appendString(b, s)
	}
	return b
}

// Encode helpers allocate a fresh buffer.
func EncodeValue(v Value) []byte { return AppendValue(nil, v) }
func EncodeRow(r Row) []byte { return AppendRow(nil, r) }
func EncodeVector(v Vector) []byte { return AppendVector(nil, v) }
func EncodeTable(t Table) []byte { return AppendTable(nil, t) }
func EncodeStrings(ss []string) []byte { return AppendStrings(nil, ss) }

type decoder struct {
	buf []byte
	off int
	err error
}

func (d *decoder) fail(format string, args ...any) {
	if d.err == nil {
		d.err = fmt.Errorf("%w: "+format, append([]any{ErrMalformed}, args...)...)
	}
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || len(d.buf)-d.off < n {
		d.fail("need %d bytes at offset %d, have %d", n, d.off, len(d.buf)-d.off)
		return nil
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b
}

func (d *decoder) u8() byte {
	b := d.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (d *decoder) u32() uint32 {
	b := d.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (d *decoder) u64() uint64 {
	b := d.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

// count reads an element count and rejects counts that cannot fit in the
// remaining bytes given a minimum element size.
func (d *decoder) count(minSize int) int {
	n := int(d.u32())
	if d.err == nil && minSize > 0 && n > (len(d.buf)-d.off)/minSize {
		d.fail("count %d exceeds remaining %d bytes", n, len(d.buf)-d.off)
		return 0
	}
	return n
}

func (d *decoder) string() string {
	n := int(d.u32())
	return string(d.take(n))
}

func (d *decoder) kind() Kind {
	k := Kind(d.u8())
	if d.err == nil && !k.Valid() {
		d.fail("unknown kind %d", k)
	}
	return k
}

func (d *decoder) payload(k Kind) Value {
	switch k {
	case KindBool:
		return Bool(d.u8() != 0)
	case KindInt32:
		return Int32(int32(d.u32()))
	case KindInt64:
		return Int64(int64(d.u64()))
	case KindFloat32:
		return Float32(math.Float32frombits(d.u32()))
	case KindFloat64:
		return Float64(math.Float64frombits(d.u64()))
	case KindString:
		return String(d.string())
	}
	return Nil()
}

func (d *decoder) value() Value {
	return d.payload(d.kind())
}

func (d *decoder) row() Row {
	n := d.count(5)
	row := make(Row, 0, n)
	for range n {
		key := d.string()
		val := d.value()
		if d.err != nil {
			return nil
		}
		row = append(row, Item{Key: key, Value: val})
	}
	return row
}

func (d *decoder) vector() Vector {
	k := d.kind()
	size := 1
	switch k {
	case KindInt32, KindFloat32, KindString:
		size = 4
	case KindInt64, KindFloat64:
		size = 8
	}
	n := d.count(size)
	v := Vector{Kind: k}
	if k == KindNil {
		return v
	}
	for range n {
		val := d.payload(k)
		if d.err != nil {
			return Vector{}
		}
		_ = v.Append(val)
	}
	return v
}

func (d *decoder) table() Table {
	n := d.count(9)
	t := make(Table, 0, n)
	for range n {
		key := d.string()
		vec := d.vector()
		if d.err != nil {
			return nil
		}
		t = append(t, Column{Key: key, Vector: vec})
	}
	return t
}

func (d *decoder) strings() []string {
	n := d.count(4)
	ss := make([]string, 0, n)
	for range n {
		s := d.string()
		if d.err != nil {
			return nil
		}
		ss = append(ss, s)
	}
	return ss
}

func decode[T any](b []byte, fn func(*decoder) T) (T, error) {
	d := &decoder{buf: b}
	v := fn(d)
	if d.err == nil && d.off != len(b) {
		d.fail("%d trailing bytes", len(b)-d.off)
	}
	if d.err != nil {
		var zero T
		return zero, d.err
	}
	return v, nil
}

// DecodeValue decodes a single tagged value.
func DecodeValue(b []byte) (Value, error) { return decode(b, (*decoder).value) }

// DecodeRow decodes a row.
func DecodeRow(b []byte) (Row, error) { return decode(b, (*decoder).row) }

// DecodeVector decodes a typed vector. A KindNil vector decodes as an empty
// vector whatever its count.
func DecodeVector(b []byte) (Vector, error) { return decode(b, (*decoder).vector) }

// DecodeTable decodes a table.
func DecodeTable(b []byte) (Table, error) { return decode(b, (*decoder).table) }

// DecodeStrings decodes a string list.
func DecodeStrings(b []byte) ([]string, error) { return decode(b, (*decoder).strings) }
