package frame

import (
	"fmt"
	"strconv"
)

// Kind is the value-kind tag. The numeric values are part of the guest ABI.
type Kind uint8

// Value kinds.
const (
	KindNil Kind = iota
	KindBool
	KindInt32
	KindInt64
	KindFloat32
	KindFloat64
	KindString
)

var kindNames = [...]string{"nil", "bool", "int32", "int64", "float32", "float64", "string"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Valid reports whether k is one of the known kinds (KindNil included).
func (k Kind) Valid() bool {
	return k <= KindString
}

// Numeric reports whether values of kind k support arithmetic merges.
func (k Kind) Numeric() bool {
	switch k {
	case KindInt32, KindInt64, KindFloat32, KindFloat64:
		return true
	}
	return false
}

// Value is a single tagged scalar.
type Value struct {
	Kind Kind
	B    bool
	I32  int32
	I64  int64
	F32  float32
	F64  float64
	S    string
}

// Value constructors, one per kind.
func Nil() Value { return Value{} }
func Bool(v bool) Value { return Value{Kind: KindBool, B: v} }
func Int32(v int32) Value { return Value{Kind: KindInt32, I32: v} }
func Int64(v int64) Value { return Value{Kind: KindInt64, I64: v} }
func Float32(v float32) Value { return Value{Kind: KindFloat32, F32: v} }
func Float64(v float64) Value { return Value{Kind: KindFloat64, F64: v} }
func String(v string) Value { return Value{Kind: KindString, S: v} }
func (v Value) IsNil() bool { return v.Kind == KindNil }

// Text renders the value the way it is stored in the key-value store.
// Nil renders as the empty string.
func (v Value) Text() string {
	switch v.Kind {
	case KindBool:
		return strconv.FormatBool(v.B)
	case KindInt32:
		return strconv.FormatInt(int64(v.I32), 10)
	case KindInt64:
		return strconv.FormatInt(v.I64, 10)
	case KindFloat32:
		return strconv.FormatFloat(float64(v.F32), 'g', -1, 32)
	case KindFloat64:
		return strconv.FormatFloat(v.F64, 'g', -1, 64)
	case KindString:
		return v.S
	}
	return ""
}

func (v Value) String() string {
	if v.Kind == KindNil {
		return "nil"
	}
	return v.Kind.String() + "(" + v.Text() + ")"
}

// ParseValue converts stored text back into a value of the given kind.
// KindNil yields a string value, which is how untyped reads are returned.
func ParseValue(kind Kind, s string) (Value, error) {
	switch kind {
	case KindNil, KindString:
		return String(s), nil
	case KindBool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return Value{}, fmt.Errorf("parse bool %q: %w", s, err)
		}
		return Bool(b), nil
	case KindInt32:
		n, err := parseInt(s, 32)
		if err != nil {
			return Value{}, err
		}
		return Int32(int32(n)), nil
	case KindInt64:
		n, err := parseInt(s, 64)
		if err != nil {
			return Value{}, err
		}
		return Int64(n), nil
	case KindFloat32:
		f, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return Value{}, fmt.Errorf("parse float32 %q: %w", s, err)
		}
		return Float32(float32(f)), nil
	case KindFloat64:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Value{}, fmt.Errorf("parse float64 %q: %w", s, err)
		}
		return Float64(f), nil
	}
	return Value{}, fmt.Errorf("parse value: unknown kind %d", kind)
}

// parseInt accepts integral floats ("3.0") since server-side scripts may
// render sums that way.
func parseInt(s string, bits int) (int64, error) {
	n, err := strconv.ParseInt(s, 10, bits)
	if err == nil {
		return n, nil
	}
	f, ferr := strconv.ParseFloat(s, 64)
	if ferr != nil || f != float64(int64(f)) {
		return 0, fmt.Errorf("parse int%d %q: %w", bits, s, err)
	}
	return int64(f), nil
}

// Item is one keyed value of a Row.
type Item struct {
	Key   string
	Value Value
}

// Row is an ordered list of keyed values.
type Row []Item

// Get returns the value stored under key.
func (r Row) Get(key string) (Value, bool) {
	for _, it := range r {
		if it.Key == key {
			return it.Value, true
		}
	}
	return Value{}, false
}

// Keys returns the item keys in order.
func (r Row) Keys() []string {
	keys := make([]string, len(r))
	for i, it := range r {
		keys[i] = it.Key
	}
	return keys
}
