package frame

import (
	"errors"
	"fmt"
)

// ErrKindMismatch is returned when a value does not match its column kind.
var ErrKindMismatch = errors.New("value kind mismatch")

// Vector is a typed column of values. Only the slice matching Kind is used.
type Vector struct {
	Kind  Kind
	Bools []bool
	I32s  []int32
	I64s  []int64
	F32s  []float32
	F64s  []float64
	Strs  []string
}

// Len returns the number of values.
func (v Vector) Len() int {
	switch v.Kind {
	case KindBool:
		return len(v.Bools)
	case KindInt32:
		return len(v.I32s)
	case KindInt64:
		return len(v.I64s)
	case KindFloat32:
		return len(v.F32s)
	case KindFloat64:
		return len(v.F64s)
	case KindString:
		return len(v.Strs)
	}
	return 0
}

// At returns the i-th value, or Nil when i is past the end.
func (v Vector) At(i int) Value {
	if i < 0 || i >= v.Len() {
		return Nil()
	}
	switch v.Kind {
	case KindBool:
		return Bool(v.Bools[i])
	case KindInt32:
		return Int32(v.I32s[i])
	case KindInt64:
		return Int64(v.I64s[i])
	case KindFloat32:
		return Float32(v.F32s[i])
	case KindFloat64:
		return Float64(v.F64s[i])
	case KindString:
		return String(v.Strs[i])
	}
	return Nil()
}

// Append adds val to the vector. An empty KindNil vector adopts the kind of
// the first appended value.
func (v *Vector) Append(val Value) error {
	if v.Kind == KindNil {
		v.Kind = val.Kind
	}
	if val.Kind != v.Kind {
		return fmt.Errorf("append %s to %s column: %w", val.Kind, v.Kind, ErrKindMismatch)
	}
	switch val.Kind {
	case KindBool:
		v.Bools = append(v.Bools, val.B)
	case KindInt32:
		v.I32s = append(v.I32s, val.I32)
	case KindInt64:
		v.I64s = append(v.I64s, val.I64)
	case KindFloat32:
		v.F32s = append(v.F32s, val.F32)
	case KindFloat64:
		v.F64s = append(v.F64s, val.F64)
	case KindString:
		v.Strs = append(v.Strs, val.S)
	default:
		return fmt.Errorf("append nil value: %w", ErrKindMismatch)
	}
	return nil
}

// Extend appends every value of o, which must have the same kind.
func (v *Vector) Extend(o Vector) error {
	if v.Kind == KindNil && v.Len() == 0 {
		v.Kind = o.Kind
	}
	if o.Kind != v.Kind {
		return fmt.Errorf("extend %s column with %s: %w", v.Kind, o.Kind, ErrKindMismatch)
	}
	switch o.Kind {
	case KindBool:
		v.Bools = append(v.Bools, o.Bools...)
	case KindInt32:
		v.I32s = append(v.I32s, o.I32s...)
	case KindInt64:
		v.I64s = append(v.I64s, o.I64s...)
	case KindFloat32:
		v.F32s = append(v.F32s, o.F32s...)
	case KindFloat64:
		v.F64s = append(v.F64s, o.F64s...)
	case KindString:
		v.Strs = append(v.Strs, o.Strs...)
	}
	return nil
}

// Column is a keyed Vector.
type Column struct {
	Key    string
	Vector Vector
}

// Table is an ordered list of columns.
type Table []Column

// Height returns the length of the longest column.
func (t Table) Height() int {
	h := 0
	for _, c := range t {
		h = max(h, c.Vector.Len())
	}
	return h
}

// Rows materializes the table row by row, padding short columns with Nil.
func (t Table) Rows() []Row {
	h := t.Height()
	rows := make([]Row, h)
	for i := range h {
		row := make(Row, len(t))
		for j, c := range t {
			row[j] = Item{Key: c.Key, Value: c.Vector.At(i)}
		}
		rows[i] = row
	}
	return rows
}

// Builder accumulates rows into a named output table. Every column is typed
// by the default row given at construction; pushed rows may omit keys, which
// then take their default value.
type Builder struct {
	name     string
	defaults Row
	columns  Table
	rows     int
}

// NewBuilder creates a Builder for the named table. Nil defaults are not
// allowed since they would leave the column untyped.
func NewBuilder(name string, defaults Row) (*Builder, error) {
	cols := make(Table, len(defaults))
	seen := make(map[string]bool, len(defaults))
	for i, it := range defaults {
		if it.Value.IsNil() {
			return nil, fmt.Errorf("column %q: default value is nil: %w", it.Key, ErrKindMismatch)
		}
		if seen[it.Key] {
			return nil, fmt.Errorf("column %q declared twice", it.Key)
		}
		seen[it.Key] = true
		cols[i] = Column{Key: it.Key, Vector: Vector{Kind: it.Value.Kind}}
	}
	return &Builder{name: name, defaults: defaults, columns: cols}, nil
}

// Name returns the table label.
func (b *Builder) Name() string { return b.name }

// Len returns the number of pushed rows.
func (b *Builder) Len() int { return b.rows }

// Push appends one row. Keys not declared in the defaults are rejected and
// the table is left unchanged on error.
func (b *Builder) Push(row Row) error {
	vals := make([]Value, len(b.columns))
	for i, it := range b.defaults {
		vals[i] = it.Value
	}
	for _, it := range row {
		idx := -1
		for i, c := range b.columns {
			if c.Key == it.Key {
				idx = i
				break
			}
		}
		if idx < 0 {
			return fmt.Errorf("table %q has no column %q", b.name, it.Key)
		}
		if it.Value.IsNil() {
			continue
		}
		if it.Value.Kind != b.columns[idx].Vector.Kind {
			return fmt.Errorf("column %q: %s value for %s column: %w",
				it.Key, it.Value.Kind, b.columns[idx].Vector.Kind, ErrKindMismatch)
		}
		vals[idx] = it.Value
	}
	for i := range b.columns {
		// Kinds were checked above, Append cannot fail.
		_ = b.columns[i].Vector.Append(vals[i])
	}
	b.rows++
	return nil
}

// DataFrame returns the accumulated rows in wire form, labeled with the
// table name.
func (b *Builder) DataFrame() DataFrame {
	return FromTable(b.columns, b.name)
}
