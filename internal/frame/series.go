package frame

// DataFrame is the wire representation of a table: one header per column and
// a free-form comment used as the table label.
type DataFrame struct {
	Headers []string `json:"headers"`
	Columns []Series `json:"columns"`
	Comment string   `json:"comment,omitempty"`
}

// Series is a wire column. At most one of the value fields is set; a Series
// with none set carries no recognized kind.
type Series struct {
	BoolValues    *BoolSeries    `json:"bool_values,omitempty"`
	Int32Values   *Int32Series   `json:"int32_values,omitempty"`
	Int64Values   *Int64Series   `json:"int64_values,omitempty"`
	Float32Values *Float32Series `json:"float32_values,omitempty"`
	Float64Values *Float64Series `json:"float64_values,omitempty"`
	StringValues  *StringSeries  `json:"string_values,omitempty"`
}

type BoolSeries struct {
	Data []bool `json:"data"`
}

type Int32Series struct {
	Data []int32 `json:"data"`
}

type Int64Series struct {
	Data []int64 `json:"data"`
}

type Float32Series struct {
	Data []float32 `json:"data"`
}

type Float64Series struct {
	Data []float64 `json:"data"`
}

type StringSeries struct {
	Data []string `json:"data"`
}

// Kind reports the column kind, KindNil when no value field is set.
func (s Series) Kind() Kind {
	switch {
	case s.BoolValues != nil:
		return KindBool
	case s.Int32Values != nil:
		return KindInt32
	case s.Int64Values != nil:
		return KindInt64
	case s.Float32Values != nil:
		return KindFloat32
	case s.Float64Values != nil:
		return KindFloat64
	case s.StringValues != nil:
		return KindString
	}
	return KindNil
}

// Vector converts the wire column into its in-process form. Data slices are
// shared, not copied.
func (s Series) Vector() Vector {
	switch s.Kind() {
	case KindBool:
		return Vector{Kind: KindBool, Bools: s.BoolValues.Data}
	case KindInt32:
		return Vector{Kind: KindInt32, I32s: s.Int32Values.Data}
	case KindInt64:
		return Vector{Kind: KindInt64, I64s: s.Int64Values.Data}
	case KindFloat32:
		return Vector{Kind: KindFloat32, F32s: s.Float32Values.Data}
	case KindFloat64:
		return Vector{Kind: KindFloat64, F64s: s.Float64Values.Data}
	case KindString:
		return Vector{Kind: KindString, Strs: s.StringValues.Data}
	}
	return Vector{}
}

// SeriesOf converts an in-process column to the wire form. A KindNil vector
// becomes an empty Series.
func SeriesOf(v Vector) Series {
	switch v.Kind {
	case KindBool:
		return Series{BoolValues: &BoolSeries{Data: v.Bools}}
	case KindInt32:
		return Series{Int32Values: &Int32Series{Data: v.I32s}}
	case KindInt64:
		return Series{Int64Values: &Int64Series{Data: v.I64s}}
	case KindFloat32:
		return Series{Float32Values: &Float32Series{Data: v.F32s}}
	case KindFloat64:
		return Series{Float64Values: &Float64Series{Data: v.F64s}}
	case KindString:
		return Series{StringValues: &StringSeries{Data: v.Strs}}
	}
	return Series{}
}

// Table converts the DataFrame to its in-process form. Headers without a
// column (or columns without a header) are dropped, matching a zip.
func (df DataFrame) Table() Table {
	n := min(len(df.Headers), len(df.Columns))
	t := make(Table, n)
	for i := range n {
		t[i] = Column{Key: df.Headers[i], Vector: df.Columns[i].Vector()}
	}
	return t
}

// FromTable builds a wire DataFrame from an in-process table.
func FromTable(t Table, comment string) DataFrame {
	df := DataFrame{
		Headers: make([]string, len(t)),
		Columns: make([]Series, len(t)),
		Comment: comment,
	}
	for i, c := range t {
		df.Headers[i] = c.Key
		df.Columns[i] = SeriesOf(c.Vector)
	}
	return df
}

// Rows materializes the DataFrame row by row. Columns shorter than the
// longest one are padded with Nil, and columns of unknown kind yield Nil.
func (df DataFrame) Rows() []Row {
	return df.Table().Rows()
}

// FirstRow returns the first materialized row. An empty frame yields one
// item per header, each Nil.
func (df DataFrame) FirstRow() Row {
	rows := df.Rows()
	if len(rows) > 0 {
		return rows[0]
	}
	t := df.Table()
	row := make(Row, len(t))
	for i, c := range t {
		row[i] = Item{Key: c.Key}
	}
	return row
}
