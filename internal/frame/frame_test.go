package frame

import (
	"errors"
	"math"
	"reflect"
	"testing"
)

func allKindsFrame() DataFrame {
	return DataFrame{
		Headers: []string{"b", "i32", "i64", "f32", "f64", "s", "empty"},
		Columns: []Series{
			{BoolValues: &BoolSeries{Data: []bool{true, false}}},
			{Int32Values: &Int32Series{Data: []int32{-7, math.MaxInt32}}},
			{Int64Values: &Int64Series{Data: []int64{math.MinInt64, 42}}},
			{Float32Values: &Float32Series{Data: []float32{1.5, -0.25}}},
			{Float64Values: &Float64Series{Data: []float64{math.Pi, 1e-300}}},
			{StringValues: &StringSeries{Data: []string{"", "héllo"}}},
			{Int64Values: &Int64Series{Data: []int64{}}},
		},
		Comment: "players",
	}
}

func TestTableRoundTripAllKinds(t *testing.T) {
	df := allKindsFrame()
	got := FromTable(df.Table(), df.Comment)
	if !reflect.DeepEqual(got, df) {
		t.Errorf("round trip mismatch:\n got  %+v\n want %+v", got, df)
	}
}

func TestBinaryTableRoundTripAllKinds(t *testing.T) {
	df := allKindsFrame()
	buf := EncodeTable(df.Table())

	tbl, err := DecodeTable(buf)
	if err != nil {
		t.Fatalf("DecodeTable: %v", err)
	}
	got := FromTable(tbl, df.Comment)

	if !reflect.DeepEqual(got.Headers, df.Headers) {
		t.Errorf("headers = %v, want %v", got.Headers, df.Headers)
	}
	for i, col := range got.Columns {
		want := df.Columns[i].Vector()
		have := col.Vector()
		if have.Kind != want.Kind {
			t.Errorf("column %d kind = %s, want %s", i, have.Kind, want.Kind)
			continue
		}
		if have.Len() != want.Len() {
			t.Errorf("column %d len = %d, want %d", i, have.Len(), want.Len())
			continue
		}
		for j := range want.Len() {
			if have.At(j) != want.At(j) {
				t.Errorf("column %d row %d = %v, want %v", i, j, have.At(j), want.At(j))
			}
		}
	}
}

func TestUnknownKindColumnIsSkipped(t *testing.T) {
	df := DataFrame{
		Headers: []string{"id", "mystery"},
		Columns: []Series{
			{Int64Values: &Int64Series{Data: []int64{1, 2}}},
			{},
		},
	}

	tbl := df.Table()
	if tbl[1].Vector.Kind != KindNil {
		t.Fatalf("mystery kind = %s, want nil", tbl[1].Vector.Kind)
	}

	decoded, err := DecodeTable(EncodeTable(tbl))
	if err != nil {
		t.Fatalf("DecodeTable: %v", err)
	}
	rows := decoded.Rows()
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	for i, r := range rows {
		v, _ := r.Get("mystery")
		if !v.IsNil() {
			t.Errorf("row %d mystery = %v, want nil", i, v)
		}
	}

	back := FromTable(decoded, "")
	if back.Columns[1].Kind() != KindNil {
		t.Errorf("wire kind = %s, want nil (absent)", back.Columns[1].Kind())
	}
}

func TestRowsPadUnevenColumns(t *testing.T) {
	df := DataFrame{
		Headers: []string{"a", "b"},
		Columns: []Series{
			{Int32Values: &Int32Series{Data: []int32{1, 2, 3}}},
			{StringValues: &StringSeries{Data: []string{"x"}}},
		},
	}

	rows := df.Rows()
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}
	if v, _ := rows[0].Get("b"); v != String("x") {
		t.Errorf("rows[0].b = %v, want x", v)
	}
	for _, i := range []int{1, 2} {
		if v, _ := rows[i].Get("b"); !v.IsNil() {
			t.Errorf("rows[%d].b = %v, want nil", i, v)
		}
	}
}

func TestFirstRowOfEmptyFrame(t *testing.T) {
	df := DataFrame{
		Headers: []string{"name"},
		Columns: []Series{{StringValues: &StringSeries{}}},
	}
	row := df.FirstRow()
	if len(row) != 1 || row[0].Key != "name" || !row[0].Value.IsNil() {
		t.Errorf("FirstRow = %+v, want [name: nil]", row)
	}
}

func TestRowBinaryRoundTrip(t *testing.T) {
	row := Row{
		{Key: "n", Value: Nil()},
		{Key: "ok", Value: Bool(true)},
		{Key: "age", Value: Int32(31)},
		{Key: "score", Value: Float64(0.5)},
		{Key: "name", Value: String("Tim Duncan")},
	}
	got, err := DecodeRow(EncodeRow(row))
	if err != nil {
		t.Fatalf("DecodeRow: %v", err)
	}
	if !reflect.DeepEqual(got, row) {
		t.Errorf("DecodeRow = %+v, want %+v", got, row)
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		buf  []byte
		fn   func([]byte) error
	}{
		{"truncated row", EncodeRow(Row{{Key: "k", Value: Int64(1)}})[:9], func(b []byte) error { _, err := DecodeRow(b); return err }},
		{"unknown kind", []byte{9}, func(b []byte) error { _, err := DecodeValue(b); return err }},
		{"huge count", []byte{0xff, 0xff, 0xff, 0x7f}, func(b []byte) error { _, err := DecodeStrings(b); return err }},
		{"trailing bytes", append(EncodeValue(Int32(1)), 0), func(b []byte) error { _, err := DecodeValue(b); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(tt.buf); !errors.Is(err, ErrMalformed) {
				t.Errorf("err = %v, want ErrMalformed", err)
			}
		})
	}
}

func TestStringsRoundTrip(t *testing.T) {
	in := []string{"name", "", "age"}
	got, err := DecodeStrings(EncodeStrings(in))
	if err != nil {
		t.Fatalf("DecodeStrings: %v", err)
	}
	if !reflect.DeepEqual(got, in) {
		t.Errorf("DecodeStrings = %v, want %v", got, in)
	}
}

func TestBuilderDefaultsAndKinds(t *testing.T) {
	b, err := NewBuilder("out", Row{
		{Key: "id", Value: Int64(0)},
		{Key: "label", Value: String("none")},
	})
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}

	if err := b.Push(Row{{Key: "id", Value: Int64(7)}}); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := b.Push(Row{{Key: "label", Value: String("x")}, {Key: "id", Value: Int64(8)}}); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := b.Push(Row{{Key: "id", Value: String("bad")}}); !errors.Is(err, ErrKindMismatch) {
		t.Errorf("Push mismatched kind err = %v, want ErrKindMismatch", err)
	}
	if err := b.Push(Row{{Key: "nope", Value: Int64(1)}}); err == nil {
		t.Error("Push unknown column: expected error")
	}

	if b.Len() != 2 {
		t.Errorf("Len = %d, want 2", b.Len())
	}
	df := b.DataFrame()
	if df.Comment != "out" {
		t.Errorf("Comment = %q, want out", df.Comment)
	}
	if got := df.Columns[1].StringValues.Data; !reflect.DeepEqual(got, []string{"none", "x"}) {
		t.Errorf("label column = %v", got)
	}
	if got := df.Columns[0].Int64Values.Data; !reflect.DeepEqual(got, []int64{7, 8}) {
		t.Errorf("id column = %v", got)
	}
}

func TestNewBuilderRejectsNilDefault(t *testing.T) {
	if _, err := NewBuilder("t", Row{{Key: "x"}}); !errors.Is(err, ErrKindMismatch) {
		t.Errorf("err = %v, want ErrKindMismatch", err)
	}
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		kind Kind
		in   string
		want Value
	}{
		{KindNil, "abc", String("abc")},
		{KindInt64, "12", Int64(12)},
		{KindInt32, "3.0", Int32(3)},
		{KindFloat64, "2.5", Float64(2.5)},
		{KindBool, "true", Bool(true)},
	}
	for _, tt := range tests {
		got, err := ParseValue(tt.kind, tt.in)
		if err != nil {
			t.Errorf("ParseValue(%s, %q): %v", tt.kind, tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseValue(%s, %q) = %v, want %v", tt.kind, tt.in, got, tt.want)
		}
	}
	if _, err := ParseValue(KindInt64, "x"); err == nil {
		t.Error("ParseValue(int64, x): expected error")
	}
}
