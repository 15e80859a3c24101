package frame

import (
	"fmt"
	"math"
	"strconv"

	"github.com/bytedance/sonic"
)

// Float series encode NaN and the infinities as the strings "NaN",
// "Infinity" and "-Infinity", which plain JSON numbers cannot carry.

func (s Float32Series) MarshalJSON() ([]byte, error) {
	b := append(make([]byte, 0, 10+len(s.Data)*12), `{"data":[`...)
	for i, f := range s.Data {
		if i > 0 {
			b = append(b, ',')
		}
		b = appendFloat(b, float64(f), 32)
	}
	return append(b, "]}"...), nil
}

func (s *Float32Series) UnmarshalJSON(data []byte) error {
	var raw struct {
		Data []jsonFloat `json:"data"`
	}
	if err := sonic.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.Data = make([]float32, len(raw.Data))
	for i, f := range raw.Data {
		s.Data[i] = float32(f)
	}
	return nil
}

func (s Float64Series) MarshalJSON() ([]byte, error) {
	b := append(make([]byte, 0, 10+len(s.Data)*20), `{"data":[`...)
	for i, f := range s.Data {
		if i > 0 {
			b = append(b, ',')
		}
		b = appendFloat(b, f, 64)
	}
	return append(b, "]}"...), nil
}

func (s *Float64Series) UnmarshalJSON(data []byte) error {
	var raw struct {
		Data []jsonFloat `json:"data"`
	}
	if err := sonic.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.Data = make([]float64, len(raw.Data))
	for i, f := range raw.Data {
		s.Data[i] = float64(f)
	}
	return nil
}

func appendFloat(b []byte, f float64, bits int) []byte {
	switch {
	case math.IsNaN(f):
		return append(b, `"NaN"`...)
	case math.IsInf(f, 1):
		return append(b, `"Infinity"`...)
	case math.IsInf(f, -1):
		return append(b, `"-Infinity"`...)
	}
	return strconv.AppendFloat(b, f, 'g', -1, bits)
}

// jsonFloat accepts a JSON number or one of the non-finite string forms.
type jsonFloat float64

func (f *jsonFloat) UnmarshalJSON(data []byte) error {
	s := string(data)
	switch s {
	case `"NaN"`:
		*f = jsonFloat(math.NaN())
		return nil
	case `"Infinity"`:
		*f = jsonFloat(math.Inf(1))
		return nil
	case `"-Infinity"`:
		*f = jsonFloat(math.Inf(-1))
		return nil
	}
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid float %s", data)
	}
	*f = jsonFloat(v)
	return nil
}
