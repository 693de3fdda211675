package table

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

type encoded struct {
	Columns []string        `json:"columns"`
	Rows    [][]interface{} `json:"rows"`
}

// Encode serialises a table so that Decode restores the same cell types.
// Floats always carry a decimal point, so 1.0 does not come back as an integer.
func Encode(t *Table) ([]byte, error) {
	enc := encoded{Columns: t.Columns(), Rows: make([][]interface{}, len(t.rows))}
	for i, row := range t.rows {
		out := make([]interface{}, len(row))
		for j, v := range row {
			out[j] = tagFloats(v)
		}
		enc.Rows[i] = out
	}
	return json.Marshal(enc)
}

// Decode is the inverse of Encode
func Decode(data []byte) (*Table, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var enc encoded
	if err := dec.Decode(&enc); err != nil {
		return nil, fmt.Errorf("decode table: %w", err)
	}

	t := New(enc.Columns...)
	for _, row := range enc.Rows {
		values := make([]interface{}, len(row))
		for j, v := range row {
			values[j] = FromJSON(v)
		}
		if err := t.Append(values...); err != nil {
			return nil, fmt.Errorf("decode table: %w", err)
		}
	}
	return t, nil
}

// FromJSON converts a value decoded with UseNumber into cell types:
// numbers written without a fraction or exponent become int64, the rest float64.
func FromJSON(v interface{}) interface{} {
	switch val := v.(type) {
	case json.Number:
		s := val.String()
		if !strings.ContainsAny(s, ".eE") {
			if n, err := val.Int64(); err == nil {
				return n
			}
		}
		f, err := val.Float64()
		if err != nil {
			return s
		}
		return f
	case []interface{}:
		for i := range val {
			val[i] = FromJSON(val[i])
		}
		return val
	case map[string]interface{}:
		for k := range val {
			val[k] = FromJSON(val[k])
		}
		return val
	default:
		return v
	}
}

func tagFloats(v interface{}) interface{} {
	switch val := v.(type) {
	case float64:
		s := formatFloat(val)
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		return json.Number(s)
	case float32:
		return tagFloats(float64(val))
	case []interface{}:
		out := make([]interface{}, len(val))
		for i := range val {
			out[i] = tagFloats(val[i])
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k := range val {
			out[k] = tagFloats(val[k])
		}
		return out
	default:
		return v
	}
}
