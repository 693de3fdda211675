package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ha1tch/otkg/pkg/mapping"
	"github.com/ha1tch/otkg/pkg/table"
)

// Record is one decoded source line. Numbers keep their integer or float
// nature and top-level keys keep their raw encoding, so object key order can
// still be recovered.
type Record struct {
	fields map[string]interface{}
	raw    map[string]json.RawMessage
}

// DecodeRecord parses one JSON object line
func DecodeRecord(line []byte) (*Record, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(line, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("line is not a JSON object")
	}

	fields := make(map[string]interface{}, len(raw))
	for k, msg := range raw {
		dec := json.NewDecoder(bytes.NewReader(msg))
		dec.UseNumber()
		var v interface{}
		if err := dec.Decode(&v); err != nil {
			return nil, fmt.Errorf("key %s: %w", k, err)
		}
		fields[k] = table.FromJSON(v)
	}
	return &Record{fields: fields, raw: raw}, nil
}

// Map exposes the decoded top-level fields
func (r *Record) Map() map[string]interface{} {
	return r.fields
}

// Has reports whether a top-level key is present, even if null
func (r *Record) Has(key string) bool {
	_, ok := r.fields[key]
	return ok
}

// Get returns a top-level value as decoded
func (r *Record) Get(key string) (interface{}, bool) {
	v, ok := r.fields[key]
	return v, ok
}

// Lookup resolves a source path. Dotted paths walk nested objects; any
// missing key or non-object step yields the sentinel.
func (r *Record) Lookup(path string) interface{} {
	if !strings.Contains(path, mapping.PathSeparator) {
		v, ok := r.fields[path]
		if !ok {
			return table.Sentinel
		}
		return Normalize(v)
	}

	var cur interface{} = r.fields
	for _, part := range strings.Split(path, mapping.PathSeparator) {
		obj, ok := cur.(map[string]interface{})
		if !ok {
			return table.Sentinel
		}
		cur, ok = obj[part]
		if !ok {
			return table.Sentinel
		}
	}
	return Normalize(cur)
}

// ObjectKeys returns the keys of a top-level object field in document order
func (r *Record) ObjectKeys(key string) []string {
	msg, ok := r.raw[key]
	if !ok {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(msg))
	tok, err := dec.Token()
	if err != nil || tok != json.Delim('{') {
		return nil
	}

	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return keys
		}
		name, ok := tok.(string)
		if !ok {
			return keys
		}
		keys = append(keys, name)

		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return keys
		}
	}
	return keys
}

// Normalize applies the missing-value rule to an extracted value: null and
// "" become the sentinel, an empty list becomes a one-element sentinel list.
func Normalize(v interface{}) interface{} {
	switch val := v.(type) {
	case nil:
		return table.Sentinel
	case string:
		if val == "" {
			return table.Sentinel
		}
		return val
	case []interface{}:
		if len(val) == 0 {
			return []interface{}{table.Sentinel}
		}
		return val
	default:
		return v
	}
}

// SentinelList is the value of an empty list-valued field
func SentinelList() []interface{} {
	return []interface{}{table.Sentinel}
}
