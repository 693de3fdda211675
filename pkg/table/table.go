// Package table holds the column-ordered tables that flow between the
// extractors, the assembler and the output sinks.
package table

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Sentinel replaces every missing or empty source value.
const Sentinel = "No record"

// Reserved bulk-loader column names.
const (
	ColID      = ":ID"
	ColStartID = ":START_ID"
	ColEndID   = ":END_ID"
	ColType    = ":TYPE"
	ColLabel   = ":LABEL"
)

// ColScore is the relationship attribute deduplication ranks by.
const ColScore = "score"

// ArrayDelimiter joins list-valued cells when rendered.
const ArrayDelimiter = "|"

// Row is a name-addressed view of one table row.
type Row map[string]interface{}

// Table is an ordered set of named columns over positional rows.
// Cells that were never set hold nil.
type Table struct {
	columns []string
	index   map[string]int
	rows    [][]interface{}
}

// New creates an empty table with the given columns
func New(columns ...string) *Table {
	t := &Table{index: make(map[string]int, len(columns))}
	for _, c := range columns {
		t.AddColumn(c)
	}
	return t
}

// Columns returns a copy of the column names in order
func (t *Table) Columns() []string {
	if t == nil {
		return nil
	}
	out := make([]string, len(t.columns))
	copy(out, t.columns)
	return out
}

// Len returns the number of rows
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.rows)
}

// Empty reports whether the table is nil or has no rows
func (t *Table) Empty() bool {
	return t.Len() == 0
}

// HasColumn reports whether the column exists
func (t *Table) HasColumn(name string) bool {
	if t == nil {
		return false
	}
	_, ok := t.index[name]
	return ok
}

// AddColumn appends a column if it does not exist yet. Existing rows get nil.
func (t *Table) AddColumn(name string) {
	if _, ok := t.index[name]; ok {
		return
	}
	t.index[name] = len(t.columns)
	t.columns = append(t.columns, name)
	for i := range t.rows {
		t.rows[i] = append(t.rows[i], nil)
	}
}

// Append adds a row given positionally, in column order.
func (t *Table) Append(values ...interface{}) error {
	if len(values) != len(t.columns) {
		return fmt.Errorf("row has %d values, table has %d columns", len(values), len(t.columns))
	}
	row := make([]interface{}, len(values))
	copy(row, values)
	t.rows = append(t.rows, row)
	return nil
}

// AppendRow adds a row by column name. Unknown names become new columns.
func (t *Table) AppendRow(r Row) {
	for name := range r {
		if _, ok := t.index[name]; !ok {
			t.AddColumn(name)
		}
	}
	row := make([]interface{}, len(t.columns))
	for name, v := range r {
		row[t.index[name]] = v
	}
	t.rows = append(t.rows, row)
}

// Row returns row i as a map
func (t *Table) Row(i int) Row {
	r := make(Row, len(t.columns))
	for j, c := range t.columns {
		r[c] = t.rows[i][j]
	}
	return r
}

// Values returns row i in column order. The slice must not be modified.
func (t *Table) Values(i int) []interface{} {
	return t.rows[i]
}

// Value returns the cell at row i, column col
func (t *Table) Value(i int, col string) (interface{}, bool) {
	j, ok := t.index[col]
	if !ok {
		return nil, false
	}
	return t.rows[i][j], true
}

// Set overwrites the cell at row i, column col, adding the column if needed
func (t *Table) Set(i int, col string, v interface{}) {
	if _, ok := t.index[col]; !ok {
		t.AddColumn(col)
	}
	t.rows[i][t.index[col]] = v
}

// Text returns the rendered cell at row i, column col
func (t *Table) Text(i int, col string) string {
	v, _ := t.Value(i, col)
	return Render(v)
}

// Project returns a new table with only the named columns, in the given order.
// Names the table does not have are skipped.
func (t *Table) Project(cols ...string) *Table {
	kept := make([]string, 0, len(cols))
	for _, c := range cols {
		if t.HasColumn(c) {
			kept = append(kept, c)
		}
	}
	out := New(kept...)
	for i := range t.rows {
		row := make([]interface{}, len(kept))
		for j, c := range kept {
			row[j] = t.rows[i][t.index[c]]
		}
		out.rows = append(out.rows, row)
	}
	return out
}

// Without returns a copy of the table minus the named columns
func (t *Table) Without(cols ...string) *Table {
	drop := make(map[string]bool, len(cols))
	for _, c := range cols {
		drop[c] = true
	}
	kept := make([]string, 0, len(t.columns))
	for _, c := range t.columns {
		if !drop[c] {
			kept = append(kept, c)
		}
	}
	return t.Project(kept...)
}

// Filter returns a new table with the rows for which keep returns true
func (t *Table) Filter(keep func(i int) bool) *Table {
	out := New(t.columns...)
	for i := range t.rows {
		if keep(i) {
			out.rows = append(out.rows, append([]interface{}(nil), t.rows[i]...))
		}
	}
	return out
}

// Concat stacks tables vertically. Columns are the union in order of first
// appearance; cells of columns a table lacks are nil. Nil or empty inputs are skipped.
func Concat(tables ...*Table) *Table {
	out := New()
	for _, t := range tables {
		if t.Empty() {
			continue
		}
		for _, c := range t.columns {
			out.AddColumn(c)
		}
	}
	for _, t := range tables {
		if t.Empty() {
			continue
		}
		for i := range t.rows {
			row := make([]interface{}, len(out.columns))
			for j, c := range t.columns {
				row[out.index[c]] = t.rows[i][j]
			}
			out.rows = append(out.rows, row)
		}
	}
	return out
}

// Render formats a cell for a delimited output file. Lists are joined with
// ArrayDelimiter, nested objects become JSON and nil becomes the empty string.
func Render(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return formatFloat(val)
	case float32:
		return formatFloat(float64(val))
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		return strconv.FormatBool(val)
	case []string:
		return strings.Join(val, ArrayDelimiter)
	case []interface{}:
		parts := make([]string, len(val))
		for i, e := range val {
			parts[i] = Render(e)
		}
		return strings.Join(parts, ArrayDelimiter)
	case map[string]interface{}:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	default:
		return fmt.Sprint(val)
	}
}

// Integral floats keep one decimal so scores read 1.0 rather than 1.
func formatFloat(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatFloat(f, 'f', 1, 64)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// Number returns the numeric value of a cell. Only numeric cells count;
// strings, including the sentinel, do not.
func Number(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float64:
		if math.IsNaN(val) {
			return 0, false
		}
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	default:
		return 0, false
	}
}

// IsBlank reports whether a cell is nil or the empty string
func IsBlank(v interface{}) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}
