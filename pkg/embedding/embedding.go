// Package embedding loads the molecule embedding table. Only molecules listed
// here make it into the graph, and their vectors are copied onto the node.
package embedding

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"
)

// Required header columns
const (
	ColChemblID  = "chembl_id"
	ColEmbedding = "embedding"
	ColSource    = "source"
)

var (
	// ErrMissingColumn is returned when the header lacks a required column
	ErrMissingColumn = errors.New("embedding table is missing a required column")
	// ErrUnsupportedFormat is returned for extensions other than csv, tsv and xlsx
	ErrUnsupportedFormat = errors.New("unsupported embedding table format")
)

// Entry is one molecule's embedding
type Entry struct {
	Embedding string
	Source    string
}

// Lookup maps molecule identifiers to their embedding. When an identifier
// appears more than once the first row wins.
type Lookup struct {
	entries     map[string]Entry
	duplicates  int
	fingerprint string
}

// NewLookup creates an empty lookup
func NewLookup() *Lookup {
	return &Lookup{entries: make(map[string]Entry)}
}

// Add records an entry unless the identifier is already known
func (l *Lookup) Add(id string, e Entry) bool {
	if _, ok := l.entries[id]; ok {
		l.duplicates++
		return false
	}
	l.entries[id] = e
	return true
}

// Get returns the entry for id
func (l *Lookup) Get(id string) (Entry, bool) {
	e, ok := l.entries[id]
	return e, ok
}

// Has reports whether id has an embedding
func (l *Lookup) Has(id string) bool {
	_, ok := l.entries[id]
	return ok
}

// Len returns the number of distinct identifiers
func (l *Lookup) Len() int {
	return len(l.entries)
}

// Duplicates returns how many rows were ignored because their identifier repeated
func (l *Lookup) Duplicates() int {
	return l.duplicates
}

// Fingerprint identifies the file the lookup was loaded from. It changes
// whenever the file content does.
func (l *Lookup) Fingerprint() string {
	return l.fingerprint
}

// Load reads an embedding table from a .csv, .tsv or .xlsx file
func Load(path string) (*Lookup, error) {
	var (
		records [][]string
		raw     []byte
		err     error
	)

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".tsv":
		raw, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read embedding table: %w", err)
		}
		sep := ','
		if strings.EqualFold(filepath.Ext(path), ".tsv") {
			sep = '\t'
		}
		records, err = readDelimited(raw, sep)
	case ".xlsx":
		raw, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read embedding table: %w", err)
		}
		records, err = readWorkbook(raw)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse embedding table %s: %w", path, err)
	}

	l, err := fromRecords(records)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	sum := sha256.Sum256(raw)
	l.fingerprint = hex.EncodeToString(sum[:8])
	return l, nil
}

// Exports are either UTF-8 or ISO-8859-1; decode the latter
func readDelimited(raw []byte, sep rune) ([][]string, error) {
	var reader io.Reader
	if utf8.Valid(raw) {
		reader = bytes.NewReader(raw)
	} else {
		reader = charmap.ISO8859_1.NewDecoder().Reader(bytes.NewReader(raw))
	}

	r := csv.NewReader(reader)
	r.Comma = sep
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	return r.ReadAll()
}

func readWorkbook(raw []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("opening XLSX: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("no sheets in XLSX")
	}
	return f.GetRows(sheets[0])
}

func fromRecords(records [][]string) (*Lookup, error) {
	l := NewLookup()
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: empty table", ErrMissingColumn)
	}

	header := make(map[string]int, len(records[0]))
	for i, name := range records[0] {
		header[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}
	idx := make([]int, 3)
	for i, col := range []string{ColChemblID, ColEmbedding, ColSource} {
		j, ok := header[col]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, col)
		}
		idx[i] = j
	}

	for _, rec := range records[1:] {
		id := cell(rec, idx[0])
		if id == "" {
			continue
		}
		l.Add(id, Entry{Embedding: cell(rec, idx[1]), Source: cell(rec, idx[2])})
	}
	return l, nil
}

func cell(rec []string, i int) string {
	if i < len(rec) {
		return strings.TrimSpace(rec[i])
	}
	return ""
}
