package storage

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/ha1tch/otkg/pkg/table"
)

// CSVExt is the extension of every bulk-loader file
const CSVExt = ".csv"

// CSVSink writes one comma-separated file per table, header first, in the
// layout neo4j-admin imports. List cells are pipe-joined.
type CSVSink struct {
	dir string
	mu  sync.Mutex
}

// NewCSVSink creates a CSV sink writing into dir
func NewCSVSink(dir string) (*CSVSink, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &CSVSink{dir: dir}, nil
}

// Info returns sink information
func (s *CSVSink) Info() SinkInfo {
	return SinkInfo{Type: "csv", Version: "1.0.0", Readable: false}
}

// Dir returns the output directory
func (s *CSVSink) Dir() string {
	return s.dir
}

// Path returns the file a table name is written to
func (s *CSVSink) Path(name string) string {
	return filepath.Join(s.dir, name+CSVExt)
}

// WriteNodes writes <dir>/<name>.csv
func (s *CSVSink) WriteNodes(ctx context.Context, name string, t *table.Table) (string, error) {
	if !t.HasColumn(table.ColID) {
		return "", fmt.Errorf("%w: %s has no %s", ErrMissingColumn, name, table.ColID)
	}
	return s.write(ctx, name, t)
}

// WriteRelationships writes <dir>/<name>.csv
func (s *CSVSink) WriteRelationships(ctx context.Context, name string, t *table.Table) (string, error) {
	for _, c := range []string{table.ColStartID, table.ColEndID, table.ColType} {
		if !t.HasColumn(c) {
			return "", fmt.Errorf("%w: %s has no %s", ErrMissingColumn, name, c)
		}
	}
	return s.write(ctx, name, t)
}

// ClearRelationships deletes <dir>/<name>.csv if it exists
func (s *CSVSink) ClearRelationships(_ context.Context, name string) error {
	if !validName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.Path(name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", name, err)
	}
	return nil
}

// write goes through a temporary file so a failed run never leaves a
// truncated table behind
func (s *CSVSink) write(ctx context.Context, name string, t *table.Table) (string, error) {
	if !validName(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.Path(name)
	tmp, err := os.CreateTemp(s.dir, "."+name+"-*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0644); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to set permissions: %w", err)
	}

	w := csv.NewWriter(tmp)
	cols := t.Columns()
	if err := w.Write(cols); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write header: %w", err)
	}

	record := make([]string, len(cols))
	for i := 0; i < t.Len(); i++ {
		if i%10000 == 0 {
			if err := ctx.Err(); err != nil {
				tmp.Close()
				return "", err
			}
		}
		for j, v := range t.Values(i) {
			record[j] = table.Render(v)
		}
		if err := w.Write(record); err != nil {
			tmp.Close()
			return "", fmt.Errorf("failed to write row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to flush %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("failed to move %s into place: %w", name, err)
	}
	return path, nil
}

// Close is a no-op; files are closed after each write
func (s *CSVSink) Close() error {
	return nil
}
