// Package extract turns directories of line-delimited JSON records into
// tables, driven by the adapter sections in package mapping.
package extract

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/ha1tch/otkg/pkg/cache"
	"github.com/ha1tch/otkg/pkg/mapping"
	"github.com/ha1tch/otkg/pkg/table"
	"github.com/ha1tch/otkg/pkg/validation"
	"github.com/rs/zerolog"
)

// FilePattern selects input files inside a source directory
const FilePattern = "*.json"

// ErrInput is returned when an input file cannot be read
var ErrInput = errors.New("extract: input unreadable")

// Stats counts what happened to the lines of a directory
type Stats struct {
	Files           int `json:"files"`
	Lines           int `json:"lines"`
	Accepted        int `json:"accepted"`
	MissingRequired int `json:"missing_required"`
	Filtered        int `json:"filtered"`
	Malformed       int `json:"malformed"`
	CacheHits       int `json:"cache_hits"`
}

// Add accumulates o into s
func (s *Stats) Add(o Stats) {
	s.Files += o.Files
	s.Lines += o.Lines
	s.Accepted += o.Accepted
	s.MissingRequired += o.MissingRequired
	s.Filtered += o.Filtered
	s.Malformed += o.Malformed
	s.CacheHits += o.CacheHits
}

// Extractor reads source directories. Cache is optional; when set, the
// table built from each file is stored under a key derived from the file's
// identity and the adapter section, and reused on the next run.
type Extractor struct {
	logger   zerolog.Logger
	cache    cache.Cache
	cacheTTL time.Duration
}

// New creates an extractor. c may be nil.
func New(logger zerolog.Logger, c cache.Cache, ttl time.Duration) *Extractor {
	return &Extractor{logger: logger, cache: c, cacheTTL: ttl}
}

// Files lists the input files of dir in discovery order. A missing
// directory has no files.
func Files(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, FilePattern))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// rowFunc turns an accepted record into a row in column order. Returning
// false drops the record and counts it as filtered.
type rowFunc func(rec *Record) ([]interface{}, bool)

// job describes one directory scan
type job struct {
	kind      string
	digest    string
	columns   []string
	validator validation.Validator
	row       rowFunc
}

// Extract reads every record under dir and applies spec. Records missing a
// required key are dropped. A directory without input files yields a table
// with the declared columns and no rows.
func (e *Extractor) Extract(ctx context.Context, dir string, spec *mapping.Spec) (*table.Table, Stats, error) {
	j := job{
		kind:      spec.Kind,
		digest:    spec.Digest(),
		columns:   spec.FieldNames(),
		validator: validation.ForSpec(spec),
		row: func(rec *Record) ([]interface{}, bool) {
			return fieldValues(spec, rec, nil), true
		},
	}
	return e.scan(ctx, dir, j)
}

// override supplies a value for a field in place of the generic rule
type override func(f mapping.FieldSource, rec *Record) (interface{}, bool)

func fieldValues(spec *mapping.Spec, rec *Record, special override) []interface{} {
	values := make([]interface{}, len(spec.Fields))
	for i, f := range spec.Fields {
		if f.Name == mapping.LabelField {
			values[i] = f.Path
			continue
		}
		if special != nil {
			if v, ok := special(f, rec); ok {
				values[i] = v
				continue
			}
		}
		values[i] = rec.Lookup(f.Path)
	}
	return values
}

func (e *Extractor) scan(ctx context.Context, dir string, j job) (*table.Table, Stats, error) {
	var stats Stats

	files, err := Files(dir)
	if err != nil {
		return nil, stats, fmt.Errorf("%w: %s: %v", ErrInput, dir, err)
	}
	if len(files) == 0 {
		e.logger.Warn().Str("kind", j.kind).Str("dir", dir).Msg("No input files found")
		return table.New(j.columns...), stats, nil
	}

	parts := make([]*table.Table, 0, len(files))
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, stats, err
		}

		t, fs, err := e.scanFile(ctx, path, j)
		if err != nil {
			return nil, stats, err
		}
		stats.Add(fs)
		parts = append(parts, t)
	}

	out := table.Concat(parts...)
	for _, c := range j.columns {
		out.AddColumn(c)
	}

	e.logger.Info().
		Str("kind", j.kind).
		Int("files", stats.Files).
		Int("accepted", stats.Accepted).
		Int("missing_required", stats.MissingRequired).
		Int("filtered", stats.Filtered).
		Int("malformed", stats.Malformed).
		Int("cache_hits", stats.CacheHits).
		Msg("Extracted records")

	return out, stats, nil
}

type cached struct {
	Stats Stats           `json:"stats"`
	Table json.RawMessage `json:"table"`
}

func (e *Extractor) scanFile(ctx context.Context, path string, j job) (*table.Table, Stats, error) {
	stats := Stats{Files: 1}

	info, err := os.Stat(path)
	if err != nil {
		return nil, stats, fmt.Errorf("%w: %v", ErrInput, err)
	}

	var key string
	if e.cache != nil {
		key = cache.ExtractKey(j.kind, j.digest, path, info.Size(), info.ModTime())
		if t, cs, ok := e.fromCache(ctx, key); ok {
			cs.CacheHits = 1
			e.logger.Debug().Str("file", path).Msg("Cache hit")
			return t, cs, nil
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, stats, fmt.Errorf("%w: %v", ErrInput, err)
	}
	defer f.Close()

	t := table.New(j.columns...)
	reader := bufio.NewReaderSize(f, 1<<20)
	lineNo := 0
	for {
		line, readErr := reader.ReadBytes('\n')
		if readErr != nil && readErr != io.EOF {
			return nil, stats, fmt.Errorf("%w: %s: %v", ErrInput, path, readErr)
		}

		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			lineNo++
			stats.Lines++
			e.consume(line, path, lineNo, j, t, &stats)
		}

		if readErr == io.EOF {
			break
		}
		if lineNo%10000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, stats, err
			}
		}
	}

	if e.cache != nil {
		e.toCache(ctx, key, t, stats)
	}
	return t, stats, nil
}

func (e *Extractor) consume(line []byte, path string, lineNo int, j job, t *table.Table, stats *Stats) {
	rec, err := DecodeRecord(line)
	if err != nil {
		stats.Malformed++
		e.logger.Debug().Err(err).Str("file", path).Int("line", lineNo).Msg("Skipping malformed line")
		return
	}

	if ok, missing := j.validator.Validate(rec.Map()); !ok {
		stats.MissingRequired++
		e.logger.Debug().Str("file", path).Int("line", lineNo).Strs("missing", missing).Msg("Record missing required fields")
		return
	}

	values, ok := j.row(rec)
	if !ok {
		stats.Filtered++
		return
	}
	if err := t.Append(values...); err != nil {
		// column count is fixed by the job
		stats.Malformed++
		return
	}
	stats.Accepted++
}

func (e *Extractor) fromCache(ctx context.Context, key string) (*table.Table, Stats, bool) {
	data, err := e.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			e.logger.Warn().Err(err).Msg("Cache read failed")
		}
		return nil, Stats{}, false
	}

	var c cached
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, Stats{}, false
	}
	t, err := table.Decode(c.Table)
	if err != nil {
		return nil, Stats{}, false
	}
	return t, c.Stats, true
}

func (e *Extractor) toCache(ctx context.Context, key string, t *table.Table, stats Stats) {
	enc, err := table.Encode(t)
	if err != nil {
		e.logger.Warn().Err(err).Msg("Cannot encode table for cache")
		return
	}
	data, err := json.Marshal(cached{Stats: stats, Table: enc})
	if err != nil {
		return
	}
	if err := e.cache.Set(ctx, key, data, e.cacheTTL); err != nil {
		e.logger.Warn().Err(err).Msg("Cache write failed")
	}
}

func digestOf(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}
