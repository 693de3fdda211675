package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ha1tch/otkg/pkg/models"
	"github.com/ha1tch/otkg/pkg/table"
)

// SinkFactory is a function that creates a new Sink instance
type SinkFactory func(config map[string]interface{}) (Sink, error)

var (
	sinkMu       sync.RWMutex
	sinkRegistry = make(map[string]SinkFactory)
)

// RegisterSink registers a new sink implementation
func RegisterSink(name string, factory SinkFactory) {
	sinkMu.Lock()
	defer sinkMu.Unlock()
	sinkRegistry[name] = factory
}

// NewSink creates a new sink instance by name
func NewSink(name string, config map[string]interface{}) (Sink, error) {
	sinkMu.RLock()
	factory, exists := sinkRegistry[name]
	sinkMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown sink type: %s", name)
	}

	return factory(config)
}

// ListSinks returns all registered sink types, sorted
func ListSinks() []string {
	sinkMu.RLock()
	defer sinkMu.RUnlock()

	sinks := make([]string, 0, len(sinkRegistry))
	for name := range sinkRegistry {
		sinks = append(sinks, name)
	}
	sort.Strings(sinks)
	return sinks
}

// init registers built-in sinks
func init() {
	RegisterSink("csv", func(config map[string]interface{}) (Sink, error) {
		dir, ok := config["dir"].(string)
		if !ok {
			dir = "neo4j_data"
		}
		return NewCSVSink(dir)
	})

	RegisterSink("sqlite", func(config map[string]interface{}) (Sink, error) {
		dbPath, ok := config["db_path"].(string)
		if !ok {
			dbPath = "otkg.db"
		}

		sqliteConfig := DefaultSQLiteConfig()
		sqliteConfig.DBPath = dbPath

		if wal, ok := config["enable_wal"].(bool); ok {
			sqliteConfig.EnableWAL = wal
		}
		if cache, ok := config["cache_size"].(int); ok {
			sqliteConfig.CacheSize = cache
		}
		if timeout, ok := config["busy_timeout"].(int); ok {
			sqliteConfig.BusyTimeout = timeout
		}

		return NewSQLiteSink(dbPath, sqliteConfig)
	})
}

// Multi fans every write out to several sinks. The returned location is
// the first sink's.
type Multi []Sink

// WriteNodes writes to every sink
func (m Multi) WriteNodes(ctx context.Context, name string, t *table.Table) (string, error) {
	var first string
	for i, s := range m {
		loc, err := s.WriteNodes(ctx, name, t)
		if err != nil {
			return "", err
		}
		if i == 0 {
			first = loc
		}
	}
	return first, nil
}

// WriteRelationships writes to every sink
func (m Multi) WriteRelationships(ctx context.Context, name string, t *table.Table) (string, error) {
	var first string
	for i, s := range m {
		loc, err := s.WriteRelationships(ctx, name, t)
		if err != nil {
			return "", err
		}
		if i == 0 {
			first = loc
		}
	}
	return first, nil
}

// ClearRelationships clears name in every sink
func (m Multi) ClearRelationships(ctx context.Context, name string) error {
	for _, s := range m {
		if err := s.ClearRelationships(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// RecordRun forwards to every sink that keeps run history
func (m Multi) RecordRun(ctx context.Context, run models.Run) error {
	for _, s := range m {
		if r, ok := s.(RunRecorder); ok {
			if err := r.RecordRun(ctx, run); err != nil {
				return err
			}
		}
	}
	return nil
}

// Close closes every sink and returns the joined errors
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
