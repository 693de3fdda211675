package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ha1tch/otkg/pkg/models"
	"github.com/ha1tch/otkg/pkg/table"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteSink keeps a queryable copy of a run's tables. Each write replaces
// the rows previously written under the same table name.
type SQLiteSink struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
	config SQLiteConfig
}

// SQLiteConfig holds SQLite-specific configuration
type SQLiteConfig struct {
	DBPath      string
	EnableWAL   bool // Write-Ahead Logging for better concurrency
	CacheSize   int  // Page cache size in KB
	BusyTimeout int  // Milliseconds to wait on locked database
}

// DefaultSQLiteConfig returns the settings the registry uses
func DefaultSQLiteConfig() SQLiteConfig {
	return SQLiteConfig{
		DBPath:      "otkg.db",
		EnableWAL:   true,
		CacheSize:   2000, // 2MB
		BusyTimeout: 5000, // 5 seconds
	}
}

// NewSQLiteSink opens (and if needed creates) the database
func NewSQLiteSink(dbPath string, config SQLiteConfig) (*SQLiteSink, error) {
	if dbPath == "" {
		dbPath = "otkg.db"
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(2)

	s := &SQLiteSink{
		db:     db,
		dbPath: dbPath,
		config: config,
	}

	if err := s.initialize(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return s, nil
}

// initialize creates the necessary tables
func (s *SQLiteSink) initialize(ctx context.Context) error {
	pragmas := []string{
		"PRAGMA synchronous = NORMAL",
		fmt.Sprintf("PRAGMA cache_size = -%d", s.config.CacheSize),
		fmt.Sprintf("PRAGMA busy_timeout = %d", s.config.BusyTimeout),
	}
	if s.config.EnableWAL {
		pragmas = append([]string{"PRAGMA journal_mode = WAL"}, pragmas...)
	}

	for _, pragma := range pragmas {
		if _, err := s.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	schema := `
		CREATE TABLE IF NOT EXISTS nodes (
			source TEXT NOT NULL,
			label TEXT NOT NULL,
			id TEXT NOT NULL,
			props TEXT NOT NULL, -- JSON object of rendered cells
			PRIMARY KEY (label, id)
		);

		CREATE INDEX IF NOT EXISTS idx_nodes_id ON nodes(id);
		CREATE INDEX IF NOT EXISTS idx_nodes_source ON nodes(source);

		CREATE TABLE IF NOT EXISTS relationships (
			source TEXT NOT NULL,
			start_id TEXT NOT NULL,
			end_id TEXT NOT NULL,
			type TEXT NOT NULL,
			props TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_rel_start ON relationships(start_id);
		CREATE INDEX IF NOT EXISTS idx_rel_end ON relationships(end_id);
		CREATE INDEX IF NOT EXISTS idx_rel_type ON relationships(type);

		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			started_at TIMESTAMP NOT NULL,
			finished_at TIMESTAMP,
			data TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO schema_version (version) VALUES (1)"); err != nil {
		return fmt.Errorf("failed to set schema version: %w", err)
	}

	return nil
}

// Info returns sink information
func (s *SQLiteSink) Info() SinkInfo {
	return SinkInfo{Type: "sqlite", Version: "1.0.0", Readable: true}
}

// WriteNodes replaces the nodes stored under name. The label comes from
// the :LABEL column, or name when the table has none.
func (s *SQLiteSink) WriteNodes(ctx context.Context, name string, t *table.Table) (string, error) {
	if !validName(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if !t.HasColumn(table.ColID) {
		return "", fmt.Errorf("%w: %s has no %s", ErrMissingColumn, name, table.ColID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM nodes WHERE source = ?`, name); err != nil {
		return "", fmt.Errorf("failed to clear nodes: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO nodes (source, label, id, props)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return "", err
	}
	defer stmt.Close()

	for i := 0; i < t.Len(); i++ {
		label := name
		if t.HasColumn(table.ColLabel) {
			label = t.Text(i, table.ColLabel)
		}
		props, err := properties(t, i, table.ColID, table.ColLabel)
		if err != nil {
			return "", err
		}
		if _, err := stmt.ExecContext(ctx, name, label, t.Text(i, table.ColID), props); err != nil {
			return "", fmt.Errorf("failed to insert node: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit: %w", err)
	}
	return s.location(name), nil
}

// WriteRelationships replaces the relationships stored under name
func (s *SQLiteSink) WriteRelationships(ctx context.Context, name string, t *table.Table) (string, error) {
	if !validName(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	for _, c := range []string{table.ColStartID, table.ColEndID, table.ColType} {
		if !t.HasColumn(c) {
			return "", fmt.Errorf("%w: %s has no %s", ErrMissingColumn, name, c)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM relationships WHERE source = ?`, name); err != nil {
		return "", fmt.Errorf("failed to clear relationships: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO relationships (source, start_id, end_id, type, props)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return "", err
	}
	defer stmt.Close()

	for i := 0; i < t.Len(); i++ {
		props, err := properties(t, i, table.ColStartID, table.ColEndID, table.ColType)
		if err != nil {
			return "", err
		}
		if _, err := stmt.ExecContext(ctx, name,
			t.Text(i, table.ColStartID), t.Text(i, table.ColEndID), t.Text(i, table.ColType), props); err != nil {
			return "", fmt.Errorf("failed to insert relationship: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit: %w", err)
	}
	return s.location(name), nil
}

// ClearRelationships drops the relationships stored under name
func (s *SQLiteSink) ClearRelationships(ctx context.Context, name string) error {
	if !validName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM relationships WHERE source = ?`, name); err != nil {
		return fmt.Errorf("failed to clear relationships: %w", err)
	}
	return nil
}

func (s *SQLiteSink) location(name string) string {
	return fmt.Sprintf("sqlite://%s#%s", s.dbPath, name)
}

// properties renders every cell of row i except the reserved columns
func properties(t *table.Table, i int, skip ...string) (string, error) {
	reserved := make(map[string]bool, len(skip))
	for _, c := range skip {
		reserved[c] = true
	}

	props := make(map[string]string)
	for _, c := range t.Columns() {
		if reserved[c] {
			continue
		}
		props[c] = t.Text(i, c)
	}

	data, err := json.Marshal(props)
	if err != nil {
		return "", fmt.Errorf("failed to marshal properties: %w", err)
	}
	return string(data), nil
}

// RecordRun stores or updates a run
func (s *SQLiteSink) RecordRun(ctx context.Context, run models.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	var finished interface{}
	if !run.FinishedAt.IsZero() {
		finished = run.FinishedAt.UTC()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, finished_at, data)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET finished_at = excluded.finished_at, data = excluded.data
	`, run.ID, run.StartedAt.UTC(), finished, string(data))
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

// GetNode retrieves one node
func (s *SQLiteSink) GetNode(ctx context.Context, label, id string) (*models.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var source, props string
	err := s.db.QueryRowContext(ctx, `
		SELECT source, props FROM nodes
		WHERE label = ? AND id = ?
	`, label, id).Scan(&source, &props)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query node: %w", err)
	}

	n := &models.Node{ID: id, Label: label, Source: source}
	if err := json.Unmarshal([]byte(props), &n.Properties); err != nil {
		return nil, fmt.Errorf("failed to unmarshal properties: %w", err)
	}
	return n, nil
}

// ListNodes returns one page of a label's nodes ordered by id, and the total
func (s *SQLiteSink) ListNodes(ctx context.Context, label string, page models.PaginationParams) ([]models.Node, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM nodes WHERE label = ?`, label).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count nodes: %w", err)
	}

	limit := page.PerPage
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source, props FROM nodes
		WHERE label = ?
		ORDER BY id
		LIMIT ? OFFSET ?
	`, label, limit, page.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list nodes: %w", err)
	}
	defer rows.Close()

	nodes := []models.Node{}
	for rows.Next() {
		n := models.Node{Label: label}
		var props string
		if err := rows.Scan(&n.ID, &n.Source, &props); err != nil {
			return nil, 0, err
		}
		if err := json.Unmarshal([]byte(props), &n.Properties); err != nil {
			return nil, 0, err
		}
		nodes = append(nodes, n)
	}
	return nodes, total, rows.Err()
}

// Neighbors returns the relationships touching a node
func (s *SQLiteSink) Neighbors(ctx context.Context, id, direction string) ([]models.Neighbor, error) {
	var queries []struct{ dir, query string }
	out := struct{ dir, query string }{DirectionOut, `
		SELECT start_id, end_id, type, props, end_id FROM relationships
		WHERE start_id = ? ORDER BY end_id, type`}
	in := struct{ dir, query string }{DirectionIn, `
		SELECT start_id, end_id, type, props, start_id FROM relationships
		WHERE end_id = ? ORDER BY start_id, type`}

	switch direction {
	case DirectionOut:
		queries = append(queries, out)
	case DirectionIn:
		queries = append(queries, in)
	case DirectionBoth, "":
		queries = append(queries, out, in)
	default:
		return nil, fmt.Errorf("%w: %s (must be 'out', 'in' or 'both')", ErrInvalidDirection, direction)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []models.Neighbor{}
	for _, q := range queries {
		rows, err := s.db.QueryContext(ctx, q.query, id)
		if err != nil {
			return nil, fmt.Errorf("failed to get neighbors: %w", err)
		}

		for rows.Next() {
			var rel models.Relationship
			var props, other string
			if err := rows.Scan(&rel.Start, &rel.End, &rel.Type, &props, &other); err != nil {
				rows.Close()
				return nil, err
			}
			if err := json.Unmarshal([]byte(props), &rel.Properties); err != nil {
				rows.Close()
				return nil, err
			}
			result = append(result, models.Neighbor{Direction: q.dir, Node: other, Relationship: rel})
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

// Relationships streams every stored relationship to fn
func (s *SQLiteSink) Relationships(ctx context.Context, fn func(models.Relationship) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT start_id, end_id, type FROM relationships
		ORDER BY start_id, end_id, type
	`)
	if err != nil {
		return fmt.Errorf("failed to list relationships: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rel models.Relationship
		if err := rows.Scan(&rel.Start, &rel.End, &rel.Type); err != nil {
			return err
		}
		if err := fn(rel); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Stats counts nodes per label and relationships per type
func (s *SQLiteSink) Stats(ctx context.Context) (*models.GraphStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := &models.GraphStats{
		Nodes:         make(map[string]int),
		Relationships: make(map[string]int),
	}

	if err := s.countInto(ctx, `SELECT label, COUNT(*) FROM nodes GROUP BY label`, st.Nodes, &st.TotalNodes); err != nil {
		return nil, err
	}
	if err := s.countInto(ctx, `SELECT type, COUNT(*) FROM relationships GROUP BY type`, st.Relationships, &st.TotalEdges); err != nil {
		return nil, err
	}

	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM runs ORDER BY started_at DESC LIMIT 1`).Scan(&data)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return nil, fmt.Errorf("failed to query runs: %w", err)
	default:
		var run models.Run
		if err := json.Unmarshal([]byte(data), &run); err == nil {
			st.LastRun = &run
		}
	}

	return st, nil
}

// LatestRun returns the id of the most recently started run
func (s *SQLiteSink) LatestRun(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM runs ORDER BY started_at DESC LIMIT 1`).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query runs: %w", err)
	}
	return id, nil
}

func (s *SQLiteSink) countInto(ctx context.Context, query string, into map[string]int, total *int) error {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to count: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		into[key] = n
		*total += n
	}
	return rows.Err()
}

// Close closes the database connection
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

// OpenReader opens an existing database for the inspection server
func OpenReader(dbPath string) (Reader, error) {
	cfg := DefaultSQLiteConfig()
	cfg.DBPath = dbPath
	return NewSQLiteSink(dbPath, cfg)
}

var _ Reader = (*SQLiteSink)(nil)
var _ RunRecorder = (*SQLiteSink)(nil)
