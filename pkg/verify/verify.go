// Package verify compares what was imported into Neo4j with what the build
// wrote out.
package verify

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ha1tch/otkg/pkg/models"
	"github.com/ha1tch/otkg/pkg/table"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// ErrUnexpectedResult is returned when a count query does not yield one integer
var ErrUnexpectedResult = errors.New("unexpected count result")

// Counter counts imported graph elements
type Counter interface {
	CountNodes(ctx context.Context, label string) (int64, error)
	CountRelationships(ctx context.Context) (int64, error)
}

// Config holds the Bolt connection settings
type Config struct {
	URI      string
	User     string
	Password string
	Database string
	Timeout  time.Duration
}

// Neo4jCounter counts through the Bolt driver
type Neo4jCounter struct {
	driver   neo4j.DriverWithContext
	database string
}

// NewNeo4jCounter connects and verifies connectivity
func NewNeo4jCounter(ctx context.Context, cfg Config) (*Neo4jCounter, error) {
	auth := neo4j.BasicAuth(cfg.User, cfg.Password, "")
	driver, err := neo4j.NewDriverWithContext(cfg.URI, auth, func(c *neo4j.Config) {
		if cfg.Timeout > 0 {
			c.SocketConnectTimeout = cfg.Timeout
		}
	})
	if err != nil {
		return nil, fmt.Errorf("init driver: %w", err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("verify connectivity: %w", err)
	}

	return &Neo4jCounter{driver: driver, database: cfg.Database}, nil
}

// CountNodes counts the nodes carrying label
func (n *Neo4jCounter) CountNodes(ctx context.Context, label string) (int64, error) {
	query := fmt.Sprintf("MATCH (n:`%s`) RETURN count(n) AS c", strings.ReplaceAll(label, "`", "``"))
	return n.count(ctx, query)
}

// CountRelationships counts every relationship in the database
func (n *Neo4jCounter) CountRelationships(ctx context.Context) (int64, error) {
	return n.count(ctx, "MATCH ()-[r]->() RETURN count(r) AS c")
}

func (n *Neo4jCounter) count(ctx context.Context, query string) (int64, error) {
	result, err := neo4j.ExecuteQuery(ctx, n.driver, query, nil,
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(n.database),
		neo4j.ExecuteQueryWithReadersRouting())
	if err != nil {
		return 0, err
	}
	if len(result.Records) != 1 {
		return 0, fmt.Errorf("%w: %d records", ErrUnexpectedResult, len(result.Records))
	}

	v, ok := result.Records[0].Get("c")
	if !ok {
		return 0, fmt.Errorf("%w: no count column", ErrUnexpectedResult)
	}
	c, ok := v.(int64)
	if !ok {
		return 0, fmt.Errorf("%w: count is %T", ErrUnexpectedResult, v)
	}
	return c, nil
}

// Close releases the driver
func (n *Neo4jCounter) Close(ctx context.Context) error {
	return n.driver.Close(ctx)
}

// Expected is what the built tables contain
type Expected struct {
	Nodes         map[string]int64
	Relationships int64
}

// ExpectedFromTables counts node rows per label and relationship rows
func ExpectedFromTables(rels *table.Table, nodes ...*table.Table) Expected {
	exp := Expected{Nodes: make(map[string]int64)}
	for _, t := range nodes {
		if t == nil {
			continue
		}
		for i := 0; i < t.Len(); i++ {
			exp.Nodes[t.Text(i, table.ColLabel)]++
		}
	}
	if rels != nil {
		exp.Relationships = int64(rels.Len())
	}
	return exp
}

// ExpectedFromStats takes the expected counts from a stored build
func ExpectedFromStats(st *models.GraphStats) Expected {
	exp := Expected{Nodes: make(map[string]int64), Relationships: int64(st.TotalEdges)}
	for label, n := range st.Nodes {
		exp.Nodes[label] = int64(n)
	}
	return exp
}

// Mismatch is one count that differs
type Mismatch struct {
	What     string
	Expected int64
	Actual   int64
}

// String renders the mismatch for reports
func (m Mismatch) String() string {
	return fmt.Sprintf("%s: expected %d, found %d", m.What, m.Expected, m.Actual)
}

// Check counts every expected label and the relationships, returning the
// counts that differ. Labels are checked in sorted order.
func Check(ctx context.Context, counter Counter, exp Expected) ([]Mismatch, error) {
	labels := make([]string, 0, len(exp.Nodes))
	for label := range exp.Nodes {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	var mismatches []Mismatch
	for _, label := range labels {
		got, err := counter.CountNodes(ctx, label)
		if err != nil {
			return nil, fmt.Errorf("count %s nodes: %w", label, err)
		}
		if got != exp.Nodes[label] {
			mismatches = append(mismatches, Mismatch{What: label, Expected: exp.Nodes[label], Actual: got})
		}
	}

	got, err := counter.CountRelationships(ctx)
	if err != nil {
		return nil, fmt.Errorf("count relationships: %w", err)
	}
	if got != exp.Relationships {
		mismatches = append(mismatches, Mismatch{What: "relationships", Expected: exp.Relationships, Actual: got})
	}

	return mismatches, nil
}
