package storage

import (
	"context"
	"errors"

	"github.com/ha1tch/otkg/pkg/models"
	"github.com/ha1tch/otkg/pkg/table"
)

var (
	// ErrNotFound is returned when a node is not found
	ErrNotFound = errors.New("node not found")
	// ErrInvalidName is returned for a table name that cannot become a file or label
	ErrInvalidName = errors.New("invalid table name")
	// ErrInvalidDirection is returned for a neighbor direction other than out, in or both
	ErrInvalidDirection = errors.New("invalid direction")
	// ErrMissingColumn is returned when a table lacks a bulk-loader column the sink needs
	ErrMissingColumn = errors.New("table is missing a required column")
)

// Sink receives the assembled tables of a run
type Sink interface {
	// WriteNodes stores a node table under name and returns where it went
	WriteNodes(ctx context.Context, name string, t *table.Table) (string, error)
	// WriteRelationships stores the relationship table under name
	WriteRelationships(ctx context.Context, name string, t *table.Table) (string, error)
	// ClearRelationships removes what an earlier run stored under name
	ClearRelationships(ctx context.Context, name string) error

	// Lifecycle
	Close() error
}

// RunRecorder is implemented by sinks that keep a history of runs
type RunRecorder interface {
	RecordRun(ctx context.Context, run models.Run) error
}

// Reader defines the queries the inspection server needs
type Reader interface {
	GetNode(ctx context.Context, label, id string) (*models.Node, error)
	ListNodes(ctx context.Context, label string, page models.PaginationParams) ([]models.Node, int, error)
	Neighbors(ctx context.Context, id, direction string) ([]models.Neighbor, error)
	Relationships(ctx context.Context, fn func(models.Relationship) error) error
	Stats(ctx context.Context) (*models.GraphStats, error)
	// LatestRun returns the id of the newest recorded run, or "" if none
	LatestRun(ctx context.Context) (string, error)
	Close() error
}

// SinkInfo provides metadata about the sink implementation
type SinkInfo struct {
	Type     string // "csv", "sqlite"
	Version  string
	Readable bool
}

// InfoProvider allows sinks to provide metadata about their capabilities
type InfoProvider interface {
	Info() SinkInfo
}

// Neighbor directions
const (
	DirectionOut  = "out"
	DirectionIn   = "in"
	DirectionBoth = "both"
)

// validName accepts names usable as a file stem and a label
func validName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-', r == '.':
		default:
			return false
		}
	}
	return true
}
