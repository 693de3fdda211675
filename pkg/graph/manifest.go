package graph

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ha1tch/otkg/pkg/table"
)

// Manifest is the offline bulk-import invocation naming every produced file
type Manifest struct {
	Admin         string
	Database      string
	Nodes         []string
	Relationships []string
}

// NewManifest creates a manifest for the given admin binary and database
func NewManifest(admin, database string) *Manifest {
	return &Manifest{Admin: admin, Database: database}
}

// AddNodes appends a node file
func (m *Manifest) AddNodes(path string) {
	m.Nodes = append(m.Nodes, path)
}

// AddRelationships appends a relationship file
func (m *Manifest) AddRelationships(path string) {
	m.Relationships = append(m.Relationships, path)
}

// String renders the manifest as one command line
func (m *Manifest) String() string {
	parts := []string{m.Admin, "database", "import", "full", m.Database}
	for _, n := range m.Nodes {
		parts = append(parts, "--nodes="+n)
	}
	for _, r := range m.Relationships {
		parts = append(parts, "--relationships="+r)
	}
	parts = append(parts,
		"--overwrite-destination",
		fmt.Sprintf("--array-delimiter='%s'", table.ArrayDelimiter),
		"--multiline-fields=true",
	)
	return strings.Join(parts, " ")
}

// RemoveManifest deletes the manifest at path. A missing file is not an error.
func RemoveManifest(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove manifest: %w", err)
	}
	return nil
}

// WriteManifest writes the command line to path, creating parent directories
func WriteManifest(path string, m *Manifest) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create manifest directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(m.String()), 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}
