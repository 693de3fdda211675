package models

import (
	"time"
)

// Node is a stored graph node. Properties hold rendered cells keyed by column.
type Node struct {
	ID         string            `json:"id"`
	Label      string            `json:"label"`
	Source     string            `json:"source,omitempty"`
	Properties map[string]string `json:"properties,omitempty"`
}

// Relationship is a stored directed edge
type Relationship struct {
	Start      string            `json:"start"`
	End        string            `json:"end"`
	Type       string            `json:"type"`
	Properties map[string]string `json:"properties,omitempty"`
}

// Neighbor is a relationship seen from one node
type Neighbor struct {
	Direction    string       `json:"direction"` // out or in
	Node         string       `json:"node"`
	Relationship Relationship `json:"relationship"`
}

// Run records one pipeline execution
type Run struct {
	ID         string         `json:"id"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at,omitempty"`
	DataPath   string         `json:"data_path"`
	Manifest   string         `json:"manifest,omitempty"`
	Counts     map[string]int `json:"counts,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// GraphStats summarises what a store holds
type GraphStats struct {
	Nodes         map[string]int `json:"nodes"`
	Relationships map[string]int `json:"relationships"`
	TotalNodes    int            `json:"total_nodes"`
	TotalEdges    int            `json:"total_relationships"`
	LastRun       *Run           `json:"last_run,omitempty"`
}

// PaginationParams represents pagination parameters
type PaginationParams struct {
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
}

// Offset returns the number of items before the page
func (p PaginationParams) Offset() int {
	if p.Page < 1 {
		return 0
	}
	return (p.Page - 1) * p.PerPage
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Status  int    `json:"status"`
	} `json:"error"`
}

// PagedResponse represents a paginated response
type PagedResponse struct {
	Data       interface{} `json:"data"`
	Pagination struct {
		Page       int `json:"page"`
		PerPage    int `json:"per_page"`
		TotalItems int `json:"total_items"`
		TotalPages int `json:"total_pages"`
	} `json:"pagination"`
	Links map[string]string `json:"links,omitempty"`
}

// PathInfo represents a path between two nodes
type PathInfo struct {
	From   string   `json:"from"`
	To     string   `json:"to"`
	Length int      `json:"length"`
	Path   []string `json:"path"`
}
