package graph

import (
	"errors"
	"sort"
	"sync"

	"github.com/ha1tch/otkg/pkg/table"
)

var (
	// ErrNodeNotFound is returned for an identifier with no edges in the index
	ErrNodeNotFound = errors.New("node not found")
	// ErrNoPath is returned when no path exists within the depth limit
	ErrNoPath = errors.New("no path found")
)

// Edge is one directed relationship seen from a node
type Edge struct {
	Node string `json:"node"`
	Type string `json:"type"`
}

// Index is an in-memory adjacency view of an assembled relationship table
type Index struct {
	adjacency map[string]map[string][]string // node -> {neighbor -> types}
	reverse   map[string]map[string][]string
	types     map[string]int
	edges     int
	mu        sync.RWMutex
}

// NewIndex creates an empty index
func NewIndex() *Index {
	return &Index{
		adjacency: make(map[string]map[string][]string),
		reverse:   make(map[string]map[string][]string),
		types:     make(map[string]int),
	}
}

// IndexTable builds an index from a relationship table
func IndexTable(rels *table.Table) *Index {
	idx := NewIndex()
	for i := 0; i < rels.Len(); i++ {
		idx.AddEdge(rels.Text(i, table.ColStartID), rels.Text(i, table.ColEndID), rels.Text(i, table.ColType))
	}
	return idx
}

// AddEdge adds a directed edge
func (g *Index) AddEdge(from, to, relType string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.ensure(from)
	g.ensure(to)

	g.adjacency[from][to] = append(g.adjacency[from][to], relType)
	g.reverse[to][from] = append(g.reverse[to][from], relType)
	g.types[relType]++
	g.edges++
}

func (g *Index) ensure(node string) {
	if _, exists := g.adjacency[node]; !exists {
		g.adjacency[node] = make(map[string][]string)
		g.reverse[node] = make(map[string][]string)
	}
}

// Out returns the outgoing edges of a node ordered by neighbor
func (g *Index) Out(node string) []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return edges(g.adjacency[node])
}

// In returns the incoming edges of a node ordered by neighbor
func (g *Index) In(node string) []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return edges(g.reverse[node])
}

func edges(m map[string][]string) []Edge {
	out := make([]Edge, 0, len(m))
	for _, n := range sortedKeys(m) {
		for _, t := range m[n] {
			out = append(out, Edge{Node: n, Type: t})
		}
	}
	return out
}

// FindPath finds a shortest directed path using BFS. maxDepth bounds the
// number of nodes on the path.
func (g *Index) FindPath(from, to string, maxDepth int) ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if _, exists := g.adjacency[from]; !exists {
		return nil, ErrNodeNotFound
	}
	if _, exists := g.adjacency[to]; !exists {
		return nil, ErrNodeNotFound
	}

	queue := [][]string{{from}}
	visited := map[string]bool{from: true}

	for len(queue) > 0 {
		path := queue[0]
		queue = queue[1:]

		if len(path) > maxDepth {
			continue
		}

		current := path[len(path)-1]
		if current == to {
			return path, nil
		}

		for _, neighbor := range sortedKeys(g.adjacency[current]) {
			if !visited[neighbor] {
				visited[neighbor] = true
				next := make([]string, len(path), len(path)+1)
				copy(next, path)
				queue = append(queue, append(next, neighbor))
			}
		}
	}

	return nil, ErrNoPath
}

// NodeCount returns the number of nodes with at least one edge
func (g *Index) NodeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.adjacency)
}

// EdgeCount returns the number of edges
func (g *Index) EdgeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.edges
}

// TypeCounts returns the number of edges per relationship type
func (g *Index) TypeCounts() map[string]int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make(map[string]int, len(g.types))
	for k, v := range g.types {
		out[k] = v
	}
	return out
}

// Isolated returns the universe members that have no edge, sorted
func (g *Index) Isolated(u Universe) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []string
	for id := range u {
		if _, ok := g.adjacency[id]; !ok {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
