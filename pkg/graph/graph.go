// Package graph assembles the final relationship table: it keeps only edges
// whose endpoints are known nodes, collapses duplicates and lays the columns
// out the way the bulk loader expects.
package graph

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ha1tch/otkg/pkg/table"
	"github.com/rs/zerolog"
)

// ErrNoValidRelationships is returned with an empty result when nothing
// survives endpoint filtering
var ErrNoValidRelationships = errors.New("no valid relationships")

// DedupeKey selects which columns identify duplicate relationships
type DedupeKey string

const (
	// DedupePair groups by (start, end); edges of different types between
	// the same two nodes compete for one slot
	DedupePair DedupeKey = "pair"
	// DedupeTyped groups by (start, end, type)
	DedupeTyped DedupeKey = "typed"
)

// ParseDedupeKey maps a configuration value to a DedupeKey. Empty means pair.
func ParseDedupeKey(s string) (DedupeKey, error) {
	switch DedupeKey(strings.ToLower(strings.TrimSpace(s))) {
	case "", DedupePair:
		return DedupePair, nil
	case DedupeTyped:
		return DedupeTyped, nil
	default:
		return "", fmt.Errorf("unknown dedupe key %q", s)
	}
}

// Universe is the set of valid node identifiers
type Universe map[string]struct{}

// NewUniverse collects the :ID column of every node table. Blank and
// sentinel identifiers are not nodes.
func NewUniverse(nodeTables ...*table.Table) Universe {
	u := make(Universe)
	for _, t := range nodeTables {
		if !t.HasColumn(table.ColID) {
			continue
		}
		for i := 0; i < t.Len(); i++ {
			id := t.Text(i, table.ColID)
			if id == "" || id == table.Sentinel {
				continue
			}
			u[id] = struct{}{}
		}
	}
	return u
}

// Contains reports whether id is a node
func (u Universe) Contains(id string) bool {
	_, ok := u[id]
	return ok
}

// Stats describes one assembly
type Stats struct {
	Universe      int `json:"universe"`
	Input         int `json:"input"`
	OutOfUniverse int `json:"out_of_universe"`
	Duplicates    int `json:"duplicates"`
	Output        int `json:"output"`
}

// Result is the assembled relationship table
type Result struct {
	Relationships *table.Table
	Stats         Stats
}

// Assembler merges relationship tables against a node universe
type Assembler struct {
	logger zerolog.Logger
	key    DedupeKey
}

// NewAssembler creates an assembler
func NewAssembler(logger zerolog.Logger, key DedupeKey) *Assembler {
	if key == "" {
		key = DedupePair
	}
	return &Assembler{logger: logger, key: key}
}

// Assemble filters, deduplicates and normalises the relationship tables.
// Within a duplicate group the row with the highest numeric score wins,
// the earliest one on ties; without any numeric score the first row wins.
// Output rows are ordered by group key and every blank cell holds the
// sentinel. When no row survives, the result is empty and the error is
// ErrNoValidRelationships.
func (a *Assembler) Assemble(nodeTables, relTables []*table.Table) (*Result, error) {
	universe := NewUniverse(nodeTables...)
	res := &Result{Stats: Stats{Universe: len(universe)}}

	var inputs []*table.Table
	for _, t := range relTables {
		if !t.Empty() {
			inputs = append(inputs, t)
		}
	}
	all := table.Concat(inputs...)
	res.Stats.Input = all.Len()

	valid := all.Filter(func(i int) bool {
		return universe.Contains(all.Text(i, table.ColStartID)) && universe.Contains(all.Text(i, table.ColEndID))
	})
	res.Stats.OutOfUniverse = all.Len() - valid.Len()

	if valid.Empty() {
		res.Relationships = table.New(table.ColStartID, table.ColEndID, table.ColType)
		a.logger.Warn().
			Int("input", res.Stats.Input).
			Int("universe", res.Stats.Universe).
			Msg("No valid relationships after endpoint filtering")
		return res, ErrNoValidRelationships
	}

	deduped := a.dedupe(valid)
	res.Stats.Duplicates = valid.Len() - deduped.Len()

	fillBlanks(deduped)
	res.Relationships = reorder(deduped)
	res.Stats.Output = res.Relationships.Len()

	a.logger.Info().
		Str("dedupe_key", string(a.key)).
		Int("input", res.Stats.Input).
		Int("out_of_universe", res.Stats.OutOfUniverse).
		Int("duplicates", res.Stats.Duplicates).
		Int("output", res.Stats.Output).
		Msg("Assembled relationships")

	return res, nil
}

type group struct {
	key    []string
	best   int
	score  float64
	scored bool
}

func (a *Assembler) groupKey(t *table.Table, i int) []string {
	key := []string{t.Text(i, table.ColStartID), t.Text(i, table.ColEndID)}
	if a.key == DedupeTyped {
		key = append(key, t.Text(i, table.ColType))
	}
	return key
}

func (a *Assembler) dedupe(t *table.Table) *table.Table {
	groups := make(map[string]*group)
	var order []*group

	for i := 0; i < t.Len(); i++ {
		key := a.groupKey(t, i)
		id := strings.Join(key, "\x00")

		g, ok := groups[id]
		if !ok {
			g = &group{key: key, best: i}
			groups[id] = g
			order = append(order, g)
		}

		v, _ := t.Value(i, table.ColScore)
		score, numeric := table.Number(v)
		if !numeric {
			continue
		}
		if !g.scored || score > g.score {
			g.best, g.score, g.scored = i, score, true
		}
	}

	sort.SliceStable(order, func(x, y int) bool {
		kx, ky := order[x].key, order[y].key
		for k := range kx {
			if kx[k] != ky[k] {
				return kx[k] < ky[k]
			}
		}
		return false
	})

	out := table.New(t.Columns()...)
	for _, g := range order {
		_ = out.Append(t.Values(g.best)...)
	}
	return out
}

func fillBlanks(t *table.Table) {
	cols := t.Columns()
	for i := 0; i < t.Len(); i++ {
		for _, c := range cols {
			if v, _ := t.Value(i, c); table.IsBlank(v) {
				t.Set(i, c, table.Sentinel)
			}
		}
	}
}

// reorder lays out :START_ID, the attributes, :END_ID, :TYPE
func reorder(t *table.Table) *table.Table {
	cols := []string{table.ColStartID}
	for _, c := range t.Columns() {
		switch c {
		case table.ColStartID, table.ColEndID, table.ColType:
		default:
			cols = append(cols, c)
		}
	}
	cols = append(cols, table.ColEndID, table.ColType)
	return t.Project(cols...)
}
