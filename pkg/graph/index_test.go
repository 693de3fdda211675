package graph_test

import (
	"errors"
	"testing"

	"github.com/ha1tch/otkg/pkg/graph"
	"github.com/ha1tch/otkg/pkg/table"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndex(t *testing.T) {
	rels := table.New(table.ColStartID, table.ColEndID, table.ColType)
	require.NoError(t, rels.Append("CHEMBL1", "T1", "chemblDrugToTarget"))
	require.NoError(t, rels.Append("D1", "T1", "chemblDiseaseToTarget"))
	require.NoError(t, rels.Append("CHEMBL1", "D1", "Known_Molecule_Link_To_Disease"))

	idx := graph.IndexTable(rels)
	assert.Equal(t, 3, idx.NodeCount())
	assert.Equal(t, 3, idx.EdgeCount())
	assert.Equal(t, 1, idx.TypeCounts()["chemblDrugToTarget"])

	assert.Equal(t, []graph.Edge{
		{Node: "D1", Type: "Known_Molecule_Link_To_Disease"},
		{Node: "T1", Type: "chemblDrugToTarget"},
	}, idx.Out("CHEMBL1"))
	assert.Len(t, idx.In("T1"), 2)
	assert.Empty(t, idx.Out("unknown"))

	path, err := idx.FindPath("CHEMBL1", "T1", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"CHEMBL1", "T1"}, path)

	_, err = idx.FindPath("T1", "CHEMBL1", 5)
	assert.True(t, errors.Is(err, graph.ErrNoPath))

	_, err = idx.FindPath("nope", "T1", 5)
	assert.True(t, errors.Is(err, graph.ErrNodeNotFound))

	u := graph.NewUniverse(func() *table.Table {
		n := table.New(table.ColID)
		_ = n.Append("CHEMBL1")
		_ = n.Append("T9")
		_ = n.Append("D8")
		return n
	}())
	assert.Equal(t, []string{"D8", "T9"}, idx.Isolated(u))
}
