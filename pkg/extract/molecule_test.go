package extract_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ha1tch/otkg/pkg/embedding"
	"github.com/ha1tch/otkg/pkg/extract"
	"github.com/ha1tch/otkg/pkg/mapping"
	"github.com/ha1tch/otkg/pkg/table"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func moleculeSpec() *mapping.Spec {
	return &mapping.Spec{
		Kind: mapping.KindMolecule,
		Fields: []mapping.FieldSource{
			{Name: ":ID", Path: "id"},
			{Name: "Name", Path: "name"},
			{Name: "Cross_Reference_Names", Path: "crossReferences"},
			{Name: "Embedding", Path: "embedding"},
			{Name: "Embedding_Source", Path: "source"},
			{Name: "Linked_Targets", Path: "linkedTargets.rows"},
			{Name: "Linked_Diseases", Path: "linkedDiseases.rows"},
			{Name: ":LABEL", Path: "Molecule"},
		},
		Required: []string{"id", "drugType"},
	}
}

func testLookup() *embedding.Lookup {
	l := embedding.NewLookup()
	l.Add("CHEMBL1", embedding.Entry{Embedding: "[0.1, 0.2]", Source: "mol2vec"})
	l.Add("CHEMBL2", embedding.Entry{Embedding: "[0.3, 0.4]", Source: "mol2vec"})
	l.Add("CHEMBL9", embedding.Entry{Embedding: "[0.5]", Source: "mol2vec"})
	return l
}

func TestExtractMolecules(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "molecule")
	writeLines(t, dir, "part-0.json",
		`{"id": "CHEMBL1", "name": "aspirin", "drugType": "Small molecule", "crossReferences": {"Wikipedia": ["Aspirin"], "DrugBank": ["DB00945", "DB00946"]}, "linkedTargets": {"rows": ["T1", "T2"], "count": 2}, "linkedDiseases": {"rows": ["D1"], "count": 1}}`,
		`{"id": "CHEMBL2", "name": "antibody", "drugType": "Antibody"}`,
		`{"id": "CHEMBL3", "name": "no embedding", "drugType": "Small molecule"}`,
		`{"id": "CHEMBL4", "name": "no type"}`,
		`{"id": "CHEMBL9", "name": "", "drugType": "Small molecule", "crossReferences": {}}`,
	)

	res, err := newExtractor(nil).ExtractMolecules(context.Background(), dir, moleculeSpec(), testLookup())
	require.NoError(t, err)

	nodes := res.Nodes
	require.Equal(t, 2, nodes.Len())
	assert.Equal(t, []string{":ID", "Name", "Cross_Reference_Names", "Embedding", "Embedding_Source", ":LABEL"}, nodes.Columns())

	assert.Equal(t, "CHEMBL1", nodes.Text(0, ":ID"))
	assert.Equal(t, "Wikipedia:Aspirin|DrugBank:DB00945|DrugBank:DB00946", nodes.Text(0, "Cross_Reference_Names"))
	assert.Equal(t, "[0.1, 0.2]", nodes.Text(0, "Embedding"))
	assert.Equal(t, "mol2vec", nodes.Text(0, "Embedding_Source"))
	assert.Equal(t, "Molecule", nodes.Text(0, ":LABEL"))

	assert.Equal(t, "CHEMBL9", nodes.Text(1, ":ID"))
	assert.Equal(t, table.Sentinel, nodes.Text(1, "Name"))
	refs, _ := nodes.Value(1, "Cross_Reference_Names")
	assert.Equal(t, []interface{}{table.Sentinel}, refs)

	assert.Equal(t, 2, res.Stats.Filtered)
	assert.Equal(t, 1, res.Stats.MissingRequired)
	assert.Equal(t, 1, res.DiseaseLinks.Len())
}

func TestMoleculeLinksExplode(t *testing.T) {
	dir := t.TempDir()
	writeLines(t, dir, "part-0.json",
		`{"id": "CHEMBL1", "drugType": "Small molecule", "linkedTargets": {"rows": ["T1", "T2"]}}`,
	)

	res, err := newExtractor(nil).ExtractMolecules(context.Background(), dir, moleculeSpec(), testLookup())
	require.NoError(t, err)

	links := res.TargetLinks
	require.Equal(t, 2, links.Len())
	assert.Equal(t, []string{":START_ID", "score", ":END_ID", ":TYPE"}, links.Columns())

	for i, end := range []string{"T1", "T2"} {
		assert.Equal(t, "CHEMBL1", links.Text(i, ":START_ID"))
		assert.Equal(t, end, links.Text(i, ":END_ID"))
		score, _ := links.Value(i, "score")
		assert.Equal(t, 1.0, score)
		assert.Equal(t, "Known_Molecule_Link_To_Target", links.Text(i, ":TYPE"))
	}

	// linkedDiseases is absent: the sentinel produces no link
	assert.Equal(t, 0, res.DiseaseLinks.Len())
}

func TestExplodeScalar(t *testing.T) {
	tbl := table.New(":ID", "Linked_Targets")
	require.NoError(t, tbl.Append("CHEMBL1", "T1"))
	require.NoError(t, tbl.Append("CHEMBL2", table.Sentinel))
	require.NoError(t, tbl.Append("CHEMBL3", []interface{}{"", "T3", table.Sentinel}))

	out := extract.Explode(tbl, "Linked_Targets", extract.TypeMoleculeToTarget)
	require.Equal(t, 2, out.Len())
	assert.Equal(t, "T1", out.Text(0, ":END_ID"))
	assert.Equal(t, "T3", out.Text(1, ":END_ID"))

	assert.Equal(t, 0, extract.Explode(tbl, "Linked_Diseases", extract.TypeMoleculeToDisease).Len())
}
