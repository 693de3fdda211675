package extract

import (
	"context"

	"github.com/ha1tch/otkg/pkg/embedding"
	"github.com/ha1tch/otkg/pkg/mapping"
	"github.com/ha1tch/otkg/pkg/table"
	"github.com/ha1tch/otkg/pkg/validation"
)

// Output fields of the molecule section with special handling
const (
	FieldEmbedding       = "Embedding"
	FieldEmbeddingSource = "Embedding_Source"
	FieldCrossReferences = "Cross_Reference_Names"
	FieldLinkedTargets   = "Linked_Targets"
	FieldLinkedDiseases  = "Linked_Diseases"
)

// Relationship types of molecule links
const (
	TypeMoleculeToTarget  = "Known_Molecule_Link_To_Target"
	TypeMoleculeToDisease = "Known_Molecule_Link_To_Disease"
)

// LinkScore outranks every evidence score during deduplication
const LinkScore = 1.0

// Only this drug type is kept
const SmallMolecule = "Small molecule"

const (
	keyDrugType        = "drugType"
	keyCrossReferences = "crossReferences"
)

// MoleculeResult holds the molecule nodes and the two link tables derived from them
type MoleculeResult struct {
	Nodes        *table.Table
	TargetLinks  *table.Table
	DiseaseLinks *table.Table
	Stats        Stats
}

// ExtractMolecules extracts small molecules that have an embedding. Embedding
// fields come from lookup, cross references are flattened to "source:id"
// strings, and the linked target and disease lists become relationships.
func (e *Extractor) ExtractMolecules(ctx context.Context, dir string, spec *mapping.Spec, lookup *embedding.Lookup) (*MoleculeResult, error) {
	idPath := "id"
	if f, ok := spec.Field(table.ColID); ok {
		idPath = f.Path
	}

	special := func(f mapping.FieldSource, rec *Record) (interface{}, bool) {
		switch f.Name {
		case FieldEmbedding, FieldEmbeddingSource:
			entry, _ := lookup.Get(table.Render(rec.Lookup(idPath)))
			v := entry.Embedding
			if f.Name == FieldEmbeddingSource {
				v = entry.Source
			}
			return Normalize(v), true
		case FieldCrossReferences:
			if !rec.Has(keyCrossReferences) {
				return nil, false
			}
			return crossReferences(rec), true
		}
		return nil, false
	}

	j := job{
		kind:      spec.Kind,
		digest:    digestOf(spec.Digest(), lookup.Fingerprint()),
		columns:   spec.FieldNames(),
		validator: validation.ForSpec(spec),
		row: func(rec *Record) ([]interface{}, bool) {
			drugType, _ := rec.Get(keyDrugType)
			if drugType != SmallMolecule {
				return nil, false
			}
			id, ok := rec.Lookup(idPath).(string)
			if !ok || !lookup.Has(id) {
				return nil, false
			}
			return fieldValues(spec, rec, special), true
		},
	}

	all, stats, err := e.scan(ctx, dir, j)
	if err != nil {
		return nil, err
	}

	res := &MoleculeResult{
		Nodes:        all.Without(FieldLinkedTargets, FieldLinkedDiseases),
		TargetLinks:  Explode(all, FieldLinkedTargets, TypeMoleculeToTarget),
		DiseaseLinks: Explode(all, FieldLinkedDiseases, TypeMoleculeToDisease),
		Stats:        stats,
	}

	e.logger.Info().
		Int("molecules", res.Nodes.Len()).
		Int("target_links", res.TargetLinks.Len()).
		Int("disease_links", res.DiseaseLinks.Len()).
		Msg("Derived molecule links")

	return res, nil
}

// crossReferences flattens {"source": ["id", ...]} into "source:id" strings
// in document order
func crossReferences(rec *Record) []interface{} {
	v, _ := rec.Get(keyCrossReferences)
	refs, ok := v.(map[string]interface{})
	if !ok {
		return SentinelList()
	}

	var out []interface{}
	for _, key := range rec.ObjectKeys(keyCrossReferences) {
		ids, ok := refs[key].([]interface{})
		if !ok {
			continue
		}
		for _, id := range ids {
			out = append(out, key+":"+table.Render(id))
		}
	}
	if len(out) == 0 {
		return SentinelList()
	}
	return out
}

// Explode builds one relationship per identifier in the list column col,
// starting at the row's :ID. A plain string counts as a one-element list;
// blank and sentinel entries are skipped.
func Explode(t *table.Table, col, relType string) *table.Table {
	out := table.New(table.ColStartID, table.ColScore, table.ColEndID, table.ColType)
	if !t.HasColumn(col) {
		return out
	}

	for i := 0; i < t.Len(); i++ {
		start := t.Text(i, table.ColID)
		v, _ := t.Value(i, col)
		for _, end := range linkTargets(v) {
			_ = out.Append(start, LinkScore, end, relType)
		}
	}
	return out
}

func linkTargets(v interface{}) []string {
	var items []interface{}
	switch val := v.(type) {
	case []interface{}:
		items = val
	case string:
		items = []interface{}{val}
	default:
		return nil
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		if table.IsBlank(item) || item == table.Sentinel {
			continue
		}
		out = append(out, table.Render(item))
	}
	return out
}
