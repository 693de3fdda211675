package extract

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/ha1tch/otkg/pkg/mapping"
	"github.com/ha1tch/otkg/pkg/table"
	"github.com/ha1tch/otkg/pkg/validation"
)

// Evidence record keys with meaning to the relationship namer
const (
	KeyTargetID     = "targetId"
	KeyDiseaseID    = "diseaseId"
	KeyDrugID       = "drugId"
	KeyDatasourceID = "datasourceId"
	KeyURLs         = "urls"
)

// Relationship type suffixes, prefixed with the data source
const (
	SuffixDiseaseToTarget = "DiseaseToTarget"
	SuffixDrugToTarget    = "DrugToTarget"
)

// SourceDirPrefix precedes the source name in evidence directory names
const SourceDirPrefix = "sourceid="

// SourceDir returns the directory holding one evidence source
func SourceDir(root, source string) string {
	return filepath.Join(root, SourceDirPrefix+source)
}

// ExtractEvidence builds one relationship table per evidence source in spec's
// folder order. With onlyDrug, sources whose keys lack a drug identifier are
// skipped. Missing source directories and sources that yield no relationships
// are left out of the result.
func (e *Extractor) ExtractEvidence(ctx context.Context, root string, spec *mapping.Spec, onlyDrug bool) ([]*table.Table, Stats, error) {
	var (
		out   []*table.Table
		total Stats
	)

	for _, fk := range spec.FolderKeys {
		log := e.logger.With().Str("source", fk.Source).Logger()

		if onlyDrug && !fk.Has(KeyDrugID) {
			log.Debug().Msg("Skipping source without drug identifier")
			continue
		}

		dir := SourceDir(root, fk.Source)
		if _, err := os.Stat(dir); err != nil {
			log.Debug().Str("dir", dir).Msg("Evidence source directory absent")
			continue
		}

		keys := fk.Keys
		raw, stats, err := e.scan(ctx, dir, job{
			kind:      spec.Kind + "_" + fk.Source,
			digest:    digestOf(append([]string{fk.Source}, keys...)...),
			columns:   keys,
			validator: validation.NewNoOpValidator(),
			row: func(rec *Record) ([]interface{}, bool) {
				return evidenceValues(keys, rec), true
			},
		})
		if err != nil {
			return nil, total, err
		}
		total.Add(stats)

		rels := Relationships(fk.Source, raw)
		if rels.Empty() {
			log.Info().Msg("Source yields no relationships")
			continue
		}
		log.Info().Int("relationships", rels.Len()).Msg("Built evidence relationships")
		out = append(out, rels)
	}
	return out, total, nil
}

func evidenceValues(keys []string, rec *Record) []interface{} {
	values := make([]interface{}, len(keys))
	for i, key := range keys {
		v, ok := rec.Get(key)
		switch {
		case !ok:
			values[i] = table.Sentinel
		case key == KeyURLs:
			values[i] = urls(v)
		default:
			values[i] = Normalize(v)
		}
	}
	return values
}

// urls keeps the url of every {"url": ...} entry
func urls(v interface{}) []interface{} {
	items, _ := v.([]interface{})
	var out []interface{}
	for _, item := range items {
		obj, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		if u, ok := obj["url"]; ok && !table.IsBlank(u) {
			out = append(out, u)
		}
	}
	if len(out) == 0 {
		return SentinelList()
	}
	return out
}

// Relationships names the edges of one evidence source. Rows with drug,
// target and disease identifiers yield a disease-to-target and a
// drug-to-target edge; rows with target and disease only yield the first.
// Other tables yield nothing. The identifier columns are consumed; the rest
// become edge attributes between :START_ID and :END_ID.
func Relationships(source string, raw *table.Table) *table.Table {
	hasTarget := raw.HasColumn(KeyTargetID)
	hasDisease := raw.HasColumn(KeyDiseaseID)
	hasDrug := raw.HasColumn(KeyDrugID)

	if !hasTarget || !hasDisease {
		return table.New()
	}

	consumed := map[string]bool{KeyTargetID: true, KeyDiseaseID: true, KeyDrugID: hasDrug}
	var attrs []string
	for _, c := range raw.Columns() {
		if !consumed[c] {
			attrs = append(attrs, c)
		}
	}

	columns := append(append([]string{table.ColStartID}, attrs...), table.ColEndID, table.ColType)
	out := table.New(columns...)

	emit := func(i int, startCol, suffix string) {
		row := make([]interface{}, 0, len(columns))
		v, _ := raw.Value(i, startCol)
		row = append(row, v)
		for _, a := range attrs {
			v, _ := raw.Value(i, a)
			row = append(row, v)
		}
		end, _ := raw.Value(i, KeyTargetID)
		row = append(row, end, typePrefix(source, raw, i)+suffix)
		_ = out.Append(row...)
	}

	for i := 0; i < raw.Len(); i++ {
		emit(i, KeyDiseaseID, SuffixDiseaseToTarget)
	}
	if hasDrug {
		for i := 0; i < raw.Len(); i++ {
			emit(i, KeyDrugID, SuffixDrugToTarget)
		}
	}
	return out
}

// The row's datasourceId names the edge when it has one
func typePrefix(source string, raw *table.Table, i int) string {
	if v, ok := raw.Value(i, KeyDatasourceID); ok {
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" && s != table.Sentinel {
			return s
		}
	}
	return source
}
