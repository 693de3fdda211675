package extract_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ha1tch/otkg/pkg/cache"
	"github.com/ha1tch/otkg/pkg/extract"
	"github.com/ha1tch/otkg/pkg/mapping"
	"github.com/ha1tch/otkg/pkg/table"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeLines(t *testing.T, dir, name string, lines ...string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(strings.Join(lines, "\n")+"\n"), 0644))
}

func diseaseSpec() *mapping.Spec {
	return &mapping.Spec{
		Kind: mapping.KindDisease,
		Fields: []mapping.FieldSource{
			{Name: ":ID", Path: "id"},
			{Name: "Name", Path: "name"},
			{Name: "Exact_Synonyms", Path: "synonyms.hasExactSynonym"},
			{Name: ":LABEL", Path: "Disease"},
		},
		Required: []string{"id"},
	}
}

func newExtractor(c cache.Cache) *extract.Extractor {
	return extract.New(zerolog.Nop(), c, time.Minute)
}

func TestExtractDropsRecordsMissingRequired(t *testing.T) {
	dir := t.TempDir()
	writeLines(t, dir, "part-0.json",
		`{"name": "no identifier"}`,
		`{"id": "EFO_1", "name": "asthma"}`,
	)

	tbl, stats, err := newExtractor(nil).Extract(context.Background(), dir, diseaseSpec())
	require.NoError(t, err)

	require.Equal(t, 1, tbl.Len())
	assert.Equal(t, "EFO_1", tbl.Text(0, ":ID"))
	assert.Equal(t, 1, stats.MissingRequired)
	assert.Equal(t, 1, stats.Accepted)
}

func TestExtractSentinelRules(t *testing.T) {
	dir := t.TempDir()
	writeLines(t, dir, "part-0.json",
		`{"id": "EFO_1", "name": "", "synonyms": {"hasExactSynonym": ["wheeze"]}}`,
		`{"id": "EFO_2", "synonyms": "not an object"}`,
		`{"id": "EFO_3", "name": null, "synonyms": {"hasExactSynonym": []}}`,
	)

	tbl, _, err := newExtractor(nil).Extract(context.Background(), dir, diseaseSpec())
	require.NoError(t, err)
	require.Equal(t, 3, tbl.Len())

	assert.Equal(t, []string{":ID", "Name", "Exact_Synonyms", ":LABEL"}, tbl.Columns())

	assert.Equal(t, table.Sentinel, tbl.Text(0, "Name"))
	assert.Equal(t, "wheeze", tbl.Text(0, "Exact_Synonyms"))
	assert.Equal(t, "Disease", tbl.Text(0, ":LABEL"))

	assert.Equal(t, table.Sentinel, tbl.Text(1, "Name"))
	assert.Equal(t, table.Sentinel, tbl.Text(1, "Exact_Synonyms"))

	assert.Equal(t, table.Sentinel, tbl.Text(2, "Name"))
	assert.Equal(t, table.Sentinel, tbl.Text(2, "Exact_Synonyms"))

	for i := 0; i < tbl.Len(); i++ {
		for _, c := range tbl.Columns() {
			v, _ := tbl.Value(i, c)
			assert.False(t, table.IsBlank(v), "row %d column %s", i, c)
		}
	}
}

func TestExtractEmptyDirectory(t *testing.T) {
	tbl, stats, err := newExtractor(nil).Extract(context.Background(), t.TempDir(), diseaseSpec())
	require.NoError(t, err)
	assert.Equal(t, 0, tbl.Len())
	assert.Equal(t, []string{":ID", "Name", "Exact_Synonyms", ":LABEL"}, tbl.Columns())
	assert.Equal(t, 0, stats.Files)

	tbl, _, err = newExtractor(nil).Extract(context.Background(), filepath.Join(t.TempDir(), "absent"), diseaseSpec())
	require.NoError(t, err)
	assert.True(t, tbl.Empty())
}

func TestExtractSkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	writeLines(t, dir, "part-0.json",
		`{"id": "EFO_1"}`,
		`{"id": "EFO_2",`,
		`[1, 2]`,
		``,
		`{"id": "EFO_3"}`,
	)

	tbl, stats, err := newExtractor(nil).Extract(context.Background(), dir, diseaseSpec())
	require.NoError(t, err)
	assert.Equal(t, 2, tbl.Len())
	assert.Equal(t, 2, stats.Malformed)
	assert.Equal(t, 4, stats.Lines)
}

func TestExtractIsDeterministic(t *testing.T) {
	dir := t.TempDir()
	writeLines(t, dir, "part-1.json", `{"id": "EFO_3"}`, `{"id": "EFO_4"}`)
	writeLines(t, dir, "part-0.json", `{"id": "EFO_1"}`, `{"id": "EFO_2"}`)
	writeLines(t, dir, "notes.txt", `{"id": "IGNORED"}`)

	first, _, err := newExtractor(nil).Extract(context.Background(), dir, diseaseSpec())
	require.NoError(t, err)
	second, _, err := newExtractor(nil).Extract(context.Background(), dir, diseaseSpec())
	require.NoError(t, err)

	var ids []string
	for i := 0; i < first.Len(); i++ {
		ids = append(ids, first.Text(i, ":ID"))
	}
	assert.Equal(t, []string{"EFO_1", "EFO_2", "EFO_3", "EFO_4"}, ids)

	a, err := table.Encode(first)
	require.NoError(t, err)
	b, err := table.Encode(second)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestExtractUsesCache(t *testing.T) {
	dir := t.TempDir()
	writeLines(t, dir, "part-0.json", `{"id": "EFO_1", "name": "asthma"}`)

	c := cache.NewMemoryCache(16, time.Minute)
	e := newExtractor(c)

	first, stats, err := e.Extract(context.Background(), dir, diseaseSpec())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.CacheHits)

	second, stats, err := e.Extract(context.Background(), dir, diseaseSpec())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.CacheHits)
	assert.Equal(t, 1, stats.Accepted)
	assert.Equal(t, first.Columns(), second.Columns())
	assert.Equal(t, "asthma", second.Text(0, "Name"))

	// a changed spec misses the cache
	spec := diseaseSpec()
	spec.Required = append(spec.Required, "name")
	_, stats, err = e.Extract(context.Background(), dir, spec)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.CacheHits)
}

func TestExtractHonoursCancellation(t *testing.T) {
	dir := t.TempDir()
	writeLines(t, dir, "part-0.json", `{"id": "EFO_1"}`)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := newExtractor(nil).Extract(ctx, dir, diseaseSpec())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDecodeRecordKeepsNumberKinds(t *testing.T) {
	rec, err := extract.DecodeRecord([]byte(`{"phase": 4, "score": 0.5, "one": 1.0, "refs": {"b": [1], "a": [2]}}`))
	require.NoError(t, err)

	assert.Equal(t, int64(4), rec.Lookup("phase"))
	assert.Equal(t, 0.5, rec.Lookup("score"))
	assert.Equal(t, 1.0, rec.Lookup("one"))
	assert.Equal(t, []string{"b", "a"}, rec.ObjectKeys("refs"))
	assert.Nil(t, rec.ObjectKeys("phase"))

	_, err = extract.DecodeRecord([]byte(`null`))
	assert.Error(t, err)
}
