package metrics_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ha1tch/otkg/pkg/extract"
	"github.com/ha1tch/otkg/pkg/graph"
	"github.com/ha1tch/otkg/pkg/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunMetrics(t *testing.T) {
	run := metrics.NewRun()

	run.ObserveExtraction("disease", extract.Stats{Accepted: 3, MissingRequired: 1, CacheHits: 2})
	run.ObserveAssembly(graph.Stats{Input: 10, OutOfUniverse: 4, Duplicates: 2, Output: 4})
	run.SetRows("Disease", 3)
	run.ObserveStage("assemble", 1500*time.Millisecond)
	run.Succeeded(time.Unix(1700000000, 0))

	families, err := run.Registry().Gather()
	require.NoError(t, err)
	series := 0
	for _, mf := range families {
		if mf.GetName() == "otkg_records_total" {
			series = len(mf.GetMetric())
		}
	}
	assert.Equal(t, 4, series)

	path := filepath.Join(t.TempDir(), "otkg.prom")
	require.NoError(t, run.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, `otkg_records_total{kind="disease",outcome="accepted"} 3`)
	assert.Contains(t, text, `otkg_relationships{step="output"} 4`)
	assert.Contains(t, text, `otkg_table_rows{table="Disease"} 3`)
	assert.Contains(t, text, `otkg_extract_cache_hits_total{kind="disease"} 2`)
	assert.Contains(t, text, `otkg_stage_duration_seconds{stage="assemble"} 1.5`)
}
