package storage_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ha1tch/otkg/pkg/models"
	"github.com/ha1tch/otkg/pkg/storage"
	"github.com/ha1tch/otkg/pkg/table"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupSQLiteTest(t *testing.T) (*storage.SQLiteSink, func()) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "otkg-test.db")

	sink, err := storage.NewSink("sqlite", map[string]interface{}{"db_path": dbPath})
	require.NoError(t, err)
	require.NotNil(t, sink)

	s, ok := sink.(*storage.SQLiteSink)
	require.True(t, ok)

	cleanup := func() {
		s.Close()
	}
	return s, cleanup
}

func TestSQLiteSink_Nodes(t *testing.T) {
	s, cleanup := setupSQLiteTest(t)
	defer cleanup()

	ctx := context.Background()

	loc, err := s.WriteNodes(ctx, "Disease", diseaseTable(t))
	require.NoError(t, err)
	assert.Contains(t, loc, "#Disease")

	node, err := s.GetNode(ctx, "Disease", "EFO_1")
	require.NoError(t, err)
	assert.Equal(t, "Disease", node.Source)
	assert.Equal(t, "wheeze|reactive airway", node.Properties["Synonyms"])
	_, hasID := node.Properties[table.ColID]
	assert.False(t, hasID)

	_, err = s.GetNode(ctx, "Disease", "EFO_404")
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	t.Run("pagination", func(t *testing.T) {
		nodes, total, err := s.ListNodes(ctx, "Disease", models.PaginationParams{Page: 2, PerPage: 1})
		require.NoError(t, err)
		assert.Equal(t, 2, total)
		require.Len(t, nodes, 1)
		assert.Equal(t, "EFO_2", nodes[0].ID)
	})

	t.Run("rewrite replaces rows", func(t *testing.T) {
		smaller := table.New(table.ColID, table.ColLabel)
		require.NoError(t, smaller.Append("EFO_9", "Disease"))

		_, err := s.WriteNodes(ctx, "Disease", smaller)
		require.NoError(t, err)

		_, total, err := s.ListNodes(ctx, "Disease", models.PaginationParams{Page: 1, PerPage: 10})
		require.NoError(t, err)
		assert.Equal(t, 1, total)
	})
}

func TestSQLiteSink_Neighbors(t *testing.T) {
	s, cleanup := setupSQLiteTest(t)
	defer cleanup()

	ctx := context.Background()

	_, err := s.WriteRelationships(ctx, "Relationships", relTable(t))
	require.NoError(t, err)

	out, err := s.Neighbors(ctx, "EFO_1", storage.DirectionOut)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "ENSG1", out[0].Node)
	assert.Equal(t, "0.9", out[0].Relationship.Properties["score"])

	in, err := s.Neighbors(ctx, "ENSG1", storage.DirectionIn)
	require.NoError(t, err)
	require.Len(t, in, 2)
	assert.Equal(t, "CHEMBL1", in[0].Node)

	both, err := s.Neighbors(ctx, "ENSG1", storage.DirectionBoth)
	require.NoError(t, err)
	assert.Len(t, both, 2)

	_, err = s.Neighbors(ctx, "ENSG1", "sideways")
	assert.True(t, errors.Is(err, storage.ErrInvalidDirection))

	var seen []string
	require.NoError(t, s.Relationships(ctx, func(r models.Relationship) error {
		seen = append(seen, r.Start)
		return nil
	}))
	assert.Equal(t, []string{"CHEMBL1", "EFO_1"}, seen)
}

func TestSQLiteSink_StatsAndRuns(t *testing.T) {
	s, cleanup := setupSQLiteTest(t)
	defer cleanup()

	ctx := context.Background()

	_, err := s.WriteNodes(ctx, "Disease", diseaseTable(t))
	require.NoError(t, err)
	_, err = s.WriteRelationships(ctx, "Relationships", relTable(t))
	require.NoError(t, err)

	latest, err := s.LatestRun(ctx)
	require.NoError(t, err)
	assert.Empty(t, latest)

	run := models.Run{ID: "run-1", StartedAt: time.Now(), DataPath: "./data/"}
	require.NoError(t, s.RecordRun(ctx, run))
	run.FinishedAt = time.Now()
	run.Counts = map[string]int{"relationships": 2}
	require.NoError(t, s.RecordRun(ctx, run))

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Nodes["Disease"])
	assert.Equal(t, 2, st.TotalNodes)
	assert.Equal(t, 1, st.Relationships["chemblDiseaseToTarget"])
	assert.Equal(t, 2, st.TotalEdges)
	require.NotNil(t, st.LastRun)
	assert.Equal(t, "run-1", st.LastRun.ID)
	assert.Equal(t, 2, st.LastRun.Counts["relationships"])

	latest, err = s.LatestRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, "run-1", latest)
}
