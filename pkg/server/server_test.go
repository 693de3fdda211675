package server_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ha1tch/otkg/pkg/cache"
	"github.com/ha1tch/otkg/pkg/config"
	"github.com/ha1tch/otkg/pkg/models"
	"github.com/ha1tch/otkg/pkg/server"
	"github.com/ha1tch/otkg/pkg/storage"
	"github.com/ha1tch/otkg/pkg/table"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestServer holds test server instance and helpers
type TestServer struct {
	server *server.Server
	ts     *httptest.Server
	cfg    *config.Config
	sink   *storage.SQLiteSink
	t      *testing.T
}

func seed(t *testing.T, sink *storage.SQLiteSink) {
	t.Helper()
	ctx := context.Background()

	diseases := table.New(table.ColID, "Name", table.ColLabel)
	require.NoError(t, diseases.Append("EFO_1", "asthma", "Disease"))
	require.NoError(t, diseases.Append("EFO_2", "eczema", "Disease"))
	require.NoError(t, diseases.Append("EFO_3", "psoriasis", "Disease"))

	targets := table.New(table.ColID, "Approved_Symbol", table.ColLabel)
	require.NoError(t, targets.Append("ENSG1", "ADRB2", "Target"))

	molecules := table.New(table.ColID, "Name", table.ColLabel)
	require.NoError(t, molecules.Append("CHEMBL1", "salbutamol", "Molecule"))

	rels := table.New(table.ColStartID, table.ColScore, table.ColEndID, table.ColType)
	require.NoError(t, rels.Append("EFO_1", 0.9, "ENSG1", "chemblDiseaseToTarget"))
	require.NoError(t, rels.Append("CHEMBL1", 1.0, "EFO_1", "Known_Molecule_Link_To_Disease"))

	for name, tbl := range map[string]*table.Table{"Disease": diseases, "Targets": targets, "Molecule": molecules} {
		_, err := sink.WriteNodes(ctx, name, tbl)
		require.NoError(t, err)
	}
	_, err := sink.WriteRelationships(ctx, "Relationships", rels)
	require.NoError(t, err)
}

// setupTestServer creates a server over a seeded SQLite database
func setupTestServer(t *testing.T, tune func(*config.Config)) *TestServer {
	t.Helper()

	cfg := config.Default()
	cfg.Host = "localhost"
	cfg.CacheTTL = 300
	cfg.DefaultPageSize = 2
	cfg.RateLimit = 1000
	cfg.RateBurst = 1000
	if tune != nil {
		tune(cfg)
	}

	sink, err := storage.NewSQLiteSink(filepath.Join(t.TempDir(), "otkg.db"), storage.DefaultSQLiteConfig())
	require.NoError(t, err)
	seed(t, sink)

	memCache := cache.NewMemoryCache(1000, cfg.CacheTTLDuration())
	srv := server.New(cfg, sink, memCache, zerolog.Nop())
	ts := httptest.NewServer(srv.Handler())

	t.Cleanup(func() {
		ts.Close()
		memCache.Close()
		sink.Close()
	})

	return &TestServer{server: srv, ts: ts, cfg: cfg, sink: sink, t: t}
}

func (ts *TestServer) get(path string) *http.Response {
	ts.t.Helper()
	resp, err := http.Get(ts.ts.URL + path)
	require.NoError(ts.t, err)
	return resp
}

func (ts *TestServer) getJSON(path string, status int, into interface{}) *http.Response {
	ts.t.Helper()
	resp := ts.get(path)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(ts.t, err)
	require.Equal(ts.t, status, resp.StatusCode, string(body))
	if into != nil {
		require.NoError(ts.t, json.Unmarshal(body, into))
	}
	return resp
}

func TestHealthAndVersion(t *testing.T) {
	ts := setupTestServer(t, nil)

	var health map[string]string
	ts.getJSON("/health", http.StatusOK, &health)
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, config.Version, health["version"])

	var version map[string]string
	ts.getJSON("/version", http.StatusOK, &version)
	assert.Equal(t, config.Version, version["version"])
}

func TestListNodesPaginates(t *testing.T) {
	ts := setupTestServer(t, nil)

	var page struct {
		Data       []models.Node `json:"data"`
		Pagination struct {
			Page       int `json:"page"`
			TotalItems int `json:"total_items"`
			TotalPages int `json:"total_pages"`
		} `json:"pagination"`
	}
	ts.getJSON("/api/v1/nodes/Disease?page=2", http.StatusOK, &page)

	assert.Equal(t, 2, page.Pagination.Page)
	assert.Equal(t, 3, page.Pagination.TotalItems)
	assert.Equal(t, 2, page.Pagination.TotalPages)
	require.Len(t, page.Data, 1)
	assert.Equal(t, "EFO_3", page.Data[0].ID)

	ts.getJSON("/api/v1/nodes/Unknown", http.StatusOK, &page)
	assert.Empty(t, page.Data)
}

func TestGetNode(t *testing.T) {
	ts := setupTestServer(t, nil)

	var node models.Node
	ts.getJSON("/api/v1/nodes/Target/ENSG1", http.StatusOK, &node)
	assert.Equal(t, "ENSG1", node.ID)
	assert.Equal(t, "Targets", node.Source)
	assert.Equal(t, "ADRB2", node.Properties["Approved_Symbol"])

	var errResp models.ErrorResponse
	ts.getJSON("/api/v1/nodes/Target/ENSG404", http.StatusNotFound, &errResp)
	assert.Equal(t, http.StatusNotFound, errResp.Error.Status)
}

func TestNeighbors(t *testing.T) {
	ts := setupTestServer(t, nil)

	var resp struct {
		Neighbors []models.Neighbor `json:"neighbors"`
	}
	ts.getJSON("/api/v1/graph/neighbors/EFO_1", http.StatusOK, &resp)
	require.Len(t, resp.Neighbors, 2)
	assert.Equal(t, "out", resp.Neighbors[0].Direction)
	assert.Equal(t, "ENSG1", resp.Neighbors[0].Node)
	assert.Equal(t, "0.9", resp.Neighbors[0].Relationship.Properties["score"])
	assert.Equal(t, "in", resp.Neighbors[1].Direction)
	assert.Equal(t, "CHEMBL1", resp.Neighbors[1].Node)

	ts.getJSON("/api/v1/graph/neighbors/EFO_1?direction=in", http.StatusOK, &resp)
	assert.Len(t, resp.Neighbors, 1)

	ts.getJSON("/api/v1/graph/neighbors/EFO_1?direction=sideways", http.StatusBadRequest, nil)
}

func TestGraphPath(t *testing.T) {
	ts := setupTestServer(t, nil)

	var path models.PathInfo
	ts.getJSON("/api/v1/graph/path?from=CHEMBL1&to=ENSG1", http.StatusOK, &path)
	assert.Equal(t, []string{"CHEMBL1", "EFO_1", "ENSG1"}, path.Path)
	assert.Equal(t, 2, path.Length)

	ts.getJSON("/api/v1/graph/path?from=ENSG1&to=CHEMBL1", http.StatusNotFound, nil)
	ts.getJSON("/api/v1/graph/path?from=CHEMBL1&to=EFO_404", http.StatusNotFound, nil)
	ts.getJSON("/api/v1/graph/path?from=CHEMBL1&to=ENSG1&max_depth=2", http.StatusNotFound, nil)
	ts.getJSON("/api/v1/graph/path?from=CHEMBL1", http.StatusBadRequest, nil)
	ts.getJSON("/api/v1/graph/path?from=CHEMBL1&to=ENSG1&max_depth=zero", http.StatusBadRequest, nil)
}

func TestNewBuildRefreshesGraph(t *testing.T) {
	ts := setupTestServer(t, nil)
	ctx := context.Background()

	ts.getJSON("/api/v1/graph/path?from=EFO_2&to=ENSG1", http.StatusNotFound, nil)
	ts.getJSON("/api/v1/graph/path?from=CHEMBL1&to=ENSG1", http.StatusOK, nil)
	cached := ts.getJSON("/api/v1/graph/path?from=CHEMBL1&to=ENSG1", http.StatusOK, nil)
	assert.Equal(t, "HIT", cached.Header.Get("X-Cache"))

	rels := table.New(table.ColStartID, table.ColScore, table.ColEndID, table.ColType)
	require.NoError(t, rels.Append("EFO_2", 0.5, "ENSG1", "europepmcDiseaseToTarget"))
	_, err := ts.sink.WriteRelationships(ctx, "Relationships", rels)
	require.NoError(t, err)
	require.NoError(t, ts.sink.RecordRun(ctx, models.Run{ID: "run-2", StartedAt: time.Now().UTC()}))

	var path models.PathInfo
	ts.getJSON("/api/v1/graph/path?from=EFO_2&to=ENSG1", http.StatusOK, &path)
	assert.Equal(t, []string{"EFO_2", "ENSG1"}, path.Path)

	ts.getJSON("/api/v1/graph/path?from=CHEMBL1&to=ENSG1", http.StatusNotFound, nil)
}

func TestGraphStats(t *testing.T) {
	ts := setupTestServer(t, nil)

	var stats models.GraphStats
	ts.getJSON("/api/v1/graph/stats", http.StatusOK, &stats)
	assert.Equal(t, 5, stats.TotalNodes)
	assert.Equal(t, 2, stats.TotalEdges)
	assert.Equal(t, 3, stats.Nodes["Disease"])
}

func TestResponseCache(t *testing.T) {
	ts := setupTestServer(t, nil)

	first := ts.getJSON("/api/v1/nodes/Disease/EFO_1", http.StatusOK, nil)
	assert.Equal(t, "MISS", first.Header.Get("X-Cache"))

	second := ts.getJSON("/api/v1/nodes/Disease/EFO_1", http.StatusOK, nil)
	assert.Equal(t, "HIT", second.Header.Get("X-Cache"))

	other := ts.getJSON("/api/v1/nodes/Disease/EFO_2", http.StatusOK, nil)
	assert.Equal(t, "MISS", other.Header.Get("X-Cache"))
}

func TestRateLimit(t *testing.T) {
	ts := setupTestServer(t, func(cfg *config.Config) {
		cfg.RateLimit = 0.001
		cfg.RateBurst = 2
	})

	for i := 0; i < 2; i++ {
		ts.getJSON(fmt.Sprintf("/api/v1/nodes/Disease/EFO_%d", i+1), http.StatusOK, nil)
	}
	resp := ts.getJSON("/api/v1/graph/stats", http.StatusTooManyRequests, nil)
	assert.Equal(t, "0", resp.Header.Get("X-RateLimit-Remaining"))

	// probes are never limited
	ts.getJSON("/health", http.StatusOK, nil)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := setupTestServer(t, nil)
	ts.getJSON("/api/v1/graph/stats", http.StatusOK, nil)

	resp := ts.get("/metrics")
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), "otkg_http_request_total"))
}

func TestShutdownWithoutStart(t *testing.T) {
	ts := setupTestServer(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, ts.server.Shutdown(ctx))
	assert.NoError(t, ts.server.Shutdown(ctx))
}
