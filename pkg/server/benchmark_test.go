package server_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/ha1tch/otkg/pkg/config"
	"github.com/ha1tch/otkg/pkg/server"
	"github.com/ha1tch/otkg/pkg/storage"
	"github.com/ha1tch/otkg/pkg/table"
	"github.com/rs/zerolog"
)

// setupBenchServer creates a server over a chain of n diseases, each linked
// to the next, with response caching disabled
func setupBenchServer(b *testing.B, n int) *httptest.Server {
	b.Helper()

	sink, err := storage.NewSQLiteSink(filepath.Join(b.TempDir(), "bench.db"), storage.DefaultSQLiteConfig())
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { sink.Close() })

	nodes := table.New(table.ColID, "Name", table.ColLabel)
	rels := table.New(table.ColStartID, table.ColScore, table.ColEndID, table.ColType)
	for i := 0; i < n; i++ {
		nodes.Append(fmt.Sprintf("EFO_%d", i), fmt.Sprintf("disease %d", i), "Disease")
		if i > 0 {
			rels.Append(fmt.Sprintf("EFO_%d", i-1), 0.5, fmt.Sprintf("EFO_%d", i), "benchDiseaseToDisease")
		}
	}

	ctx := context.Background()
	if _, err := sink.WriteNodes(ctx, "Disease", nodes); err != nil {
		b.Fatal(err)
	}
	if _, err := sink.WriteRelationships(ctx, "Relationships", rels); err != nil {
		b.Fatal(err)
	}

	cfg := config.Default()
	cfg.RateLimit = 1e9
	cfg.RateBurst = 1 << 40

	srv := server.New(cfg, sink, nil, zerolog.Nop())
	ts := httptest.NewServer(srv.Handler())
	b.Cleanup(ts.Close)
	return ts
}

func benchGet(b *testing.B, url string) {
	b.Helper()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		resp, err := http.Get(url)
		if err != nil {
			b.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			b.Fatalf("unexpected status %d", resp.StatusCode)
		}
	}
}

func BenchmarkListNodes(b *testing.B) {
	ts := setupBenchServer(b, 1000)
	benchGet(b, ts.URL+"/api/v1/nodes/Disease?page=10&per_page=50")
}

func BenchmarkNeighbors(b *testing.B) {
	ts := setupBenchServer(b, 1000)
	benchGet(b, ts.URL+"/api/v1/graph/neighbors/EFO_500")
}

func BenchmarkGraphPath(b *testing.B) {
	ts := setupBenchServer(b, 200)
	benchGet(b, ts.URL+"/api/v1/graph/path?from=EFO_0&to=EFO_10&max_depth=12")
}
