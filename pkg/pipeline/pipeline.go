// Package pipeline runs one knowledge graph build: extract the node tables
// and the relationship tables, assemble the relationships against the node
// universe, write everything through the sinks and emit the import manifest.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/ha1tch/otkg/pkg/cache"
	"github.com/ha1tch/otkg/pkg/config"
	"github.com/ha1tch/otkg/pkg/embedding"
	"github.com/ha1tch/otkg/pkg/extract"
	"github.com/ha1tch/otkg/pkg/graph"
	"github.com/ha1tch/otkg/pkg/mapping"
	"github.com/ha1tch/otkg/pkg/metrics"
	"github.com/ha1tch/otkg/pkg/models"
	"github.com/ha1tch/otkg/pkg/storage"
	"github.com/ha1tch/otkg/pkg/table"
	"github.com/ha1tch/otkg/pkg/validation"
	"github.com/rs/zerolog"
)

// Output table names, in manifest order
const (
	TableDisease       = "Disease"
	TableMolecule      = "Molecule"
	TableTargets       = "Targets"
	TableRelationships = "Relationships"
)

// Source directories under the data path
const (
	DirDiseases = "diseases"
	DirMolecule = "molecule"
	DirTargets  = "targets"
	DirEvidence = "evidence"
)

// Deps are the collaborators of a run
type Deps struct {
	Logger   zerolog.Logger
	Adapters *mapping.Document
	Sink     storage.Sink
	Cache    cache.Cache // optional
	Now      func() time.Time

	// Refresh drops cached extraction results before extracting
	Refresh bool
}

// Result is the outcome of a run
type Result struct {
	Run           models.Run
	Disease       *table.Table
	Molecule      *table.Table
	Targets       *table.Table
	Relationships *table.Table
	Assembly      graph.Stats
	Extraction    map[string]extract.Stats
	Locations     map[string]string
	// Manifest is nil when no relationship survived assembly
	Manifest *graph.Manifest
	Isolated []string
	Metrics  *metrics.Run
}

type specs struct {
	disease, molecule, targets, evidence *mapping.Spec
}

func loadSpecs(doc *mapping.Document) (specs, error) {
	var s specs
	for _, item := range []struct {
		kind string
		dst  **mapping.Spec
	}{
		{mapping.KindDisease, &s.disease},
		{mapping.KindMolecule, &s.molecule},
		{mapping.KindTargets, &s.targets},
		{mapping.KindEvidence, &s.evidence},
	} {
		spec, err := doc.Adapter(item.kind)
		if err != nil {
			return s, err
		}
		if err := validation.CheckSpec(spec); err != nil {
			return s, err
		}
		*item.dst = spec
	}
	return s, nil
}

// Run executes one build. Configuration problems abort before any input is
// read. A build whose relationships are all filtered out still writes its
// node tables; it writes neither the relationship table nor the manifest.
func Run(ctx context.Context, cfg *config.Config, deps Deps) (*Result, error) {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger

	if deps.Adapters == nil {
		return nil, fmt.Errorf("%w: no adapter document", mapping.ErrConfig)
	}
	s, err := loadSpecs(deps.Adapters)
	if err != nil {
		return nil, err
	}
	dedupeKey, err := graph.ParseDedupeKey(cfg.DedupeKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", mapping.ErrConfig, err)
	}

	res := &Result{
		Run: models.Run{
			ID:        uuid.New().String(),
			StartedAt: now().UTC(),
			DataPath:  cfg.DataPath,
			Counts:    make(map[string]int),
		},
		Extraction: make(map[string]extract.Stats),
		Locations:  make(map[string]string),
		Metrics:    metrics.NewRun(),
	}
	logger = logger.With().Str("run_id", res.Run.ID).Logger()
	logger.Info().Str("data_path", cfg.DataPath).Msg("Extracting OT data for KG")

	if deps.Refresh {
		invalidate(ctx, deps.Cache, cache.ScopeExtract, logger)
	}
	ex := extract.New(logger, deps.Cache, cfg.CacheTTLDuration())

	runErr := res.build(ctx, cfg, deps.Sink, ex, s, dedupeKey, logger, now)

	res.Run.FinishedAt = now().UTC()
	if runErr != nil {
		res.Run.Error = runErr.Error()
	}
	if recorder, ok := deps.Sink.(storage.RunRecorder); ok {
		if err := recorder.RecordRun(ctx, res.Run); err != nil {
			logger.Warn().Err(err).Msg("Failed to record run")
		}
	}
	if runErr != nil {
		return res, runErr
	}

	// responses served from the previous build are stale now
	invalidate(ctx, deps.Cache, cache.ScopeAPI, logger)

	res.Metrics.Succeeded(res.Run.FinishedAt)
	if cfg.MetricsFile != "" {
		if err := res.Metrics.WriteTextfile(cfg.MetricsFile); err != nil {
			logger.Warn().Err(err).Msg("Failed to write metrics textfile")
		}
	}
	return res, nil
}

func (res *Result) build(ctx context.Context, cfg *config.Config, sink storage.Sink, ex *extract.Extractor,
	s specs, dedupeKey graph.DedupeKey, logger zerolog.Logger, now func() time.Time) error {

	stage := func(name string, started time.Time) {
		res.Metrics.ObserveStage(name, now().Sub(started))
	}

	// Diseases
	started := now()
	disease, stats, err := ex.Extract(ctx, filepath.Join(cfg.DataPath, DirDiseases), s.disease)
	if err != nil {
		return fmt.Errorf("extract diseases: %w", err)
	}
	res.observe(mapping.KindDisease, stats)
	res.Disease = disease
	if err := res.writeNodes(ctx, sink, TableDisease, disease, logger); err != nil {
		return err
	}
	stage(mapping.KindDisease, started)

	// Molecules
	started = now()
	lookup, err := embedding.Load(cfg.EmbeddingFile())
	if err != nil {
		return fmt.Errorf("load embeddings: %w", err)
	}
	if lookup.Duplicates() > 0 {
		logger.Warn().Int("duplicates", lookup.Duplicates()).Msg("Duplicate embedding rows ignored")
	}
	mol, err := ex.ExtractMolecules(ctx, filepath.Join(cfg.DataPath, DirMolecule), s.molecule, lookup)
	if err != nil {
		return fmt.Errorf("extract molecules: %w", err)
	}
	res.observe(mapping.KindMolecule, mol.Stats)
	res.Molecule = mol.Nodes
	if err := res.writeNodes(ctx, sink, TableMolecule, mol.Nodes, logger); err != nil {
		return err
	}
	stage(mapping.KindMolecule, started)

	// Targets
	started = now()
	targets, stats, err := ex.Extract(ctx, filepath.Join(cfg.DataPath, DirTargets), s.targets)
	if err != nil {
		return fmt.Errorf("extract targets: %w", err)
	}
	res.observe(mapping.KindTargets, stats)
	res.Targets = targets
	if err := res.writeNodes(ctx, sink, TableTargets, targets, logger); err != nil {
		return err
	}
	stage(mapping.KindTargets, started)

	// Evidence
	started = now()
	evidence, stats, err := ex.ExtractEvidence(ctx, filepath.Join(cfg.DataPath, DirEvidence), s.evidence, cfg.OnlyDrug)
	if err != nil {
		return fmt.Errorf("extract evidence: %w", err)
	}
	res.observe(mapping.KindEvidence, stats)
	stage(mapping.KindEvidence, started)

	// Assembly
	started = now()
	nodeTables := []*table.Table{disease, mol.Nodes, targets}
	relTables := append(evidence, mol.TargetLinks, mol.DiseaseLinks)

	assembled, err := graph.NewAssembler(logger, dedupeKey).Assemble(nodeTables, relTables)
	if err != nil && !errors.Is(err, graph.ErrNoValidRelationships) {
		return err
	}
	res.Assembly = assembled.Stats
	res.Metrics.ObserveAssembly(assembled.Stats)
	stage("assemble", started)
	if err != nil {
		logger.Warn().Msg("No valid relationships found, skipping manifest")
		// an earlier build's relationships and manifest must not be imported
		// alongside these node tables
		if err := sink.ClearRelationships(ctx, TableRelationships); err != nil {
			return fmt.Errorf("clear %s: %w", TableRelationships, err)
		}
		if err := graph.RemoveManifest(cfg.ManifestPath); err != nil {
			return err
		}
		return nil
	}

	res.Relationships = assembled.Relationships
	loc, err := sink.WriteRelationships(ctx, TableRelationships, assembled.Relationships)
	if err != nil {
		return fmt.Errorf("write %s: %w", TableRelationships, err)
	}
	res.record(TableRelationships, loc, assembled.Relationships.Len())
	logger.Info().
		Int("rows", assembled.Relationships.Len()).
		Int("columns", len(assembled.Relationships.Columns())).
		Str("location", loc).
		Msg("Created relationships table")

	index := graph.IndexTable(assembled.Relationships)
	res.Isolated = index.Isolated(graph.NewUniverse(nodeTables...))
	if len(res.Isolated) > 0 {
		logger.Info().Int("isolated", len(res.Isolated)).Msg("Nodes without relationships")
	}

	// Manifest
	m := graph.NewManifest(cfg.Neo4jAdmin, cfg.Database)
	for _, name := range []string{TableDisease, TableMolecule, TableTargets} {
		m.AddNodes(cfg.ImportPrefix + name + ".csv")
	}
	m.AddRelationships(cfg.ImportPrefix + TableRelationships + ".csv")
	if err := graph.WriteManifest(cfg.ManifestPath, m); err != nil {
		return err
	}
	res.Manifest = m
	res.Run.Manifest = cfg.ManifestPath
	logger.Info().Str("path", cfg.ManifestPath).Msg("Created import manifest")

	return nil
}

func (res *Result) observe(kind string, stats extract.Stats) {
	res.Extraction[kind] = stats
	res.Metrics.ObserveExtraction(kind, stats)
}

func (res *Result) writeNodes(ctx context.Context, sink storage.Sink, name string, t *table.Table, logger zerolog.Logger) error {
	loc, err := sink.WriteNodes(ctx, name, t)
	if err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	res.record(name, loc, t.Len())
	logger.Info().
		Int("rows", t.Len()).
		Int("columns", len(t.Columns())).
		Str("location", loc).
		Msgf("Created %s table", name)
	return nil
}

func (res *Result) record(name, location string, rows int) {
	res.Locations[name] = location
	res.Run.Counts[name] = rows
	res.Metrics.SetRows(name, rows)
}

func invalidate(ctx context.Context, c cache.Cache, scope string, logger zerolog.Logger) {
	if c == nil {
		return
	}
	n, err := c.Invalidate(ctx, scope)
	if err != nil {
		logger.Warn().Err(err).Str("scope", scope).Msg("Failed to invalidate cache")
		return
	}
	if n > 0 {
		logger.Info().Int("entries", n).Str("scope", scope).Msg("Invalidated cache")
	}
}
