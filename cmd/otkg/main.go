package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ha1tch/otkg/pkg/config"
	"github.com/ha1tch/otkg/pkg/mapping"
	"github.com/ha1tch/otkg/pkg/pipeline"
	"github.com/ha1tch/otkg/pkg/verify"
	"github.com/rs/zerolog"
)

func main() {
	var (
		envFile     = flag.String("env", ".env", "dotenv file to load before reading the environment")
		adapterPath = flag.String("adapters", "", "adapter configuration (overrides ADAPTER_CONFIG)")
		dataPath    = flag.String("data", "", "input data directory (overrides DATA_PATH)")
		savePath    = flag.String("out", "", "output directory (overrides SAVE_PATH)")
		check       = flag.Bool("verify", false, "compare the built tables with a running Neo4j")
		refresh     = flag.Bool("refresh", false, "drop cached extraction results before building")
	)
	flag.Parse()

	logger := newLogger("info")

	if err := config.LoadDotEnv(*envFile); err != nil {
		logger.Fatal().Err(err).Str("file", *envFile).Msg("Failed to load env file")
	}

	// Load configuration
	cfg := config.Default()
	config.LoadFromEnv(cfg)
	if *adapterPath != "" {
		cfg.AdapterConfig = *adapterPath
	}
	if *dataPath != "" {
		cfg.DataPath = *dataPath
	}
	if *savePath != "" {
		cfg.SavePath = *savePath
	}
	logger = newLogger(cfg.LogLevel)
	if cfg.Debug {
		logger = logger.Level(zerolog.DebugLevel)
	}

	printBanner(cfg)

	adapters, err := mapping.Load(cfg.AdapterConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load adapter configuration")
	}

	sinks, err := pipeline.OpenSinks(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize sinks")
	}
	defer sinks.Close()

	cacheInstance := pipeline.OpenCache(cfg, logger)
	if cacheInstance != nil {
		defer cacheInstance.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := pipeline.Run(ctx, cfg, pipeline.Deps{
		Logger:   logger,
		Adapters: adapters,
		Sink:     sinks,
		Cache:    cacheInstance,
		Refresh:  *refresh,
	})
	if err != nil {
		logger.Error().Err(err).Msg("Build failed")
		sinks.Close()
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("Build summary:")
	for _, name := range []string{pipeline.TableDisease, pipeline.TableMolecule, pipeline.TableTargets, pipeline.TableRelationships} {
		if loc, ok := res.Locations[name]; ok {
			fmt.Printf("  %-14s %8d rows  %s\n", name, res.Run.Counts[name], loc)
		}
	}
	if res.Manifest == nil {
		fmt.Println("  No valid relationships found!")
		return
	}
	fmt.Printf("  Manifest: %s\n", cfg.ManifestPath)

	if *check {
		if err := runVerify(ctx, cfg, res, logger); err != nil {
			logger.Error().Err(err).Msg("Verification failed")
			sinks.Close()
			os.Exit(1)
		}
	}
}

func runVerify(ctx context.Context, cfg *config.Config, res *pipeline.Result, logger zerolog.Logger) error {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	counter, err := verify.NewNeo4jCounter(ctx, verify.Config{
		URI:      cfg.Neo4jURI,
		User:     cfg.Neo4jUser,
		Password: cfg.Neo4jPassword,
		Database: cfg.Database,
		Timeout:  10 * time.Second,
	})
	if err != nil {
		return err
	}
	defer counter.Close(ctx)

	expected := verify.ExpectedFromTables(res.Relationships, res.Disease, res.Molecule, res.Targets)
	mismatches, err := verify.Check(ctx, counter, expected)
	if err != nil {
		return err
	}
	for _, m := range mismatches {
		logger.Warn().Str("what", m.What).Int64("expected", m.Expected).Int64("actual", m.Actual).Msg("Count mismatch")
	}
	if len(mismatches) > 0 {
		return fmt.Errorf("%d count mismatches", len(mismatches))
	}
	logger.Info().Msg("Neo4j counts match the built tables")
	return nil
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(lvl).
		With().
		Timestamp().
		Logger()
}

func printBanner(cfg *config.Config) {
	fmt.Println("//////////////////////////// otkg " + config.Version + " ////////////////////////////")
	fmt.Println("----------------------------------------------------------------------")
	fmt.Println("Build Configuration:")
	fmt.Printf("  Adapters: %s\n", cfg.AdapterConfig)
	fmt.Printf("  Data: %s\n", cfg.DataPath)
	fmt.Printf("  Embeddings: %s\n", cfg.EmbeddingFile())
	fmt.Printf("  Only drug evidence: %v\n", cfg.OnlyDrug)
	fmt.Printf("  Dedupe key: %s\n", cfg.DedupeKey)
	fmt.Println()
	fmt.Println("Output Configuration:")
	fmt.Printf("  Sinks: %s\n", strings.Join(cfg.Sinks, ", "))
	fmt.Printf("  Save path: %s\n", cfg.SavePath)
	fmt.Printf("  Manifest: %s (import prefix %s)\n", cfg.ManifestPath, cfg.ImportPrefix)
	fmt.Println()
	fmt.Println("Cache Configuration:")
	fmt.Printf("  Type: %s\n", cfg.CacheType)
	if cfg.CacheType != "none" {
		fmt.Printf("  TTL: %d seconds\n", cfg.CacheTTL)
	}
	if cfg.CacheType == "redis" {
		fmt.Printf("  Redis: %s:%d\n", cfg.RedisHost, cfg.RedisPort)
	}
	fmt.Println("----------------------------------------------------------------------")
	fmt.Println()
}
