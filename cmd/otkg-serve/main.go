package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ha1tch/otkg/pkg/config"
	"github.com/ha1tch/otkg/pkg/pipeline"
	"github.com/ha1tch/otkg/pkg/server"
	"github.com/ha1tch/otkg/pkg/storage"
	"github.com/rs/zerolog"
)

func main() {
	// Setup logger
	logger := zerolog.New(os.Stdout).With().
		Timestamp().
		Logger().
		Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})

	if err := config.LoadDotEnv(".env"); err != nil {
		logger.Fatal().Err(err).Msg("Failed to load .env")
	}

	// Load configuration
	cfg := config.Default()
	config.LoadFromEnv(cfg)
	if lvl, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel)); err == nil {
		logger = logger.Level(lvl)
	}

	printBanner(cfg)

	reader, err := storage.OpenReader(cfg.DBPath)
	if err != nil {
		logger.Fatal().Err(err).Str("db_path", cfg.DBPath).Msg("Failed to open graph database")
	}
	defer reader.Close()

	stats, err := reader.Stats(context.Background())
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to read graph database")
	}
	logger.Info().
		Int("nodes", stats.TotalNodes).
		Int("relationships", stats.TotalEdges).
		Msg("Graph database opened")
	if stats.TotalNodes == 0 {
		logger.Warn().Msg("Graph database is empty, run otkg with SINKS=csv,sqlite first")
	}

	cacheInstance := pipeline.OpenCache(cfg, logger)
	if cacheInstance != nil {
		defer cacheInstance.Close()
	}

	srv := server.New(cfg, reader, cacheInstance, logger)

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info().Msg("Shutting down gracefully...")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error().Err(err).Msg("Shutdown failed")
		}
	}()

	logger.Info().Msg("Server ready to accept requests")
	if err := srv.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Server failed")
	}
}

func printBanner(cfg *config.Config) {
	fmt.Println("///////////////////////// otkg-serve " + config.Version + " /////////////////////////")
	fmt.Println("----------------------------------------------------------------------")
	fmt.Println("Server Configuration:")
	fmt.Printf("  Host: %s\n", cfg.Host)
	fmt.Printf("  Port: %d\n", cfg.Port)
	fmt.Printf("  Database: %s\n", cfg.DBPath)
	fmt.Printf("  Rate limit: %.1f req/s (burst %d)\n", cfg.RateLimit, cfg.RateBurst)
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
