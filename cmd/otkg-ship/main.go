package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ha1tch/otkg/pkg/config"
	"github.com/ha1tch/otkg/pkg/pipeline"
	"github.com/ha1tch/otkg/pkg/ship"
	"github.com/ha1tch/otkg/pkg/storage"
	"github.com/ha1tch/otkg/pkg/verify"
	"github.com/rs/zerolog"
)

func main() {
	envFile := flag.String("env", ".env", "dotenv file to load before reading the environment")
	check := flag.Bool("verify", false, "after importing, compare Neo4j counts with the SQLite record of the build")
	flag.Usage = func() {
		fmt.Println("Usage: otkg-ship [-verify] [manifest]")
		fmt.Println("Example: otkg-ship neo4j_txt_command.txt")
		flag.PrintDefaults()
	}
	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		log.Fatal(err)
	}
	cfg := config.Default()
	config.LoadFromEnv(cfg)
	if flag.NArg() > 0 {
		cfg.ManifestPath = flag.Arg(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *check); err != nil {
		log.Fatal(err)
	}

	fmt.Println("Shipment completed successfully!")
}

func run(ctx context.Context, cfg *config.Config, check bool) error {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	command, err := ship.ReadCommand(cfg.ManifestPath)
	if err != nil {
		return err
	}

	var files []string
	for _, name := range []string{pipeline.TableDisease, pipeline.TableMolecule, pipeline.TableTargets, pipeline.TableRelationships} {
		files = append(files, filepath.Join(cfg.SavePath, name+storage.CSVExt))
	}

	shipper := ship.New(ship.Config{
		Host:           cfg.RemoteHost,
		Port:           cfg.SSHPort,
		User:           cfg.RemoteUser,
		KeyPath:        cfg.SSHKeyPath,
		Passphrase:     cfg.Passphrase,
		RemoteDir:      cfg.RemoteImportDir,
		KnownHostsPath: cfg.KnownHosts,
		Timeout:        cfg.SSHTimeout,
	}, logger)

	fmt.Println("Uploading files...")
	report, err := shipper.Ship(ctx, files, command)
	if err != nil {
		return err
	}

	fmt.Printf("\nShipment summary:\n")
	fmt.Printf("  Uploaded: %d of %d files\n", len(report.Uploaded), len(files))
	for file, uploadErr := range report.UploadErrors {
		fmt.Printf("  Warning: %s: %v\n", file, uploadErr)
	}
	if report.Stdout != "" {
		fmt.Println("\nImport output:")
		fmt.Println(report.Stdout)
	}
	if report.Stderr != "" {
		fmt.Println("\nImport errors:")
		fmt.Println(report.Stderr)
	}
	if report.ExitErr != nil {
		return fmt.Errorf("import command failed: %w", report.ExitErr)
	}

	if !check {
		return nil
	}

	fmt.Println("\nVerifying import...")
	reader, err := storage.OpenReader(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open build record: %w", err)
	}
	defer reader.Close()

	stats, err := reader.Stats(ctx)
	if err != nil {
		return err
	}

	counter, err := verify.NewNeo4jCounter(ctx, verify.Config{
		URI:      cfg.Neo4jURI,
		User:     cfg.Neo4jUser,
		Password: cfg.Neo4jPassword,
		Database: cfg.Database,
		Timeout:  cfg.SSHTimeout,
	})
	if err != nil {
		return err
	}
	defer counter.Close(ctx)

	mismatches, err := verify.Check(ctx, counter, verify.ExpectedFromStats(stats))
	if err != nil {
		return err
	}
	for _, m := range mismatches {
		fmt.Printf("  Mismatch: %s\n", m)
	}
	if len(mismatches) > 0 {
		return fmt.Errorf("import verification failed: %d mismatches", len(mismatches))
	}
	fmt.Println("  Counts verified")
	return nil
}
