// Package main implements the chronicle binary.
// It opens the database named by the configuration, registers the tracked
// models of the model file and runs one maintenance command against it.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arkilian/chronicle/internal/app"
	"github.com/arkilian/chronicle/internal/config"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	// Parse command line flags
	var (
		configFile  string
		dataDir     string
		modelsFile  string
		dbPath      string
		storageType string
		showVersion bool
		showHelp    bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&dataDir, "data-dir", "", "Base directory for the database and local archives")
	flag.StringVar(&modelsFile, "models", "", "Path to the model file (YAML or JSON)")
	flag.StringVar(&dbPath, "db", "", "Path to the SQLite database")
	flag.StringVar(&storageType, "storage-type", "", "Archive storage type: local, s3")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showHelp, "help", false, "Show help message")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Chronicle - model history for SQLite databases\n\n")
		fmt.Fprintf(os.Stderr, "Usage: chronicle [options] <command> [args]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  schema             Print the DDL of every historical table\n")
		fmt.Fprintf(os.Stderr, "  load <fixtures>    Save fixture records without history\n")
		fmt.Fprintf(os.Stderr, "  backfill           Snapshot live rows that have no history\n")
		fmt.Fprintf(os.Stderr, "  archive            Export every historical table as a new run\n")
		fmt.Fprintf(os.Stderr, "  runs               List archive runs, newest first\n")
		fmt.Fprintf(os.Stderr, "  find <model> <pk>  Print archived snapshots of one row\n")
		fmt.Fprintf(os.Stderr, "  prune              Delete all but the configured number of runs\n")
		fmt.Fprintf(os.Stderr, "  version            Show version information\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  chronicle --models models.yaml backfill\n")
		fmt.Fprintf(os.Stderr, "  chronicle --config /etc/chronicle/config.yaml archive\n")
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  CHRONICLE_DATA_DIR      Base directory for data files\n")
		fmt.Fprintf(os.Stderr, "  CHRONICLE_MODELS_FILE   Model file\n")
		fmt.Fprintf(os.Stderr, "  CHRONICLE_STORAGE_TYPE  Storage type (local, s3)\n")
		fmt.Fprintf(os.Stderr, "  CHRONICLE_S3_*          S3 bucket, region and endpoint\n")
	}

	flag.Parse()

	if showHelp {
		flag.Usage()
		os.Exit(0)
	}

	if showVersion || flag.Arg(0) == "version" {
		fmt.Printf("chronicle version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	// Load configuration
	cfg, err := loadConfig(configFile, dataDir, modelsFile, dbPath, storageType)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	application, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}

	err = run(ctx, application, flag.Args())
	if cerr := application.Close(); cerr != nil {
		log.Printf("Close error: %v", cerr)
	}
	if err != nil {
		log.Printf("%s failed: %v", flag.Arg(0), err)
		os.Exit(1)
	}
}

// run dispatches one command.
func run(ctx context.Context, a *app.App, args []string) error {
	switch cmd, rest := args[0], args[1:]; cmd {
	case "schema":
		for _, stmt := range a.SchemaSQL() {
			fmt.Printf("%s;\n", stmt)
		}
		return nil

	case "load":
		if len(rest) != 1 {
			return fmt.Errorf("usage: chronicle load <fixtures>")
		}
		n, err := a.LoadFixtures(ctx, rest[0])
		if err != nil {
			return err
		}
		fmt.Printf("Installed %d object(s) from %s\n", n, rest[0])
		return nil

	case "backfill":
		res, err := a.Backfill(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Scanned %d row(s) across %d model(s), created %d historical record(s)\n",
			res.Scanned, res.Models, res.Created)
		return nil

	case "archive":
		m, err := a.Export(ctx)
		if m != nil {
			for _, seg := range m.Segments {
				fmt.Printf("  %-40s %8d rows %10d bytes\n", seg.Table, seg.Rows, seg.Bytes)
			}
			fmt.Printf("Run %s\n", m.RunID)
		}
		return err

	case "runs":
		runs, err := a.Archive().Runs(ctx)
		if err != nil {
			return err
		}
		for _, m := range runs {
			var rows int
			for _, seg := range m.Segments {
				rows += seg.Rows
			}
			fmt.Printf("%s  %s  %d segment(s)  %d row(s)\n",
				m.RunID, m.CreatedAt.Format(time.RFC3339), len(m.Segments), rows)
		}
		return nil

	case "find":
		if len(rest) != 2 {
			return fmt.Errorf("usage: chronicle find <model> <pk>")
		}
		m, err := a.Archive().Latest(ctx)
		if err != nil {
			return err
		}
		rows, err := a.Archive().Find(ctx, m, rest[0], rest[1])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		for _, row := range rows {
			if err := enc.Encode(row); err != nil {
				return err
			}
		}
		return nil

	case "prune":
		removed, err := a.Prune(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Removed %d run(s), kept %d\n", removed, a.Config().Archive.Keep)
		return nil

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// loadConfig loads configuration from file, environment, and command line flags.
func loadConfig(configFile, dataDir, modelsFile, dbPath, storageType string) (*config.Config, error) {
	var cfg *config.Config
	var err error

	// Start with defaults or load from file
	if configFile != "" {
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	} else {
		cfg = config.DefaultConfig()
	}

	// Apply environment variables
	config.LoadFromEnv(cfg)

	// Apply command line flags (highest priority)
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if modelsFile != "" {
		cfg.ModelsFile = modelsFile
	}
	if dbPath != "" {
		cfg.Database.Path = dbPath
	}
	if storageType != "" {
		cfg.Storage.Type = storageType
	}

	return cfg, nil
}
