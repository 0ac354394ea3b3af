// Package app wires configuration, the model file, the store, history
// tracking and archives into the handle the chronicle commands run on.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/arkilian/chronicle/internal/archive"
	"github.com/arkilian/chronicle/internal/config"
	"github.com/arkilian/chronicle/internal/history"
	"github.com/arkilian/chronicle/internal/schema"
	"github.com/arkilian/chronicle/internal/storage"
	"github.com/arkilian/chronicle/internal/store"
	"github.com/arkilian/chronicle/pkg/types"
)

// App holds the opened database with every model of the model file
// registered and the registry frozen.
type App struct {
	cfg     *config.Config
	models  *schema.ModelFile
	db      *store.DB
	tracker *history.Tracker
	storage storage.ObjectStorage
	archive *archive.Archive
}

// New resolves and validates cfg, then opens everything it names.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}

	models, err := schema.LoadFile(cfg.ModelsFile)
	if err != nil {
		return nil, err
	}
	catalog, err := models.Catalog()
	if err != nil {
		return nil, fmt.Errorf("invalid model file: %w", err)
	}

	db, err := store.Open(cfg.Database.Path, catalog, store.Options{BusyTimeout: cfg.Database.BusyTimeout})
	if err != nil {
		return nil, err
	}
	a := &App{cfg: cfg, models: models, db: db}
	if err := a.init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	if err := a.db.Migrate(ctx); err != nil {
		return err
	}

	a.tracker = history.New(a.db, history.Options{
		ManagerName:     a.cfg.History.ManagerName,
		UserModel:       a.cfg.History.UserModel,
		UserRelatedName: a.cfg.History.UserRelatedName,
		StringKeys:      a.cfg.History.StringKeys,
		AdminSite:       a.cfg.History.AdminSite,
	})
	if err := a.tracker.RegisterModelList(ctx, a.models.Track...); err != nil {
		return err
	}
	a.tracker.Freeze()

	var err error
	a.storage, err = newStorage(ctx, a.cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	log.Printf("app: storage initialized: type=%s", a.cfg.Storage.Type)

	a.archive = archive.New(a.db, a.storage, archive.Config{
		Prefix:      a.cfg.Archive.Prefix,
		WorkDir:     a.cfg.Archive.WorkDir,
		Concurrency: a.cfg.Archive.Concurrency,
	})
	return nil
}

func newStorage(ctx context.Context, cfg config.StorageConfig) (storage.ObjectStorage, error) {
	switch cfg.Type {
	case "local":
		return storage.NewLocalStorage(cfg.Path)
	case "s3":
		s3Cfg := storage.DefaultS3Config()
		if cfg.S3.Region != "" {
			s3Cfg.Region = cfg.S3.Region
		}
		s3Cfg.Endpoint = cfg.S3.Endpoint
		s3Cfg.UsePathStyle = cfg.S3.UsePathStyle
		if cfg.S3.PartSizeMB > 0 {
			s3Cfg.MultipartConfig.PartSize = int64(cfg.S3.PartSizeMB) * 1024 * 1024
		}
		log.Printf("app: S3 bucket=%s region=%s endpoint=%s", cfg.S3.Bucket, s3Cfg.Region, cfg.S3.Endpoint)
		return storage.NewS3Storage(ctx, cfg.S3.Bucket, s3Cfg)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

func (a *App) Config() *config.Config { return a.cfg }
func (a *App) DB() *store.DB { return a.db }
func (a *App) Tracker() *history.Tracker { return a.tracker }
func (a *App) Archive() *archive.Archive { return a.archive }
func (a *App) Storage() storage.ObjectStorage { return a.storage }

// SchemaSQL returns the DDL of every historical table.
func (a *App) SchemaSQL() []string {
	var stmts []string
	for _, def := range a.tracker.HistoricalDefs() {
		stmts = append(stmts, schema.CreateTableSQL(def, a.db.KeyTarget)...)
	}
	return stmts
}

// Backfill snapshots every live row that has no history yet.
func (a *App) Backfill(ctx context.Context) (history.BackfillResult, error) {
	return a.tracker.InitHistoricalRecords(ctx)
}

// Export archives every historical table as a new run.
func (a *App) Export(ctx context.Context) (*archive.Manifest, error) {
	return a.archive.Export(ctx, a.tracker.Historicals())
}

// Prune keeps the configured number of archive runs.
func (a *App) Prune(ctx context.Context) (int, error) {
	return a.archive.Prune(ctx, a.cfg.Archive.Keep)
}

// FixtureRecord is one row of a fixture file.
type FixtureRecord struct {
	Model  string       `json:"model" yaml:"model"`
	Values types.Record `json:"values" yaml:"values"`
}

// LoadFixtures raw-saves the records of a YAML or JSON fixture file in
// order. Raw saves write no history; run Backfill afterwards.
func (a *App) LoadFixtures(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read fixture file: %w", err)
	}

	var records []FixtureRecord
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &records)
	case ".json":
		err = json.Unmarshal(data, &records)
	default:
		return 0, fmt.Errorf("unsupported fixture file format: %s", ext)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to parse fixture file: %w", err)
	}

	for i, rec := range records {
		inst := types.NewInstance(rec.Model, rec.Values)
		if err := a.db.Save(ctx, inst, store.WithRaw()); err != nil {
			return i, fmt.Errorf("fixture %d (%s): %w", i, rec.Model, err)
		}
	}
	log.Printf("app: loaded %d fixtures from %s", len(records), path)
	return len(records), nil
}

// Close closes the database.
func (a *App) Close() error {
	return a.db.Close()
}
