// Package store persists model instances in SQLite and dispatches lifecycle
// hooks inside the write transaction.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	chronerrors "github.com/arkilian/chronicle/internal/errors"
	"github.com/arkilian/chronicle/internal/schema"
	"github.com/arkilian/chronicle/pkg/types"
	_ "github.com/mattn/go-sqlite3"
)

// Options configures Open.
type Options struct {
	// BusyTimeout is how long a writer waits on a locked database.
	BusyTimeout time.Duration
	// Clock supplies auto_now values. Defaults to time.Now in UTC.
	Clock func() time.Time
}

// DB is a SQLite database holding the tables of a catalog.
type DB struct {
	db      *sql.DB // single writer
	path    string
	catalog *schema.Catalog
	clock   func() time.Time

	mu sync.Mutex // serializes write transactions

	hooksMu sync.RWMutex
	hooks   map[string][]Hook
}

// Open opens (creating if needed) the database at path for catalog.
func Open(path string, catalog *schema.Catalog, opts Options) (*DB, error) {
	timeout := opts.BusyTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d&_foreign_keys=1", path, timeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // Single writer
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: failed to connect to database: %w", err)
	}

	clock := opts.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &DB{
		db:      db,
		path:    path,
		catalog: catalog,
		clock:   clock,
		hooks:   make(map[string][]Hook),
	}, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Path returns the database file path.
func (d *DB) Path() string { return d.path }

// Catalog returns the catalog the database was opened with.
func (d *DB) Catalog() *schema.Catalog { return d.catalog }

// Querier returns a Querier running outside any transaction.
func (d *DB) Querier() Querier {
	return &queries{ex: d.db, catalog: d.catalog}
}

// KeyTarget resolves foreign key targets against the catalog for DDL.
func (d *DB) KeyTarget(model, toField string) (schema.KeyTarget, bool) {
	def, ok := d.catalog.Model(model)
	if !ok || def.Unmanaged {
		return schema.KeyTarget{}, false
	}
	f, ok := def.PrimaryKey()
	if toField != "" {
		f, ok = def.Field(toField)
	}
	if !ok {
		return schema.KeyTarget{}, false
	}
	return schema.KeyTarget{Table: def.TableName(), Column: f.Attname(), Kind: f.Kind}, true
}

// CreateTables creates the tables of defs if they do not exist.
// Unmanaged definitions are skipped.
func (d *DB) CreateTables(ctx context.Context, defs ...*types.ModelDef) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, def := range defs {
		if def.Unmanaged {
			continue
		}
		for _, stmt := range schema.CreateTableSQL(def, d.KeyTarget) {
			if _, err := d.db.ExecContext(ctx, stmt); err != nil {
				return chronerrors.NewStorageError(chronerrors.CodeWriteFailed,
					fmt.Sprintf("failed to create table %s", def.TableName()), err)
			}
		}
	}
	return nil
}

// Migrate creates the tables of every managed catalog model.
func (d *DB) Migrate(ctx context.Context) error {
	if err := d.CreateTables(ctx, d.catalog.Models()...); err != nil {
		return err
	}
	log.Printf("store: ensured %d tables in %s", len(d.catalog.Models()), d.path)
	return nil
}

// WithTx runs fn in a write transaction, committing when fn returns nil.
func (d *DB) WithTx(ctx context.Context, fn func(q Querier) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return chronerrors.NewStorageError(chronerrors.CodeWriteFailed, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	if err := fn(&queries{ex: tx, catalog: d.catalog}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return chronerrors.NewStorageError(chronerrors.CodeWriteFailed, "failed to commit transaction", err)
	}
	return nil
}

// Get loads an instance by primary key.
func (d *DB) Get(ctx context.Context, model string, pk interface{}) (*types.Instance, error) {
	return d.Querier().Get(ctx, model, pk)
}

// Find returns the rows of def matching q.
func (d *DB) Find(ctx context.Context, def *types.ModelDef, q Query) ([]types.Record, error) {
	return d.Querier().Find(ctx, def, q)
}

// Count returns the number of rows of def matching preds.
func (d *DB) Count(ctx context.Context, def *types.ModelDef, preds ...Predicate) (int64, error) {
	return d.Querier().Count(ctx, def, preds...)
}

func (d *DB) model(name string) (*types.ModelDef, error) {
	def, ok := d.catalog.Model(name)
	if !ok {
		return nil, unknownModelError(name)
	}
	if def.Unmanaged {
		return nil, unmanagedError(def)
	}
	return def, nil
}
