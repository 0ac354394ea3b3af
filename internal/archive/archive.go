// Package archive exports historical tables to object storage and reads
// them back.
//
// A run writes one segment per historical table under
// <prefix>/runs/<run id>/ as snappy-framed JSON lines, then a manifest
// listing every segment with its row count, murmur3 checksum and a bloom
// filter over the tracked keys it holds. The <prefix>/LATEST pointer names
// the newest complete run and is replaced with a conditional put, so
// concurrent exports cannot silently overwrite each other.
package archive

import (
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/arkilian/chronicle/internal/bloom"
	"github.com/arkilian/chronicle/internal/storage"
	"github.com/arkilian/chronicle/internal/store"
)

const (
	manifestName  = "manifest.json"
	pointerName   = "LATEST"
	segmentSuffix = ".jsonl.sz"
)

// Config controls where and how runs are written.
type Config struct {
	// Prefix is prepended to every object path.
	Prefix string
	// WorkDir holds segment files while they are built or fetched.
	WorkDir string
	// Concurrency bounds parallel segment downloads.
	Concurrency int
	// FilterFPR is the target false positive rate of segment key filters.
	FilterFPR float64
	// Now stamps manifests. Defaults to time.Now.
	Now func() time.Time
}

// DefaultConfig returns the configuration used when fields are left zero.
func DefaultConfig() Config {
	return Config{
		Prefix:      "history",
		WorkDir:     filepath.Join(os.TempDir(), "chronicle-archive"),
		Concurrency: 4,
		FilterFPR:   0.01,
		Now:         time.Now,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.WorkDir == "" {
		c.WorkDir = d.WorkDir
	}
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.FilterFPR <= 0 || c.FilterFPR >= 1 {
		c.FilterFPR = d.FilterFPR
	}
	if c.Now == nil {
		c.Now = d.Now
	}
	return c
}

// Archive writes and reads runs in one object store.
type Archive struct {
	db      *store.DB
	storage storage.ObjectStorage
	cfg     Config
}

// New returns an archive over st. db is only needed for Export and may be
// nil for read-only use.
func New(db *store.DB, st storage.ObjectStorage, cfg Config) *Archive {
	return &Archive{db: db, storage: st, cfg: cfg.withDefaults()}
}

// Manifest describes one complete run.
type Manifest struct {
	RunID     string    `json:"run_id"`
	CreatedAt time.Time `json:"created_at"`
	// Previous is the run LATEST pointed at when this run started.
	Previous string    `json:"previous,omitempty"`
	Segments []Segment `json:"segments"`
}

// Segment describes the archived rows of one historical table.
type Segment struct {
	// Model is the tracked model; Historical is the snapshot model.
	Model      string `json:"model"`
	Historical string `json:"historical"`
	Table      string `json:"table"`
	Object     string `json:"object"`
	Rows       int    `json:"rows"`
	// Bytes is the compressed object size.
	Bytes int64 `json:"bytes"`
	// Checksum is the hex murmur3_128 of the uncompressed JSON lines.
	Checksum string `json:"checksum"`
	ETag     string `json:"etag,omitempty"`
	// KeyColumn holds the tracked primary key copy; Keys filters its values.
	KeyColumn string                  `json:"key_column,omitempty"`
	Keys      *bloom.SerializedFilter `json:"keys,omitempty"`
}

// MayContain reports whether the segment may hold rows for key. It is exact
// when false.
func (s Segment) MayContain(key interface{}) bool {
	if s.Keys == nil {
		return true
	}
	bf, err := bloom.Deserialize(s.Keys)
	if err != nil {
		return true
	}
	return bf.ContainsKey(key)
}

// Row is one archived snapshot. Numbers decode as json.Number and times as
// RFC 3339 strings.
type Row map[string]interface{}

type pointer struct {
	RunID     string    `json:"run_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (a *Archive) object(parts ...string) string {
	return path.Join(append([]string{a.cfg.Prefix}, parts...)...)
}

func (a *Archive) runsPrefix() string { return a.object("runs") + "/" }

func (a *Archive) manifestPath(runID string) string {
	return a.object("runs", runID, manifestName)
}

func (a *Archive) pointerPath() string { return a.object(pointerName) }
