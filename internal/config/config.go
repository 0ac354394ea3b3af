// Package config provides the configuration of the chronicle tool.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the configuration of one chronicle database.
type Config struct {
	// DataDir is the base directory for the database and local archives
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// ModelsFile is the YAML or JSON model file
	ModelsFile string `json:"models_file" yaml:"models_file"`

	Database DatabaseConfig `json:"database" yaml:"database"`

	History HistoryConfig `json:"history" yaml:"history"`

	Archive ArchiveConfig `json:"archive" yaml:"archive"`

	Storage StorageConfig `json:"storage" yaml:"storage"`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	// Path is the database file (default <data_dir>/chronicle.db)
	Path string `json:"path" yaml:"path"`

	// BusyTimeout is how long writers wait on a locked database
	BusyTimeout time.Duration `json:"busy_timeout" yaml:"busy_timeout"`
}

// HistoryConfig holds the tracker defaults applied to every registration.
type HistoryConfig struct {
	// ManagerName is the accessor history is exposed under
	ManagerName string `json:"manager_name" yaml:"manager_name"`

	// UserModel is the model history_user references
	UserModel string `json:"user_model" yaml:"user_model"`

	// UserRelatedName is the reverse accessor of history_user
	UserRelatedName string `json:"user_related_name" yaml:"user_related_name"`

	// StringKeys copies auto primary keys as text
	StringKeys bool `json:"string_keys" yaml:"string_keys"`

	// AdminSite prefixes revert URLs
	AdminSite string `json:"admin_site" yaml:"admin_site"`
}

// ArchiveConfig holds export settings.
type ArchiveConfig struct {
	// Prefix is prepended to every archive object path
	Prefix string `json:"prefix" yaml:"prefix"`

	// WorkDir holds segments while they are built or fetched
	WorkDir string `json:"work_dir" yaml:"work_dir"`

	// Concurrency is the number of parallel segment downloads
	Concurrency int `json:"concurrency" yaml:"concurrency"`

	// Keep is how many runs prune retains
	Keep int `json:"keep" yaml:"keep"`
}

// StorageConfig holds object storage configuration.
type StorageConfig struct {
	// Type is the storage type: local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// UsePathStyle enables path-style addressing (MinIO)
	UsePathStyle bool `json:"use_path_style" yaml:"use_path_style"`

	// PartSizeMB is the multipart upload part size in megabytes (5-5120)
	PartSizeMB int `json:"part_size_mb" yaml:"part_size_mb"`
}

// DefaultConfig returns the default configuration for local use.
func DefaultConfig() *Config {
	return &Config{
		DataDir:    "./data/chronicle",
		ModelsFile: "models.yaml",
		Database: DatabaseConfig{
			BusyTimeout: 5 * time.Second,
		},
		History: HistoryConfig{
			ManagerName:     "history",
			UserRelatedName: "+",
			AdminSite:       "admin",
		},
		Archive: ArchiveConfig{
			Prefix:      "history",
			Concurrency: 4,
			Keep:        7,
		},
		Storage: StorageConfig{
			Type: "local",
			S3: S3Config{
				Region:     "us-east-1",
				PartSizeMB: 5,
			},
		},
	}
}

// Resolve fills paths left empty from DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/chronicle"
	}
	if c.Database.Path == "" {
		c.Database.Path = filepath.Join(c.DataDir, "chronicle.db")
	}
	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "archive")
	}
	if c.Archive.WorkDir == "" {
		c.Archive.WorkDir = filepath.Join(c.DataDir, "work")
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	if c.ModelsFile == "" {
		return fmt.Errorf("models_file is required")
	}

	if c.History.ManagerName == "" {
		return fmt.Errorf("history.manager_name is required")
	}

	if c.Storage.Type != "local" && c.Storage.Type != "s3" {
		return fmt.Errorf("invalid storage type: %s (must be local or s3)", c.Storage.Type)
	}

	if c.Storage.Type == "s3" && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required when storage type is s3")
	}

	if c.Storage.S3.PartSizeMB < 5 || c.Storage.S3.PartSizeMB > 5120 {
		return fmt.Errorf("s3.part_size_mb must be between 5 and 5120, got %d", c.Storage.S3.PartSizeMB)
	}

	if c.Archive.Concurrency < 1 {
		return fmt.Errorf("archive.concurrency must be at least 1, got %d", c.Archive.Concurrency)
	}

	if c.Archive.Keep < 1 {
		return fmt.Errorf("archive.keep must be at least 1, got %d", c.Archive.Keep)
	}

	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file over the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the CHRONICLE_ prefix.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("CHRONICLE_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("CHRONICLE_MODELS_FILE"); v != "" {
		cfg.ModelsFile = v
	}

	// Database configuration
	if v := os.Getenv("CHRONICLE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("CHRONICLE_DATABASE_BUSY_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Database.BusyTimeout = d
		}
	}

	// History configuration
	if v := os.Getenv("CHRONICLE_HISTORY_MANAGER_NAME"); v != "" {
		cfg.History.ManagerName = v
	}
	if v := os.Getenv("CHRONICLE_HISTORY_USER_MODEL"); v != "" {
		cfg.History.UserModel = v
	}
	if v := os.Getenv("CHRONICLE_HISTORY_USER_RELATED_NAME"); v != "" {
		cfg.History.UserRelatedName = v
	}
	if v := os.Getenv("CHRONICLE_HISTORY_STRING_KEYS"); v != "" {
		cfg.History.StringKeys = v == "true" || v == "1"
	}
	if v := os.Getenv("CHRONICLE_HISTORY_ADMIN_SITE"); v != "" {
		cfg.History.AdminSite = v
	}

	// Archive configuration
	if v := os.Getenv("CHRONICLE_ARCHIVE_PREFIX"); v != "" {
		cfg.Archive.Prefix = v
	}
	if v := os.Getenv("CHRONICLE_ARCHIVE_WORK_DIR"); v != "" {
		cfg.Archive.WorkDir = v
	}
	if v := os.Getenv("CHRONICLE_ARCHIVE_CONCURRENCY"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Archive.Concurrency)
	}
	if v := os.Getenv("CHRONICLE_ARCHIVE_KEEP"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Archive.Keep)
	}

	// Storage configuration
	if v := os.Getenv("CHRONICLE_STORAGE_TYPE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv("CHRONICLE_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("CHRONICLE_S3_BUCKET"); v != "" {
		cfg.Storage.S3.Bucket = v
	}
	if v := os.Getenv("CHRONICLE_S3_REGION"); v != "" {
		cfg.Storage.S3.Region = v
	}
	if v := os.Getenv("CHRONICLE_S3_ENDPOINT"); v != "" {
		cfg.Storage.S3.Endpoint = v
	}
	if v := os.Getenv("CHRONICLE_S3_USE_PATH_STYLE"); v != "" {
		cfg.Storage.S3.UsePathStyle = v == "true" || v == "1"
	}
}

// EnsureDirectories creates the directories the configuration names.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.DataDir,
		filepath.Dir(c.Database.Path),
		c.Archive.WorkDir,
	}
	if c.Storage.Type == "local" {
		dirs = append(dirs, c.Storage.Path)
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
