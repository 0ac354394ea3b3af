package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/arkilian/chronicle/pkg/types"
	"gopkg.in/yaml.v3"
)

// ModelFile is the on-disk description of an application's models
// and which of them are tracked.
type ModelFile struct {
	Models []*types.ModelDef `json:"models" yaml:"models"`
	// Track lists the model names to register for history, in order.
	Track []string `json:"track" yaml:"track"`
}

// LoadFile reads a model file. The format is chosen by extension:
// .yaml/.yml or .json.
func LoadFile(path string) (*ModelFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("schema: failed to read model file: %w", err)
	}

	var mf ModelFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &mf); err != nil {
			return nil, fmt.Errorf("schema: failed to parse YAML model file: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &mf); err != nil {
			return nil, fmt.Errorf("schema: failed to parse JSON model file: %w", err)
		}
	default:
		return nil, fmt.Errorf("schema: unsupported model file format: %s", filepath.Ext(path))
	}
	return &mf, nil
}

// Catalog builds a catalog from the file's models.
func (mf *ModelFile) Catalog() (*Catalog, error) {
	return NewCatalog(mf.Models...)
}
