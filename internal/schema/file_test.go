package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/arkilian/chronicle/pkg/types"
)

const libraryYAML = `
models:
  - name: Author
    app: library
    fields:
      - {name: id, kind: auto, primary_key: true}
      - {name: name, kind: text}
  - name: Book
    app: library
    fields:
      - {name: id, kind: auto, primary_key: true}
      - {name: title, kind: text}
      - {name: author, kind: foreign_key, related: Author, related_name: books}
    many_to_many:
      - {name: tags, to: Tag}
  - name: Tag
    app: library
    fields:
      - {name: id, kind: auto, primary_key: true}
      - {name: name, kind: text}
track: [Author, Book, Tag]
`

func TestLoadFile_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.yaml")
	if err := os.WriteFile(path, []byte(libraryYAML), 0644); err != nil {
		t.Fatalf("failed to write model file: %v", err)
	}

	mf, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if len(mf.Models) != 3 || len(mf.Track) != 3 {
		t.Fatalf("unexpected contents: %d models, %d tracked", len(mf.Models), len(mf.Track))
	}

	fk, ok := mf.Models[1].Field("author")
	if !ok || fk.Kind != types.KindForeignKey || fk.Related != "Author" || fk.RelatedName != "books" {
		t.Errorf("author field: %+v", fk)
	}

	cat, err := mf.Catalog()
	if err != nil {
		t.Fatalf("Catalog failed: %v", err)
	}
	if _, ok := cat.Model("Book_tags"); !ok {
		t.Error("expected generated junction")
	}
}

func TestLoadFile_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.json")
	body := `{"models":[{"name":"Note","fields":[{"name":"id","kind":"auto","primary_key":true}]}],"track":["Note"]}`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("failed to write model file: %v", err)
	}

	mf, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if mf.Models[0].TableName() != "note" {
		t.Errorf("table: got %s", mf.Models[0].TableName())
	}
}

func TestLoadFile_UnsupportedFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.toml")
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatalf("failed to write model file: %v", err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Error("expected error for unsupported format")
	}
}
