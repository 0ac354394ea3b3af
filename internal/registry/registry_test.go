package registry

import (
	"testing"

	"github.com/arkilian/chronicle/internal/errors"
	"github.com/arkilian/chronicle/internal/schema"
	"github.com/arkilian/chronicle/pkg/types"
)

func newCatalog(t *testing.T) *schema.Catalog {
	t.Helper()
	cat, err := schema.NewCatalog(
		&types.ModelDef{Name: "Author", App: "library", Fields: []types.FieldDef{
			{Name: "id", Kind: types.KindAuto, PrimaryKey: true},
		}},
		&types.ModelDef{Name: "Book", App: "library", Fields: []types.FieldDef{
			{Name: "id", Kind: types.KindAuto, PrimaryKey: true},
			{Name: "author", Kind: types.KindForeignKey, Related: "Author"},
		}},
	)
	if err != nil {
		t.Fatalf("failed to build catalog: %v", err)
	}
	return cat
}

func addHistory(t *testing.T, r *Registry, def *types.ModelDef) *schema.HistoricalModel {
	t.Helper()
	hist, err := schema.CreateHistoryModel(def, r, schema.FactoryOptions{})
	if err != nil {
		t.Fatalf("CreateHistoryModel failed: %v", err)
	}
	if err := r.Add(hist); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	return hist
}

func TestRegistry_AddAndLookup(t *testing.T) {
	cat := newCatalog(t)
	r := New()
	author, _ := cat.Model("Author")
	book, _ := cat.Model("Book")

	addHistory(t, r, author)
	addHistory(t, r, book)

	if !r.IsRegistered(book) {
		t.Error("expected Book to be registered")
	}
	if def, ok := r.Model("library_author"); !ok || def != author {
		t.Errorf("Model lookup by table failed: %v", def)
	}
	h, ok := r.Historical("Book")
	if !ok || h.Name() != "HistoricalBook" {
		t.Errorf("Historical lookup failed: %v", h)
	}

	tracked := r.Tracked()
	if len(tracked) != 2 || tracked[0].Tracked.Name != "Author" || tracked[1].Tracked.Name != "Book" {
		t.Errorf("registration order not preserved: %v", tracked)
	}
}

func TestRegistry_DuplicateRegistration(t *testing.T) {
	cat := newCatalog(t)
	r := New()
	author, _ := cat.Model("Author")
	addHistory(t, r, author)

	again, _ := schema.CreateHistoryModel(author, r, schema.FactoryOptions{})
	err := r.Add(again)
	if errors.GetCode(err) != errors.CodeMultipleRegistrations {
		t.Fatalf("expected MULTIPLE_REGISTRATIONS, got %v", err)
	}
	if got := err.Error(); got != "[CONFIGURATION:MULTIPLE_REGISTRATIONS] library.Author registered multiple times for history tracking" {
		t.Errorf("unexpected message: %s", got)
	}
}

func TestRegistry_Frozen(t *testing.T) {
	cat := newCatalog(t)
	r := New()
	author, _ := cat.Model("Author")
	r.Freeze()

	if !r.Frozen() {
		t.Error("expected frozen")
	}
	hist, _ := schema.CreateHistoryModel(author, r, schema.FactoryOptions{})
	if err := r.Add(hist); errors.GetCode(err) != errors.CodeRegistryFrozen {
		t.Errorf("expected REGISTRY_FROZEN, got %v", err)
	}
}

func TestRegistry_Fakes(t *testing.T) {
	cat := newCatalog(t)
	r := New()
	author, _ := cat.Model("Author")
	book, _ := cat.Model("Book")
	addHistory(t, r, author)
	addHistory(t, r, book)

	fk, _ := book.Field("author")
	f, err := schema.SynthesizeFakeJunction(book, fk, author, r, schema.FactoryOptions{})
	if err != nil {
		t.Fatalf("SynthesizeFakeJunction failed: %v", err)
	}
	if err := r.AddFake(f); err != nil {
		t.Fatalf("AddFake failed: %v", err)
	}
	if err := r.AddFake(f); err == nil {
		t.Error("expected duplicate fake to be rejected")
	}

	if !r.HasFake("Book", "author") || r.HasFake("Author", "book_set") {
		t.Error("HasFake keyed on the wrong side")
	}

	from := FakeKey{Model: "Book", Junction: "HistoricalBook_author", Field: "author"}
	to, ok := r.Counterpart(from)
	if !ok || to != (FakeKey{Model: "Author", Junction: "HistoricalBook_author", Field: "book_set"}) {
		t.Errorf("Counterpart: got %+v", to)
	}
	back, _ := r.Counterpart(to)
	if back != from {
		t.Errorf("Counterpart is not symmetric: %+v", back)
	}

	if len(r.FakesFrom("Book")) != 1 || len(r.FakesTo("Author")) != 1 || len(r.FakesFrom("Author")) != 0 {
		t.Error("fake indexes wrong")
	}
	if len(r.Fakes()) != 1 {
		t.Errorf("expected one fake, got %d", len(r.Fakes()))
	}
}
