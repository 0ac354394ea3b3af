package schema

import (
	"strings"
	"testing"

	"github.com/arkilian/chronicle/internal/errors"
	"github.com/arkilian/chronicle/pkg/types"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// lookupMap is a HistoricalLookup over a plain map.
type lookupMap map[string]*HistoricalModel

func (m lookupMap) Historical(model string) (*HistoricalModel, bool) {
	h, ok := m[model]
	return h, ok
}

func libraryModels() []*types.ModelDef {
	return []*types.ModelDef{
		{
			Name: "Author",
			App:  "library",
			Fields: []types.FieldDef{
				{Name: "id", Kind: types.KindAuto, PrimaryKey: true},
				{Name: "name", Kind: types.KindText, MaxLength: 100, Unique: true},
			},
		},
		{
			Name: "Book",
			App:  "library",
			Fields: []types.FieldDef{
				{Name: "id", Kind: types.KindAuto, PrimaryKey: true},
				{Name: "title", Kind: types.KindText},
				{Name: "author", Kind: types.KindForeignKey, Related: "Author", RelatedName: "books", OnDelete: types.OnDeleteCascade},
				{Name: "cover", Kind: types.KindFile, Nullable: true},
				{Name: "updated", Kind: types.KindTime, AutoNow: true, Nullable: true},
			},
			ManyToMany: []types.ManyToManyDef{{Name: "tags", To: "Tag"}},
		},
		{
			Name: "Tag",
			App:  "library",
			Fields: []types.FieldDef{
				{Name: "id", Kind: types.KindAuto, PrimaryKey: true},
				{Name: "name", Kind: types.KindText},
			},
		},
	}
}

func TestTransformField(t *testing.T) {
	tests := []struct {
		name     string
		in       types.FieldDef
		opts     TransformOptions
		wantKind types.FieldKind
		wantCol  string
		nullable bool
	}{
		{"auto key", types.FieldDef{Name: "id", Kind: types.KindAuto, PrimaryKey: true}, TransformOptions{}, types.KindInteger, "id", false},
		{"auto string key", types.FieldDef{Name: "id", Kind: types.KindAuto, PrimaryKey: true}, TransformOptions{StringKeys: true}, types.KindText, "id", false},
		{"order proxy", types.FieldDef{Name: "_order", Kind: types.KindOrderWrt}, TransformOptions{}, types.KindInteger, "_order", false},
		{"file", types.FieldDef{Name: "cover", Kind: types.KindFile}, TransformOptions{}, types.KindText, "cover", false},
		{"foreign key", types.FieldDef{Name: "author", Kind: types.KindForeignKey, Related: "Author"}, TransformOptions{}, types.KindForeignKey, "author_id", true},
		{"one to one", types.FieldDef{Name: "profile", Kind: types.KindOneToOne, Related: "Profile", Unique: true}, TransformOptions{}, types.KindForeignKey, "profile_id", true},
		{"custom column", types.FieldDef{Name: "owner", Column: "owner_ref", Kind: types.KindForeignKey, Related: "User"}, TransformOptions{}, types.KindForeignKey, "owner_ref", true},
		{"plain text", types.FieldDef{Name: "title", Kind: types.KindText, MaxLength: 40}, TransformOptions{}, types.KindText, "title", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TransformField(tt.in, tt.opts)
			if got.Kind != tt.wantKind {
				t.Errorf("kind: got %s, want %s", got.Kind, tt.wantKind)
			}
			if got.Attname() != tt.wantCol {
				t.Errorf("column: got %s, want %s", got.Attname(), tt.wantCol)
			}
			if got.Nullable != tt.nullable {
				t.Errorf("nullable: got %v, want %v", got.Nullable, tt.nullable)
			}
			if got.PrimaryKey || got.Unique || got.AutoNow || got.AutoNowAdd {
				t.Errorf("constraints survived transform: %+v", got)
			}
			if (tt.in.PrimaryKey || tt.in.Unique) && !got.Index {
				t.Errorf("expected index to replace uniqueness")
			}
		})
	}
}

func TestTransformField_RelationDetails(t *testing.T) {
	in := types.FieldDef{
		Name: "author", Kind: types.KindForeignKey, Related: "Author",
		RelatedName: "books", ToField: "name", OnDelete: types.OnDeleteCascade,
	}
	got := TransformField(in, TransformOptions{})

	if got.Related != "Author" || got.ToField != "name" {
		t.Errorf("target changed: %+v", got)
	}
	if got.RelatedName != types.SuppressReverse {
		t.Errorf("expected reverse accessor suppressed, got %q", got.RelatedName)
	}
	if !got.NoDBConstraint || got.OnDelete != types.OnDeleteDoNothing {
		t.Errorf("expected unconstrained do-nothing relation, got %+v", got)
	}
	if in.RelatedName != "books" {
		t.Errorf("input was mutated")
	}
}

func TestTransformField_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	kinds := []types.FieldKind{
		types.KindAuto, types.KindInteger, types.KindReal, types.KindText, types.KindBool,
		types.KindTime, types.KindFile, types.KindForeignKey, types.KindOneToOne, types.KindOrderWrt,
	}

	properties.Property("transformed fields are never keys or generated", prop.ForAll(
		func(k int, pk, unique, autoNow bool) bool {
			kind := kinds[k]
			f := types.FieldDef{Name: "f", Kind: kind, PrimaryKey: pk, Unique: unique, AutoNow: autoNow, Related: "X"}
			got := TransformField(f, TransformOptions{})
			if got.PrimaryKey || got.Unique || got.AutoNow || got.AutoNowAdd {
				return false
			}
			if got.Kind == types.KindAuto || got.Kind == types.KindOrderWrt || got.Kind == types.KindFile {
				return false
			}
			if kind.IsRelation() && (!got.Nullable || !got.NoDBConstraint) {
				return false
			}
			return got.Attname() == f.Attname()
		},
		gen.IntRange(0, len(kinds)-1),
		gen.Bool(),
		gen.Bool(),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

func TestCreateHistoryModel(t *testing.T) {
	cat, err := NewCatalog(libraryModels()...)
	if err != nil {
		t.Fatalf("failed to build catalog: %v", err)
	}
	book, _ := cat.Model("Book")

	hist, err := CreateHistoryModel(book, lookupMap{}, FactoryOptions{})
	if err != nil {
		t.Fatalf("CreateHistoryModel failed: %v", err)
	}

	if hist.Name() != "HistoricalBook" {
		t.Errorf("name: got %s", hist.Name())
	}
	if hist.Def.TableName() != "library_historicalbook" {
		t.Errorf("table: got %s", hist.Def.TableName())
	}
	if hist.Def.Verbose() != "historical book" {
		t.Errorf("verbose name: got %s", hist.Def.Verbose())
	}
	if hist.Tracked != book || hist.IsM2M {
		t.Errorf("unexpected tracked/IsM2M: %v %v", hist.Tracked, hist.IsM2M)
	}

	wantCols := []string{"history_id", "id", "title", "author_id", "cover", "updated",
		"history_date", "history_user_id", "history_type"}
	gotCols := hist.Def.Columns()
	if strings.Join(gotCols, ",") != strings.Join(wantCols, ",") {
		t.Errorf("columns: got %v, want %v", gotCols, wantCols)
	}
	if strings.Join(hist.Copied, ",") != "id,title,author_id,cover,updated" {
		t.Errorf("copied: got %v", hist.Copied)
	}
	if hist.Def.PKColumn() != HistoryIDField || hist.PKColumn() != "id" {
		t.Errorf("pk columns: %s %s", hist.Def.PKColumn(), hist.PKColumn())
	}

	user, _ := hist.Def.Field(HistoryUserField)
	if user.Related != DefaultUserModel || !user.Nullable || user.OnDelete != types.OnDeleteSetNull {
		t.Errorf("history_user: %+v", user)
	}
	typ, _ := hist.Def.Field(HistoryTypeField)
	if typ.MaxLength != 1 || len(typ.Choices) != 3 {
		t.Errorf("history_type: %+v", typ)
	}
	if strings.Join(hist.Def.Ordering, ",") != "-history_date,-history_id" {
		t.Errorf("ordering: %v", hist.Def.Ordering)
	}
}

func TestCreateHistoryModel_Overrides(t *testing.T) {
	cat, _ := NewCatalog(libraryModels()...)
	book, _ := cat.Model("Book")

	hist, err := CreateHistoryModel(book, lookupMap{}, FactoryOptions{
		App:             "archive",
		VerboseName:     "old book",
		UserModel:       "Account",
		UserRelatedName: "book_edits",
	})
	if err != nil {
		t.Fatalf("CreateHistoryModel failed: %v", err)
	}
	if hist.Def.TableName() != "archive_historicalbook" {
		t.Errorf("table: got %s", hist.Def.TableName())
	}
	if hist.Def.Verbose() != "old book" {
		t.Errorf("verbose: got %s", hist.Def.Verbose())
	}
	user, _ := hist.Def.Field(HistoryUserField)
	if user.Related != "Account" || user.RelatedName != "book_edits" {
		t.Errorf("history_user: %+v", user)
	}

	named, _ := CreateHistoryModel(book, lookupMap{}, FactoryOptions{TableName: "book_log"})
	if named.Def.TableName() != "book_log" {
		t.Errorf("table override: got %s", named.Def.TableName())
	}
}

func TestCreateHistoryModel_Errors(t *testing.T) {
	noKey := &types.ModelDef{Name: "Loose", Fields: []types.FieldDef{{Name: "x", Kind: types.KindText}}}
	_, err := CreateHistoryModel(noKey, lookupMap{}, FactoryOptions{})
	if errors.GetCode(err) != errors.CodeInvalidModel {
		t.Errorf("expected INVALID_MODEL, got %v", err)
	}

	clash := &types.ModelDef{Name: "Clash", Fields: []types.FieldDef{
		{Name: "id", Kind: types.KindAuto, PrimaryKey: true},
		{Name: "history_date", Kind: types.KindTime},
	}}
	_, err = CreateHistoryModel(clash, lookupMap{}, FactoryOptions{})
	if errors.GetCode(err) != errors.CodeInvalidModel {
		t.Errorf("expected INVALID_MODEL for collision, got %v", err)
	}
}

func TestCreateHistoryModel_Junction(t *testing.T) {
	cat, _ := NewCatalog(libraryModels()...)
	book, _ := cat.Model("Book")
	tag, _ := cat.Model("Tag")
	lookup := lookupMap{}
	lookup["Book"], _ = CreateHistoryModel(book, lookup, FactoryOptions{})
	lookup["Tag"], _ = CreateHistoryModel(tag, lookup, FactoryOptions{})

	rel, _ := cat.ThroughRelation("Book_tags")
	hist, err := CreateHistoryModel(rel.Through, lookup, FactoryOptions{IsM2M: true})
	if err != nil {
		t.Fatalf("CreateHistoryModel failed: %v", err)
	}
	if hist.Def.TableName() != "library_historicalbook_tags" {
		t.Errorf("table: got %s", hist.Def.TableName())
	}
	if len(hist.Participants) != 2 {
		t.Fatalf("expected 2 participants, got %d", len(hist.Participants))
	}

	p, ok := hist.Participant("book")
	if !ok {
		t.Fatal("missing book participant")
	}
	if p.HistoryColumn != "history_book_id" || p.Column != "book_id" || p.Model != "Book" || p.TargetColumn != "id" {
		t.Errorf("participant: %+v", p)
	}
	ref, _ := hist.Def.Field("history_book")
	if ref.Related != "HistoricalBook" || ref.ToField != HistoryIDField || !ref.Nullable {
		t.Errorf("participant reference: %+v", ref)
	}
}

func TestCreateHistoryModel_JunctionSkipsUntrackedParticipants(t *testing.T) {
	cat, _ := NewCatalog(libraryModels()...)
	book, _ := cat.Model("Book")
	lookup := lookupMap{}
	lookup["Book"], _ = CreateHistoryModel(book, lookup, FactoryOptions{})

	rel, _ := cat.ThroughRelation("Book_tags")
	hist, err := CreateHistoryModel(rel.Through, lookup, FactoryOptions{IsM2M: true})
	if err != nil {
		t.Fatalf("CreateHistoryModel failed: %v", err)
	}
	if len(hist.Participants) != 1 || hist.Participants[0].Model != "Book" {
		t.Errorf("participants: %+v", hist.Participants)
	}
}

func TestNewCatalog_AutoJunction(t *testing.T) {
	cat, err := NewCatalog(libraryModels()...)
	if err != nil {
		t.Fatalf("NewCatalog failed: %v", err)
	}

	through, ok := cat.Model("Book_tags")
	if !ok {
		t.Fatal("expected generated junction Book_tags")
	}
	if through.TableName() != "library_book_tags" {
		t.Errorf("junction table: got %s", through.TableName())
	}
	if strings.Join(through.Columns(), ",") != "id,book_id,tag_id" {
		t.Errorf("junction columns: got %v", through.Columns())
	}

	rel, reverse, ok := cat.Relation("Book", "tags")
	if !ok || reverse || rel.SourceColumn() != "book_id" || rel.TargetColumn() != "tag_id" {
		t.Errorf("forward relation: %+v reverse=%v ok=%v", rel, reverse, ok)
	}
	rel, reverse, ok = cat.Relation("Tag", "book_set")
	if !ok || !reverse || !rel.AutoCreated {
		t.Errorf("reverse relation: %+v reverse=%v ok=%v", rel, reverse, ok)
	}
	if len(cat.ManyToMany("Tag")) != 1 || len(cat.ManyToMany("Author")) != 0 {
		t.Errorf("ManyToMany index wrong")
	}
}

func TestNewCatalog_SelfRelation(t *testing.T) {
	person := &types.ModelDef{
		Name: "Person",
		Fields: []types.FieldDef{
			{Name: "id", Kind: types.KindAuto, PrimaryKey: true},
			{Name: "mentor", Kind: types.KindForeignKey, Related: "Person", Nullable: true, RelatedName: "mentees"},
		},
		ManyToMany: []types.ManyToManyDef{{Name: "friends", To: "Person"}},
	}
	cat, err := NewCatalog(person)
	if err != nil {
		t.Fatalf("NewCatalog failed: %v", err)
	}
	through, _ := cat.Model("Person_friends")
	if strings.Join(through.Columns(), ",") != "id,from_person_id,to_person_id" {
		t.Errorf("self junction columns: got %v", through.Columns())
	}

	rev := cat.ReverseForeignKeys("Person")
	if len(rev) != 1 || rev[0].Accessor != "mentees" || rev[0].Model != "Person" {
		t.Errorf("self reverse fk: %+v", rev)
	}
}

func TestNewCatalog_ExplicitThrough(t *testing.T) {
	defs := libraryModels()
	defs[1].ManyToMany = []types.ManyToManyDef{{Name: "shelves", To: "Shelf", Through: "Placement", RelatedName: "books"}}
	defs = append(defs,
		&types.ModelDef{Name: "Shelf", App: "library", Fields: []types.FieldDef{
			{Name: "id", Kind: types.KindAuto, PrimaryKey: true},
		}},
		&types.ModelDef{Name: "Placement", App: "library", Fields: []types.FieldDef{
			{Name: "id", Kind: types.KindAuto, PrimaryKey: true},
			{Name: "book", Kind: types.KindForeignKey, Related: "Book"},
			{Name: "shelf", Kind: types.KindForeignKey, Related: "Shelf"},
			{Name: "position", Kind: types.KindInteger},
		}},
	)
	cat, err := NewCatalog(defs...)
	if err != nil {
		t.Fatalf("NewCatalog failed: %v", err)
	}
	rel, reverse, ok := cat.Relation("Shelf", "books")
	if !ok || !reverse || rel.AutoCreated || rel.Through.Name != "Placement" {
		t.Fatalf("explicit relation: %+v", rel)
	}
	if rel.SourceField != "book" || rel.TargetField != "shelf" {
		t.Errorf("explicit sides: %s %s", rel.SourceField, rel.TargetField)
	}
}

func TestNewCatalog_Errors(t *testing.T) {
	tests := []struct {
		name string
		defs []*types.ModelDef
		code string
	}{
		{
			name: "unknown fk target",
			defs: []*types.ModelDef{{Name: "A", Fields: []types.FieldDef{
				{Name: "id", Kind: types.KindAuto, PrimaryKey: true},
				{Name: "b", Kind: types.KindForeignKey, Related: "Missing"},
			}}},
			code: errors.CodeInvalidRelation,
		},
		{
			name: "fk without target",
			defs: []*types.ModelDef{{Name: "A", Fields: []types.FieldDef{
				{Name: "id", Kind: types.KindAuto, PrimaryKey: true},
				{Name: "b", Kind: types.KindForeignKey},
			}}},
			code: errors.CodeInvalidRelation,
		},
		{
			name: "unknown m2m target",
			defs: []*types.ModelDef{{Name: "A", Fields: []types.FieldDef{
				{Name: "id", Kind: types.KindAuto, PrimaryKey: true},
			}, ManyToMany: []types.ManyToManyDef{{Name: "bs", To: "B"}}}},
			code: errors.CodeInvalidRelation,
		},
		{
			name: "unknown on_delete",
			defs: []*types.ModelDef{{Name: "A", Fields: []types.FieldDef{
				{Name: "id", Kind: types.KindAuto, PrimaryKey: true},
				{Name: "a", Kind: types.KindForeignKey, Related: "A", Nullable: true, OnDelete: "EXPLODE"},
			}}},
			code: errors.CodeInvalidRelation,
		},
		{
			name: "set null on required fk",
			defs: []*types.ModelDef{{Name: "A", Fields: []types.FieldDef{
				{Name: "id", Kind: types.KindAuto, PrimaryKey: true},
				{Name: "a", Kind: types.KindForeignKey, Related: "A", OnDelete: types.OnDeleteSetNull},
			}}},
			code: errors.CodeInvalidRelation,
		},
		{
			name: "no primary key",
			defs: []*types.ModelDef{{Name: "A", Fields: []types.FieldDef{{Name: "x", Kind: types.KindText}}}},
			code: errors.CodeInvalidModel,
		},
		{
			name: "unknown kind",
			defs: []*types.ModelDef{{Name: "A", Fields: []types.FieldDef{
				{Name: "id", Kind: types.KindAuto, PrimaryKey: true},
				{Name: "x", Kind: "blob"},
			}}},
			code: errors.CodeInvalidModel,
		},
		{
			name: "duplicate model",
			defs: []*types.ModelDef{
				{Name: "A", Fields: []types.FieldDef{{Name: "id", Kind: types.KindAuto, PrimaryKey: true}}},
				{Name: "A", Table: "other", Fields: []types.FieldDef{{Name: "id", Kind: types.KindAuto, PrimaryKey: true}}},
			},
			code: errors.CodeInvalidModel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCatalog(tt.defs...)
			if err == nil {
				t.Fatal("expected error")
			}
			if errors.GetCode(err) != tt.code {
				t.Errorf("code: got %s, want %s (%v)", errors.GetCode(err), tt.code, err)
			}
			if !errors.IsFatal(err) {
				t.Errorf("expected configuration error, got %s", errors.GetCategory(err))
			}
		})
	}
}

func TestSynthesizeFakeJunction(t *testing.T) {
	cat, _ := NewCatalog(libraryModels()...)
	book, _ := cat.Model("Book")
	author, _ := cat.Model("Author")
	lookup := lookupMap{}
	lookup["Book"], _ = CreateHistoryModel(book, lookup, FactoryOptions{})
	lookup["Author"], _ = CreateHistoryModel(author, lookup, FactoryOptions{})

	fk, _ := book.Field("author")
	f, err := SynthesizeFakeJunction(book, fk, author, lookup, FactoryOptions{})
	if err != nil {
		t.Fatalf("SynthesizeFakeJunction failed: %v", err)
	}

	if f.From != "Book" || f.FromField != "author" || f.To != "Author" || f.ToField != "books" {
		t.Errorf("key: %+v", f)
	}
	if !f.Junction.Unmanaged || f.Junction.Name != "Book_author" {
		t.Errorf("junction: %+v", f.Junction)
	}
	if f.Historical.Def.TableName() != "library_historicalbook_author" || !f.Historical.IsM2M {
		t.Errorf("historical: %s m2m=%v", f.Historical.Def.TableName(), f.Historical.IsM2M)
	}
	if f.FromSide.HistoryColumn != "history_book_id" || f.FromSide.Column != "book_id" {
		t.Errorf("from side: %+v", f.FromSide)
	}
	if f.ToSide.HistoryColumn != "history_author_id" || f.ToSide.Model != "Author" {
		t.Errorf("to side: %+v", f.ToSide)
	}
}

func TestSynthesizeFakeJunction_RequiresHistory(t *testing.T) {
	cat, _ := NewCatalog(libraryModels()...)
	book, _ := cat.Model("Book")
	author, _ := cat.Model("Author")
	fk, _ := book.Field("author")

	_, err := SynthesizeFakeJunction(book, fk, author, lookupMap{}, FactoryOptions{})
	if errors.GetCode(err) != errors.CodeNotRegistered {
		t.Errorf("expected NOT_REGISTERED, got %v", err)
	}
}

func TestCreateTableSQL(t *testing.T) {
	cat, _ := NewCatalog(libraryModels()...)
	book, _ := cat.Model("Book")
	resolve := func(model, toField string) (KeyTarget, bool) {
		def, ok := cat.Model(model)
		if !ok {
			return KeyTarget{}, false
		}
		pk, _ := def.PrimaryKey()
		return KeyTarget{Table: def.TableName(), Column: pk.Attname(), Kind: pk.Kind}, true
	}

	stmts := CreateTableSQL(book, resolve)
	create := stmts[0]
	for _, want := range []string{
		`CREATE TABLE IF NOT EXISTS "library_book"`,
		`"id" INTEGER PRIMARY KEY AUTOINCREMENT`,
		`"title" TEXT NOT NULL`,
		`"author_id" INTEGER NOT NULL REFERENCES "library_author"("id") ON DELETE CASCADE`,
		`"cover" TEXT,`,
	} {
		if !strings.Contains(create, want) {
			t.Errorf("missing %q in:\n%s", want, create)
		}
	}
	if len(stmts) != 2 || !strings.Contains(stmts[1], `ON "library_book"("author_id")`) {
		t.Errorf("expected one fk index, got %v", stmts[1:])
	}

	tags := cat.ManyToMany("Book")[0]
	jstmts := CreateTableSQL(tags.Through, resolve)
	if !strings.Contains(jstmts[0], `REFERENCES "library_tag"("id") ON DELETE CASCADE`) {
		t.Errorf("junction should cascade:\n%s", jstmts[0])
	}

	loose := &types.ModelDef{Name: "Note", Fields: []types.FieldDef{
		{Name: "id", Kind: types.KindAuto, PrimaryKey: true},
		{Name: "book", Kind: types.KindForeignKey, Related: "Book", Nullable: true, OnDelete: types.OnDeleteDoNothing},
		{Name: "editor", Kind: types.KindForeignKey, Related: "Author", Nullable: true},
	}}
	nstmts := CreateTableSQL(loose, resolve)
	if !strings.Contains(nstmts[0], `REFERENCES "library_book"("id") ON DELETE NO ACTION`) {
		t.Errorf("DO NOTHING should map to NO ACTION:\n%s", nstmts[0])
	}
	if !strings.Contains(nstmts[0], `"editor_id" INTEGER REFERENCES "library_author"("id")`+"\n)") {
		t.Errorf("a field without on_delete should get a bare reference:\n%s", nstmts[0])
	}

	hist, _ := CreateHistoryModel(book, lookupMap{}, FactoryOptions{})
	hstmts := CreateTableSQL(hist.Def, resolve)
	if !strings.Contains(hstmts[0], `"history_id" INTEGER PRIMARY KEY AUTOINCREMENT`) {
		t.Errorf("history pk missing:\n%s", hstmts[0])
	}
	if strings.Contains(hstmts[0], "REFERENCES") {
		t.Errorf("historical tables must not carry constraints:\n%s", hstmts[0])
	}
	if !strings.Contains(hstmts[0], `"id" INTEGER NOT NULL`) {
		t.Errorf("expected pk copy as plain integer:\n%s", hstmts[0])
	}
}
