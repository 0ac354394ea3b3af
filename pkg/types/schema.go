package types

import "strings"

// FieldKind is the semantic type of a field.
type FieldKind string

const (
	// KindAuto is an auto-incrementing integer surrogate key.
	KindAuto FieldKind = "auto"
	// KindInteger stores an int64.
	KindInteger FieldKind = "integer"
	// KindReal stores a float64.
	KindReal FieldKind = "real"
	// KindText stores a string.
	KindText FieldKind = "text"
	// KindBool stores a bool.
	KindBool FieldKind = "bool"
	// KindTime stores a time.Time as unix nanoseconds.
	KindTime FieldKind = "time"
	// KindFile stores a reference to a file in object storage.
	KindFile FieldKind = "file"
	// KindForeignKey references a row of another model.
	KindForeignKey FieldKind = "foreign_key"
	// KindOneToOne is a unique reference to a row of another model.
	KindOneToOne FieldKind = "one_to_one"
	// KindOrderWrt is the proxy ordering column for ordered relations.
	KindOrderWrt FieldKind = "order_wrt"
)

// IsRelation reports whether the kind references another model.
func (k FieldKind) IsRelation() bool {
	return k == KindForeignKey || k == KindOneToOne
}

// Valid reports whether k is a known kind.
func (k FieldKind) Valid() bool {
	switch k {
	case KindAuto, KindInteger, KindReal, KindText, KindBool, KindTime,
		KindFile, KindForeignKey, KindOneToOne, KindOrderWrt:
		return true
	}
	return false
}

// OnDeleteAction controls what happens to referencing rows when the target is removed.
type OnDeleteAction string

const (
	OnDeleteCascade   OnDeleteAction = "CASCADE"
	OnDeleteSetNull   OnDeleteAction = "SET NULL"
	OnDeleteRestrict  OnDeleteAction = "RESTRICT"
	OnDeleteDoNothing OnDeleteAction = "DO NOTHING"
)

// Valid reports whether a is a known action. The empty action is valid.
func (a OnDeleteAction) Valid() bool {
	switch a {
	case "", OnDeleteCascade, OnDeleteSetNull, OnDeleteRestrict, OnDeleteDoNothing:
		return true
	}
	return false
}

// SQL returns the SQLite ON DELETE clause argument, or "" for no clause.
func (a OnDeleteAction) SQL() string {
	switch a {
	case OnDeleteCascade, OnDeleteSetNull, OnDeleteRestrict:
		return string(a)
	case OnDeleteDoNothing:
		return "NO ACTION"
	}
	return ""
}

// SuppressReverse is the RelatedName value that disables the reverse accessor.
const SuppressReverse = "+"

// Choice is one allowed value of a field.
type Choice struct {
	Value string `json:"value" yaml:"value"`
	Label string `json:"label" yaml:"label"`
}

// FieldDef describes a single field of a model.
type FieldDef struct {
	// Name is the field name used by the application.
	Name string `json:"name" yaml:"name"`

	// Column is the storage column (attname). Defaults to Name, or Name+"_id" for relations.
	Column string `json:"column,omitempty" yaml:"column,omitempty"`

	Kind FieldKind `json:"kind" yaml:"kind"`

	PrimaryKey bool `json:"primary_key,omitempty" yaml:"primary_key,omitempty"`
	Unique     bool `json:"unique,omitempty" yaml:"unique,omitempty"`
	Index      bool `json:"index,omitempty" yaml:"index,omitempty"`
	Nullable   bool `json:"nullable,omitempty" yaml:"nullable,omitempty"`

	// AutoNow sets the value to the current time on every save.
	AutoNow bool `json:"auto_now,omitempty" yaml:"auto_now,omitempty"`
	// AutoNowAdd sets the value to the current time on creation.
	AutoNowAdd bool `json:"auto_now_add,omitempty" yaml:"auto_now_add,omitempty"`

	MaxLength int      `json:"max_length,omitempty" yaml:"max_length,omitempty"`
	Choices   []Choice `json:"choices,omitempty" yaml:"choices,omitempty"`

	// Related is the target model name for relation kinds.
	Related string `json:"related,omitempty" yaml:"related,omitempty"`
	// RelatedName names the reverse accessor on the target. "+" suppresses it,
	// empty means "<lower model>_set".
	RelatedName string `json:"related_name,omitempty" yaml:"related_name,omitempty"`
	// ToField is the target column when it is not the target's primary key.
	ToField string `json:"to_field,omitempty" yaml:"to_field,omitempty"`
	// NoDBConstraint disables the REFERENCES clause for relation kinds.
	NoDBConstraint bool           `json:"no_db_constraint,omitempty" yaml:"no_db_constraint,omitempty"`
	OnDelete       OnDeleteAction `json:"on_delete,omitempty" yaml:"on_delete,omitempty"`
}

// Attname returns the storage column for the field.
func (f FieldDef) Attname() string {
	if f.Column != "" {
		return f.Column
	}
	if f.Kind.IsRelation() {
		return f.Name + "_id"
	}
	return f.Name
}

// ManyToManyDef describes a many-to-many relation declared on a model.
type ManyToManyDef struct {
	Name string `json:"name" yaml:"name"`
	// To is the target model name.
	To string `json:"to" yaml:"to"`
	// Through names an explicit junction model. Empty means an automatic junction.
	Through string `json:"through,omitempty" yaml:"through,omitempty"`
	// RelatedName names the reverse accessor on the target.
	RelatedName string `json:"related_name,omitempty" yaml:"related_name,omitempty"`
}

// ModelDef describes a record type: its table, fields and relations.
type ModelDef struct {
	Name        string          `json:"name" yaml:"name"`
	App         string          `json:"app,omitempty" yaml:"app,omitempty"`
	Table       string          `json:"table,omitempty" yaml:"table,omitempty"`
	VerboseName string          `json:"verbose_name,omitempty" yaml:"verbose_name,omitempty"`
	Fields      []FieldDef      `json:"fields" yaml:"fields"`
	ManyToMany  []ManyToManyDef `json:"many_to_many,omitempty" yaml:"many_to_many,omitempty"`

	// Ordering lists default order columns; a leading "-" means descending.
	Ordering    []string `json:"ordering,omitempty" yaml:"ordering,omitempty"`
	GetLatestBy string   `json:"get_latest_by,omitempty" yaml:"get_latest_by,omitempty"`

	// Unmanaged models have no table of their own.
	Unmanaged bool `json:"unmanaged,omitempty" yaml:"unmanaged,omitempty"`
}

// TableName returns the model's table, defaulting to "<app>_<lower name>".
func (m *ModelDef) TableName() string {
	if m.Table != "" {
		return m.Table
	}
	if m.App == "" {
		return strings.ToLower(m.Name)
	}
	return strings.ToLower(m.App) + "_" + strings.ToLower(m.Name)
}

// Label returns "<app>.<Name>".
func (m *ModelDef) Label() string {
	if m.App == "" {
		return m.Name
	}
	return m.App + "." + m.Name
}

// Verbose returns the human readable name.
func (m *ModelDef) Verbose() string {
	if m.VerboseName != "" {
		return m.VerboseName
	}
	return strings.ToLower(m.Name)
}

// PrimaryKey returns the primary key field, if any.
func (m *ModelDef) PrimaryKey() (FieldDef, bool) {
	for _, f := range m.Fields {
		if f.PrimaryKey {
			return f, true
		}
	}
	return FieldDef{}, false
}

// PKColumn returns the primary key column, or "" when the model has none.
func (m *ModelDef) PKColumn() string {
	pk, ok := m.PrimaryKey()
	if !ok {
		return ""
	}
	return pk.Attname()
}

// Field looks a field up by name.
func (m *ModelDef) Field(name string) (FieldDef, bool) {
	for _, f := range m.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDef{}, false
}

// Relations returns the relation fields in declaration order.
func (m *ModelDef) Relations() []FieldDef {
	var out []FieldDef
	for _, f := range m.Fields {
		if f.Kind.IsRelation() {
			out = append(out, f)
		}
	}
	return out
}

// Columns returns every storage column in declaration order.
func (m *ModelDef) Columns() []string {
	cols := make([]string, len(m.Fields))
	for i, f := range m.Fields {
		cols[i] = f.Attname()
	}
	return cols
}

// Clone returns a deep copy of the model definition.
func (m *ModelDef) Clone() *ModelDef {
	cp := *m
	cp.Fields = make([]FieldDef, len(m.Fields))
	for i, f := range m.Fields {
		f.Choices = append([]Choice(nil), f.Choices...)
		cp.Fields[i] = f
	}
	cp.ManyToMany = append([]ManyToManyDef(nil), m.ManyToMany...)
	cp.Ordering = append([]string(nil), m.Ordering...)
	return &cp
}
