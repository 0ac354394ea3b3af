package schema

import (
	"fmt"
	"strings"

	chronerrors "github.com/arkilian/chronicle/internal/errors"
	"github.com/arkilian/chronicle/pkg/types"
)

// M2MRelation is a resolved many-to-many relation and its junction model.
type M2MRelation struct {
	// Model declares the relation.
	Model string
	// Field is the declared relation name on Model.
	Field string
	// To is the target model.
	To string
	// Through is the junction model, generated when the declaration names none.
	Through *types.ModelDef
	// SourceField and TargetField are the junction foreign keys to Model and To.
	SourceField string
	TargetField string
	// RelatedName is the reverse accessor on To.
	RelatedName string
	AutoCreated bool
}

// ReverseName returns the accessor on To, defaulting to "<lower model>_set".
func (r *M2MRelation) ReverseName() string {
	if r.RelatedName != "" {
		return r.RelatedName
	}
	return strings.ToLower(r.Model) + "_set"
}

// SourceColumn returns the junction column referencing Model.
func (r *M2MRelation) SourceColumn() string {
	f, _ := r.Through.Field(r.SourceField)
	return f.Attname()
}

// TargetColumn returns the junction column referencing To.
func (r *M2MRelation) TargetColumn() string {
	f, _ := r.Through.Field(r.TargetField)
	return f.Attname()
}

// ReverseRelation is a foreign key on another model pointing at a model.
type ReverseRelation struct {
	// Model holds the foreign key.
	Model string
	Field types.FieldDef
	// Accessor is the reverse accessor name.
	Accessor string
}

// Catalog holds validated model definitions keyed by name and table.
type Catalog struct {
	models  map[string]*types.ModelDef
	byTable map[string]*types.ModelDef
	order   []string
	m2m     []*M2MRelation
}

// NewCatalog validates defs, generates automatic junction models and indexes
// relations. Definitions are cloned; callers may reuse theirs.
func NewCatalog(defs ...*types.ModelDef) (*Catalog, error) {
	c := &Catalog{
		models:  make(map[string]*types.ModelDef),
		byTable: make(map[string]*types.ModelDef),
	}
	for _, d := range defs {
		if err := c.add(d.Clone()); err != nil {
			return nil, err
		}
	}

	for _, name := range append([]string(nil), c.order...) {
		def := c.models[name]
		for _, m := range def.ManyToMany {
			rel, err := c.resolveM2M(def, m)
			if err != nil {
				return nil, err
			}
			c.m2m = append(c.m2m, rel)
		}
	}

	for _, name := range c.order {
		def := c.models[name]
		for _, f := range def.Relations() {
			if f.Related == "" {
				return nil, invalidRelation(def, f.Name, "missing related model")
			}
			target, ok := c.models[f.Related]
			if !ok {
				return nil, invalidRelation(def, f.Name, fmt.Sprintf("unknown model %q", f.Related))
			}
			if f.ToField != "" {
				if _, ok := target.Field(f.ToField); !ok {
					return nil, invalidRelation(def, f.Name, fmt.Sprintf("%s has no field %q", target.Name, f.ToField))
				}
			}
		}
	}
	return c, nil
}

func (c *Catalog) add(def *types.ModelDef) error {
	if def.Name == "" {
		return chronerrors.NewConfigurationError(chronerrors.CodeInvalidModel, "model without a name")
	}
	if _, dup := c.models[def.Name]; dup {
		return chronerrors.NewConfigurationError(chronerrors.CodeInvalidModel,
			fmt.Sprintf("model %s defined twice", def.Name))
	}
	if other, dup := c.byTable[def.TableName()]; dup {
		return chronerrors.NewConfigurationError(chronerrors.CodeInvalidModel,
			fmt.Sprintf("models %s and %s share table %s", other.Name, def.Name, def.TableName()))
	}

	pks := 0
	seen := make(map[string]bool)
	for _, f := range def.Fields {
		if !f.Kind.Valid() {
			return chronerrors.NewConfigurationError(chronerrors.CodeInvalidModel,
				fmt.Sprintf("%s.%s has unknown kind %q", def.Name, f.Name, f.Kind))
		}
		if seen[f.Attname()] {
			return chronerrors.NewConfigurationError(chronerrors.CodeInvalidModel,
				fmt.Sprintf("%s has duplicate column %s", def.Name, f.Attname()))
		}
		seen[f.Attname()] = true
		if !f.OnDelete.Valid() {
			return invalidRelation(def, f.Name, fmt.Sprintf("unknown on_delete %q", f.OnDelete))
		}
		if f.OnDelete == types.OnDeleteSetNull && !f.Nullable {
			return invalidRelation(def, f.Name, "on_delete SET NULL needs a nullable field")
		}
		if f.PrimaryKey {
			pks++
		}
	}
	if pks != 1 && !def.Unmanaged {
		return chronerrors.NewConfigurationError(chronerrors.CodeInvalidModel,
			fmt.Sprintf("%s must have exactly one primary key, has %d", def.Name, pks)).
			WithDetails(map[string]interface{}{"model": def.Label()})
	}

	c.models[def.Name] = def
	c.byTable[def.TableName()] = def
	c.order = append(c.order, def.Name)
	return nil
}

func (c *Catalog) resolveM2M(def *types.ModelDef, m types.ManyToManyDef) (*M2MRelation, error) {
	to, ok := c.models[m.To]
	if !ok {
		return nil, invalidRelation(def, m.Name, fmt.Sprintf("unknown model %q", m.To))
	}
	rel := &M2MRelation{
		Model:       def.Name,
		Field:       m.Name,
		To:          to.Name,
		RelatedName: m.RelatedName,
	}

	if m.Through == "" {
		rel.Through = autoJunction(def, m.Name, to)
		rel.SourceField, rel.TargetField = junctionFieldNames(def.Name, to.Name)
		rel.AutoCreated = true
		if err := c.add(rel.Through); err != nil {
			return nil, err
		}
		return rel, nil
	}

	through, ok := c.models[m.Through]
	if !ok {
		return nil, invalidRelation(def, m.Name, fmt.Sprintf("unknown junction %q", m.Through))
	}
	rel.Through = through
	for _, f := range through.Relations() {
		switch {
		case f.Related == def.Name && rel.SourceField == "":
			rel.SourceField = f.Name
		case f.Related == to.Name && rel.TargetField == "":
			rel.TargetField = f.Name
		}
	}
	if rel.SourceField == "" || rel.TargetField == "" {
		return nil, invalidRelation(def, m.Name,
			fmt.Sprintf("junction %s needs foreign keys to %s and %s", through.Name, def.Name, to.Name))
	}
	return rel, nil
}

// junctionFieldNames names the two sides of a generated junction.
func junctionFieldNames(from, to string) (string, string) {
	f, t := strings.ToLower(from), strings.ToLower(to)
	if f == t {
		return "from_" + f, "to_" + t
	}
	return f, t
}

func autoJunction(def *types.ModelDef, field string, to *types.ModelDef) *types.ModelDef {
	src, tgt := junctionFieldNames(def.Name, to.Name)
	return &types.ModelDef{
		Name:  def.Name + "_" + field,
		App:   def.App,
		Table: def.TableName() + "_" + strings.ToLower(field),
		Fields: []types.FieldDef{
			{Name: "id", Kind: types.KindAuto, PrimaryKey: true},
			{Name: src, Kind: types.KindForeignKey, Related: def.Name, Index: true,
				OnDelete: types.OnDeleteCascade, RelatedName: types.SuppressReverse},
			{Name: tgt, Kind: types.KindForeignKey, Related: to.Name, Index: true,
				OnDelete: types.OnDeleteCascade, RelatedName: types.SuppressReverse},
		},
	}
}

func invalidRelation(def *types.ModelDef, field, msg string) error {
	return chronerrors.NewConfigurationError(chronerrors.CodeInvalidRelation,
		fmt.Sprintf("%s.%s: %s", def.Name, field, msg)).
		WithDetails(map[string]interface{}{"model": def.Label(), "field": field})
}

// Model returns the definition named name.
func (c *Catalog) Model(name string) (*types.ModelDef, bool) {
	def, ok := c.models[name]
	return def, ok
}

// ByTable returns the definition stored in table.
func (c *Catalog) ByTable(table string) (*types.ModelDef, bool) {
	def, ok := c.byTable[table]
	return def, ok
}

// Models returns every definition, generated junctions included, in declaration order.
func (c *Catalog) Models() []*types.ModelDef {
	out := make([]*types.ModelDef, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.models[name])
	}
	return out
}

// ManyToMany returns the relations declared on or pointing at model.
func (c *Catalog) ManyToMany(model string) []*M2MRelation {
	var out []*M2MRelation
	for _, rel := range c.m2m {
		if rel.Model == model || rel.To == model {
			out = append(out, rel)
		}
	}
	return out
}

// ThroughRelation returns the relation whose junction is model.
func (c *Catalog) ThroughRelation(model string) (*M2MRelation, bool) {
	for _, rel := range c.m2m {
		if rel.Through.Name == model {
			return rel, true
		}
	}
	return nil, false
}

// Relation resolves an accessor on model. Forward accessors are the declared
// field name; reverse accessors are the relation's ReverseName. reverse reports
// which side model is on.
func (c *Catalog) Relation(model, accessor string) (rel *M2MRelation, reverse bool, ok bool) {
	for _, r := range c.m2m {
		if r.Model == model && r.Field == accessor {
			return r, false, true
		}
		if r.To == model && r.ReverseName() == accessor {
			return r, true, true
		}
	}
	return nil, false, false
}

// ReverseForeignKeys returns the foreign keys on other models that point at model.
// Self references are included; suppressed accessors are not.
func (c *Catalog) ReverseForeignKeys(model string) []ReverseRelation {
	var out []ReverseRelation
	for _, name := range c.order {
		def := c.models[name]
		for _, f := range def.Relations() {
			if f.Related != model {
				continue
			}
			accessor := f.RelatedName
			if accessor == types.SuppressReverse {
				continue
			}
			if accessor == "" {
				accessor = strings.ToLower(def.Name) + "_set"
			}
			out = append(out, ReverseRelation{Model: def.Name, Field: f, Accessor: accessor})
		}
	}
	return out
}

// ReverseForeignKey resolves a reverse accessor on model.
func (c *Catalog) ReverseForeignKey(model, accessor string) (ReverseRelation, bool) {
	for _, rr := range c.ReverseForeignKeys(model) {
		if rr.Accessor == accessor {
			return rr, true
		}
	}
	return ReverseRelation{}, false
}
