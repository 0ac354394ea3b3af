package store

import (
	"context"
	"fmt"

	chronerrors "github.com/arkilian/chronicle/internal/errors"
	"github.com/arkilian/chronicle/internal/schema"
	"github.com/arkilian/chronicle/pkg/types"
)

// relation resolves a many-to-many accessor that can be managed through the
// Add/Remove/Clear helpers. Explicit junctions must be written as models.
func (d *DB) relation(inst *types.Instance, accessor string) (*schema.M2MRelation, bool, interface{}, error) {
	def, err := d.model(inst.Model)
	if err != nil {
		return nil, false, nil, err
	}
	rel, reverse, ok := d.catalog.Relation(def.Name, accessor)
	if !ok {
		return nil, false, nil, chronerrors.NewConfigurationError(chronerrors.CodeInvalidRelation,
			fmt.Sprintf("%s has no many-to-many accessor %q", def.Name, accessor))
	}
	if !rel.AutoCreated {
		return nil, false, nil, chronerrors.NewConfigurationError(chronerrors.CodeInvalidRelation,
			fmt.Sprintf("%s.%s uses junction %s; save junction rows directly", rel.Model, rel.Field, rel.Through.Name))
	}
	pk := inst.Values[def.PKColumn()]
	if pk == nil {
		return nil, false, nil, chronerrors.NewStorageError(chronerrors.CodeWriteFailed,
			fmt.Sprintf("cannot relate unsaved %s", def.Name), types.ErrNoPrimaryKey)
	}
	return rel, reverse, pk, nil
}

// AddRelated links inst to the given primary keys of the other side.
// Keys that are already linked are ignored.
func (d *DB) AddRelated(ctx context.Context, inst *types.Instance, accessor string, pks ...interface{}) error {
	rel, reverse, pk, err := d.relation(inst, accessor)
	if err != nil {
		return err
	}

	return d.WithTx(ctx, func(q Querier) error {
		ev := RelationEvent{Instance: inst, Relation: rel, Reverse: reverse, Tx: q}
		instCol, otherCol := ev.InstanceColumn(), ev.OtherColumn()

		linked := make(map[string]bool)
		if len(pks) > 0 {
			rows, err := q.Find(ctx, rel.Through, Query{
				Where:   []Predicate{Eq(instCol, pk), In(otherCol, pks...)},
				OrderBy: Unordered,
			})
			if err != nil {
				return err
			}
			for _, row := range rows {
				linked[KeyOf(row[otherCol])] = true
			}
		}

		ev.PKs = make([]interface{}, 0, len(pks))
		for _, other := range pks {
			k := KeyOf(other)
			if linked[k] {
				continue
			}
			linked[k] = true
			ev.PKs = append(ev.PKs, other)
		}

		ev.Action = ActionPreAdd
		if err := d.fireRelation(ctx, ev); err != nil {
			return err
		}
		for _, other := range ev.PKs {
			if _, err := q.Insert(ctx, rel.Through, types.Record{instCol: pk, otherCol: other}); err != nil {
				return err
			}
		}
		ev.Action = ActionPostAdd
		return d.fireRelation(ctx, ev)
	})
}

// RemoveRelated unlinks inst from the given primary keys.
func (d *DB) RemoveRelated(ctx context.Context, inst *types.Instance, accessor string, pks ...interface{}) error {
	rel, reverse, pk, err := d.relation(inst, accessor)
	if err != nil {
		return err
	}
	if len(pks) == 0 {
		return nil
	}

	return d.WithTx(ctx, func(q Querier) error {
		ev := RelationEvent{Instance: inst, Relation: rel, Reverse: reverse, PKs: pks, Tx: q}
		ev.Action = ActionPreRemove
		if err := d.fireRelation(ctx, ev); err != nil {
			return err
		}
		if _, err := q.DeleteWhere(ctx, rel.Through, Eq(ev.InstanceColumn(), pk), In(ev.OtherColumn(), pks...)); err != nil {
			return err
		}
		ev.Action = ActionPostRemove
		return d.fireRelation(ctx, ev)
	})
}

// ClearRelated unlinks inst from everything on the other side.
func (d *DB) ClearRelated(ctx context.Context, inst *types.Instance, accessor string) error {
	rel, reverse, pk, err := d.relation(inst, accessor)
	if err != nil {
		return err
	}

	return d.WithTx(ctx, func(q Querier) error {
		ev := RelationEvent{Instance: inst, Relation: rel, Reverse: reverse, Tx: q}
		ev.Action = ActionPreClear
		if err := d.fireRelation(ctx, ev); err != nil {
			return err
		}
		if _, err := q.DeleteWhere(ctx, rel.Through, Eq(ev.InstanceColumn(), pk)); err != nil {
			return err
		}
		ev.Action = ActionPostClear
		return d.fireRelation(ctx, ev)
	})
}

// Related returns the instances reachable from inst through accessor, which
// may name a many-to-many relation (either side) or a reverse foreign key.
func (d *DB) Related(ctx context.Context, inst *types.Instance, accessor string) ([]*types.Instance, error) {
	def, err := d.model(inst.Model)
	if err != nil {
		return nil, err
	}
	q := d.Querier()

	if rel, reverse, ok := d.catalog.Relation(def.Name, accessor); ok {
		ev := RelationEvent{Relation: rel, Reverse: reverse}
		rows, err := q.Find(ctx, rel.Through, Query{Where: []Predicate{Eq(ev.InstanceColumn(), inst.Values[def.PKColumn()])}})
		if err != nil {
			return nil, err
		}
		ids := make([]interface{}, 0, len(rows))
		for _, row := range rows {
			ids = append(ids, row[ev.OtherColumn()])
		}
		other := rel.To
		if reverse {
			other = rel.Model
		}
		otherDef, _ := d.catalog.Model(other)
		return d.instances(ctx, otherDef, In(otherDef.PKColumn(), ids...))
	}

	if rr, ok := d.catalog.ReverseForeignKey(def.Name, accessor); ok {
		key := def.PKColumn()
		if rr.Field.ToField != "" {
			target, _ := def.Field(rr.Field.ToField)
			key = target.Attname()
		}
		fromDef, _ := d.catalog.Model(rr.Model)
		return d.instances(ctx, fromDef, Eq(rr.Field.Attname(), inst.Values[key]))
	}

	return nil, chronerrors.NewConfigurationError(chronerrors.CodeInvalidRelation,
		fmt.Sprintf("%s has no accessor %q", def.Name, accessor))
}

func (d *DB) instances(ctx context.Context, def *types.ModelDef, preds ...Predicate) ([]*types.Instance, error) {
	rows, err := d.Find(ctx, def, Query{Where: preds})
	if err != nil {
		return nil, err
	}
	out := make([]*types.Instance, len(rows))
	for i, row := range rows {
		out[i] = &types.Instance{Model: def.Name, Values: row}
	}
	return out, nil
}

// KeyOf renders a key in stored form so int and int64 ids compare equal.
func KeyOf(v interface{}) string {
	return fmt.Sprint(encodeValue(types.FieldDef{}, v))
}
