package store

import (
	"context"
	"fmt"

	chronerrors "github.com/arkilian/chronicle/internal/errors"
	"github.com/arkilian/chronicle/pkg/types"
)

type saveOptions struct {
	raw bool
}

// SaveOption modifies a single Save.
type SaveOption func(*saveOptions)

// WithRaw saves values exactly as given: auto_now fields are left alone and
// hooks see the save as raw.
func WithRaw() SaveOption {
	return func(o *saveOptions) { o.raw = true }
}

// Save inserts inst when it has no primary key or its row does not exist,
// and updates it otherwise. inst.Values is refreshed with the stored values.
func (d *DB) Save(ctx context.Context, inst *types.Instance, opts ...SaveOption) error {
	def, err := d.model(inst.Model)
	if err != nil {
		return err
	}
	var so saveOptions
	for _, opt := range opts {
		opt(&so)
	}
	if inst.Values == nil {
		inst.Values = make(types.Record)
	}

	return d.WithTx(ctx, func(q Querier) error {
		pkCol := def.PKColumn()
		created := true
		if pk := inst.Values[pkCol]; pk != nil {
			exists, err := q.Exists(ctx, def, Eq(pkCol, pk))
			if err != nil {
				return err
			}
			created = !exists
		}

		if !so.raw {
			now := d.clock()
			for _, f := range def.Fields {
				col := f.Attname()
				if f.AutoNow || (f.AutoNowAdd && created && inst.Values[col] == nil) {
					inst.Values[col] = now
				}
			}
		}

		if err := d.fireBeforeSave(ctx, SaveEvent{Instance: inst, Created: created, Raw: so.raw, Tx: q}); err != nil {
			return err
		}

		if created {
			rec, err := q.Insert(ctx, def, inst.Values)
			if err != nil {
				return err
			}
			inst.Values = rec
		} else {
			if err := q.Update(ctx, def, inst.Values); err != nil {
				return err
			}
			inst.Values = Normalize(def, inst.Values)
		}

		return d.fireSave(ctx, SaveEvent{Instance: inst, Created: created, Raw: so.raw, Tx: q})
	})
}

// Delete removes inst's row. Junction rows of its many-to-many relations are
// deleted first, each dispatched as its own delete event.
func (d *DB) Delete(ctx context.Context, inst *types.Instance) error {
	def, err := d.model(inst.Model)
	if err != nil {
		return err
	}
	pk := inst.Values[def.PKColumn()]
	if pk == nil {
		return chronerrors.NewStorageError(chronerrors.CodeWriteFailed,
			fmt.Sprintf("cannot delete unsaved %s", def.Name), types.ErrNoPrimaryKey)
	}

	return d.WithTx(ctx, func(q Querier) error {
		cur, err := q.Get(ctx, def.Name, pk)
		if err != nil {
			return err
		}

		for _, rel := range d.catalog.ManyToMany(def.Name) {
			var cols []string
			if rel.Model == def.Name {
				cols = append(cols, rel.SourceColumn())
			}
			if rel.To == def.Name {
				cols = append(cols, rel.TargetColumn())
			}
			for _, col := range cols {
				rows, err := q.Find(ctx, rel.Through, Query{Where: []Predicate{Eq(col, pk)}, OrderBy: Unordered})
				if err != nil {
					return err
				}
				for _, row := range rows {
					if err := d.deleteRow(ctx, q, rel.Through, &types.Instance{Model: rel.Through.Name, Values: row}); err != nil {
						return err
					}
				}
			}
		}

		deleted := *inst
		deleted.Values = cur.Values
		if err := d.deleteRow(ctx, q, def, &deleted); err != nil {
			return err
		}
		inst.Values = cur.Values
		return nil
	})
}

func (d *DB) deleteRow(ctx context.Context, q Querier, def *types.ModelDef, inst *types.Instance) error {
	n, err := q.DeleteWhere(ctx, def, Eq(def.PKColumn(), inst.Values[def.PKColumn()]))
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	return d.fireDelete(ctx, DeleteEvent{Instance: inst, Tx: q})
}
