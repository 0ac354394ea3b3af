package history

import (
	"context"
	"log"

	"github.com/arkilian/chronicle/internal/schema"
	"github.com/arkilian/chronicle/pkg/types"
)

// expandManyToMany registers the junctions of def's many-to-many relations
// whose two endpoints are both tracked.
func (t *Tracker) expandManyToMany(ctx context.Context, def *types.ModelDef) error {
	for _, rel := range t.catalog.ManyToMany(def.Name) {
		if rel.Through.Unmanaged || t.reg.IsRegistered(rel.Through) {
			continue
		}
		if _, ok := t.reg.Historical(rel.Model); !ok {
			continue
		}
		if _, ok := t.reg.Historical(rel.To); !ok {
			continue
		}
		ro := t.defaultRegisterOptions()
		ro.isM2M = true
		if err := t.register(ctx, rel.Through, ro); err != nil {
			return err
		}
	}
	return nil
}

// expandFakeJunctions synthesizes junction histories for the one-to-many
// relations between def and other tracked models, in both directions.
func (t *Tracker) expandFakeJunctions(ctx context.Context, def *types.ModelDef) error {
	for _, fk := range def.Relations() {
		if fk.RelatedName == types.SuppressReverse || t.reg.HasFake(def.Name, fk.Name) {
			continue
		}
		to, ok := t.fakeTarget(fk.Related)
		if !ok {
			continue
		}
		if err := t.addFakeJunction(ctx, def, fk, to); err != nil {
			return err
		}
	}

	for _, rr := range t.catalog.ReverseForeignKeys(def.Name) {
		if t.reg.HasFake(rr.Model, rr.Field.Name) {
			continue
		}
		from, ok := t.fakeTarget(rr.Model)
		if !ok {
			continue
		}
		if err := t.addFakeJunction(ctx, from, rr.Field, def); err != nil {
			return err
		}
	}
	return nil
}

// fakeTarget returns model's definition when it is tracked as a plain type.
func (t *Tracker) fakeTarget(model string) (*types.ModelDef, bool) {
	hist, ok := t.reg.Historical(model)
	if !ok || hist.IsM2M {
		return nil, false
	}
	return hist.Tracked, true
}

func (t *Tracker) addFakeJunction(ctx context.Context, from *types.ModelDef, fk types.FieldDef, to *types.ModelDef) error {
	fj, err := schema.SynthesizeFakeJunction(from, fk, to, t.reg, t.factoryOptions(t.defaultRegisterOptions()))
	if err != nil {
		return err
	}
	fj.Historical.ManagerName = t.opts.ManagerName
	if err := t.db.CreateTables(ctx, fj.Historical.Def); err != nil {
		return err
	}
	if err := t.reg.AddFake(fj); err != nil {
		return err
	}
	t.fakes[[2]string{fj.From, fj.FromField}] = newManager(t.opts.ManagerName, fj.Historical, t.db, t.opts.AdminSite)
	log.Printf("history: fake junction %s links %s.%s and %s.%s",
		fj.Historical.Name(), fj.From, fj.FromField, fj.To, fj.ToField)
	return nil
}
