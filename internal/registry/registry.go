// Package registry holds the process-wide record of tracked models, their
// historical models and the synthesized junction histories.
//
// The registry is written during registration only. After Freeze it is
// read-only and safe for concurrent readers without locking.
package registry

import (
	"fmt"

	chronerrors "github.com/arkilian/chronicle/internal/errors"
	"github.com/arkilian/chronicle/internal/schema"
	"github.com/arkilian/chronicle/pkg/types"
)

// FakeKey identifies one side of a fake junction: the model, the junction's
// historical model and the relation field on that model.
type FakeKey struct {
	Model    string
	Junction string
	Field    string
}

// Registry maps tracked models to their histories.
type Registry struct {
	models     map[string]*types.ModelDef // by table
	historical map[string]*schema.HistoricalModel
	order      []string

	fakes     map[FakeKey]FakeKey
	fakeList  []*schema.FakeJunction
	fakeByRel map[[2]string]*schema.FakeJunction

	frozen bool
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		models:     make(map[string]*types.ModelDef),
		historical: make(map[string]*schema.HistoricalModel),
		fakes:      make(map[FakeKey]FakeKey),
		fakeByRel:  make(map[[2]string]*schema.FakeJunction),
	}
}

func (r *Registry) checkWritable() error {
	if r.frozen {
		return chronerrors.NewConfigurationError(chronerrors.CodeRegistryFrozen,
			"registry is frozen; register models before the first write")
	}
	return nil
}

// Add records a tracked model and its historical model.
func (r *Registry) Add(hist *schema.HistoricalModel) error {
	if err := r.checkWritable(); err != nil {
		return err
	}
	tracked := hist.Tracked
	if _, dup := r.models[tracked.TableName()]; dup {
		return chronerrors.NewMultipleRegistrationsError(tracked.Label())
	}
	if _, dup := r.historical[tracked.Name]; dup {
		return chronerrors.NewMultipleRegistrationsError(tracked.Label())
	}
	r.models[tracked.TableName()] = tracked
	r.historical[tracked.Name] = hist
	r.order = append(r.order, tracked.Name)
	return nil
}

// IsRegistered reports whether def's table is tracked.
func (r *Registry) IsRegistered(def *types.ModelDef) bool {
	_, ok := r.models[def.TableName()]
	return ok
}

// Model returns the tracked model stored in table.
func (r *Registry) Model(table string) (*types.ModelDef, bool) {
	def, ok := r.models[table]
	return def, ok
}

// Historical returns the historical model of a tracked model name.
func (r *Registry) Historical(model string) (*schema.HistoricalModel, bool) {
	h, ok := r.historical[model]
	return h, ok
}

// Tracked returns the historical models in registration order.
func (r *Registry) Tracked() []*schema.HistoricalModel {
	out := make([]*schema.HistoricalModel, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.historical[name])
	}
	return out
}

// HasFake reports whether a fake junction exists for model.field.
func (r *Registry) HasFake(model, field string) bool {
	_, ok := r.fakeByRel[[2]string{model, field}]
	return ok
}

// AddFake records a fake junction under both of its keys.
func (r *Registry) AddFake(f *schema.FakeJunction) error {
	if err := r.checkWritable(); err != nil {
		return err
	}
	if r.HasFake(f.From, f.FromField) {
		return chronerrors.NewConfigurationError(chronerrors.CodeMultipleRegistrations,
			fmt.Sprintf("fake junction for %s.%s registered twice", f.From, f.FromField))
	}
	from := FakeKey{Model: f.From, Junction: f.Historical.Name(), Field: f.FromField}
	to := FakeKey{Model: f.To, Junction: f.Historical.Name(), Field: f.ToField}
	r.fakes[from] = to
	r.fakes[to] = from
	r.fakeList = append(r.fakeList, f)
	r.fakeByRel[[2]string{f.From, f.FromField}] = f
	return nil
}

// Counterpart returns the other side of a fake junction key.
func (r *Registry) Counterpart(k FakeKey) (FakeKey, bool) {
	v, ok := r.fakes[k]
	return v, ok
}

// Fakes returns every fake junction in registration order.
func (r *Registry) Fakes() []*schema.FakeJunction {
	return append([]*schema.FakeJunction(nil), r.fakeList...)
}

// FakesFrom returns the fake junctions whose foreign key lives on model.
func (r *Registry) FakesFrom(model string) []*schema.FakeJunction {
	var out []*schema.FakeJunction
	for _, f := range r.fakeList {
		if f.From == model {
			out = append(out, f)
		}
	}
	return out
}

// FakesTo returns the fake junctions whose foreign key points at model.
func (r *Registry) FakesTo(model string) []*schema.FakeJunction {
	var out []*schema.FakeJunction
	for _, f := range r.fakeList {
		if f.To == model {
			out = append(out, f)
		}
	}
	return out
}

// Freeze ends the registration phase.
func (r *Registry) Freeze() { r.frozen = true }

// Frozen reports whether Freeze was called.
func (r *Registry) Frozen() bool { return r.frozen }
