// Package history records a snapshot of every tracked record on each create
// and update, including the acting user and time, and keeps junction history
// for many-to-many and one-to-many relations between tracked models.
package history

import (
	"context"
	"fmt"
	"log"

	chronerrors "github.com/arkilian/chronicle/internal/errors"
	"github.com/arkilian/chronicle/internal/observability"
	"github.com/arkilian/chronicle/internal/registry"
	"github.com/arkilian/chronicle/internal/schema"
	"github.com/arkilian/chronicle/internal/store"
	"github.com/arkilian/chronicle/pkg/types"
)

// Tracker registers models for history tracking and captures their changes
// through store hooks. Register every model before the first write, then
// call Freeze.
type Tracker struct {
	db      *store.DB
	catalog *schema.Catalog
	reg     *registry.Registry
	opts    Options
	stats   *observability.CaptureStats

	managers map[string]*Manager // by tracked model
	fakes    map[[2]string]*Manager
}

// New creates a tracker over db.
func New(db *store.DB, opts Options) *Tracker {
	opts = opts.withDefaults()
	return &Tracker{
		db:       db,
		catalog:  db.Catalog(),
		reg:      registry.New(),
		opts:     opts,
		stats:    opts.Stats,
		managers: make(map[string]*Manager),
		fakes:    make(map[[2]string]*Manager),
	}
}

// Registry returns the tracker's registry.
func (t *Tracker) Registry() *registry.Registry { return t.reg }

// Stats returns the capture counters.
func (t *Tracker) Stats() *observability.CaptureStats { return t.stats }

// Register starts tracking model. The historical table is created, change
// hooks are subscribed and relationship histories to already tracked models
// are set up.
func (t *Tracker) Register(ctx context.Context, model string, opts ...RegisterOption) error {
	def, ok := t.catalog.Model(model)
	if !ok {
		return chronerrors.NewConfigurationError(chronerrors.CodeInvalidModel,
			fmt.Sprintf("unknown model %q", model))
	}
	ro := t.defaultRegisterOptions()
	for _, opt := range opts {
		opt(&ro)
	}
	return t.register(ctx, def, ro)
}

// RegisterModelList registers each model with default options, in order.
func (t *Tracker) RegisterModelList(ctx context.Context, models ...string) error {
	for _, m := range models {
		if err := t.Register(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// Freeze ends the registration phase.
func (t *Tracker) Freeze() {
	t.reg.Freeze()
	log.Printf("history: registry frozen with %d tracked models and %d fake junctions",
		len(t.reg.Tracked()), len(t.reg.Fakes()))
}

func (t *Tracker) defaultRegisterOptions() registerOptions {
	return registerOptions{
		managerName:     t.opts.ManagerName,
		userRelatedName: t.opts.UserRelatedName,
	}
}

func (t *Tracker) factoryOptions(ro registerOptions) schema.FactoryOptions {
	return schema.FactoryOptions{
		IsM2M:           ro.isM2M,
		App:             ro.app,
		TableName:       ro.tableName,
		VerboseName:     ro.verboseName,
		UserModel:       t.opts.UserModel,
		UserRelatedName: ro.userRelatedName,
		StringKeys:      t.opts.StringKeys,
	}
}

func (t *Tracker) register(ctx context.Context, def *types.ModelDef, ro registerOptions) error {
	if t.reg.Frozen() {
		return chronerrors.NewConfigurationError(chronerrors.CodeRegistryFrozen,
			fmt.Sprintf("cannot register %s after Freeze", def.Label()))
	}
	if t.reg.IsRegistered(def) {
		return chronerrors.NewMultipleRegistrationsError(def.Label())
	}
	if def.Unmanaged {
		return chronerrors.NewConfigurationError(chronerrors.CodeInvalidModel,
			fmt.Sprintf("%s is unmanaged and cannot be tracked", def.Label()))
	}

	hist, err := schema.CreateHistoryModel(def, t.reg, t.factoryOptions(ro))
	if err != nil {
		return err
	}
	hist.ManagerName = ro.managerName

	if err := t.db.CreateTables(ctx, hist.Def); err != nil {
		return err
	}
	if err := t.reg.Add(hist); err != nil {
		return err
	}
	t.db.Subscribe(def.Name, &captureHook{t: t, hist: hist})
	t.managers[def.Name] = newManager(ro.managerName, hist, t.db, t.opts.AdminSite)

	kind := "model"
	if ro.isM2M {
		kind = "junction"
	}
	log.Printf("history: registered %s %s as %s (table %s)", kind, def.Label(), hist.Name(), hist.Def.TableName())

	if ro.isM2M {
		return nil
	}
	if err := t.expandManyToMany(ctx, def); err != nil {
		return err
	}
	return t.expandFakeJunctions(ctx, def)
}

// Manager returns the history manager of a tracked model.
func (t *Tracker) Manager(model string) (*Manager, error) {
	m, ok := t.managers[model]
	if !ok {
		return nil, chronerrors.NewNotRegisteredError(model)
	}
	return m, nil
}

// ManagerByName returns the manager of model registered under name.
func (t *Tracker) ManagerByName(model, name string) (*Manager, error) {
	m, err := t.Manager(model)
	if err != nil {
		return nil, err
	}
	if m.Name() != name {
		return nil, chronerrors.NewConfigurationError(chronerrors.CodeNotRegistered,
			fmt.Sprintf("%s has no history manager named %q", model, name))
	}
	return m, nil
}

// FakeManager returns the manager of the fake junction for model.field.
func (t *Tracker) FakeManager(model, field string) (*Manager, error) {
	m, ok := t.fakes[[2]string{model, field}]
	if !ok {
		return nil, chronerrors.NewConfigurationError(chronerrors.CodeNotRegistered,
			fmt.Sprintf("no fake junction history for %s.%s", model, field))
	}
	return m, nil
}

// HistoricalModel returns the historical model of a tracked model.
func (t *Tracker) HistoricalModel(model string) (*schema.HistoricalModel, bool) {
	return t.reg.Historical(model)
}

// Historicals returns every historical model, tracked types first and fake
// junction histories after them.
func (t *Tracker) Historicals() []*schema.HistoricalModel {
	hists := t.reg.Tracked()
	for _, f := range t.reg.Fakes() {
		hists = append(hists, f.Historical)
	}
	return hists
}

// HistoricalDefs returns the definitions of every historical table,
// fake junction histories included.
func (t *Tracker) HistoricalDefs() []*types.ModelDef {
	hists := t.Historicals()
	defs := make([]*types.ModelDef, len(hists))
	for i, h := range hists {
		defs[i] = h.Def
	}
	return defs
}

// SaveWithoutHistoricalRecord saves inst without writing a snapshot.
// The skip flag only lives for the duration of the call.
func (t *Tracker) SaveWithoutHistoricalRecord(ctx context.Context, inst *types.Instance, opts ...store.SaveOption) error {
	inst.SkipHistory = true
	defer func() { inst.SkipHistory = false }()
	return t.db.Save(ctx, inst, opts...)
}

// captureHook routes store events of one tracked model to the tracker.
type captureHook struct {
	t    *Tracker
	hist *schema.HistoricalModel
}

// BeforeSave writes nothing: rows that predate tracking get their first
// snapshot from InitHistoricalRecords.
func (h *captureHook) BeforeSave(ctx context.Context, e store.SaveEvent) error {
	return nil
}

func (h *captureHook) AfterSave(ctx context.Context, e store.SaveEvent) error {
	return h.t.onSave(ctx, h.hist, e)
}

func (h *captureHook) AfterDelete(ctx context.Context, e store.DeleteEvent) error {
	return h.t.onDelete(ctx, h.hist, e)
}

func (h *captureHook) RelationChanged(ctx context.Context, e store.RelationEvent) error {
	return h.t.onRelation(ctx, h.hist, e)
}
