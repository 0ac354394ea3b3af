package store

import (
	"context"

	"github.com/arkilian/chronicle/internal/schema"
	"github.com/arkilian/chronicle/pkg/types"
)

// RelationAction names the phase of a many-to-many change.
type RelationAction string

const (
	ActionPreAdd     RelationAction = "pre_add"
	ActionPostAdd    RelationAction = "post_add"
	ActionPreRemove  RelationAction = "pre_remove"
	ActionPostRemove RelationAction = "post_remove"
	ActionPreClear   RelationAction = "pre_clear"
	ActionPostClear  RelationAction = "post_clear"
)

// SaveEvent is dispatched before and after a row is inserted or updated.
// Before the write, Instance holds the values about to be stored and the
// row still has its previous values.
type SaveEvent struct {
	Instance *types.Instance
	Created  bool
	// Raw saves load data as-is, for fixtures and imports.
	Raw bool
	Tx  Querier
}

// DeleteEvent is dispatched after a row is deleted. Instance holds the
// values the row had.
type DeleteEvent struct {
	Instance *types.Instance
	Tx       Querier
}

// RelationEvent is dispatched around many-to-many changes, keyed on the
// junction model.
type RelationEvent struct {
	Action RelationAction
	// Instance is the object the change was made from.
	Instance *types.Instance
	Relation *schema.M2MRelation
	// Reverse is true when Instance is on the relation's target side.
	Reverse bool
	// PKs are the primary keys of the other side; nil for clears.
	PKs []interface{}
	Tx  Querier
}

// InstanceColumn returns the junction column that references Instance.
func (e RelationEvent) InstanceColumn() string {
	if e.Reverse {
		return e.Relation.TargetColumn()
	}
	return e.Relation.SourceColumn()
}

// OtherColumn returns the junction column that references the other side.
func (e RelationEvent) OtherColumn() string {
	if e.Reverse {
		return e.Relation.SourceColumn()
	}
	return e.Relation.TargetColumn()
}

// Hook receives lifecycle events for one model. Hooks run synchronously
// inside the write transaction; a returned error rolls the write back.
type Hook interface {
	BeforeSave(ctx context.Context, e SaveEvent) error
	AfterSave(ctx context.Context, e SaveEvent) error
	AfterDelete(ctx context.Context, e DeleteEvent) error
	RelationChanged(ctx context.Context, e RelationEvent) error
}

// HookFuncs adapts ordinary functions to Hook. Nil members are skipped.
type HookFuncs struct {
	OnBeforeSave func(ctx context.Context, e SaveEvent) error
	OnSave       func(ctx context.Context, e SaveEvent) error
	OnDelete     func(ctx context.Context, e DeleteEvent) error
	OnRelation   func(ctx context.Context, e RelationEvent) error
}

func (h HookFuncs) BeforeSave(ctx context.Context, e SaveEvent) error {
	if h.OnBeforeSave == nil {
		return nil
	}
	return h.OnBeforeSave(ctx, e)
}

func (h HookFuncs) AfterSave(ctx context.Context, e SaveEvent) error {
	if h.OnSave == nil {
		return nil
	}
	return h.OnSave(ctx, e)
}

func (h HookFuncs) AfterDelete(ctx context.Context, e DeleteEvent) error {
	if h.OnDelete == nil {
		return nil
	}
	return h.OnDelete(ctx, e)
}

func (h HookFuncs) RelationChanged(ctx context.Context, e RelationEvent) error {
	if h.OnRelation == nil {
		return nil
	}
	return h.OnRelation(ctx, e)
}

// Subscribe registers h for events of model. Relation events are delivered
// to the junction model's subscribers.
func (d *DB) Subscribe(model string, h Hook) {
	d.hooksMu.Lock()
	defer d.hooksMu.Unlock()
	d.hooks[model] = append(d.hooks[model], h)
}

func (d *DB) hooksFor(model string) []Hook {
	d.hooksMu.RLock()
	defer d.hooksMu.RUnlock()
	return append([]Hook(nil), d.hooks[model]...)
}

func (d *DB) fireBeforeSave(ctx context.Context, e SaveEvent) error {
	for _, h := range d.hooksFor(e.Instance.Model) {
		if err := h.BeforeSave(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (d *DB) fireSave(ctx context.Context, e SaveEvent) error {
	for _, h := range d.hooksFor(e.Instance.Model) {
		if err := h.AfterSave(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (d *DB) fireDelete(ctx context.Context, e DeleteEvent) error {
	for _, h := range d.hooksFor(e.Instance.Model) {
		if err := h.AfterDelete(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (d *DB) fireRelation(ctx context.Context, e RelationEvent) error {
	for _, h := range d.hooksFor(e.Relation.Through.Name) {
		if err := h.RelationChanged(ctx, e); err != nil {
			return err
		}
	}
	return nil
}
