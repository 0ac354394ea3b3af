package history

import (
	"context"

	"github.com/arkilian/chronicle/internal/observability"
	"github.com/arkilian/chronicle/internal/schema"
	"github.com/arkilian/chronicle/internal/store"
	"github.com/arkilian/chronicle/pkg/types"
)

// onDelete removes the junction history that depended on the deleted row.
// No snapshot is written for the delete itself.
func (t *Tracker) onDelete(ctx context.Context, hist *schema.HistoricalModel, e store.DeleteEvent) error {
	if hist.IsM2M {
		return t.removeJunctionHistory(ctx, e.Tx, hist, e.Instance.Values)
	}
	return t.removeRecordHistory(ctx, e.Tx, hist, e.Instance.Values)
}

// removeJunctionHistory deletes the snapshots of a junction row that
// reference the current latest snapshots of its participants.
func (t *Tracker) removeJunctionHistory(ctx context.Context, q store.Querier, hist *schema.HistoricalModel, row types.Record) error {
	var preds []store.Predicate
	for _, f := range hist.Tracked.Relations() {
		p, ok := hist.Participant(f.Name)
		if !ok {
			return nil
		}
		ref, err := t.participantRef(ctx, q, p, row[p.Column])
		if err != nil {
			return err
		}
		if ref != nil {
			preds = append(preds, store.Eq(p.HistoryColumn, ref))
		}
	}
	if len(preds) == 0 {
		return nil
	}
	n, err := q.DeleteWhere(ctx, hist.Def, preds...)
	if err != nil {
		return err
	}
	t.stats.RecordN(hist.Tracked.Name, observability.EventRemoved, n)
	return nil
}

// removeRecordHistory deletes fake junction snapshots that join the deleted
// record's latest snapshot to a still-latest snapshot of the other side, and
// native junction snapshots that reference any snapshot of the record.
func (t *Tracker) removeRecordHistory(ctx context.Context, q store.Querier, hist *schema.HistoricalModel, row types.Record) error {
	model := hist.Tracked.Name
	pk := row[hist.PKColumn()]
	last, found, err := latest(ctx, q, hist, hist.PKColumn(), pk)
	if err != nil || !found {
		return err
	}
	lastID := last[schema.HistoryIDField]

	for _, fj := range t.reg.FakesFrom(model) {
		if err := t.removeFakeLinks(ctx, q, fj, fj.FromSide, fj.ToSide, lastID); err != nil {
			return err
		}
	}
	for _, fj := range t.reg.FakesTo(model) {
		if err := t.removeFakeLinks(ctx, q, fj, fj.ToSide, fj.FromSide, lastID); err != nil {
			return err
		}
	}

	chain, err := q.Find(ctx, hist.Def, store.Query{
		Where:   []store.Predicate{store.Eq(hist.PKColumn(), pk)},
		OrderBy: store.Unordered,
	})
	if err != nil {
		return err
	}
	ids := make([]interface{}, 0, len(chain))
	for _, snap := range chain {
		ids = append(ids, snap[schema.HistoryIDField])
	}

	for _, rel := range t.catalog.ManyToMany(model) {
		jh, ok := t.reg.Historical(rel.Through.Name)
		if !ok || !jh.IsM2M {
			continue
		}
		for _, p := range jh.Participants {
			if p.Model != model {
				continue
			}
			n, err := q.DeleteWhere(ctx, jh.Def, store.In(p.HistoryColumn, ids...))
			if err != nil {
				return err
			}
			t.stats.RecordN(jh.Tracked.Name, observability.EventRemoved, n)
		}
	}
	return nil
}

// removeFakeLinks deletes the links of snapshot ref on side own whose other
// side still points at the other record's latest snapshot.
func (t *Tracker) removeFakeLinks(ctx context.Context, q store.Querier, fj *schema.FakeJunction, own, other schema.Participant, ref interface{}) error {
	jh := fj.Historical
	links, err := q.Find(ctx, jh.Def, store.Query{
		Where:   []store.Predicate{store.Eq(own.HistoryColumn, ref)},
		OrderBy: store.Unordered,
	})
	if err != nil {
		return err
	}
	otherHist, ok := t.reg.Historical(other.Model)
	if !ok {
		return nil
	}

	for _, l := range links {
		snap, found, err := q.First(ctx, otherHist.Def, store.Query{
			Where:   []store.Predicate{store.Eq(schema.HistoryIDField, l[other.HistoryColumn])},
			OrderBy: store.Unordered,
		})
		if err != nil {
			return err
		}
		if !found {
			continue
		}
		newest, found, err := latest(ctx, q, otherHist, other.TargetColumn, snap[other.TargetColumn])
		if err != nil {
			return err
		}
		if !found || !sameKey(newest[schema.HistoryIDField], snap[schema.HistoryIDField]) {
			continue
		}
		n, err := q.DeleteWhere(ctx, jh.Def, store.Eq(schema.HistoryIDField, l[schema.HistoryIDField]))
		if err != nil {
			return err
		}
		t.stats.RecordN(jh.Tracked.Name, observability.EventRemoved, n)
	}
	return nil
}

// onRelation captures many-to-many changes made through an automatic junction.
func (t *Tracker) onRelation(ctx context.Context, hist *schema.HistoricalModel, e store.RelationEvent) error {
	switch e.Action {
	case store.ActionPostAdd, store.ActionPreRemove, store.ActionPreClear:
	default:
		return nil
	}
	if e.Action == store.ActionPostAdd && e.Instance.SkipHistory {
		return nil
	}

	def, ok := t.catalog.Model(e.Instance.Model)
	if !ok {
		return nil
	}
	where := []store.Predicate{store.Eq(e.InstanceColumn(), e.Instance.Values[def.PKColumn()])}
	if len(e.PKs) > 0 {
		where = append(where, store.In(e.OtherColumn(), e.PKs...))
	}
	items, err := e.Tx.Find(ctx, hist.Tracked, store.Query{Where: where, OrderBy: []string{hist.PKColumn()}})
	if err != nil {
		return err
	}

	for _, item := range items {
		if e.Action == store.ActionPostAdd {
			inst := &types.Instance{
				Model:       hist.Tracked.Name,
				Values:      item,
				HistoryUser: e.Instance.HistoryUser,
				HistoryDate: e.Instance.HistoryDate,
			}
			if err := t.createHistoricalRecord(ctx, e.Tx, hist, inst, types.Created); err != nil {
				return err
			}
			continue
		}
		if err := t.removeJunctionHistory(ctx, e.Tx, hist, item); err != nil {
			return err
		}
	}
	return nil
}

// sameKey compares two stored keys.
func sameKey(a, b interface{}) bool {
	return store.KeyOf(a) == store.KeyOf(b)
}
