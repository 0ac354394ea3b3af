package history

import (
	"context"

	"github.com/arkilian/chronicle/internal/observability"
	"github.com/arkilian/chronicle/internal/schema"
	"github.com/arkilian/chronicle/internal/store"
	"github.com/arkilian/chronicle/pkg/types"
)

func (t *Tracker) onSave(ctx context.Context, hist *schema.HistoricalModel, e store.SaveEvent) error {
	if e.Raw || e.Instance.SkipHistory {
		t.stats.Record(hist.Tracked.Name, observability.EventSkipped)
		return nil
	}
	kind := types.Changed
	if e.Created {
		kind = types.Created
	}
	return t.createHistoricalRecord(ctx, e.Tx, hist, e.Instance, kind)
}

// createHistoricalRecord writes one snapshot of inst. Junction snapshots
// reference the latest snapshot of each participant and are skipped when an
// identical reference pair already exists.
func (t *Tracker) createHistoricalRecord(ctx context.Context, q store.Querier, hist *schema.HistoricalModel, inst *types.Instance, kind types.ChangeKind) error {
	_, err := t.snapshot(ctx, q, hist, inst, kind)
	return err
}

// snapshot is createHistoricalRecord reporting whether a row was written.
func (t *Tracker) snapshot(ctx context.Context, q store.Querier, hist *schema.HistoricalModel, inst *types.Instance, kind types.ChangeKind) (bool, error) {
	if hist.IsM2M {
		if err := t.ensureParticipantHistory(ctx, q, hist, inst); err != nil {
			return false, err
		}
	}

	date := inst.HistoryDate
	if date.IsZero() {
		date = t.opts.Clock()
	}
	attrs := types.Record{
		schema.HistoryDateField:  date,
		schema.HistoryUserColumn: t.historyUser(ctx, inst),
		schema.HistoryTypeField:  string(kind),
	}
	for _, col := range hist.Copied {
		attrs[col] = inst.Values[col]
	}

	if hist.IsM2M {
		var dedup []store.Predicate
		for _, p := range hist.Participants {
			ref, err := t.participantRef(ctx, q, p, inst.Values[p.Column])
			if err != nil {
				return false, err
			}
			attrs[p.HistoryColumn] = ref
			dedup = append(dedup, store.Eq(p.HistoryColumn, ref))
		}
		exists, err := q.Exists(ctx, hist.Def, dedup...)
		if err != nil {
			return false, err
		}
		if exists {
			t.stats.Record(hist.Tracked.Name, observability.EventDeduplicated)
			return false, nil
		}
	}

	if _, err := q.Insert(ctx, hist.Def, attrs); err != nil {
		return false, err
	}
	if kind == types.Created {
		t.stats.Record(hist.Tracked.Name, observability.EventCreated)
	} else {
		t.stats.Record(hist.Tracked.Name, observability.EventChanged)
	}

	if hist.IsM2M {
		return true, nil
	}
	return true, t.syncFakeJunctions(ctx, q, hist, inst)
}

// ensureParticipantHistory gives every participant of a junction row at
// least one snapshot before the junction snapshot references it.
func (t *Tracker) ensureParticipantHistory(ctx context.Context, q store.Querier, hist *schema.HistoricalModel, inst *types.Instance) error {
	for _, p := range hist.Participants {
		v := inst.Values[p.Column]
		if v == nil {
			continue
		}
		phist, ok := t.reg.Historical(p.Model)
		if !ok {
			continue
		}
		exists, err := q.Exists(ctx, phist.Def, store.Eq(p.TargetColumn, v))
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		rec, found, err := q.First(ctx, phist.Tracked, store.Query{
			Where:   []store.Predicate{store.Eq(p.TargetColumn, v)},
			OrderBy: store.Unordered,
		})
		if err != nil {
			return err
		}
		if !found {
			continue
		}
		if err := t.createHistoricalRecord(ctx, q, phist, &types.Instance{Model: p.Model, Values: rec}, types.Created); err != nil {
			return err
		}
	}
	return nil
}

// participantRef returns the history id of the latest snapshot of the
// participant identified by value, or nil.
func (t *Tracker) participantRef(ctx context.Context, q store.Querier, p schema.Participant, value interface{}) (interface{}, error) {
	if value == nil {
		return nil, nil
	}
	phist, ok := t.reg.Historical(p.Model)
	if !ok {
		return nil, nil
	}
	rec, found, err := latest(ctx, q, phist, p.TargetColumn, value)
	if err != nil || !found {
		return nil, err
	}
	return rec[schema.HistoryIDField], nil
}

// syncFakeJunctions links the new latest snapshot of inst to the latest
// snapshots of the records it is related to through fake junctions,
// replacing the link of the previous snapshot.
func (t *Tracker) syncFakeJunctions(ctx context.Context, q store.Querier, hist *schema.HistoricalModel, inst *types.Instance) error {
	model := hist.Tracked.Name
	pk := inst.Values[hist.PKColumn()]

	for _, fj := range t.reg.FakesFrom(model) {
		fk, _ := hist.Tracked.Field(fj.FromField)
		value := inst.Values[fk.Attname()]
		if value == nil {
			continue
		}
		toHist, ok := t.reg.Historical(fj.To)
		if !ok {
			continue
		}
		toLatest, found, err := latest(ctx, q, toHist, fj.ToSide.TargetColumn, value)
		if err != nil {
			return err
		}
		if !found {
			continue
		}
		fromRows, err := recent(ctx, q, hist, hist.PKColumn(), pk)
		if err != nil {
			return err
		}
		if len(fromRows) == 0 {
			continue
		}
		if len(fromRows) > 1 {
			if err := t.unlink(ctx, q, fj, fromRows[1], toLatest); err != nil {
				return err
			}
		}
		if err := t.link(ctx, q, fj, inst, fromRows[0], toLatest); err != nil {
			return err
		}
	}

	for _, fj := range t.reg.FakesTo(model) {
		fromDef, ok := t.catalog.Model(fj.From)
		if !ok {
			continue
		}
		fromHist, ok := t.reg.Historical(fj.From)
		if !ok {
			continue
		}
		fk, _ := fromDef.Field(fj.FromField)
		related, err := q.Find(ctx, fromDef, store.Query{
			Where:   []store.Predicate{store.Eq(fk.Attname(), inst.Values[fj.ToSide.TargetColumn])},
			OrderBy: []string{fromDef.PKColumn()},
		})
		if err != nil {
			return err
		}
		if len(related) == 0 {
			continue
		}
		toRows, err := recent(ctx, q, hist, hist.PKColumn(), pk)
		if err != nil {
			return err
		}
		if len(toRows) == 0 {
			continue
		}
		for _, row := range related {
			fromLatest, found, err := latest(ctx, q, fromHist, fromHist.PKColumn(), row[fromDef.PKColumn()])
			if err != nil {
				return err
			}
			if !found {
				continue
			}
			if len(toRows) > 1 {
				if err := t.unlink(ctx, q, fj, fromLatest, toRows[1]); err != nil {
					return err
				}
			}
			from := &types.Instance{Model: fj.From, Values: row, HistoryUser: inst.HistoryUser, HistoryDate: inst.HistoryDate}
			if err := t.link(ctx, q, fj, from, fromLatest, toRows[0]); err != nil {
				return err
			}
		}
	}
	return nil
}

// link inserts the fake junction snapshot joining two snapshots unless it
// already exists. from is the live record holding the foreign key.
func (t *Tracker) link(ctx context.Context, q store.Querier, fj *schema.FakeJunction, from *types.Instance, fromSnap, toSnap types.Record) error {
	jh := fj.Historical
	fromRef := fromSnap[schema.HistoryIDField]
	toRef := toSnap[schema.HistoryIDField]
	exists, err := q.Exists(ctx, jh.Def, store.Eq(fj.FromSide.HistoryColumn, fromRef), store.Eq(fj.ToSide.HistoryColumn, toRef))
	if err != nil || exists {
		return err
	}

	date := from.HistoryDate
	if date.IsZero() {
		date = t.opts.Clock()
	}
	_, err = q.Insert(ctx, jh.Def, types.Record{
		fj.FromSide.Column:        fromSnap[fj.FromSide.TargetColumn],
		fj.ToSide.Column:          toSnap[fj.ToSide.TargetColumn],
		fj.FromSide.HistoryColumn: fromRef,
		fj.ToSide.HistoryColumn:   toRef,
		schema.HistoryDateField:   date,
		schema.HistoryUserColumn:  t.historyUser(ctx, from),
		schema.HistoryTypeField:   string(types.Created),
	})
	if err != nil {
		return err
	}
	t.stats.Record(jh.Tracked.Name, observability.EventLinked)
	return nil
}

func (t *Tracker) unlink(ctx context.Context, q store.Querier, fj *schema.FakeJunction, fromSnap, toSnap types.Record) error {
	n, err := q.DeleteWhere(ctx, fj.Historical.Def,
		store.Eq(fj.FromSide.HistoryColumn, fromSnap[schema.HistoryIDField]),
		store.Eq(fj.ToSide.HistoryColumn, toSnap[schema.HistoryIDField]))
	if err != nil {
		return err
	}
	t.stats.RecordN(fj.Historical.Tracked.Name, observability.EventRemoved, n)
	return nil
}

// latest returns the most recent snapshot whose column equals value.
func latest(ctx context.Context, q store.Querier, hist *schema.HistoricalModel, column string, value interface{}) (types.Record, bool, error) {
	return q.First(ctx, hist.Def, store.Query{Where: []store.Predicate{store.Eq(column, value)}})
}

// recent returns up to the two most recent snapshots whose column equals value.
func recent(ctx context.Context, q store.Querier, hist *schema.HistoricalModel, column string, value interface{}) ([]types.Record, error) {
	return q.Find(ctx, hist.Def, store.Query{Where: []store.Predicate{store.Eq(column, value)}, Limit: 2})
}
