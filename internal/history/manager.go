package history

import (
	"context"
	"fmt"
	"strings"
	"time"

	chronerrors "github.com/arkilian/chronicle/internal/errors"
	"github.com/arkilian/chronicle/internal/schema"
	"github.com/arkilian/chronicle/internal/store"
	"github.com/arkilian/chronicle/pkg/types"
)

// dateLayout formats history dates in String.
const dateLayout = "2006-01-02 15:04:05.999999-07:00"

// Manager queries the snapshots of one historical model.
type Manager struct {
	name      string
	hist      *schema.HistoricalModel
	db        *store.DB
	adminSite string
}

func newManager(name string, hist *schema.HistoricalModel, db *store.DB, adminSite string) *Manager {
	return &Manager{name: name, hist: hist, db: db, adminSite: adminSite}
}

// Name returns the accessor name the manager is registered under.
func (m *Manager) Name() string { return m.name }

// Model returns the historical model.
func (m *Manager) Model() *schema.HistoricalModel { return m.hist }

// All returns every snapshot, latest first.
func (m *Manager) All(ctx context.Context) ([]*HistoricalRecord, error) {
	return m.Filter(ctx)
}

// Filter returns the snapshots matching preds, latest first.
func (m *Manager) Filter(ctx context.Context, preds ...store.Predicate) ([]*HistoricalRecord, error) {
	rows, err := m.db.Find(ctx, m.hist.Def, store.Query{Where: preds})
	if err != nil {
		return nil, err
	}
	out := make([]*HistoricalRecord, len(rows))
	for i, row := range rows {
		out[i] = m.record(row)
	}
	return out, nil
}

// For returns the snapshots of the record with primary key pk, latest first.
func (m *Manager) For(ctx context.Context, pk interface{}) ([]*HistoricalRecord, error) {
	return m.Filter(ctx, store.Eq(m.hist.PKColumn(), pk))
}

// Count returns the number of snapshots of the record with primary key pk.
func (m *Manager) Count(ctx context.Context, pk interface{}) (int64, error) {
	return m.db.Count(ctx, m.hist.Def, store.Eq(m.hist.PKColumn(), pk))
}

// Latest returns the most recent snapshot of the record with primary key pk.
func (m *Manager) Latest(ctx context.Context, pk interface{}) (*HistoricalRecord, error) {
	return m.first(ctx, pk, store.Eq(m.hist.PKColumn(), pk))
}

// AsOf reconstructs the record with primary key pk as it was at time at.
func (m *Manager) AsOf(ctx context.Context, pk interface{}, at time.Time) (*types.Instance, error) {
	rec, err := m.first(ctx, pk,
		store.Eq(m.hist.PKColumn(), pk),
		store.Predicate{Column: schema.HistoryDateField, Operator: "<=", Value: at})
	if err != nil {
		return nil, err
	}
	return rec.Instance(), nil
}

// Get returns the snapshot with the given history id.
func (m *Manager) Get(ctx context.Context, historyID int64) (*HistoricalRecord, error) {
	rows, err := m.db.Find(ctx, m.hist.Def, store.Query{
		Where: []store.Predicate{store.Eq(schema.HistoryIDField, historyID)},
		Limit: 1,
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, chronerrors.NewStorageError(chronerrors.CodeNotFound,
			fmt.Sprintf("%s %d does not exist", m.hist.Name(), historyID), nil)
	}
	return m.record(rows[0]), nil
}

func (m *Manager) first(ctx context.Context, pk interface{}, preds ...store.Predicate) (*HistoricalRecord, error) {
	rows, err := m.db.Find(ctx, m.hist.Def, store.Query{Where: preds, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, chronerrors.NewStorageError(chronerrors.CodeNotFound,
			fmt.Sprintf("%s has no history for %v", m.hist.Tracked.Name, pk), nil).
			WithDetails(map[string]interface{}{"model": m.hist.Tracked.Name, "pk": pk})
	}
	return m.record(rows[0]), nil
}

func (m *Manager) record(row types.Record) *HistoricalRecord {
	r := &HistoricalRecord{hist: m.hist, adminSite: m.adminSite, Values: row}
	if id, ok := row[schema.HistoryIDField].(int64); ok {
		r.HistoryID = id
	}
	if d, ok := row[schema.HistoryDateField].(time.Time); ok {
		r.HistoryDate = d
	}
	if u, ok := row[schema.HistoryUserColumn].(int64); ok {
		r.HistoryUserID = &u
	}
	if s, ok := row[schema.HistoryTypeField].(string); ok {
		r.HistoryType = types.ChangeKind(s)
	}
	return r
}

// HistoricalRecord is one stored snapshot.
type HistoricalRecord struct {
	HistoryID     int64
	HistoryDate   time.Time
	HistoryUserID *int64
	HistoryType   types.ChangeKind
	// Values holds every column of the snapshot row.
	Values types.Record

	hist      *schema.HistoricalModel
	adminSite string
}

// Model returns the historical model the record belongs to.
func (r *HistoricalRecord) Model() *schema.HistoricalModel { return r.hist }

// PK returns the primary key of the tracked record.
func (r *HistoricalRecord) PK() interface{} {
	return r.Values[r.hist.PKColumn()]
}

// Participant returns the history id a junction snapshot references through field.
func (r *HistoricalRecord) Participant(field string) (interface{}, bool) {
	p, ok := r.hist.Participant(field)
	if !ok {
		return nil, false
	}
	return r.Values[p.HistoryColumn], true
}

// Instance rebuilds the tracked record from the copied columns. The tracked
// table is never read.
func (r *HistoricalRecord) Instance() *types.Instance {
	vals := make(types.Record, len(r.hist.Copied))
	for _, col := range r.hist.Copied {
		vals[col] = r.Values[col]
	}
	return &types.Instance{Model: r.hist.Tracked.Name, Values: vals}
}

// RevertURL returns the admin page that reverts the record to this snapshot.
func (r *HistoricalRecord) RevertURL() string {
	app := strings.ToLower(r.hist.Tracked.App)
	model := strings.ToLower(r.hist.Tracked.Name)
	return fmt.Sprintf("/%s/%s/%s/%v/history/%d/", r.adminSite, app, model, r.PK(), r.HistoryID)
}

func (r *HistoricalRecord) String() string {
	return fmt.Sprintf("%s object (%v) as of %s", r.hist.Tracked.Name, r.PK(), r.HistoryDate.Format(dateLayout))
}
