package history

import (
	"context"
	"log"

	"github.com/arkilian/chronicle/internal/observability"
	"github.com/arkilian/chronicle/internal/schema"
	"github.com/arkilian/chronicle/internal/store"
	"github.com/arkilian/chronicle/pkg/types"
)

// BackfillResult counts the snapshots written by InitHistoricalRecords.
type BackfillResult struct {
	Models  int
	Scanned int
	Created int
}

// InitHistoricalRecords writes a created snapshot for every live row that no
// snapshot matches yet. Plain models run first, then junctions. Running it
// again writes nothing new.
func (t *Tracker) InitHistoricalRecords(ctx context.Context) (BackfillResult, error) {
	var res BackfillResult
	var plain, junctions []*schema.HistoricalModel
	for _, hist := range t.reg.Tracked() {
		if hist.Tracked.Unmanaged {
			continue
		}
		if hist.IsM2M {
			junctions = append(junctions, hist)
		} else {
			plain = append(plain, hist)
		}
	}

	for _, hist := range append(plain, junctions...) {
		scanned, created, err := t.backfill(ctx, hist)
		if err != nil {
			return res, err
		}
		res.Models++
		res.Scanned += scanned
		res.Created += created
		if created > 0 {
			log.Printf("history: backfilled %d of %d %s rows", created, scanned, hist.Tracked.Label())
		}
	}
	log.Printf("history: backfill scanned %d rows of %d models, created %d snapshots",
		res.Scanned, res.Models, res.Created)
	return res, nil
}

func (t *Tracker) backfill(ctx context.Context, hist *schema.HistoricalModel) (scanned, created int, err error) {
	err = t.db.WithTx(ctx, func(q store.Querier) error {
		rows, err := q.Find(ctx, hist.Tracked, store.Query{OrderBy: []string{hist.PKColumn()}})
		if err != nil {
			return err
		}
		for _, row := range rows {
			scanned++
			preds := make([]store.Predicate, 0, len(hist.Copied))
			for _, col := range hist.Copied {
				preds = append(preds, store.Eq(col, row[col]))
			}
			exists, err := q.Exists(ctx, hist.Def, preds...)
			if err != nil {
				return err
			}
			if exists {
				continue
			}
			inst := &types.Instance{Model: hist.Tracked.Name, Values: row}
			wrote, err := t.snapshot(ctx, q, hist, inst, types.Created)
			if err != nil {
				return err
			}
			if wrote {
				created++
			}
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	t.stats.RecordN(hist.Tracked.Name, observability.EventBackfilled, int64(created))
	return scanned, created, nil
}
