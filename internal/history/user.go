package history

import (
	"context"
	"log"

	"github.com/arkilian/chronicle/pkg/types"
)

// historyUser resolves the acting user of a write: the instance override,
// then the authenticated actor of the request. Failures resolve to nil.
func (t *Tracker) historyUser(ctx context.Context, inst *types.Instance) (user *int64) {
	if inst.HistoryUser != nil {
		id := *inst.HistoryUser
		return &id
	}

	defer func() {
		if r := recover(); r != nil {
			log.Printf("[WARN] history: actor lookup for %s panicked: %v", inst.Model, r)
			user = nil
		}
	}()
	a, err := t.opts.Actors.CurrentActor(ctx)
	if err != nil || !a.Authenticated {
		return nil
	}
	return &a.ID
}
