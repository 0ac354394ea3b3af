package schema

import (
	"fmt"
	"strings"

	chronerrors "github.com/arkilian/chronicle/internal/errors"
	"github.com/arkilian/chronicle/pkg/types"
)

// FakeJunction is the historical junction synthesized for a one-to-many
// relation between two tracked models. The junction itself has no table;
// only its history is persisted.
type FakeJunction struct {
	// From holds the foreign key FromField.
	From      string
	FromField string
	// To is the referenced model; ToField is its reverse accessor.
	To      string
	ToField string

	// Junction is the unmanaged junction definition.
	Junction   *types.ModelDef
	Historical *HistoricalModel

	// FromSide and ToSide are the participant references of the two models.
	FromSide Participant
	ToSide   Participant
}

// SynthesizeFakeJunction builds the junction for fk on from pointing at to.
// Both models must already have historical models in lookup.
func SynthesizeFakeJunction(from *types.ModelDef, fk types.FieldDef, to *types.ModelDef, lookup HistoricalLookup, opts FactoryOptions) (*FakeJunction, error) {
	if !fk.Kind.IsRelation() || fk.Related != to.Name {
		return nil, invalidRelation(from, fk.Name, fmt.Sprintf("does not reference %s", to.Name))
	}
	fromHist, ok := lookup.Historical(from.Name)
	if !ok {
		return nil, chronerrors.NewNotRegisteredError(from.Name)
	}
	toHist, ok := lookup.Historical(to.Name)
	if !ok {
		return nil, chronerrors.NewNotRegisteredError(to.Name)
	}

	accessor := fk.RelatedName
	if accessor == "" {
		accessor = strings.ToLower(from.Name) + "_set"
	}

	srcName, tgtName := junctionFieldNames(from.Name, to.Name)
	junction := &types.ModelDef{
		Name:      from.Name + "_" + fk.Name,
		App:       from.App,
		Unmanaged: true,
		Fields: []types.FieldDef{
			{Name: srcName, Kind: types.KindForeignKey, Related: from.Name, Nullable: true,
				RelatedName: types.SuppressReverse},
			{Name: tgtName, Kind: types.KindForeignKey, Related: to.Name, Nullable: true,
				ToField: fk.ToField, RelatedName: types.SuppressReverse},
		},
	}

	opts.IsM2M = true
	opts.TableName = ""
	opts.VerboseName = ""
	opts.App = ""
	hist, err := CreateHistoryModel(junction, pairLookup{fromHist, toHist}, opts)
	if err != nil {
		return nil, err
	}

	f := &FakeJunction{
		From:       from.Name,
		FromField:  fk.Name,
		To:         to.Name,
		ToField:    accessor,
		Junction:   junction,
		Historical: hist,
	}
	f.FromSide, _ = hist.Participant(srcName)
	f.ToSide, _ = hist.Participant(tgtName)
	return f, nil
}

// pairLookup restricts participant resolution to the two sides of a fake junction.
type pairLookup [2]*HistoricalModel

func (p pairLookup) Historical(model string) (*HistoricalModel, bool) {
	for _, h := range p {
		if h.Tracked.Name == model {
			return h, true
		}
	}
	return nil, false
}
