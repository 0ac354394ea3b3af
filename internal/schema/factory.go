package schema

import (
	"fmt"
	"strings"

	chronerrors "github.com/arkilian/chronicle/internal/errors"
	"github.com/arkilian/chronicle/pkg/types"
)

// Bookkeeping fields present on every historical model.
const (
	HistoryIDField   = "history_id"
	HistoryDateField = "history_date"
	HistoryUserField = "history_user"
	HistoryTypeField = "history_type"

	HistoryUserColumn = "history_user_id"

	// DefaultUserModel is the model history_user points at.
	DefaultUserModel = "User"
)

// HistoricalLookup resolves the historical model of a tracked model, if one exists.
type HistoricalLookup interface {
	Historical(model string) (*HistoricalModel, bool)
}

// Participant links a junction foreign key to the participant's historical model.
type Participant struct {
	// Field is the foreign key field on the tracked junction.
	Field string
	// Column is the foreign key column on the tracked junction and its copy.
	Column string
	// Model is the participant tracked model.
	Model string
	// TargetColumn is the participant column the foreign key refers to.
	TargetColumn string
	// HistoryField is "history_<field>", the reference to the participant's snapshot.
	HistoryField string
	// HistoryColumn is "history_<field>_id".
	HistoryColumn string
}

// HistoricalModel is the derived snapshot type of a tracked model.
type HistoricalModel struct {
	// Def is the persisted schema of the historical table.
	Def *types.ModelDef
	// Tracked is the model this history belongs to. It is not persisted.
	Tracked *types.ModelDef
	// IsM2M marks junction histories, which get participant references and dedup.
	IsM2M bool
	// Copied lists the tracked columns copied into every snapshot, in field order.
	Copied []string
	// Participants is empty unless IsM2M.
	Participants []Participant
	// ManagerName is the accessor name history queries are exposed under.
	ManagerName string
}

// Name returns the historical model name.
func (h *HistoricalModel) Name() string { return h.Def.Name }

// PKColumn returns the column holding the tracked primary key copy.
func (h *HistoricalModel) PKColumn() string { return h.Tracked.PKColumn() }

// Participant returns the participant entry for a junction foreign key field.
func (h *HistoricalModel) Participant(field string) (Participant, bool) {
	for _, p := range h.Participants {
		if p.Field == field {
			return p, true
		}
	}
	return Participant{}, false
}

// FactoryOptions configures CreateHistoryModel.
type FactoryOptions struct {
	IsM2M bool
	// App overrides the app used for the historical table prefix.
	App string
	// TableName overrides "<app>_historical<lower name>".
	TableName string
	// VerboseName overrides "historical <verbose name>".
	VerboseName string
	// UserModel is the target of history_user. Defaults to DefaultUserModel.
	UserModel string
	// UserRelatedName is the reverse accessor of history_user. Defaults to "+".
	UserRelatedName string
	StringKeys      bool
}

// CreateHistoryModel derives the historical model of tracked.
// For junctions, lookup supplies the participants' historical models.
func CreateHistoryModel(tracked *types.ModelDef, lookup HistoricalLookup, opts FactoryOptions) (*HistoricalModel, error) {
	if _, ok := tracked.PrimaryKey(); !ok && !tracked.Unmanaged {
		return nil, chronerrors.NewConfigurationError(chronerrors.CodeInvalidModel,
			fmt.Sprintf("%s has no primary key", tracked.Label())).
			WithDetails(map[string]interface{}{"model": tracked.Label()})
	}

	app := tracked.App
	if opts.App != "" {
		app = opts.App
	}
	name := "Historical" + tracked.Name

	def := &types.ModelDef{
		Name:        name,
		App:         app,
		Table:       opts.TableName,
		Ordering:    []string{"-" + HistoryDateField, "-" + HistoryIDField},
		GetLatestBy: HistoryDateField,
	}
	if def.Table == "" {
		def.Table = historicalTableName(app, tracked.Name)
	}
	def.VerboseName = opts.VerboseName
	if def.VerboseName == "" {
		def.VerboseName = "historical " + tracked.Verbose()
	}

	hist := &HistoricalModel{
		Def:     def,
		Tracked: tracked,
		IsM2M:   opts.IsM2M,
	}

	reserved := map[string]bool{
		HistoryIDField: true, HistoryDateField: true, HistoryUserField: true,
		HistoryTypeField: true, HistoryUserColumn: true,
	}

	def.Fields = append(def.Fields, types.FieldDef{
		Name:       HistoryIDField,
		Kind:       types.KindAuto,
		PrimaryKey: true,
	})
	for _, f := range tracked.Fields {
		copied := TransformField(f, TransformOptions{StringKeys: opts.StringKeys})
		if reserved[copied.Name] || reserved[copied.Column] {
			return nil, chronerrors.NewConfigurationError(chronerrors.CodeInvalidModel,
				fmt.Sprintf("%s field %q collides with a history field", tracked.Label(), f.Name))
		}
		def.Fields = append(def.Fields, copied)
		hist.Copied = append(hist.Copied, copied.Column)
	}

	if opts.IsM2M {
		for _, f := range tracked.Relations() {
			target, ok := lookup.Historical(f.Related)
			if !ok {
				continue
			}
			p := Participant{
				Field:         f.Name,
				Column:        f.Attname(),
				Model:         f.Related,
				TargetColumn:  f.ToField,
				HistoryField:  "history_" + f.Name,
				HistoryColumn: "history_" + f.Name + "_id",
			}
			if p.TargetColumn == "" {
				p.TargetColumn = target.PKColumn()
			}
			if reserved[p.HistoryField] {
				return nil, chronerrors.NewConfigurationError(chronerrors.CodeInvalidModel,
					fmt.Sprintf("%s field %q collides with a history field", tracked.Label(), f.Name))
			}
			reserved[p.HistoryField] = true
			def.Fields = append(def.Fields, types.FieldDef{
				Name:           p.HistoryField,
				Column:         p.HistoryColumn,
				Kind:           types.KindForeignKey,
				Related:        target.Name(),
				ToField:        HistoryIDField,
				Nullable:       true,
				Index:          true,
				NoDBConstraint: true,
				OnDelete:       types.OnDeleteDoNothing,
				RelatedName:    types.SuppressReverse,
			})
			hist.Participants = append(hist.Participants, p)
		}
	}

	userModel := opts.UserModel
	if userModel == "" {
		userModel = DefaultUserModel
	}
	userRelated := opts.UserRelatedName
	if userRelated == "" {
		userRelated = types.SuppressReverse
	}
	def.Fields = append(def.Fields,
		types.FieldDef{
			Name:  HistoryDateField,
			Kind:  types.KindTime,
			Index: true,
		},
		types.FieldDef{
			Name:           HistoryUserField,
			Column:         HistoryUserColumn,
			Kind:           types.KindForeignKey,
			Related:        userModel,
			Nullable:       true,
			NoDBConstraint: true,
			OnDelete:       types.OnDeleteSetNull,
			RelatedName:    userRelated,
		},
		types.FieldDef{
			Name:      HistoryTypeField,
			Kind:      types.KindText,
			MaxLength: 1,
			Choices:   types.ChangeKindChoices(),
		},
	)

	return hist, nil
}

func historicalTableName(app, model string) string {
	if app == "" {
		return "historical" + strings.ToLower(model)
	}
	return strings.ToLower(app) + "_historical" + strings.ToLower(model)
}
