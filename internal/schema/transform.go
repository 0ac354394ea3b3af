// Package schema derives historical model definitions from tracked ones and
// renders them as SQLite DDL.
package schema

import "github.com/arkilian/chronicle/pkg/types"

// TransformOptions controls how tracked fields are copied into a historical model.
type TransformOptions struct {
	// StringKeys copies auto keys as text instead of integers.
	StringKeys bool
}

// TransformField returns the historical copy of a tracked field.
// Historical copies never enforce uniqueness, never generate values
// and never constrain the database: history must survive the tracked row.
func TransformField(f types.FieldDef, opts TransformOptions) types.FieldDef {
	out := f
	out.Choices = append([]types.Choice(nil), f.Choices...)
	// Pin the column so dropping relation semantics cannot change it.
	out.Column = f.Attname()

	switch f.Kind {
	case types.KindAuto:
		if opts.StringKeys {
			out.Kind = types.KindText
		} else {
			out.Kind = types.KindInteger
		}
	case types.KindOrderWrt:
		out.Kind = types.KindInteger
	case types.KindFile:
		out.Kind = types.KindText
	case types.KindForeignKey, types.KindOneToOne:
		out.Kind = types.KindForeignKey
		out.Nullable = true
		out.NoDBConstraint = true
		out.OnDelete = types.OnDeleteDoNothing
		out.RelatedName = types.SuppressReverse
	}

	if f.PrimaryKey || f.Unique {
		out.Index = true
	}
	out.PrimaryKey = false
	out.Unique = false
	out.AutoNow = false
	out.AutoNowAdd = false
	return out
}
