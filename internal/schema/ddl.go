package schema

import (
	"fmt"
	"strings"

	"github.com/arkilian/chronicle/pkg/types"
)

// KeyTarget describes the column a foreign key points at.
type KeyTarget struct {
	Table  string
	Column string
	Kind   types.FieldKind
}

// KeyResolver resolves the target of a foreign key to model.
type KeyResolver func(model, toField string) (KeyTarget, bool)

// SQLiteType returns the column affinity used to store kind.
func SQLiteType(kind types.FieldKind) string {
	switch kind {
	case types.KindReal:
		return "REAL"
	case types.KindText, types.KindFile:
		return "TEXT"
	default:
		// integers, booleans, unix-nano times and integer keys
		return "INTEGER"
	}
}

// CreateTableSQL returns the statements creating def's table and indexes.
// Foreign key columns take the affinity of their target when resolve knows it.
func CreateTableSQL(def *types.ModelDef, resolve KeyResolver) []string {
	table := def.TableName()
	var cols []string
	var indexes []string

	for _, f := range def.Fields {
		col := f.Attname()
		kind := f.Kind
		var ref *KeyTarget
		if kind.IsRelation() && resolve != nil {
			if target, ok := resolve(f.Related, f.ToField); ok {
				kind = target.Kind
				ref = &target
			}
		}

		var b strings.Builder
		b.WriteString(QuoteIdent(col))
		b.WriteString(" ")
		switch {
		case f.Kind == types.KindAuto && f.PrimaryKey:
			b.WriteString("INTEGER PRIMARY KEY AUTOINCREMENT")
		default:
			if kind == types.KindAuto {
				kind = types.KindInteger
			}
			b.WriteString(SQLiteType(kind))
			if f.PrimaryKey {
				b.WriteString(" PRIMARY KEY")
			}
			if !f.PrimaryKey && !f.Nullable {
				b.WriteString(" NOT NULL")
			}
			if f.Unique && !f.PrimaryKey {
				b.WriteString(" UNIQUE")
			}
			if ref != nil && !f.NoDBConstraint {
				fmt.Fprintf(&b, " REFERENCES %s(%s)", QuoteIdent(ref.Table), QuoteIdent(ref.Column))
				if action := f.OnDelete.SQL(); action != "" {
					b.WriteString(" ON DELETE " + action)
				}
			}
		}
		cols = append(cols, b.String())

		needsIndex := f.Index || (f.Kind.IsRelation() && !f.Unique)
		if needsIndex && !f.PrimaryKey {
			indexes = append(indexes, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s(%s)",
				QuoteIdent("idx_"+table+"_"+col), QuoteIdent(table), QuoteIdent(col)))
		}
	}

	stmts := []string{fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n    %s\n)",
		QuoteIdent(table), strings.Join(cols, ",\n    "))}
	return append(stmts, indexes...)
}

// QuoteIdent quotes an identifier for SQLite.
func QuoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
