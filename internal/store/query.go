package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	chronerrors "github.com/arkilian/chronicle/internal/errors"
	"github.com/arkilian/chronicle/internal/schema"
	"github.com/arkilian/chronicle/pkg/types"
)

// Predicate is a single column condition.
type Predicate struct {
	Column   string
	Operator string // "=", "!=", "<", ">", "<=", ">=", "IN", "IS NULL"
	Value    interface{}
	Values   []interface{} // For IN
}

// Eq matches column = value, or column IS NULL when value is nil.
func Eq(column string, value interface{}) Predicate {
	if value == nil {
		return Predicate{Column: column, Operator: "IS NULL"}
	}
	return Predicate{Column: column, Operator: "=", Value: value}
}

// In matches column IN (values...).
func In(column string, values ...interface{}) Predicate {
	return Predicate{Column: column, Operator: "IN", Values: values}
}

// Query filters, orders and limits a select.
type Query struct {
	Where []Predicate
	// OrderBy lists columns; a leading "-" sorts descending. Nil falls back
	// to the model's Ordering.
	OrderBy []string
	Limit   int
}

// Unordered is an OrderBy that skips the model's default Ordering.
var Unordered = []string{}

// Querier reads and writes rows of any model. Inside hooks it is bound to the
// transaction of the triggering write.
type Querier interface {
	// Insert writes rec and returns it with the generated primary key set.
	Insert(ctx context.Context, def *types.ModelDef, rec types.Record) (types.Record, error)
	// Update rewrites the row identified by rec's primary key.
	Update(ctx context.Context, def *types.ModelDef, rec types.Record) error
	Find(ctx context.Context, def *types.ModelDef, q Query) ([]types.Record, error)
	// First returns the first row of q, or false when there is none.
	First(ctx context.Context, def *types.ModelDef, q Query) (types.Record, bool, error)
	Count(ctx context.Context, def *types.ModelDef, preds ...Predicate) (int64, error)
	Exists(ctx context.Context, def *types.ModelDef, preds ...Predicate) (bool, error)
	// DeleteWhere removes matching rows. An empty predicate list is rejected.
	DeleteWhere(ctx context.Context, def *types.ModelDef, preds ...Predicate) (int64, error)
	// Get loads a catalog model instance by primary key.
	Get(ctx context.Context, model string, pk interface{}) (*types.Instance, error)
	Catalog() *schema.Catalog
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type queries struct {
	ex      execer
	catalog *schema.Catalog
}

func (q *queries) Catalog() *schema.Catalog { return q.catalog }

func (q *queries) Insert(ctx context.Context, def *types.ModelDef, rec types.Record) (types.Record, error) {
	if def.Unmanaged {
		return nil, unmanagedError(def)
	}
	out := rec.Clone()
	pk, hasPK := def.PrimaryKey()

	var cols, marks []string
	var args []interface{}
	for _, f := range def.Fields {
		col := f.Attname()
		v, ok := out[col]
		if f.PrimaryKey && f.Kind == types.KindAuto && (!ok || v == nil) {
			continue
		}
		cols = append(cols, schema.QuoteIdent(col))
		marks = append(marks, "?")
		args = append(args, encodeValue(f, v))
	}

	var stmt string
	if len(cols) == 0 {
		stmt = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", schema.QuoteIdent(def.TableName()))
	} else {
		stmt = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", schema.QuoteIdent(def.TableName()),
			strings.Join(cols, ", "), strings.Join(marks, ", "))
	}

	res, err := q.ex.ExecContext(ctx, stmt, args...)
	if err != nil {
		return nil, chronerrors.NewStorageError(chronerrors.CodeWriteFailed,
			fmt.Sprintf("failed to insert into %s", def.TableName()), err)
	}
	if hasPK && pk.Kind == types.KindAuto && out[pk.Attname()] == nil {
		id, err := res.LastInsertId()
		if err != nil {
			return nil, chronerrors.NewStorageError(chronerrors.CodeWriteFailed,
				fmt.Sprintf("failed to read generated key of %s", def.TableName()), err)
		}
		out[pk.Attname()] = id
	}
	return Normalize(def, out), nil
}

func (q *queries) Update(ctx context.Context, def *types.ModelDef, rec types.Record) error {
	if def.Unmanaged {
		return unmanagedError(def)
	}
	pk, ok := def.PrimaryKey()
	if !ok {
		return chronerrors.NewStorageError(chronerrors.CodeWriteFailed,
			fmt.Sprintf("%s has no primary key", def.Name), types.ErrNoPrimaryKey)
	}

	var sets []string
	var args []interface{}
	for _, f := range def.Fields {
		if f.PrimaryKey {
			continue
		}
		v, ok := rec[f.Attname()]
		if !ok {
			continue
		}
		sets = append(sets, schema.QuoteIdent(f.Attname())+" = ?")
		args = append(args, encodeValue(f, v))
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, encodeValue(pk, rec[pk.Attname()]))

	stmt := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?", schema.QuoteIdent(def.TableName()),
		strings.Join(sets, ", "), schema.QuoteIdent(pk.Attname()))
	if _, err := q.ex.ExecContext(ctx, stmt, args...); err != nil {
		return chronerrors.NewStorageError(chronerrors.CodeWriteFailed,
			fmt.Sprintf("failed to update %s", def.TableName()), err)
	}
	return nil
}

func (q *queries) Find(ctx context.Context, def *types.ModelDef, query Query) ([]types.Record, error) {
	if def.Unmanaged {
		return nil, unmanagedError(def)
	}
	cols := def.Columns()
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = schema.QuoteIdent(c)
	}

	stmt := fmt.Sprintf("SELECT %s FROM %s", strings.Join(quoted, ", "), schema.QuoteIdent(def.TableName()))
	where, args, err := buildWhere(def, query.Where)
	if err != nil {
		return nil, err
	}
	stmt += where

	order := query.OrderBy
	if order == nil {
		order = def.Ordering
	}
	if len(order) > 0 {
		parts := make([]string, len(order))
		for i, o := range order {
			if strings.HasPrefix(o, "-") {
				parts[i] = schema.QuoteIdent(strings.TrimPrefix(o, "-")) + " DESC"
			} else {
				parts[i] = schema.QuoteIdent(o) + " ASC"
			}
		}
		stmt += " ORDER BY " + strings.Join(parts, ", ")
	}
	if query.Limit > 0 {
		stmt += fmt.Sprintf(" LIMIT %d", query.Limit)
	}

	rows, err := q.ex.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, chronerrors.NewStorageError(chronerrors.CodeQueryFailed,
			fmt.Sprintf("failed to query %s", def.TableName()), err)
	}
	defer rows.Close()

	var out []types.Record
	for rows.Next() {
		rec, err := scanRecord(def, rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, chronerrors.NewStorageError(chronerrors.CodeQueryFailed,
			fmt.Sprintf("failed to iterate rows of %s", def.TableName()), err)
	}
	return out, nil
}

func (q *queries) First(ctx context.Context, def *types.ModelDef, query Query) (types.Record, bool, error) {
	query.Limit = 1
	recs, err := q.Find(ctx, def, query)
	if err != nil || len(recs) == 0 {
		return nil, false, err
	}
	return recs[0], true, nil
}

func (q *queries) Count(ctx context.Context, def *types.ModelDef, preds ...Predicate) (int64, error) {
	if def.Unmanaged {
		return 0, unmanagedError(def)
	}
	where, args, err := buildWhere(def, preds)
	if err != nil {
		return 0, err
	}
	var n int64
	stmt := "SELECT COUNT(*) FROM " + schema.QuoteIdent(def.TableName()) + where
	if err := q.ex.QueryRowContext(ctx, stmt, args...).Scan(&n); err != nil {
		return 0, chronerrors.NewStorageError(chronerrors.CodeQueryFailed,
			fmt.Sprintf("failed to count %s", def.TableName()), err)
	}
	return n, nil
}

func (q *queries) Exists(ctx context.Context, def *types.ModelDef, preds ...Predicate) (bool, error) {
	if def.Unmanaged {
		return false, unmanagedError(def)
	}
	where, args, err := buildWhere(def, preds)
	if err != nil {
		return false, err
	}
	var one int
	stmt := "SELECT 1 FROM " + schema.QuoteIdent(def.TableName()) + where + " LIMIT 1"
	err = q.ex.QueryRowContext(ctx, stmt, args...).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, chronerrors.NewStorageError(chronerrors.CodeQueryFailed,
			fmt.Sprintf("failed to query %s", def.TableName()), err)
	}
	return true, nil
}

func (q *queries) DeleteWhere(ctx context.Context, def *types.ModelDef, preds ...Predicate) (int64, error) {
	if def.Unmanaged {
		return 0, unmanagedError(def)
	}
	if len(preds) == 0 {
		return 0, chronerrors.NewStorageError(chronerrors.CodeWriteFailed,
			fmt.Sprintf("refusing unfiltered delete from %s", def.TableName()), nil)
	}
	where, args, err := buildWhere(def, preds)
	if err != nil {
		return 0, err
	}
	res, err := q.ex.ExecContext(ctx, "DELETE FROM "+schema.QuoteIdent(def.TableName())+where, args...)
	if err != nil {
		return 0, chronerrors.NewStorageError(chronerrors.CodeWriteFailed,
			fmt.Sprintf("failed to delete from %s", def.TableName()), err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (q *queries) Get(ctx context.Context, model string, pk interface{}) (*types.Instance, error) {
	def, ok := q.catalog.Model(model)
	if !ok {
		return nil, unknownModelError(model)
	}
	rec, found, err := q.First(ctx, def, Query{Where: []Predicate{Eq(def.PKColumn(), pk)}, OrderBy: Unordered})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, chronerrors.NewStorageError(chronerrors.CodeNotFound,
			fmt.Sprintf("%s with primary key %v does not exist", model, pk), nil).
			WithDetails(map[string]interface{}{"model": model, "pk": pk})
	}
	return &types.Instance{Model: model, Values: rec}, nil
}

// buildWhere renders predicates as a WHERE clause. Values are encoded using
// the column's field definition so times and booleans compare as stored.
func buildWhere(def *types.ModelDef, preds []Predicate) (string, []interface{}, error) {
	if len(preds) == 0 {
		return "", nil, nil
	}
	fields := make(map[string]types.FieldDef, len(def.Fields))
	for _, f := range def.Fields {
		fields[f.Attname()] = f
	}

	var clauses []string
	var args []interface{}
	for _, p := range preds {
		f, ok := fields[p.Column]
		if !ok {
			return "", nil, chronerrors.NewStorageError(chronerrors.CodeQueryFailed,
				fmt.Sprintf("%s has no column %q", def.Name, p.Column), nil)
		}
		col := schema.QuoteIdent(p.Column)
		switch p.Operator {
		case "=", "!=", "<", ">", "<=", ">=":
			clauses = append(clauses, col+" "+p.Operator+" ?")
			args = append(args, encodeValue(f, p.Value))
		case "IS NULL":
			clauses = append(clauses, col+" IS NULL")
		case "IN":
			if len(p.Values) == 0 {
				clauses = append(clauses, "0")
				continue
			}
			marks := make([]string, len(p.Values))
			for i, v := range p.Values {
				marks[i] = "?"
				args = append(args, encodeValue(f, v))
			}
			clauses = append(clauses, col+" IN ("+strings.Join(marks, ", ")+")")
		default:
			return "", nil, chronerrors.NewStorageError(chronerrors.CodeQueryFailed,
				fmt.Sprintf("unsupported operator %q", p.Operator), nil)
		}
	}
	return " WHERE " + strings.Join(clauses, " AND "), args, nil
}

func scanRecord(def *types.ModelDef, rows *sql.Rows) (types.Record, error) {
	raw := make([]interface{}, len(def.Fields))
	ptrs := make([]interface{}, len(def.Fields))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, chronerrors.NewStorageError(chronerrors.CodeQueryFailed,
			fmt.Sprintf("failed to scan %s", def.TableName()), err)
	}
	rec := make(types.Record, len(def.Fields))
	for i, f := range def.Fields {
		rec[f.Attname()] = decodeValue(f, raw[i])
	}
	return rec, nil
}

func unmanagedError(def *types.ModelDef) error {
	return chronerrors.NewStorageError(chronerrors.CodeWriteFailed,
		fmt.Sprintf("%s is unmanaged and has no table", def.Name), nil)
}

func unknownModelError(model string) error {
	return chronerrors.NewConfigurationError(chronerrors.CodeInvalidModel,
		fmt.Sprintf("unknown model %q", model))
}
