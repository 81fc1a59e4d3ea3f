package sqlcommon

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hrygo/polystore/internal/resilience"
	"github.com/hrygo/polystore/internal/storeerr"
	"github.com/hrygo/polystore/store"
	"github.com/hrygo/polystore/store/filter"
)

// encodeRow encodes the values of row for the columns named in cols.
func (e *Engine) encodeRow(op string, schema *store.TableSchema, cols []string, row store.Row) ([]any, error) {
	args := make([]any, len(cols))
	for i, name := range cols {
		col, _ := schema.Column(name)
		v, err := e.dialect.EncodeValue(col, row[name])
		if err != nil {
			return nil, err
		}
		if v == nil && !col.Nullable && col.PrimaryKey {
			return nil, storeerr.Userf(e.op(op), "primary key column %s is required", name).With("column", name)
		}
		args[i] = v
	}
	return args, nil
}

// rowColumns returns the schema columns present in any of rows, in schema
// order, and rejects unknown columns.
func (e *Engine) rowColumns(op string, schema *store.TableSchema, rows []store.Row) ([]string, error) {
	present := map[string]bool{}
	for _, row := range rows {
		for name := range row {
			if _, ok := schema.Column(name); !ok {
				return nil, storeerr.Userf(e.op(op), "unknown column %s on table %s", name, schema.Name).
					With("column", name).With("table", schema.Name)
			}
			present[name] = true
		}
	}
	var cols []string
	for _, name := range schema.ColumnNames() {
		if present[name] {
			cols = append(cols, name)
		}
	}
	if len(cols) == 0 {
		return nil, storeerr.Userf(e.op(op), "no columns to write on table %s", schema.Name).With("table", schema.Name)
	}
	return cols, nil
}

func (e *Engine) prepareInsert(table string, rows []store.Row, mode store.InsertMode) (Clause, error) {
	schema, err := e.registered("insert", table)
	if err != nil {
		return Clause{}, err
	}
	cols, err := e.rowColumns("insert", schema, rows)
	if err != nil {
		return Clause{}, err
	}
	values := make([]string, len(rows))
	args := make([]any, 0, len(rows)*len(cols))
	tuple := "(" + placeholders(len(cols)) + ")"
	for i, row := range rows {
		encoded, err := e.encodeRow("insert", schema, cols, row)
		if err != nil {
			return Clause{}, err
		}
		values[i] = tuple
		args = append(args, encoded...)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES %s", QuoteIdent(table), quoteIdents(cols), strings.Join(values, ", "))
	if pk := schema.PrimaryKey(); len(pk) > 0 {
		fmt.Fprintf(&b, " ON CONFLICT (%s) DO ", quoteIdents(pk))
		var sets []string
		if mode == store.InsertUpsert {
			for _, c := range cols {
				col, _ := schema.Column(c)
				if col.PrimaryKey {
					continue
				}
				sets = append(sets, fmt.Sprintf("%s = excluded.%s", QuoteIdent(c), QuoteIdent(c)))
			}
		}
		if len(sets) == 0 {
			b.WriteString("NOTHING")
		} else {
			b.WriteString("UPDATE SET ")
			b.WriteString(strings.Join(sets, ", "))
		}
	}
	return Clause{SQL: Rebind(e.dialect, b.String()), Args: args}, nil
}

func (e *Engine) keyClause(op string, schema *store.TableSchema, keys store.Row) (Clause, error) {
	pk := schema.PrimaryKey()
	if len(pk) == 0 {
		return Clause{}, storeerr.Userf(e.op(op), "table %s has no primary key", schema.Name).With("table", schema.Name)
	}
	parts := make([]string, len(pk))
	args := make([]any, len(pk))
	for i, name := range pk {
		v, ok := keys[name]
		if !ok || v == nil {
			return Clause{}, storeerr.Userf(e.op(op), "missing key column %s", name).With("column", name)
		}
		col, _ := schema.Column(name)
		encoded, err := e.dialect.EncodeValue(col, v)
		if err != nil {
			return Clause{}, err
		}
		parts[i] = QuoteIdent(name) + " = ?"
		args[i] = encoded
	}
	return Clause{SQL: strings.Join(parts, " AND "), Args: args}, nil
}

func (e *Engine) prepareUpdate(table string, keys, set store.Row) (Clause, error) {
	schema, err := e.registered("update", table)
	if err != nil {
		return Clause{}, err
	}
	where, err := e.keyClause("update", schema, keys)
	if err != nil {
		return Clause{}, err
	}
	set = store.StampUpdatedAt(schema, set, time.Now())
	cols, err := e.rowColumns("update", schema, []store.Row{set})
	if err != nil {
		return Clause{}, err
	}
	assignments := make([]string, len(cols))
	args := make([]any, 0, len(cols)+len(where.Args))
	for i, name := range cols {
		col, _ := schema.Column(name)
		if col.PrimaryKey {
			return Clause{}, storeerr.Userf(e.op("update"), "primary key column %s cannot be updated", name).With("column", name)
		}
		v, err := e.dialect.EncodeValue(col, set[name])
		if err != nil {
			return Clause{}, err
		}
		assignments[i] = QuoteIdent(name) + " = ?"
		args = append(args, v)
	}
	args = append(args, where.Args...)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s", QuoteIdent(table), strings.Join(assignments, ", "), where.SQL)
	return Clause{SQL: Rebind(e.dialect, query), Args: args}, nil
}

func (e *Engine) prepareDelete(table string, f filter.Filter) (Clause, error) {
	if len(f) == 0 {
		return Clause{}, storeerr.User(e.op("delete"), "delete requires a filter").With("table", table)
	}
	where, err := Where(e.dialect, e.schema(table), f)
	if err != nil {
		return Clause{}, err
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE %s", QuoteIdent(table), where.SQL)
	return Clause{SQL: Rebind(e.dialect, query), Args: where.Args}, nil
}

func (e *Engine) Insert(ctx context.Context, table string, row store.Row, mode store.InsertMode) error {
	stmt, err := e.prepareInsert(table, []store.Row{row}, mode)
	if err != nil {
		return err
	}
	return e.do(ctx, "insert", func(ctx context.Context) error {
		_, err := e.db.ExecContext(ctx, stmt.SQL, stmt.Args...)
		return err
	})
}

func (e *Engine) Update(ctx context.Context, table string, keys, set store.Row) (int64, error) {
	stmt, err := e.prepareUpdate(table, keys, set)
	if err != nil {
		return 0, err
	}
	var n int64
	err = e.do(ctx, "update", func(ctx context.Context) error {
		affected, err := execAffected(ctx, e.db, stmt)
		n = affected
		return err
	})
	return n, err
}

func (e *Engine) Delete(ctx context.Context, table string, f filter.Filter) (int64, error) {
	stmt, err := e.prepareDelete(table, f)
	if err != nil {
		return 0, err
	}
	var n int64
	err = e.do(ctx, "delete", func(ctx context.Context) error {
		affected, err := execAffected(ctx, e.db, stmt)
		n = affected
		return err
	})
	return n, err
}

// BatchInsert writes rows in chunks of at most MaxBatchRows, one transaction
// per chunk. Every row is validated before the first chunk is sent.
func (e *Engine) BatchInsert(ctx context.Context, table string, rows []store.Row, mode store.InsertMode) error {
	if len(rows) == 0 {
		return nil
	}
	chunks := resilience.Chunk(rows, e.caps.MaxBatchRows)
	stmts := make([]Clause, len(chunks))
	for i, chunk := range chunks {
		stmt, err := e.prepareInsert(table, chunk, mode)
		if err != nil {
			return err
		}
		stmts[i] = stmt
	}
	return resilience.ForEachChunk(ctx, rows, e.caps.MaxBatchRows, func(ctx context.Context, i int, _ []store.Row) error {
		stmt := stmts[i]
		return e.do(ctx, "batchInsert", func(ctx context.Context) error {
			return e.inTx(ctx, func(ctx context.Context, q Queryer) error {
				_, err := q.ExecContext(ctx, stmt.SQL, stmt.Args...)
				return err
			})
		})
	})
}

// BatchUpdate applies updates in chunks, one transaction per chunk.
func (e *Engine) BatchUpdate(ctx context.Context, table string, updates []store.RowUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	stmts := make([]Clause, len(updates))
	for i, u := range updates {
		stmt, err := e.prepareUpdate(table, u.Keys, u.Set)
		if err != nil {
			return err
		}
		stmts[i] = stmt
	}
	return e.execChunks(ctx, "batchUpdate", stmts)
}

// BatchDelete removes rows by primary key in chunks. Missing keys are ignored.
func (e *Engine) BatchDelete(ctx context.Context, table string, keys []store.Row) error {
	if len(keys) == 0 {
		return nil
	}
	schema, err := e.registered("batchDelete", table)
	if err != nil {
		return err
	}
	chunks := resilience.Chunk(keys, e.caps.MaxBatchRows)
	stmts := make([]Clause, 0, len(chunks))
	for _, chunk := range chunks {
		parts := make([]string, len(chunk))
		var args []any
		for i, k := range chunk {
			clause, err := e.keyClause("batchDelete", schema, k)
			if err != nil {
				return err
			}
			parts[i] = "(" + clause.SQL + ")"
			args = append(args, clause.Args...)
		}
		query := fmt.Sprintf("DELETE FROM %s WHERE %s", QuoteIdent(table), strings.Join(parts, " OR "))
		stmts = append(stmts, Clause{SQL: Rebind(e.dialect, query), Args: args})
	}
	return resilience.ForEachChunk(ctx, keys, e.caps.MaxBatchRows, func(ctx context.Context, i int, _ []store.Row) error {
		stmt := stmts[i]
		return e.do(ctx, "batchDelete", func(ctx context.Context) error {
			_, err := e.db.ExecContext(ctx, stmt.SQL, stmt.Args...)
			return err
		})
	})
}

func (e *Engine) execChunks(ctx context.Context, op string, stmts []Clause) error {
	return resilience.ForEachChunk(ctx, stmts, e.caps.MaxBatchRows, func(ctx context.Context, _ int, chunk []Clause) error {
		return e.do(ctx, op, func(ctx context.Context) error {
			return e.inTx(ctx, func(ctx context.Context, q Queryer) error {
				for _, stmt := range chunk {
					if _, err := q.ExecContext(ctx, stmt.SQL, stmt.Args...); err != nil {
						return err
					}
				}
				return nil
			})
		})
	})
}
