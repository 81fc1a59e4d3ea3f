package sqlcommon

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/hrygo/polystore/internal/storeerr"
	"github.com/hrygo/polystore/store"
	"github.com/hrygo/polystore/store/filter"
)

func (e *Engine) Get(ctx context.Context, table string, keys store.Row) (store.Row, error) {
	schema, err := e.registered("get", table)
	if err != nil {
		return nil, err
	}
	where, err := e.keyClause("get", schema, keys)
	if err != nil {
		return nil, err
	}
	query := Rebind(e.dialect, fmt.Sprintf("SELECT * FROM %s WHERE %s LIMIT 1", QuoteIdent(table), where.SQL))
	var rows []store.Row
	err = e.do(ctx, "get", func(ctx context.Context) error {
		var err error
		rows, err = e.selectRows(ctx, schema, query, where.Args)
		return err
	})
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

func (e *Engine) Query(ctx context.Context, table string, q *store.Query) ([]store.Row, error) {
	if q == nil {
		q = &store.Query{}
	}
	if q.Limit < 0 || q.Offset < 0 {
		return nil, storeerr.User(e.op("query"), "limit and offset must not be negative")
	}
	schema := e.schema(table)
	where, err := Where(e.dialect, schema, q.Filter)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT * FROM %s", QuoteIdent(table))
	if where.SQL != "" {
		b.WriteString(" WHERE ")
		b.WriteString(where.SQL)
	}
	if len(q.OrderBy) > 0 {
		terms := make([]string, len(q.OrderBy))
		for i, o := range q.OrderBy {
			if schema != nil {
				if _, ok := schema.Column(o.Field); !ok {
					return nil, storeerr.Userf(e.op("query"), "unknown order field %s", o.Field).With("field", o.Field)
				}
			}
			terms[i] = QuoteIdent(o.Field)
			if o.Desc {
				terms[i] += " DESC"
			} else {
				terms[i] += " ASC"
			}
		}
		b.WriteString(" ORDER BY ")
		b.WriteString(strings.Join(terms, ", "))
	}
	if q.Limit > 0 || q.Offset > 0 {
		b.WriteString(" ")
		b.WriteString(e.dialect.LimitOffset(q.Limit, q.Offset))
	}

	query := Rebind(e.dialect, b.String())
	var rows []store.Row
	err = e.do(ctx, "query", func(ctx context.Context) error {
		var err error
		rows, err = e.selectRows(ctx, schema, query, where.Args)
		return err
	})
	return rows, err
}

func (e *Engine) Count(ctx context.Context, table string, f filter.Filter) (int64, error) {
	where, err := Where(e.dialect, e.schema(table), f)
	if err != nil {
		return 0, err
	}
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", QuoteIdent(table))
	if where.SQL != "" {
		query += " WHERE " + where.SQL
	}
	query = Rebind(e.dialect, query)
	var n int64
	err = e.do(ctx, "count", func(ctx context.Context) error {
		return e.db.QueryRowContext(ctx, query, where.Args...).Scan(&n)
	})
	return n, err
}

// selectRows runs a SELECT * and decodes every column through the schema.
// Columns the schema does not describe are returned as scanned.
func (e *Engine) selectRows(ctx context.Context, schema *store.TableSchema, query string, args []any) ([]store.Row, error) {
	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRows(e.dialect, schema, rows)
}

func scanRows(d Dialect, schema *store.TableSchema, rows *sql.Rows) ([]store.Row, error) {
	names, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var list []store.Row
	for rows.Next() {
		values := make([]any, len(names))
		ptrs := make([]any, len(names))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(store.Row, len(names))
		for i, name := range names {
			if schema == nil {
				row[name] = decodeUnknown(values[i])
				continue
			}
			col, ok := schema.Column(name)
			if !ok {
				row[name] = decodeUnknown(values[i])
				continue
			}
			v, err := d.DecodeValue(col, values[i])
			if err != nil {
				return nil, err
			}
			row[name] = v
		}
		list = append(list, row)
	}
	return list, rows.Err()
}
