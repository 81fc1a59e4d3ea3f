package sqlcommon

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hrygo/polystore/internal/storeerr"
	"github.com/hrygo/polystore/store"
)

const columnsKey = "columns:"

func (e *Engine) columnDDL(col store.Column, constrained bool) string {
	parts := []string{QuoteIdent(col.Name), e.dialect.ColumnType(col.Type)}
	if constrained && !col.Nullable {
		parts = append(parts, "NOT NULL")
	}
	if constrained && col.Default != nil {
		parts = append(parts, "DEFAULT", literalSQL(col.Default))
	}
	return strings.Join(parts, " ")
}

// CreateTable creates the table when missing and registers its schema.
func (e *Engine) CreateTable(ctx context.Context, schema *store.TableSchema) error {
	if schema == nil || schema.Name == "" || len(schema.Columns) == 0 {
		return storeerr.User(e.op("createTable"), "table schema needs a name and columns")
	}
	defs := make([]string, 0, len(schema.Columns)+1)
	for _, col := range schema.Columns {
		defs = append(defs, e.columnDDL(col, true))
	}
	if pk := schema.PrimaryKey(); len(pk) > 0 {
		defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", quoteIdents(pk)))
	}
	query := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", QuoteIdent(schema.Name), strings.Join(defs, ", "))
	if err := e.do(ctx, "createTable", func(ctx context.Context) error {
		_, err := e.db.ExecContext(ctx, query)
		return err
	}); err != nil {
		return err
	}
	e.mu.Lock()
	e.schemas[schema.Name] = schema.WithName(schema.Name)
	e.mu.Unlock()
	e.introspection.Delete(ctx, columnsKey+schema.Name)
	return nil
}

// AlterTable adds the columns that do not exist yet. A NOT NULL column is
// only added as such when the dialect allows it and a default backfills
// existing rows; otherwise it is added as nullable.
func (e *Engine) AlterTable(ctx context.Context, table string, add []store.Column) error {
	existing, err := e.ListColumns(ctx, table)
	if err != nil {
		return err
	}
	have := make(map[string]bool, len(existing))
	for _, name := range existing {
		have[name] = true
	}
	for _, col := range add {
		if have[col.Name] {
			continue
		}
		constrained := e.caps.ConstrainedAddColumn && (col.Nullable || col.Default != nil)
		if !constrained && !col.Nullable {
			slog.Warn("adding column as nullable",
				slog.String("table", table),
				slog.String("column", col.Name),
				slog.String("backend", e.dialect.Name()),
			)
		}
		query := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", QuoteIdent(table), e.columnDDL(col, constrained))
		if err := e.do(ctx, "alterTable", func(ctx context.Context) error {
			_, err := e.db.ExecContext(ctx, query)
			return err
		}); err != nil {
			return err
		}
	}
	e.introspection.Delete(ctx, columnsKey+table)

	e.mu.Lock()
	defer e.mu.Unlock()
	if schema, ok := e.schemas[table]; ok {
		updated := schema.WithName(table)
		for _, col := range add {
			if _, ok := updated.Column(col.Name); !ok {
				if !e.caps.ConstrainedAddColumn {
					col.Nullable = true
				}
				updated.Columns = append(updated.Columns, col)
			}
		}
		e.schemas[table] = updated
	}
	return nil
}

func (e *Engine) DropTable(ctx context.Context, table string) error {
	query := fmt.Sprintf("DROP TABLE IF EXISTS %s", QuoteIdent(table))
	if err := e.do(ctx, "dropTable", func(ctx context.Context) error {
		_, err := e.db.ExecContext(ctx, query)
		return err
	}); err != nil {
		return err
	}
	e.mu.Lock()
	delete(e.schemas, table)
	e.mu.Unlock()
	e.introspection.Delete(ctx, columnsKey+table)
	return nil
}

// RenameTable renames the table and moves its registered schema.
func (e *Engine) RenameTable(ctx context.Context, from, to string) error {
	query := fmt.Sprintf("ALTER TABLE %s RENAME TO %s", QuoteIdent(from), QuoteIdent(to))
	if err := e.do(ctx, "renameTable", func(ctx context.Context) error {
		_, err := e.db.ExecContext(ctx, query)
		return err
	}); err != nil {
		return err
	}
	e.mu.Lock()
	if schema, ok := e.schemas[from]; ok {
		e.schemas[to] = schema.WithName(to)
		delete(e.schemas, from)
	}
	e.mu.Unlock()
	e.introspection.Delete(ctx, columnsKey+from)
	e.introspection.Delete(ctx, columnsKey+to)
	return nil
}

func (e *Engine) TableExists(ctx context.Context, table string) (bool, error) {
	query, args := e.dialect.TableExistsQuery(table)
	var n int64
	err := e.do(ctx, "tableExists", func(ctx context.Context) error {
		return e.db.QueryRowContext(ctx, query, args...).Scan(&n)
	})
	return n > 0, err
}

// ListColumns returns the physical column names of table, cached until the
// next DDL on it.
func (e *Engine) ListColumns(ctx context.Context, table string) ([]string, error) {
	if cached, ok := e.introspection.Get(ctx, columnsKey+table); ok {
		return append([]string(nil), cached.([]string)...), nil
	}
	query, args := e.dialect.ListColumnsQuery(table)
	var names []string
	err := e.do(ctx, "listColumns", func(ctx context.Context) error {
		rows, err := e.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		names = names[:0]
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				return err
			}
			names = append(names, name)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	if len(names) > 0 {
		e.introspection.Set(ctx, columnsKey+table, append([]string(nil), names...))
	}
	return names, nil
}
