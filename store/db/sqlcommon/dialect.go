// Package sqlcommon is the relational table operations engine shared by the
// SQL backends. Backends differ only in their Dialect.
package sqlcommon

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	"github.com/hrygo/polystore/store"
	"github.com/hrygo/polystore/store/filter"
)

// Queryer is satisfied by *sql.DB and *sql.Tx.
type Queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Dialect captures everything that differs between SQL backends.
type Dialect interface {
	Name() string
	Capabilities() store.Capabilities
	// Numbered reports whether placeholders are $1, $2... instead of ?.
	Numbered() bool
	ColumnType(t store.ColumnType) string

	EncodeValue(col store.Column, v any) (any, error)
	DecodeValue(col store.Column, raw any) (any, error)

	// JSONExtract returns an expression yielding the value at path inside a
	// structured column when its JSON type matches kind, and NULL otherwise.
	JSONExtract(column string, path []string, kind filter.ValueKind) string
	// JSONType returns an expression yielding the JSON type name at path,
	// 'null' for JSON null, or SQL NULL when the path is missing.
	JSONType(column string, path []string) string
	// JSONOperand returns the placeholder expression and argument compared
	// against JSONExtract for v.
	JSONOperand(v filter.Value) (string, any)
	// RegexOperator returns the infix regex match operator, or "" when the
	// dialect has none.
	RegexOperator() string

	LimitOffset(limit, offset int) string

	TableExistsQuery(table string) (string, []any)
	ListColumnsQuery(table string) (string, []any)

	CreateIndexSQL(def *store.IndexDefinition) (string, error)
	DropIndexSQL(table, name string) string
	ListIndexes(ctx context.Context, q Queryer, table string) ([]*store.IndexInfo, error)
	// WaitIndex blocks until an asynchronously built index is ready. Dialects
	// with synchronous index builds return nil immediately.
	WaitIndex(ctx context.Context, q Queryer, def *store.IndexDefinition) error

	// Retryable reports whether a driver error is transient.
	Retryable(err error) bool
}

// QuoteIdent quotes an identifier with double quotes, which every supported
// dialect accepts and which keeps camelCase column names intact.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteIdents(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = QuoteIdent(n)
	}
	return strings.Join(quoted, ", ")
}

// QuoteLiteral quotes a string literal.
func QuoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// placeholders returns n ? placeholders.
func placeholders(n int) string {
	list := make([]string, n)
	for i := range list {
		list[i] = "?"
	}
	return strings.Join(list, ", ")
}

// Rebind rewrites ? placeholders to $n for numbered dialects. Generated SQL
// never contains ? inside literals.
func Rebind(d Dialect, query string) string {
	if !d.Numbered() || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// literalSQL renders a default value as a SQL literal.
func literalSQL(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case string:
		return QuoteLiteral(val)
	case bool:
		if val {
			return "TRUE"
		}
		return "FALSE"
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	}
	return QuoteLiteral(strings.TrimSpace(strings.ReplaceAll(toString(v), "\n", " ")))
}
