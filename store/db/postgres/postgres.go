package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/hrygo/polystore/internal/profile"
	"github.com/hrygo/polystore/store"
	"github.com/hrygo/polystore/store/db/sqlcommon"
	"github.com/hrygo/polystore/store/filter"
)

// ============================================================================
// POSTGRESQL SUPPORT (Reference backend)
// ============================================================================
// PostgreSQL is the reference relational backend:
// - Transactions per batch chunk
// - Native JSONB for structured columns, queried with #> / #>>
// - Regex (~) and LIKE operators
// - Synchronous index builds with method, storage parameters and tablespace
//
// CockroachDB reuses this dialect and overrides what differs.
// ============================================================================

type DB struct {
	*sqlcommon.Engine
	profile *profile.Profile
}

func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile == nil {
		return nil, errors.New("profile is nil")
	}
	db, err := Open(profile.DSN)
	if err != nil {
		return nil, err
	}
	engine := sqlcommon.New(sqlcommon.Config{
		DB:           db,
		Dialect:      Dialect{},
		Policy:       profile.RetryPolicy(),
		Throttle:     profile.Throttle(),
		MaxBatchRows: profile.MaxBatchRows,
	})
	return &DB{Engine: engine, profile: profile}, nil
}

// Open opens and pings a lib/pq connection pool.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("failed to open database", slog.String("error", err.Error()))
		return nil, errors.Wrap(err, "failed to open database")
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(2 * time.Hour)
	db.SetConnMaxIdleTime(15 * time.Minute)

	if err := db.Ping(); err != nil {
		slog.Error("failed to ping database", slog.String("error", err.Error()))
		_ = db.Close()
		return nil, errors.Wrap(err, "failed to ping database")
	}
	return db, nil
}

// Dialect is the PostgreSQL SQL dialect.
type Dialect struct{}

var _ sqlcommon.Dialect = Dialect{}

func (Dialect) Name() string { return profile.DriverPostgres }

func (Dialect) Capabilities() store.Capabilities {
	return store.Capabilities{
		Transactions:         true,
		NativeJSON:           true,
		MaxBatchRows:         1000,
		ConstrainedAddColumn: true,
		Indexes:              true,
		Operators: filter.OperatorSupport{
			Categories: []filter.Category{
				filter.CategoryLogical, filter.CategoryBasic, filter.CategoryNumeric,
				filter.CategoryArray, filter.CategoryElement, filter.CategoryRegex,
			},
			Custom: []filter.Operator{filter.OpLike},
		},
	}
}

func (Dialect) Numbered() bool { return true }

func (Dialect) ColumnType(t store.ColumnType) string {
	switch t {
	case store.ColumnInteger:
		return "BIGINT"
	case store.ColumnNumber:
		return "DOUBLE PRECISION"
	case store.ColumnBoolean:
		return "BOOLEAN"
	case store.ColumnTimestamp:
		return "TIMESTAMPTZ"
	case store.ColumnStructured:
		return "JSONB"
	default:
		return "TEXT"
	}
}

func (Dialect) EncodeValue(col store.Column, v any) (any, error) {
	return sqlcommon.EncodeValue(col, v)
}

func (Dialect) DecodeValue(col store.Column, raw any) (any, error) {
	return sqlcommon.DecodeValue(col, raw)
}

// jsonPath renders a text[] path literal; path segments are plain identifiers.
func jsonPath(path []string) string {
	return "'{" + strings.Join(path, ",") + "}'"
}

func (Dialect) JSONType(column string, path []string) string {
	return fmt.Sprintf("jsonb_typeof(%s#>%s)", sqlcommon.QuoteIdent(column), jsonPath(path))
}

// JSONExtract guards each cast with the JSON type so that values of another
// type yield NULL instead of a cast error. Date comparisons cast strings to
// timestamptz and fail on strings that are not timestamps.
func (d Dialect) JSONExtract(column string, path []string, kind filter.ValueKind) string {
	typ := d.JSONType(column, path)
	text := fmt.Sprintf("%s#>>%s", sqlcommon.QuoteIdent(column), jsonPath(path))
	switch kind {
	case filter.KindNumber:
		return fmt.Sprintf("(CASE WHEN %s = 'number' THEN (%s)::numeric END)", typ, text)
	case filter.KindBool:
		return fmt.Sprintf("(CASE WHEN %s = 'boolean' THEN (%s)::boolean END)", typ, text)
	case filter.KindDate:
		return fmt.Sprintf("(CASE WHEN %s = 'string' THEN (%s)::timestamptz END)", typ, text)
	default:
		return fmt.Sprintf("(CASE WHEN %s = 'string' THEN %s END)", typ, text)
	}
}

func (Dialect) JSONOperand(v filter.Value) (string, any) {
	return "?", v.Interface()
}

func (Dialect) RegexOperator() string { return "~" }

func (Dialect) LimitOffset(limit, offset int) string {
	if limit <= 0 {
		return fmt.Sprintf("OFFSET %d", offset)
	}
	return fmt.Sprintf("LIMIT %d OFFSET %d", limit, offset)
}

func (Dialect) TableExistsQuery(table string) (string, []any) {
	return "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = $1", []any{table}
}

func (Dialect) ListColumnsQuery(table string) (string, []any) {
	return "SELECT column_name FROM information_schema.columns WHERE table_schema = current_schema() AND table_name = $1 ORDER BY ordinal_position", []any{table}
}

// CreateIndexSQL renders CREATE INDEX with the optional method, storage
// parameters, tablespace and partial predicate.
func (Dialect) CreateIndexSQL(def *store.IndexDefinition) (string, error) {
	var b strings.Builder
	b.WriteString("CREATE ")
	if def.Unique {
		b.WriteString("UNIQUE ")
	}
	fmt.Fprintf(&b, "INDEX IF NOT EXISTS %s ON %s", sqlcommon.QuoteIdent(def.Name), sqlcommon.QuoteIdent(def.Table))
	if def.Method != "" {
		fmt.Fprintf(&b, " USING %s", sqlcommon.QuoteIdent(strings.ToLower(def.Method)))
	}
	fmt.Fprintf(&b, " (%s)", quoteAll(def.Columns))
	if len(def.StorageParams) > 0 {
		keys := make([]string, 0, len(def.StorageParams))
		for k := range def.StorageParams {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		params := make([]string, len(keys))
		for i, k := range keys {
			params[i] = fmt.Sprintf("%s = %s", sqlcommon.QuoteIdent(k), sqlcommon.QuoteLiteral(def.StorageParams[k]))
		}
		fmt.Fprintf(&b, " WITH (%s)", strings.Join(params, ", "))
	}
	if def.Tablespace != "" {
		fmt.Fprintf(&b, " TABLESPACE %s", sqlcommon.QuoteIdent(def.Tablespace))
	}
	if def.Where != "" {
		fmt.Fprintf(&b, " WHERE %s", def.Where)
	}
	return b.String(), nil
}

func quoteAll(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = sqlcommon.QuoteIdent(n)
	}
	return strings.Join(quoted, ", ")
}

func (Dialect) DropIndexSQL(_, name string) string {
	return "DROP INDEX IF EXISTS " + sqlcommon.QuoteIdent(name)
}

const listIndexesQuery = `
SELECT i.relname, ix.indisunique, am.amname, pg_get_indexdef(ix.indexrelid), pg_relation_size(ix.indexrelid),
	COALESCE(array_to_string(ARRAY(
		SELECT a.attname FROM unnest(ix.indkey) WITH ORDINALITY AS k(attnum, ord)
		JOIN pg_attribute a ON a.attrelid = ix.indrelid AND a.attnum = k.attnum
		ORDER BY k.ord), ','), '')
FROM pg_index ix
JOIN pg_class t ON t.oid = ix.indrelid
JOIN pg_class i ON i.oid = ix.indexrelid
JOIN pg_am am ON am.oid = i.relam
JOIN pg_namespace n ON n.oid = t.relnamespace
WHERE n.nspname = current_schema() AND t.relname = $1
ORDER BY i.relname`

func (Dialect) ListIndexes(ctx context.Context, q sqlcommon.Queryer, table string) ([]*store.IndexInfo, error) {
	rows, err := q.QueryContext(ctx, listIndexesQuery, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*store.IndexInfo
	for rows.Next() {
		info := &store.IndexInfo{Table: table}
		var columns string
		if err := rows.Scan(&info.Name, &info.Unique, &info.Method, &info.Definition, &info.SizeBytes, &columns); err != nil {
			return nil, err
		}
		if columns != "" {
			info.Columns = strings.Split(columns, ",")
		}
		list = append(list, info)
	}
	return list, rows.Err()
}

func (Dialect) WaitIndex(context.Context, sqlcommon.Queryer, *store.IndexDefinition) error {
	return nil
}

// Retryable treats connection failures, serialization and deadlock aborts,
// resource exhaustion and server shutdowns as transient.
func (Dialect) Retryable(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", "40", "53":
			return true
		}
		switch pqErr.Code {
		case "57P01", "57P02", "57P03":
			return true
		}
		return false
	}
	return sqlcommon.TransientNetwork(err)
}
