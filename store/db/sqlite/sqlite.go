package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pkg/errors"
	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/hrygo/polystore/internal/profile"
	"github.com/hrygo/polystore/internal/storeerr"
	"github.com/hrygo/polystore/store"
	"github.com/hrygo/polystore/store/db/sqlcommon"
	"github.com/hrygo/polystore/store/filter"
)

// ============================================================================
// SQLITE SUPPORT (Embedded backend)
// ============================================================================
// SQLite serves development, tests and single-node deployments:
// - One connection, so transactions serialize
// - Structured columns stored as JSON text, queried with json_extract
// - Timestamps stored as fixed-width UTC text
// - No regex operator
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

// Open opens a database file, or an in-memory database for ":memory:".
func Open(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, errors.New("dsn required")
	}
	db, err := sql.Open("sqlite", withPragmas(dsn))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", dsn)
	}
	// A single connection keeps :memory: databases alive and avoids
	// SQLITE_BUSY between our own connections.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		slog.Error("failed to enable wal", slog.String("error", err.Error()))
		_ = db.Close()
		return nil, errors.Wrap(err, "pragma journal_mode")
	}
	return db, nil
}

func withPragmas(dsn string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
}

// Dialect is the SQLite SQL dialect.
type Dialect struct{}

var _ sqlcommon.Dialect = Dialect{}

func (Dialect) Name() string { return profile.DriverSQLite }

func (Dialect) Capabilities() store.Capabilities {
	return store.Capabilities{
		Transactions:         true,
		MaxBatchRows:         500,
		ConstrainedAddColumn: true,
		Indexes:              true,
		Operators: filter.OperatorSupport{
			Categories: []filter.Category{
				filter.CategoryLogical, filter.CategoryBasic, filter.CategoryNumeric,
				filter.CategoryArray, filter.CategoryElement,
			},
			Custom: []filter.Operator{filter.OpLike},
		},
	}
}

func (Dialect) Numbered() bool { return false }

func (Dialect) ColumnType(t store.ColumnType) string {
	switch t {
	case store.ColumnInteger, store.ColumnBoolean:
		return "INTEGER"
	case store.ColumnNumber:
		return "REAL"
	default:
		return "TEXT"
	}
}

func (Dialect) RegexOperator() string { return "" }

func (Dialect) LimitOffset(limit, offset int) string {
	if limit <= 0 {
		return fmt.Sprintf("LIMIT -1 OFFSET %d", offset)
	}
	return fmt.Sprintf("LIMIT %d OFFSET %d", limit, offset)
}

func (Dialect) TableExistsQuery(table string) (string, []any) {
	return "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", []any{table}
}

func (Dialect) ListColumnsQuery(table string) (string, []any) {
	return "SELECT name FROM pragma_table_info(?) ORDER BY cid", []any{table}
}

func (Dialect) CreateIndexSQL(def *store.IndexDefinition) (string, error) {
	if def.Method != "" || len(def.StorageParams) > 0 || def.Tablespace != "" {
		return "", storeerr.Userf("sqlite.createIndex", "index %s: sqlite supports neither access methods, storage parameters nor tablespaces", def.Name).
			With("index", def.Name)
	}
	var b strings.Builder
	b.WriteString("CREATE ")
	if def.Unique {
		b.WriteString("UNIQUE ")
	}
	cols := make([]string, len(def.Columns))
	for i, c := range def.Columns {
		cols[i] = sqlcommon.QuoteIdent(c)
	}
	fmt.Fprintf(&b, "INDEX IF NOT EXISTS %s ON %s (%s)", sqlcommon.QuoteIdent(def.Name), sqlcommon.QuoteIdent(def.Table), strings.Join(cols, ", "))
	if def.Where != "" {
		fmt.Fprintf(&b, " WHERE %s", def.Where)
	}
	return b.String(), nil
}

func (Dialect) DropIndexSQL(_, name string) string {
	return "DROP INDEX IF EXISTS " + sqlcommon.QuoteIdent(name)
}

const listIndexesQuery = `
SELECT il.name, il."unique", COALESCE(m.sql, '')
FROM pragma_index_list(?) AS il
LEFT JOIN sqlite_master AS m ON m.type = 'index' AND m.name = il.name
WHERE il.origin <> 'pk'
ORDER BY il.name`

// ListIndexes reads the index list before the per-index column lookups since
// the pool holds a single connection.
func (Dialect) ListIndexes(ctx context.Context, q sqlcommon.Queryer, table string) ([]*store.IndexInfo, error) {
	rows, err := q.QueryContext(ctx, listIndexesQuery, table)
	if err != nil {
		return nil, err
	}
	var list []*store.IndexInfo
	for rows.Next() {
		info := &store.IndexInfo{Table: table, Method: "btree"}
		var unique int64
		if err := rows.Scan(&info.Name, &unique, &info.Definition); err != nil {
			rows.Close()
			return nil, err
		}
		info.Unique = unique != 0
		list = append(list, info)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	for _, info := range list {
		cols, err := q.QueryContext(ctx, "SELECT COALESCE(name, '') FROM pragma_index_info(?) ORDER BY seqno", info.Name)
		if err != nil {
			return nil, err
		}
		for cols.Next() {
			var name string
			if err := cols.Scan(&name); err != nil {
				cols.Close()
				return nil, err
			}
			info.Columns = append(info.Columns, name)
		}
		if err := cols.Close(); err != nil {
			return nil, err
		}
	}
	return list, nil
}

func (Dialect) WaitIndex(context.Context, sqlcommon.Queryer, *store.IndexDefinition) error {
	return nil
}

// Retryable treats lock contention as transient.
func (Dialect) Retryable(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
		return false
	}
	return false
}
