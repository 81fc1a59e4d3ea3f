package cockroach

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/polystore/internal/profile"
	"github.com/hrygo/polystore/internal/resilience"
	"github.com/hrygo/polystore/internal/storeerr"
	"github.com/hrygo/polystore/store"
	"github.com/hrygo/polystore/store/db/postgres"
	"github.com/hrygo/polystore/store/db/sqlcommon"
)

// ============================================================================
// COCKROACHDB SUPPORT (Distributed backend)
// ============================================================================
// CockroachDB speaks the PostgreSQL wire protocol and shares its dialect,
// with these differences:
// - Smaller batch ceiling to stay clear of transaction contention
// - Added columns are always nullable without default
// - Index builds run as background schema-change jobs that are polled
// - Indexes are dropped as table@index and have no tablespaces
// ============================================================================

type DB struct {
	*sqlcommon.Engine
	profile *profile.Profile
}

func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile == nil {
		return nil, errors.New("profile is nil")
	}
	db, err := postgres.Open(profile.DSN)
	if err != nil {
		return nil, err
	}
	engine := sqlcommon.New(sqlcommon.Config{
		DB: db,
		Dialect: Dialect{
			PollInterval: profile.IndexPollInterval,
			Timeout:      profile.IndexTimeout,
		},
		Policy:       profile.RetryPolicy(),
		Throttle:     profile.Throttle(),
		MaxBatchRows: profile.MaxBatchRows,
	})
	return &DB{Engine: engine, profile: profile}, nil
}

// Dialect is the CockroachDB SQL dialect.
type Dialect struct {
	postgres.Dialect
	// PollInterval and Timeout bound the wait for index jobs.
	PollInterval time.Duration
	Timeout      time.Duration
}

var _ sqlcommon.Dialect = Dialect{}

func (Dialect) Name() string { return profile.DriverCockroach }

func (d Dialect) Capabilities() store.Capabilities {
	caps := d.Dialect.Capabilities()
	caps.MaxBatchRows = 250
	caps.ConstrainedAddColumn = false
	caps.AsyncIndex = true
	return caps
}

func (Dialect) ColumnType(t store.ColumnType) string {
	switch t {
	case store.ColumnInteger:
		return "INT8"
	case store.ColumnNumber:
		return "FLOAT8"
	case store.ColumnBoolean:
		return "BOOL"
	case store.ColumnTimestamp:
		return "TIMESTAMPTZ"
	case store.ColumnStructured:
		return "JSONB"
	default:
		return "STRING"
	}
}

func (d Dialect) CreateIndexSQL(def *store.IndexDefinition) (string, error) {
	if def.Tablespace != "" {
		return "", storeerr.Userf("cockroach.createIndex", "index %s: cockroach has no tablespaces", def.Name).With("index", def.Name)
	}
	return d.Dialect.CreateIndexSQL(def)
}

func (Dialect) DropIndexSQL(table, name string) string {
	return fmt.Sprintf("DROP INDEX IF EXISTS %s@%s", sqlcommon.QuoteIdent(table), sqlcommon.QuoteIdent(name))
}

// ListIndexes reads SHOW INDEXES, whose column set varies across versions,
// by column name. Stored and implicit columns are left out.
func (Dialect) ListIndexes(ctx context.Context, q sqlcommon.Queryer, table string) ([]*store.IndexInfo, error) {
	rows, err := q.QueryContext(ctx, "SHOW INDEXES FROM "+sqlcommon.QuoteIdent(table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	names, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	byName := map[string]*store.IndexInfo{}
	for rows.Next() {
		values := make([]any, len(names))
		ptrs := make([]any, len(names))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		rec := make(map[string]any, len(names))
		for i, n := range names {
			rec[n] = values[i]
		}
		if truthy(rec["storing"]) || truthy(rec["implicit"]) {
			continue
		}
		name := text(rec["index_name"])
		info, ok := byName[name]
		if !ok {
			info = &store.IndexInfo{
				Name:       name,
				Table:      table,
				Unique:     !truthy(rec["non_unique"]),
				Definition: text(rec["definition"]),
			}
			byName[name] = info
		}
		info.Columns = append(info.Columns, text(rec["column_name"]))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	list := make([]*store.IndexInfo, 0, len(byName))
	for _, info := range byName {
		list = append(list, info)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list, nil
}

func truthy(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case []byte:
		return strings.EqualFold(string(b), "true") || strings.EqualFold(string(b), "yes")
	case string:
		return strings.EqualFold(b, "true") || strings.EqualFold(b, "yes")
	}
	return false
}

func text(v any) string {
	switch s := v.(type) {
	case []byte:
		return string(s)
	case string:
		return s
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}

const jobStatusQuery = `
SELECT status, COALESCE(error, '')
FROM [SHOW JOBS]
WHERE job_type IN ('NEW SCHEMA CHANGE', 'SCHEMA CHANGE') AND description LIKE $1
ORDER BY created DESC
LIMIT 1`

// WaitIndex polls the schema-change job that builds def until it succeeds,
// fails, or the timeout elapses. No matching job means the build already
// finished and was cleaned up.
func (d Dialect) WaitIndex(ctx context.Context, q sqlcommon.Queryer, def *store.IndexDefinition) error {
	const op = "cockroach.createIndex"
	return resilience.Poll(ctx, op, d.PollInterval, d.Timeout, func(ctx context.Context) (bool, error) {
		var status, jobErr string
		err := q.QueryRowContext(ctx, jobStatusQuery, "%"+def.Name+"%").Scan(&status, &jobErr)
		if errors.Is(err, sql.ErrNoRows) {
			return true, nil
		}
		if err != nil {
			return false, err
		}
		switch status {
		case "succeeded":
			return true, nil
		case "failed", "canceled", "revert-failed":
			return false, storeerr.ThirdParty(op, errors.Errorf("index job %s: %s", status, jobErr)).With("index", def.Name)
		}
		return false, nil
	})
}
