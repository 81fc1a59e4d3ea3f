package sqlcommon

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/hrygo/polystore/internal/resilience"
	"github.com/hrygo/polystore/internal/storeerr"
	"github.com/hrygo/polystore/store"
	"github.com/hrygo/polystore/store/cache"
	"github.com/hrygo/polystore/store/filter"
)

// Config wires an Engine.
type Config struct {
	DB      *sql.DB
	Dialect Dialect
	Policy  resilience.Policy
	// Throttle may be nil.
	Throttle *resilience.Throttle
	// MaxBatchRows overrides the dialect ceiling when positive.
	MaxBatchRows int
	// IntrospectionTTL bounds how long column listings are cached.
	IntrospectionTTL time.Duration
}

// Engine implements store.Driver on top of database/sql for any Dialect.
type Engine struct {
	db       *sql.DB
	dialect  Dialect
	policy   resilience.Policy
	throttle *resilience.Throttle
	caps     store.Capabilities

	mu      sync.RWMutex
	schemas map[string]*store.TableSchema

	// introspection caches column listings per table. DDL drops the entries
	// of the tables it touches.
	introspection *cache.Cache
}

var _ store.Driver = (*Engine)(nil)

// New returns an engine over an open database handle.
func New(cfg Config) *Engine {
	caps := cfg.Dialect.Capabilities()
	if cfg.MaxBatchRows > 0 {
		caps.MaxBatchRows = cfg.MaxBatchRows
	}
	ttl := cfg.IntrospectionTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Engine{
		db:       cfg.DB,
		dialect:  cfg.Dialect,
		policy:   cfg.Policy.WithRetryable(cfg.Dialect.Retryable),
		throttle: cfg.Throttle,
		caps:     caps,
		schemas:  make(map[string]*store.TableSchema),
		introspection: cache.New(cache.Config{
			DefaultTTL:      ttl,
			CleanupInterval: ttl,
			MaxItems:        1024,
		}),
	}
}

// DB returns the underlying handle.
func (e *Engine) DB() *sql.DB {
	return e.db
}

func (e *Engine) Name() string {
	return e.dialect.Name()
}

func (e *Engine) Capabilities() store.Capabilities {
	return e.caps
}

func (e *Engine) Close() error {
	_ = e.introspection.Close()
	return e.db.Close()
}

func (e *Engine) op(name string) string {
	return e.dialect.Name() + "." + name
}

// do runs one throttled, retried backend round trip.
func (e *Engine) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return e.policy.Do(ctx, e.op(op), func(ctx context.Context) error {
		if err := e.throttle.Wait(ctx); err != nil {
			return err
		}
		return fn(ctx)
	})
}

// inTx runs fn in a transaction, rolling back on any error.
func (e *Engine) inTx(ctx context.Context, fn func(ctx context.Context, q Queryer) error) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(ctx, tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (e *Engine) schema(table string) *store.TableSchema {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.schemas[table]
}

func (e *Engine) registered(op, table string) (*store.TableSchema, error) {
	schema := e.schema(table)
	if schema == nil {
		return nil, storeerr.Userf(e.op(op), "table %s is not registered", table).With("table", table)
	}
	return schema, nil
}

// Transact runs fn in one transaction. The whole transaction is retried on
// transient failures, so fn must be safe to re-run.
func (e *Engine) Transact(ctx context.Context, fn func(ctx context.Context, tx store.Mutator) error) error {
	return e.do(ctx, "transact", func(ctx context.Context) error {
		return e.inTx(ctx, func(ctx context.Context, q Queryer) error {
			return fn(ctx, &txMutator{engine: e, q: q})
		})
	})
}

// txMutator runs mutations inside an open transaction without retrying them
// individually.
type txMutator struct {
	engine *Engine
	q      Queryer
}

func (m *txMutator) Insert(ctx context.Context, table string, row store.Row, mode store.InsertMode) error {
	stmt, err := m.engine.prepareInsert(table, []store.Row{row}, mode)
	if err != nil {
		return err
	}
	_, err = m.q.ExecContext(ctx, stmt.SQL, stmt.Args...)
	return err
}

func (m *txMutator) Update(ctx context.Context, table string, keys, set store.Row) (int64, error) {
	stmt, err := m.engine.prepareUpdate(table, keys, set)
	if err != nil {
		return 0, err
	}
	return execAffected(ctx, m.q, stmt)
}

func (m *txMutator) Delete(ctx context.Context, table string, f filter.Filter) (int64, error) {
	stmt, err := m.engine.prepareDelete(table, f)
	if err != nil {
		return 0, err
	}
	return execAffected(ctx, m.q, stmt)
}

func execAffected(ctx context.Context, q Queryer, stmt Clause) (int64, error) {
	res, err := q.ExecContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Explain renders the WHERE clause and arguments f translates to.
func (e *Engine) Explain(table string, f filter.Filter) (string, error) {
	where, err := Where(e.dialect, e.schema(table), f)
	if err != nil {
		return "", err
	}
	if where.SQL == "" {
		return fmt.Sprintf("SELECT * FROM %s", QuoteIdent(table)), nil
	}
	query := Rebind(e.dialect, fmt.Sprintf("SELECT * FROM %s WHERE %s", QuoteIdent(table), where.SQL))
	return fmt.Sprintf("%s\n-- args: %v", query, where.Args), nil
}
