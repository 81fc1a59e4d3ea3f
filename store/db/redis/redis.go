package redis

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/hrygo/polystore/internal/profile"
	"github.com/hrygo/polystore/internal/resilience"
	"github.com/hrygo/polystore/internal/storeerr"
	"github.com/hrygo/polystore/store"
	"github.com/hrygo/polystore/store/filter"
)

// ============================================================================
// REDIS SUPPORT (Key-value store)
// ============================================================================
// Rows are JSON documents under one key each; a set per table lists the row
// ids and the schema is persisted next to them.
// - Keys of one table share a hash tag so a table lives in one cluster slot
// - Mutations run as WATCH/MULTI/EXEC transactions
// - Filters, ordering and paging are evaluated client-side
// - Secondary indexes are not supported
// ============================================================================

const (
	keyPrefix = "ps:"
	// scanChunk bounds the keys fetched per MGET.
	scanChunk = 500
)

func tablesKey() string              { return keyPrefix + "tables" }
func schemaKey(table string) string  { return keyPrefix + "{" + table + "}:schema" }
func idsKey(table string) string     { return keyPrefix + "{" + table + "}:ids" }
func rowKey(table, id string) string { return keyPrefix + "{" + table + "}:row:" + id }
func rowPrefix(table string) string  { return keyPrefix + "{" + table + "}:row:" }

// Options configures a DB beyond its client.
type Options struct {
	Policy       resilience.Policy
	Throttle     *resilience.Throttle
	MaxBatchRows int
}

type DB struct {
	client   redis.UniversalClient
	policy   resilience.Policy
	throttle *resilience.Throttle
	caps     store.Capabilities

	mu      sync.RWMutex
	schemas map[string]*store.TableSchema
}

var _ store.Driver = (*DB)(nil)

func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile == nil {
		return nil, errors.New("profile is nil")
	}
	opts, err := ParseDSN(profile.DSN)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		slog.Error("failed to connect to redis", slog.String("addr", opts.Addr), slog.String("error", err.Error()))
		return nil, errors.Wrap(err, "failed to connect to redis")
	}
	slog.Info("redis connected", slog.String("addr", opts.Addr), slog.Int("db", opts.DB))

	return New(client, Options{
		Policy:       profile.RetryPolicy(),
		Throttle:     profile.Throttle(),
		MaxBatchRows: profile.MaxBatchRows,
	}), nil
}

// ParseDSN accepts a redis:// URL or a bare host:port.
func ParseDSN(dsn string) (*redis.Options, error) {
	if dsn == "" {
		return nil, errors.New("dsn required")
	}
	if !strings.Contains(dsn, "://") {
		dsn = "redis://" + dsn
	}
	opts, err := redis.ParseURL(dsn)
	if err != nil {
		return nil, errors.Wrap(err, "invalid redis dsn")
	}
	opts.PoolSize = 10
	opts.MinIdleConns = 2
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second
	return opts, nil
}

// New wraps an existing client.
func New(client redis.UniversalClient, opts Options) *DB {
	caps := store.Capabilities{
		Transactions:         true,
		NativeJSON:           true,
		MaxBatchRows:         500,
		ConstrainedAddColumn: true,
		Operators:            filter.MemorySupport,
	}
	if opts.MaxBatchRows > 0 {
		caps.MaxBatchRows = opts.MaxBatchRows
	}
	return &DB{
		client:   client,
		policy:   opts.Policy.WithRetryable(Retryable),
		throttle: opts.Throttle,
		caps:     caps,
		schemas:  make(map[string]*store.TableSchema),
	}
}

func (d *DB) Name() string { return profile.DriverRedis }

func (d *DB) Capabilities() store.Capabilities { return d.caps }

func (d *DB) Close() error { return d.client.Close() }

func (d *DB) op(name string) string { return "redis." + name }

func (d *DB) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return d.policy.Do(ctx, d.op(op), func(ctx context.Context) error {
		if err := d.throttle.Wait(ctx); err != nil {
			return err
		}
		return fn(ctx)
	})
}

// schema returns the table's schema, loading it from redis on first use.
// It returns nil for unknown tables.
func (d *DB) schema(ctx context.Context, table string) (*store.TableSchema, error) {
	d.mu.RLock()
	schema, ok := d.schemas[table]
	d.mu.RUnlock()
	if ok {
		return schema, nil
	}

	var data []byte
	err := d.do(ctx, "schema", func(ctx context.Context) error {
		var err error
		data, err = d.client.Get(ctx, schemaKey(table)).Bytes()
		if errors.Is(err, redis.Nil) {
			data, err = nil, nil
		}
		return err
	})
	if err != nil || data == nil {
		return nil, err
	}
	schema = &store.TableSchema{}
	if err := json.Unmarshal(data, schema); err != nil {
		return nil, storeerr.System(d.op("schema"), "stored schema is unreadable", err).With("table", table)
	}
	d.mu.Lock()
	d.schemas[table] = schema
	d.mu.Unlock()
	return schema, nil
}

func (d *DB) registered(ctx context.Context, op, table string) (*store.TableSchema, error) {
	schema, err := d.schema(ctx, table)
	if err != nil {
		return nil, err
	}
	if schema == nil {
		return nil, storeerr.Userf(d.op(op), "table %s is not registered", table).With("table", table)
	}
	return schema, nil
}

func (d *DB) forget(table string) {
	d.mu.Lock()
	delete(d.schemas, table)
	d.mu.Unlock()
}

// Retryable treats connection failures, aborted optimistic transactions and
// transient server states as retryable.
func Retryable(err error) bool {
	if errors.Is(err, redis.TxFailedErr) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := err.Error()
	for _, prefix := range []string{"LOADING", "READONLY", "TRYAGAIN", "CLUSTERDOWN", "MASTERDOWN", "BUSY"} {
		if strings.HasPrefix(msg, prefix) {
			return true
		}
	}
	return strings.Contains(msg, "connection pool timeout")
}

// Explain describes how a filter is evaluated. Redis has no query language,
// so the predicate is matched client-side after reading every row.
func (d *DB) Explain(table string, f filter.Filter) (string, error) {
	if _, err := filter.CompileMatcher(f); err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return "", storeerr.User(d.op("explain"), "filter is not serializable").With("table", table)
	}
	return "SCAN " + idsKey(table) + " -> MGET " + rowPrefix(table) + "*\n-- client-side match: " + string(data), nil
}
