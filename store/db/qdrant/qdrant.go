package qdrant

import (
	"context"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/qdrant/go-client/qdrant"

	"github.com/hrygo/polystore/internal/profile"
	"github.com/hrygo/polystore/internal/resilience"
	"github.com/hrygo/polystore/internal/storeerr"
	"github.com/hrygo/polystore/store"
	"github.com/hrygo/polystore/store/filter"
)

// ============================================================================
// QDRANT SUPPORT (Vector database used as a document store)
// ============================================================================
// Tables map to collections and rows to points whose payload holds every
// column. Each point carries a one-dimensional placeholder vector.
// - No transactions: Transact runs its mutations sequentially
// - Ordering and offsets are applied client-side after a filtered scroll
// - Timestamps are stored as unix microseconds
// - Payload indexes are built asynchronously and polled
// ============================================================================

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_client.go -package=mocks github.com/hrygo/polystore/store/db/qdrant Client

// Client is the part of the Qdrant client the driver uses.
type Client interface {
	CollectionExists(ctx context.Context, collectionName string) (bool, error)
	GetCollectionInfo(ctx context.Context, collectionName string) (*qdrant.CollectionInfo, error)
	CreateCollection(ctx context.Context, request *qdrant.CreateCollection) error
	DeleteCollection(ctx context.Context, collectionName string) error
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Delete(ctx context.Context, request *qdrant.DeletePoints) (*qdrant.UpdateResult, error)
	Get(ctx context.Context, request *qdrant.GetPoints) ([]*qdrant.RetrievedPoint, error)
	ScrollAndOffset(ctx context.Context, request *qdrant.ScrollPoints) ([]*qdrant.RetrievedPoint, *qdrant.PointId, error)
	Count(ctx context.Context, request *qdrant.CountPoints) (uint64, error)
	CreateFieldIndex(ctx context.Context, request *qdrant.CreateFieldIndexCollection) (*qdrant.UpdateResult, error)
	DeleteFieldIndex(ctx context.Context, request *qdrant.DeleteFieldIndexCollection) (*qdrant.UpdateResult, error)
	Close() error
}

var _ Client = (*qdrant.Client)(nil)

// scrollPageSize is the number of points fetched per scroll request.
const scrollPageSize = 256

// Options configures a DB beyond its client.
type Options struct {
	Policy       resilience.Policy
	Throttle     *resilience.Throttle
	MaxBatchRows int
	PollInterval time.Duration
	IndexTimeout time.Duration
}

type DB struct {
	client   Client
	policy   resilience.Policy
	throttle *resilience.Throttle
	caps     store.Capabilities
	poll     time.Duration
	timeout  time.Duration

	mu      sync.RWMutex
	schemas map[string]*store.TableSchema
	// indexes maps "<table>/<index>" to the payload fields the index covers.
	indexes map[string][]string
}

var _ store.Driver = (*DB)(nil)

func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile == nil {
		return nil, errors.New("profile is nil")
	}
	config, err := ParseDSN(profile.DSN)
	if err != nil {
		return nil, err
	}
	client, err := qdrant.NewClient(config)
	if err != nil {
		slog.Error("failed to connect to qdrant", slog.String("host", config.Host), slog.String("error", err.Error()))
		return nil, errors.Wrap(err, "failed to create qdrant client")
	}
	return New(client, Options{
		Policy:       profile.RetryPolicy(),
		Throttle:     profile.Throttle(),
		MaxBatchRows: profile.MaxBatchRows,
		PollInterval: profile.IndexPollInterval,
		IndexTimeout: profile.IndexTimeout,
	}), nil
}

// ParseDSN accepts host:port or qdrant://host:port?api_key=...&tls=true.
// The port is the gRPC port and defaults to 6334.
func ParseDSN(dsn string) (*qdrant.Config, error) {
	if dsn == "" {
		return nil, errors.New("dsn required")
	}
	if !strings.Contains(dsn, "://") {
		dsn = "qdrant://" + dsn
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return nil, errors.Wrap(err, "invalid qdrant dsn")
	}
	config := &qdrant.Config{Host: u.Hostname(), Port: 6334}
	if config.Host == "" {
		config.Host = "localhost"
	}
	if port := u.Port(); port != "" {
		n, err := strconv.Atoi(port)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid qdrant port %q", port)
		}
		config.Port = n
	}
	q := u.Query()
	config.APIKey = q.Get("api_key")
	if tls := q.Get("tls"); tls != "" {
		config.UseTLS, err = strconv.ParseBool(tls)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid tls flag %q", tls)
		}
	}
	return config, nil
}

// New wraps an existing client.
func New(client Client, opts Options) *DB {
	caps := store.Capabilities{
		MaxBatchRows:         256,
		NativeJSON:           true,
		ConstrainedAddColumn: false,
		Indexes:              true,
		AsyncIndex:           true,
		Operators: filter.OperatorSupport{
			Categories: []filter.Category{
				filter.CategoryLogical, filter.CategoryBasic, filter.CategoryNumeric,
				filter.CategoryArray, filter.CategoryElement,
			},
			Custom: []filter.Operator{filter.OpText},
		},
	}
	if opts.MaxBatchRows > 0 {
		caps.MaxBatchRows = opts.MaxBatchRows
	}
	return &DB{
		client:   client,
		policy:   opts.Policy.WithRetryable(Retryable),
		throttle: opts.Throttle,
		caps:     caps,
		poll:     opts.PollInterval,
		timeout:  opts.IndexTimeout,
		schemas:  make(map[string]*store.TableSchema),
		indexes:  make(map[string][]string),
	}
}

func (d *DB) Name() string { return profile.DriverQdrant }

func (d *DB) Capabilities() store.Capabilities { return d.caps }

func (d *DB) Close() error { return d.client.Close() }

func (d *DB) op(name string) string { return "qdrant." + name }

func (d *DB) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return d.policy.Do(ctx, d.op(op), func(ctx context.Context) error {
		if err := d.throttle.Wait(ctx); err != nil {
			return err
		}
		return fn(ctx)
	})
}

func (d *DB) schema(table string) *store.TableSchema {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.schemas[table]
}

func (d *DB) registered(op, table string) (*store.TableSchema, error) {
	schema := d.schema(table)
	if schema == nil {
		return nil, storeerr.Userf(d.op(op), "table %s is not registered", table).With("table", table)
	}
	return schema, nil
}

// Transact runs fn against the driver itself. Qdrant has no transactions, so
// each mutation commits on its own and is retried individually.
func (d *DB) Transact(ctx context.Context, fn func(ctx context.Context, tx store.Mutator) error) error {
	return fn(ctx, d)
}

// Explain renders the Qdrant filter f translates to as JSON.
func (d *DB) Explain(table string, f filter.Filter) (string, error) {
	qf, err := Translate(d.schema(table), f)
	if err != nil {
		return "", err
	}
	if qf == nil {
		return "{}", nil
	}
	return marshalFilter(qf)
}
