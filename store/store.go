package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"github.com/hrygo/polystore/internal/profile"
)

// Store provides the memory store and the versioned entity stores on top of
// one backend driver.
type Store struct {
	profile *profile.Profile
	driver  Driver
	now     func() time.Time

	initGroup   singleflight.Group
	mu          sync.Mutex
	initialized bool

	Agents     *VersionedStore[AgentConfig]
	Workspaces *VersionedStore[WorkspaceConfig]
}

// versionedTables is the lifecycle surface of a versioned entity store.
type versionedTables interface {
	kindName() string
	migrateLegacy(ctx context.Context) (int, error)
	ensureTables(ctx context.Context) error
	sweepStaleDrafts(ctx context.Context, grace time.Duration) (int, error)
}

// New creates a new instance of Store. Schema setup runs lazily on first use.
func New(driver Driver, profile *profile.Profile) *Store {
	s := &Store{
		driver:  driver,
		profile: profile,
		now:     func() time.Time { return normTime(time.Now()) },
	}
	s.Agents = newVersionedStore[AgentConfig](s, agentKind)
	s.Workspaces = newVersionedStore[WorkspaceConfig](s, workspaceKind)
	return s
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

// Close releases the driver. A later call re-runs initialization.
func (s *Store) Close() error {
	s.mu.Lock()
	s.initialized = false
	s.mu.Unlock()
	return s.driver.Close()
}

func (s *Store) table(name string) string {
	return s.profile.Namespace + name
}

func (s *Store) versioned() []versionedTables {
	return []versionedTables{s.Agents, s.Workspaces}
}

func (s *Store) isInitialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

// Init creates tables, runs legacy migrations and sweeps stale drafts. It runs
// once per store; concurrent callers wait for the same in-flight run. The run
// is detached from the caller's cancellation so that one caller giving up
// does not fail the others waiting on it.
func (s *Store) Init(ctx context.Context) error {
	if s.isInitialized() {
		return nil
	}
	_, err, _ := s.initGroup.Do("init:"+s.profile.Namespace, func() (any, error) {
		if s.isInitialized() {
			return nil, nil
		}
		if err := s.setup(context.WithoutCancel(ctx)); err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.initialized = true
		s.mu.Unlock()
		return nil, nil
	})
	return err
}

func (s *Store) setup(ctx context.Context) error {
	for _, schema := range []*TableSchema{
		threadSchema(s.table(TableThreads)),
		messageSchema(s.table(TableMessages)),
		resourceSchema(s.table(TableResources)),
	} {
		if err := s.driver.CreateTable(ctx, schema); err != nil {
			return errors.Wrapf(err, "failed to create table %s", schema.Name)
		}
	}

	for _, v := range s.versioned() {
		migrated, err := v.migrateLegacy(ctx)
		if err != nil {
			return errors.Wrapf(err, "failed to migrate legacy %s table", v.kindName())
		}
		if migrated > 0 {
			slog.Info("migrated legacy entities", slog.String("kind", v.kindName()), slog.Int("count", migrated))
		}
		if err := v.ensureTables(ctx); err != nil {
			return errors.Wrapf(err, "failed to create %s tables", v.kindName())
		}
	}

	if err := s.ensureIndexes(ctx); err != nil {
		return err
	}

	if _, err := s.sweepStaleDrafts(ctx); err != nil {
		return err
	}
	return nil
}

// ensureIndexes creates the default secondary indexes on backends that build
// them synchronously. Asynchronous backends get them through the CLI.
func (s *Store) ensureIndexes(ctx context.Context) error {
	caps := s.driver.Capabilities()
	if !caps.Indexes || caps.AsyncIndex {
		return nil
	}
	defs := []*IndexDefinition{
		{Name: s.table("threads_resource_idx"), Table: s.table(TableThreads), Columns: []string{"resourceId", "createdAt"}},
		{Name: s.table("messages_thread_idx"), Table: s.table(TableMessages), Columns: []string{"threadId", "position"}},
	}
	defs = append(defs,
		&IndexDefinition{
			Name:    s.Agents.versionTable + "_parent_idx",
			Table:   s.Agents.versionTable,
			Columns: []string{s.Agents.kind.ParentColumn, "versionNumber"},
			Unique:  true,
		},
		&IndexDefinition{
			Name:    s.Workspaces.versionTable + "_parent_idx",
			Table:   s.Workspaces.versionTable,
			Columns: []string{s.Workspaces.kind.ParentColumn, "versionNumber"},
			Unique:  true,
		},
	)
	for _, def := range defs {
		if err := s.driver.CreateIndex(ctx, def); err != nil {
			return errors.Wrapf(err, "failed to create index %s", def.Name)
		}
	}
	return nil
}

// SweepStaleDrafts deletes headers left in draft without an active version by
// interrupted creates, and returns how many were reclaimed.
func (s *Store) SweepStaleDrafts(ctx context.Context) (int, error) {
	if err := s.Init(ctx); err != nil {
		return 0, err
	}
	return s.sweepStaleDrafts(ctx)
}

func (s *Store) sweepStaleDrafts(ctx context.Context) (int, error) {
	total := 0
	for _, v := range s.versioned() {
		n, err := v.sweepStaleDrafts(ctx, s.profile.StaleDraftGrace)
		if err != nil {
			return total, errors.Wrapf(err, "failed to sweep stale %s drafts", v.kindName())
		}
		if n > 0 {
			slog.Info("reclaimed stale drafts", slog.String("kind", v.kindName()), slog.Int("count", n))
		}
		total += n
	}
	return total, nil
}

// normTime drops sub-microsecond precision, the finest every backend keeps.
func normTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
