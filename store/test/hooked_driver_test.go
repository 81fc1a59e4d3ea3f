package test

import (
	"context"
	"sync"
	"testing"

	"github.com/hrygo/polystore/store"
	"github.com/hrygo/polystore/store/filter"
)

// hookedDriver wraps a real backend to count calls and inject failures.
type hookedDriver struct {
	store.Driver
	namespace string

	mu       sync.Mutex
	creates  int
	updates  map[string]int
	failures map[string]error
	// onCreateTable runs before every CreateTable call.
	onCreateTable func()
}

func newHookedStore(t *testing.T, driver string) (*store.Store, *hookedDriver) {
	t.Helper()
	p := NewTestingProfile(t, driver)
	hooked := &hookedDriver{
		Driver:    NewTestingDriver(t, p),
		namespace: p.Namespace,
		updates:   map[string]int{},
		failures:  map[string]error{},
	}
	ts := store.New(hooked, p)
	t.Cleanup(func() { _ = ts.Close() })
	return ts, hooked
}

// failOn makes every later call of method return err.
func (d *hookedDriver) failOn(method string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures[method] = err
}

func (d *hookedDriver) failure(method string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.failures[method]
}

func (d *hookedDriver) createCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.creates
}

// updateCount reports the updates issued against the namespaced table.
func (d *hookedDriver) updateCount(table string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.updates[d.namespace+table]
}

func (d *hookedDriver) resetUpdates() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.updates = map[string]int{}
}

func (d *hookedDriver) CreateTable(ctx context.Context, schema *store.TableSchema) error {
	if d.onCreateTable != nil {
		d.onCreateTable()
	}
	d.mu.Lock()
	d.creates++
	d.mu.Unlock()
	return d.Driver.CreateTable(ctx, schema)
}

func (d *hookedDriver) Get(ctx context.Context, table string, keys store.Row) (store.Row, error) {
	if err := d.failure("Get"); err != nil {
		return nil, err
	}
	return d.Driver.Get(ctx, table, keys)
}

func (d *hookedDriver) Query(ctx context.Context, table string, q *store.Query) ([]store.Row, error) {
	if err := d.failure("Query"); err != nil {
		return nil, err
	}
	return d.Driver.Query(ctx, table, q)
}

func (d *hookedDriver) Count(ctx context.Context, table string, f filter.Filter) (int64, error) {
	if err := d.failure("Count"); err != nil {
		return 0, err
	}
	return d.Driver.Count(ctx, table, f)
}

func (d *hookedDriver) Insert(ctx context.Context, table string, row store.Row, mode store.InsertMode) error {
	if err := d.failure("Insert"); err != nil {
		return err
	}
	return d.Driver.Insert(ctx, table, row, mode)
}

func (d *hookedDriver) Update(ctx context.Context, table string, keys store.Row, set store.Row) (int64, error) {
	if err := d.failure("Update"); err != nil {
		return 0, err
	}
	d.mu.Lock()
	d.updates[table]++
	d.mu.Unlock()
	return d.Driver.Update(ctx, table, keys, set)
}

func (d *hookedDriver) Transact(ctx context.Context, fn func(ctx context.Context, tx store.Mutator) error) error {
	if err := d.failure("Transact"); err != nil {
		return err
	}
	return d.Driver.Transact(ctx, func(ctx context.Context, tx store.Mutator) error {
		return fn(ctx, &hookedMutator{Mutator: tx, driver: d})
	})
}

// hookedMutator counts updates issued inside a transaction.
type hookedMutator struct {
	store.Mutator
	driver *hookedDriver
}

func (m *hookedMutator) Update(ctx context.Context, table string, keys store.Row, set store.Row) (int64, error) {
	m.driver.mu.Lock()
	m.driver.updates[table]++
	m.driver.mu.Unlock()
	return m.Mutator.Update(ctx, table, keys, set)
}
