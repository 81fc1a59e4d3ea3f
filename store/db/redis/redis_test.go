package redis

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/polystore/internal/resilience"
	"github.com/hrygo/polystore/internal/storeerr"
	"github.com/hrygo/polystore/store"
	"github.com/hrygo/polystore/store/filter"
)

var itemSchema = &store.TableSchema{
	Name: "items",
	Columns: []store.Column{
		{Name: "id", Type: store.ColumnText, PrimaryKey: true},
		{Name: "name", Type: store.ColumnText},
		{Name: "size", Type: store.ColumnInteger, Nullable: true},
		{Name: "score", Type: store.ColumnNumber, Nullable: true},
		{Name: "active", Type: store.ColumnBoolean, Default: false},
		{Name: "createdAt", Type: store.ColumnTimestamp},
		{Name: "metadata", Type: store.ColumnStructured, Nullable: true},
	},
}

func newTestDriver(t *testing.T, maxBatchRows int) (*DB, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	driver := newDriverOn(t, mr, maxBatchRows)
	require.NoError(t, driver.CreateTable(context.Background(), itemSchema))
	return driver, mr
}

func newDriverOn(t *testing.T, mr *miniredis.Miniredis, maxBatchRows int) *DB {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	driver := New(client, Options{Policy: resilience.Policy{MaxAttempts: 1}, MaxBatchRows: maxBatchRows})
	t.Cleanup(func() { _ = driver.Close() })
	return driver
}

func item(id, name string, size int64, at time.Time, metadata map[string]any) store.Row {
	return store.Row{
		"id":        id,
		"name":      name,
		"size":      size,
		"active":    size%2 == 0,
		"createdAt": at,
		"metadata":  metadata,
	}
}

func TestParseDSN(t *testing.T) {
	opts, err := ParseDSN("localhost:6379")
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", opts.Addr)

	opts, err = ParseDSN("redis://:secret@cache:6380/2")
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", opts.Addr)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 2, opts.DB)

	_, err = ParseDSN("")
	assert.Error(t, err)
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(redis.TxFailedErr))
	assert.True(t, Retryable(io.EOF))
	assert.True(t, Retryable(errors.New("LOADING Redis is loading the dataset in memory")))
	assert.False(t, Retryable(errors.New("WRONGTYPE Operation against a key holding the wrong kind of value")))
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	driver, _ := newTestDriver(t, 0)
	at := time.Date(2024, 5, 6, 7, 8, 9, 123456000, time.UTC)

	require.NoError(t, driver.Insert(ctx, "items", store.Row{
		"id":        "a",
		"name":      "alpha",
		"size":      int64(3),
		"score":     1.5,
		"active":    true,
		"createdAt": at,
		"metadata":  map[string]any{"tags": []any{"x"}, "priority": 2},
	}, store.InsertUpsert))

	row, err := driver.Get(ctx, "items", store.Row{"id": "a"})
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "alpha", row["name"])
	assert.Equal(t, int64(3), row["size"])
	assert.Equal(t, 1.5, row["score"])
	assert.Equal(t, true, row["active"])
	assert.True(t, at.Equal(row.Time("createdAt")))
	assert.Equal(t, map[string]any{"tags": []any{"x"}, "priority": float64(2)}, row["metadata"])

	missing, err := driver.Get(ctx, "items", store.Row{"id": "nope"})
	require.NoError(t, err)
	assert.Nil(t, missing)

	err = driver.Insert(ctx, "items", store.Row{"id": "b", "size": "big"}, store.InsertUpsert)
	assert.True(t, storeerr.IsUser(err))
}

func TestInsertModesAndDefaults(t *testing.T) {
	ctx := context.Background()
	driver, _ := newTestDriver(t, 0)
	now := time.Now().UTC()

	require.NoError(t, driver.Insert(ctx, "items", store.Row{"id": "a", "name": "first", "createdAt": now}, store.InsertUpsert))
	require.NoError(t, driver.Insert(ctx, "items", item("a", "second", 1, now, nil), store.InsertIfAbsent))
	row, err := driver.Get(ctx, "items", store.Row{"id": "a"})
	require.NoError(t, err)
	assert.Equal(t, "first", row["name"])
	assert.Equal(t, false, row["active"])

	require.NoError(t, driver.Insert(ctx, "items", item("a", "third", 1, now, nil), store.InsertUpsert))
	row, err = driver.Get(ctx, "items", store.Row{"id": "a"})
	require.NoError(t, err)
	assert.Equal(t, "third", row["name"])
}

func TestQueryFilterOrderAndPaging(t *testing.T) {
	ctx := context.Background()
	driver, _ := newTestDriver(t, 0)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	var rows []store.Row
	for i := 0; i < 10; i++ {
		rows = append(rows, item(string(rune('a'+i)), "n"+string(rune('a'+i)), int64(i), base.Add(time.Duration(i)*time.Minute),
			map[string]any{"priority": i % 3, "label": "p"}))
	}
	require.NoError(t, driver.BatchInsert(ctx, "items", rows, store.InsertUpsert))

	got, err := driver.Query(ctx, "items", &store.Query{
		Filter:  filter.Filter{"size": filter.Filter{"$gte": 4}},
		OrderBy: []store.Order{{Field: "createdAt", Desc: true}},
		Limit:   3,
		Offset:  1,
	})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"i", "h", "g"}, []string{got[0].String("id"), got[1].String("id"), got[2].String("id")})

	n, err := driver.Count(ctx, "items", filter.Filter{"metadata.priority": 0})
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	n, err = driver.Count(ctx, "items", filter.Filter{"metadata.priority": "0"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	n, err = driver.Count(ctx, "items", filter.Filter{"createdAt": filter.Filter{"$lt": base.Add(3 * time.Minute)}})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = driver.Count(ctx, "items", filter.Filter{"name": filter.Filter{"$regex": "^n[ab]$"}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = driver.Query(ctx, "items", &store.Query{OrderBy: []store.Order{{Field: "nope"}}})
	assert.True(t, storeerr.IsUser(err))
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	driver, _ := newTestDriver(t, 0)
	now := time.Now().UTC()
	require.NoError(t, driver.BatchInsert(ctx, "items", []store.Row{
		item("a", "x", 1, now, nil), item("b", "x", 2, now, nil), item("c", "y", 3, now, nil),
	}, store.InsertUpsert))

	_, err := driver.Delete(ctx, "items", nil)
	assert.True(t, storeerr.IsUser(err))

	n, err := driver.Delete(ctx, "items", filter.Filter{"name": "x"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = driver.Count(ctx, "items", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestBatchUpdatePartialCommit(t *testing.T) {
	ctx := context.Background()
	driver, _ := newTestDriver(t, 2)
	now := time.Now().UTC()
	require.NoError(t, driver.BatchInsert(ctx, "items", []store.Row{
		item("a", "a", 1, now, nil), item("b", "b", 2, now, nil), item("c", "c", 3, now, nil),
	}, store.InsertUpsert))

	err := driver.BatchUpdate(ctx, "items", []store.RowUpdate{
		{Keys: store.Row{"id": "a"}, Set: store.Row{"name": "A"}},
		{Keys: store.Row{"id": "b"}, Set: store.Row{"name": "B"}},
		{Keys: store.Row{"id": "c"}, Set: store.Row{"id": "d"}},
	})
	require.Error(t, err)
	var chunkErr *resilience.ChunkError
	require.True(t, errors.As(err, &chunkErr))
	assert.Equal(t, 1, chunkErr.Index)
	assert.Equal(t, 2, chunkErr.Chunks)
	assert.Equal(t, 2, chunkErr.Committed)

	n, err := driver.Count(ctx, "items", filter.Filter{"name": filter.Filter{"$in": []any{"A", "B"}}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.NoError(t, driver.BatchDelete(ctx, "items", []store.Row{{"id": "a"}, {"id": "missing"}}))
	n, err = driver.Count(ctx, "items", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestTransact(t *testing.T) {
	ctx := context.Background()
	driver, _ := newTestDriver(t, 0)
	now := time.Now().UTC()
	require.NoError(t, driver.Insert(ctx, "items", item("a", "a", 1, now, nil), store.InsertUpsert))

	boom := storeerr.User("test", "abort")
	err := driver.Transact(ctx, func(ctx context.Context, tx store.Mutator) error {
		if _, err := tx.Delete(ctx, "items", filter.Filter{"id": "a"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	row, err := driver.Get(ctx, "items", store.Row{"id": "a"})
	require.NoError(t, err)
	assert.NotNil(t, row)

	err = driver.Transact(ctx, func(ctx context.Context, tx store.Mutator) error {
		if err := tx.Insert(ctx, "items", item("b", "b", 2, now, nil), store.InsertUpsert); err != nil {
			return err
		}
		n, err := tx.Update(ctx, "items", store.Row{"id": "b"}, store.Row{"name": "B"})
		if err != nil {
			return err
		}
		assert.Equal(t, int64(1), n)
		n, err = tx.Delete(ctx, "items", filter.Filter{"name": filter.Filter{"$in": []any{"a", "B"}}})
		assert.Equal(t, int64(2), n)
		return err
	})
	require.NoError(t, err)
	n, err := driver.Count(ctx, "items", nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSchemaEvolution(t *testing.T) {
	ctx := context.Background()
	driver, mr := newTestDriver(t, 0)
	require.NoError(t, driver.Insert(ctx, "items", item("a", "a", 1, time.Now(), nil), store.InsertUpsert))

	require.NoError(t, driver.AlterTable(ctx, "items", []store.Column{
		{Name: "name", Type: store.ColumnText},
		{Name: "tier", Type: store.ColumnText, Default: "free"},
	}))
	row, err := driver.Get(ctx, "items", store.Row{"id": "a"})
	require.NoError(t, err)
	assert.Equal(t, "free", row["tier"])

	// A second process sees the persisted schema.
	other := newDriverOn(t, mr, 0)
	cols, err := other.ListColumns(ctx, "items")
	require.NoError(t, err)
	assert.Contains(t, cols, "tier")
	assert.Len(t, cols, len(itemSchema.Columns)+1)

	require.NoError(t, driver.RenameTable(ctx, "items", "items_old"))
	exists, err := driver.TableExists(ctx, "items")
	require.NoError(t, err)
	assert.False(t, exists)
	row, err = driver.Get(ctx, "items_old", store.Row{"id": "a"})
	require.NoError(t, err)
	assert.Equal(t, "a", row["name"])

	require.NoError(t, driver.CreateTable(ctx, itemSchema))
	err = driver.RenameTable(ctx, "items_old", "items")
	assert.True(t, storeerr.IsUser(err))

	require.NoError(t, driver.DropTable(ctx, "items_old"))
	exists, err = driver.TableExists(ctx, "items_old")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.False(t, mr.Exists(rowKey("items_old", `["a"]`)))
}

func TestIndexesUnsupported(t *testing.T) {
	ctx := context.Background()
	driver, _ := newTestDriver(t, 0)
	err := driver.CreateIndex(ctx, &store.IndexDefinition{Name: "items_name", Table: "items", Columns: []string{"name"}})
	assert.True(t, storeerr.IsUser(err))
	list, err := driver.ListIndexes(ctx, "items")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestExplain(t *testing.T) {
	driver, _ := newTestDriver(t, 0)
	out, err := driver.Explain("items", filter.Filter{"name": "a"})
	require.NoError(t, err)
	assert.Contains(t, out, "client-side match")
}
