package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/polystore/internal/profile"
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

func newTestDriver(t *testing.T, maxBatchRows int) store.Driver {
	t.Helper()
	driver, err := NewDB(&profile.Profile{
		Driver:           profile.DriverSQLite,
		DSN:              ":memory:",
		MaxBatchRows:     maxBatchRows,
		RetryMaxAttempts: 1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = driver.Close() })
	require.NoError(t, driver.CreateTable(context.Background(), itemSchema))
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

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	driver := newTestDriver(t, 0)
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
}

func TestInsertModes(t *testing.T) {
	ctx := context.Background()
	driver := newTestDriver(t, 0)
	now := time.Now().UTC()

	require.NoError(t, driver.Insert(ctx, "items", item("a", "first", 1, now, nil), store.InsertUpsert))
	require.NoError(t, driver.Insert(ctx, "items", item("a", "second", 1, now, nil), store.InsertIfAbsent))
	row, err := driver.Get(ctx, "items", store.Row{"id": "a"})
	require.NoError(t, err)
	assert.Equal(t, "first", row["name"])

	require.NoError(t, driver.Insert(ctx, "items", item("a", "third", 1, now, nil), store.InsertUpsert))
	row, err = driver.Get(ctx, "items", store.Row{"id": "a"})
	require.NoError(t, err)
	assert.Equal(t, "third", row["name"])
}

func TestQueryFilterOrderAndPaging(t *testing.T) {
	ctx := context.Background()
	driver := newTestDriver(t, 0)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	var rows []store.Row
	for i := 0; i < 10; i++ {
		rows = append(rows, item(string(rune('a'+i)), "n", int64(i), base.Add(time.Duration(i)*time.Minute),
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

	// A string operand never matches a JSON number.
	n, err = driver.Count(ctx, "items", filter.Filter{"metadata.priority": "0"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	n, err = driver.Count(ctx, "items", filter.Filter{"createdAt": filter.Filter{"$lt": base.Add(3 * time.Minute)}})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = driver.Count(ctx, "items", filter.Filter{"active": true})
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	got, err = driver.Query(ctx, "items", &store.Query{Offset: 8, OrderBy: []store.Order{{Field: "id"}}})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestRegexUnsupported(t *testing.T) {
	driver := newTestDriver(t, 0)
	_, err := driver.Count(context.Background(), "items", filter.Filter{"name": filter.Filter{"$regex": "^a"}})
	require.Error(t, err)
	assert.True(t, storeerr.IsUser(err))
}

func TestDeleteRequiresFilter(t *testing.T) {
	driver := newTestDriver(t, 0)
	_, err := driver.Delete(context.Background(), "items", nil)
	require.Error(t, err)
	assert.True(t, storeerr.IsUser(err))
}

func TestBatchInsertPartialCommit(t *testing.T) {
	ctx := context.Background()
	driver := newTestDriver(t, 2)
	now := time.Now().UTC()

	rows := []store.Row{
		item("a", "a", 1, now, nil),
		item("b", "b", 2, now, nil),
		{"id": "c", "createdAt": now},
		item("d", "d", 4, now, nil),
	}
	err := driver.BatchInsert(ctx, "items", rows, store.InsertUpsert)
	require.Error(t, err)

	var chunkErr *resilience.ChunkError
	require.True(t, errors.As(err, &chunkErr))
	assert.Equal(t, 1, chunkErr.Index)
	assert.Equal(t, 2, chunkErr.Chunks)
	assert.Equal(t, 2, chunkErr.Committed)
	assert.Equal(t, storeerr.CategoryThirdParty, storeerr.CategoryOf(err))

	n, err := driver.Count(ctx, "items", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestBatchUpdateAndDelete(t *testing.T) {
	ctx := context.Background()
	driver := newTestDriver(t, 2)
	now := time.Now().UTC()
	require.NoError(t, driver.BatchInsert(ctx, "items", []store.Row{
		item("a", "a", 1, now, nil), item("b", "b", 2, now, nil), item("c", "c", 3, now, nil),
	}, store.InsertUpsert))

	require.NoError(t, driver.BatchUpdate(ctx, "items", []store.RowUpdate{
		{Keys: store.Row{"id": "a"}, Set: store.Row{"name": "A"}},
		{Keys: store.Row{"id": "c"}, Set: store.Row{"name": "C"}},
		{Keys: store.Row{"id": "zz"}, Set: store.Row{"name": "Z"}},
	}))
	n, err := driver.Count(ctx, "items", filter.Filter{"name": filter.Filter{"$in": []any{"A", "C"}}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.NoError(t, driver.BatchDelete(ctx, "items", []store.Row{{"id": "a"}, {"id": "b"}, {"id": "missing"}}))
	n, err = driver.Count(ctx, "items", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestTransactRollsBack(t *testing.T) {
	ctx := context.Background()
	driver := newTestDriver(t, 0)
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
}

func TestSchemaEvolution(t *testing.T) {
	ctx := context.Background()
	driver := newTestDriver(t, 0)

	exists, err := driver.TableExists(ctx, "items")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, driver.AlterTable(ctx, "items", []store.Column{
		{Name: "name", Type: store.ColumnText},
		{Name: "note", Type: store.ColumnText, Nullable: true},
	}))
	cols, err := driver.ListColumns(ctx, "items")
	require.NoError(t, err)
	assert.Contains(t, cols, "note")
	assert.Len(t, cols, len(itemSchema.Columns)+1)

	require.NoError(t, driver.RenameTable(ctx, "items", "items_old"))
	exists, err = driver.TableExists(ctx, "items")
	require.NoError(t, err)
	assert.False(t, exists)
	require.NoError(t, driver.Insert(ctx, "items_old", item("a", "a", 1, time.Now(), nil), store.InsertUpsert))

	require.NoError(t, driver.DropTable(ctx, "items_old"))
	exists, err = driver.TableExists(ctx, "items_old")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestIndexLifecycle(t *testing.T) {
	ctx := context.Background()
	driver := newTestDriver(t, 0)

	def := &store.IndexDefinition{Name: "items_name_size", Table: "items", Columns: []string{"name", "size"}, Unique: true}
	require.NoError(t, driver.CreateIndex(ctx, def))
	require.NoError(t, driver.CreateIndex(ctx, def))

	info, err := driver.DescribeIndex(ctx, "items", "items_name_size")
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.True(t, info.Unique)
	assert.Equal(t, []string{"name", "size"}, info.Columns)

	err = driver.CreateIndex(ctx, &store.IndexDefinition{Name: "bad", Table: "items", Columns: []string{"name"}, Method: "gin"})
	assert.True(t, storeerr.IsUser(err))

	require.NoError(t, driver.DropIndex(ctx, "items", "items_name_size"))
	info, err = driver.DescribeIndex(ctx, "items", "items_name_size")
	require.NoError(t, err)
	assert.Nil(t, info)
}

func TestExplain(t *testing.T) {
	driver := newTestDriver(t, 0)
	out, err := driver.Explain("items", filter.Filter{"metadata.label": "p"})
	require.NoError(t, err)
	assert.Contains(t, out, `json_extract("metadata", '$.label')`)
}
