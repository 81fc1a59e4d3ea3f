package qdrant

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/qdrant/go-client/qdrant"

	"github.com/hrygo/polystore/internal/resilience"
	"github.com/hrygo/polystore/internal/storeerr"
	"github.com/hrygo/polystore/store"
	"github.com/hrygo/polystore/store/filter"
)

var errStopScroll = errors.New("stop scroll")

// CreateTable creates the collection when missing and registers its schema.
func (d *DB) CreateTable(ctx context.Context, schema *store.TableSchema) error {
	if schema == nil || schema.Name == "" || len(schema.Columns) == 0 {
		return storeerr.User(d.op("createTable"), "table schema needs a name and columns")
	}
	if err := d.ensureCollection(ctx, schema.Name); err != nil {
		return err
	}
	d.mu.Lock()
	d.schemas[schema.Name] = schema.WithName(schema.Name)
	d.mu.Unlock()
	return nil
}

func (d *DB) ensureCollection(ctx context.Context, name string) error {
	exists, err := d.TableExists(ctx, name)
	if err != nil || exists {
		return err
	}
	return d.do(ctx, "createTable", func(ctx context.Context) error {
		err := d.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     1,
				Distance: qdrant.Distance_Dot,
			}),
		})
		if isAlreadyExists(err) {
			return nil
		}
		return err
	})
}

// AlterTable only extends the registered schema; payloads are schemaless.
// Added columns are always nullable since existing points lack them.
func (d *DB) AlterTable(_ context.Context, table string, add []store.Column) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	schema, ok := d.schemas[table]
	if !ok {
		return storeerr.Userf(d.op("alterTable"), "table %s is not registered", table).With("table", table)
	}
	updated := schema.WithName(table)
	for _, col := range add {
		if _, exists := updated.Column(col.Name); exists {
			continue
		}
		col.Nullable = true
		updated.Columns = append(updated.Columns, col)
	}
	d.schemas[table] = updated
	return nil
}

func (d *DB) DropTable(ctx context.Context, table string) error {
	exists, err := d.TableExists(ctx, table)
	if err != nil {
		return err
	}
	if exists {
		if err := d.do(ctx, "dropTable", func(ctx context.Context) error {
			err := d.client.DeleteCollection(ctx, table)
			if isNotFound(err) {
				return nil
			}
			return err
		}); err != nil {
			return err
		}
	}
	d.mu.Lock()
	delete(d.schemas, table)
	for key := range d.indexes {
		if indexTable(key) == table {
			delete(d.indexes, key)
		}
	}
	d.mu.Unlock()
	return nil
}

// RenameTable copies every point into a new collection and drops the old
// one. Collections cannot be renamed in place. A failure midway leaves both
// collections; running the rename again completes it.
func (d *DB) RenameTable(ctx context.Context, from, to string) error {
	if err := d.ensureCollection(ctx, to); err != nil {
		return err
	}
	copied := 0
	err := d.scroll(ctx, "renameTable", from, nil, func(points []*qdrant.RetrievedPoint) error {
		batch := make([]*qdrant.PointStruct, len(points))
		for i, p := range points {
			batch[i] = &qdrant.PointStruct{Id: p.GetId(), Payload: p.GetPayload(), Vectors: placeholderVector()}
		}
		copied += len(batch)
		return d.upsert(ctx, "renameTable", to, batch)
	})
	if err != nil {
		return err
	}
	if err := d.do(ctx, "renameTable", func(ctx context.Context) error {
		return d.client.DeleteCollection(ctx, from)
	}); err != nil {
		return err
	}
	slog.Info("renamed collection", slog.String("from", from), slog.String("to", to), slog.Int("points", copied))

	d.mu.Lock()
	if schema, ok := d.schemas[from]; ok {
		d.schemas[to] = schema.WithName(to)
		delete(d.schemas, from)
	}
	d.mu.Unlock()
	return nil
}

func (d *DB) TableExists(ctx context.Context, table string) (bool, error) {
	var exists bool
	err := d.do(ctx, "tableExists", func(ctx context.Context) error {
		var err error
		exists, err = d.client.CollectionExists(ctx, table)
		return err
	})
	return exists, err
}

// ListColumns returns the registered columns plus the payload keys of a
// sampled point, which is how columns of unregistered collections are found.
func (d *DB) ListColumns(ctx context.Context, table string) ([]string, error) {
	exists, err := d.TableExists(ctx, table)
	if err != nil || !exists {
		return nil, err
	}
	seen := map[string]bool{}
	var names []string
	if schema := d.schema(table); schema != nil {
		for _, name := range schema.ColumnNames() {
			seen[name] = true
			names = append(names, name)
		}
	}
	var sampled []*qdrant.RetrievedPoint
	err = d.do(ctx, "listColumns", func(ctx context.Context) error {
		var err error
		sampled, _, err = d.client.ScrollAndOffset(ctx, &qdrant.ScrollPoints{
			CollectionName: table,
			Limit:          qdrant.PtrOf(uint32(1)),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	var extra []string
	for _, p := range sampled {
		for _, key := range payloadKeys(p.GetPayload()) {
			if !seen[key] {
				seen[key] = true
				extra = append(extra, key)
			}
		}
	}
	sort.Strings(extra)
	return append(names, extra...), nil
}

func (d *DB) upsert(ctx context.Context, op, table string, points []*qdrant.PointStruct) error {
	if len(points) == 0 {
		return nil
	}
	return d.do(ctx, op, func(ctx context.Context) error {
		_, err := d.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: table,
			Wait:           qdrant.PtrOf(true),
			Points:         points,
		})
		return err
	})
}

func (d *DB) fetch(ctx context.Context, op, table string, ids []*qdrant.PointId) ([]*qdrant.RetrievedPoint, error) {
	var points []*qdrant.RetrievedPoint
	err := d.do(ctx, op, func(ctx context.Context) error {
		var err error
		points, err = d.client.Get(ctx, &qdrant.GetPoints{
			CollectionName: table,
			Ids:            ids,
			WithPayload:    qdrant.NewWithPayload(true),
		})
		return err
	})
	return points, err
}

func (d *DB) toPoints(op, table string, rows []store.Row) ([]*qdrant.PointStruct, error) {
	schema, err := d.registered(op, table)
	if err != nil {
		return nil, err
	}
	points := make([]*qdrant.PointStruct, len(rows))
	for i, row := range rows {
		id, err := pointID(schema, row)
		if err != nil {
			return nil, err
		}
		payload, err := encodeRow(schema, row)
		if err != nil {
			return nil, err
		}
		points[i] = &qdrant.PointStruct{Id: id, Payload: payload, Vectors: placeholderVector()}
	}
	return points, nil
}

// absent drops the points that already exist.
func (d *DB) absent(ctx context.Context, op, table string, points []*qdrant.PointStruct) ([]*qdrant.PointStruct, error) {
	ids := make([]*qdrant.PointId, len(points))
	for i, p := range points {
		ids[i] = p.GetId()
	}
	existing, err := d.fetch(ctx, op, table, ids)
	if err != nil {
		return nil, err
	}
	found := make(map[string]bool, len(existing))
	for _, p := range existing {
		found[p.GetId().GetUuid()] = true
	}
	out := points[:0:0]
	for _, p := range points {
		if !found[p.GetId().GetUuid()] {
			out = append(out, p)
		}
	}
	return out, nil
}

// Insert writes one point. InsertIfAbsent checks for the point first, so
// concurrent writers of the same key may both succeed.
func (d *DB) Insert(ctx context.Context, table string, row store.Row, mode store.InsertMode) error {
	return d.BatchInsert(ctx, table, []store.Row{row}, mode)
}

func (d *DB) BatchInsert(ctx context.Context, table string, rows []store.Row, mode store.InsertMode) error {
	if len(rows) == 0 {
		return nil
	}
	points, err := d.toPoints("insert", table, rows)
	if err != nil {
		return err
	}
	return resilience.ForEachChunk(ctx, points, d.caps.MaxBatchRows, func(ctx context.Context, _ int, chunk []*qdrant.PointStruct) error {
		if mode == store.InsertIfAbsent {
			var err error
			if chunk, err = d.absent(ctx, "insert", table, chunk); err != nil {
				return err
			}
		}
		return d.upsert(ctx, "insert", table, chunk)
	})
}

func (d *DB) Update(ctx context.Context, table string, keys, set store.Row) (int64, error) {
	var n int64
	err := d.updateChunk(ctx, table, []store.RowUpdate{{Keys: keys, Set: set}}, &n)
	return n, err
}

func (d *DB) BatchUpdate(ctx context.Context, table string, updates []store.RowUpdate) error {
	return resilience.ForEachChunk(ctx, updates, d.caps.MaxBatchRows, func(ctx context.Context, _ int, chunk []store.RowUpdate) error {
		return d.updateChunk(ctx, table, chunk, nil)
	})
}

// updateChunk reads the targeted points, merges the new values into their
// payloads and writes them back. Missing targets are skipped.
func (d *DB) updateChunk(ctx context.Context, table string, updates []store.RowUpdate, affected *int64) error {
	schema, err := d.registered("update", table)
	if err != nil {
		return err
	}
	now := time.Now()
	ids := make([]*qdrant.PointId, len(updates))
	sets := make(map[string]map[string]*qdrant.Value, len(updates))
	for i, u := range updates {
		id, err := pointID(schema, u.Keys)
		if err != nil {
			return err
		}
		for _, k := range schema.PrimaryKey() {
			if _, ok := u.Set[k]; ok {
				return storeerr.Userf(d.op("update"), "primary key column %s cannot be updated", k).With("column", k)
			}
		}
		payload, err := encodeRow(schema, store.StampUpdatedAt(schema, u.Set, now))
		if err != nil {
			return err
		}
		ids[i] = id
		sets[id.GetUuid()] = payload
	}

	existing, err := d.fetch(ctx, "update", table, ids)
	if err != nil {
		return err
	}
	points := make([]*qdrant.PointStruct, 0, len(existing))
	for _, p := range existing {
		payload := p.GetPayload()
		if payload == nil {
			payload = map[string]*qdrant.Value{}
		}
		for k, v := range sets[p.GetId().GetUuid()] {
			payload[k] = v
		}
		points = append(points, &qdrant.PointStruct{Id: p.GetId(), Payload: payload, Vectors: placeholderVector()})
	}
	if affected != nil {
		*affected = int64(len(points))
	}
	return d.upsert(ctx, "update", table, points)
}

// Delete counts the matching points and then deletes them by filter; the
// count is exact only without concurrent writers.
func (d *DB) Delete(ctx context.Context, table string, f filter.Filter) (int64, error) {
	if len(f) == 0 {
		return 0, storeerr.User(d.op("delete"), "delete requires a filter").With("table", table)
	}
	qf, err := Translate(d.schema(table), f)
	if err != nil {
		return 0, err
	}
	n, err := d.count(ctx, table, qf)
	if err != nil || n == 0 {
		return 0, err
	}
	err = d.do(ctx, "delete", func(ctx context.Context) error {
		_, err := d.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: table,
			Wait:           qdrant.PtrOf(true),
			Points:         qdrant.NewPointsSelectorFilter(qf),
		})
		return err
	})
	return n, err
}

func (d *DB) BatchDelete(ctx context.Context, table string, keys []store.Row) error {
	schema, err := d.registered("batchDelete", table)
	if err != nil {
		return err
	}
	ids := make([]*qdrant.PointId, len(keys))
	for i, k := range keys {
		if ids[i], err = pointID(schema, k); err != nil {
			return err
		}
	}
	return resilience.ForEachChunk(ctx, ids, d.caps.MaxBatchRows, func(ctx context.Context, _ int, chunk []*qdrant.PointId) error {
		return d.do(ctx, "batchDelete", func(ctx context.Context) error {
			_, err := d.client.Delete(ctx, &qdrant.DeletePoints{
				CollectionName: table,
				Wait:           qdrant.PtrOf(true),
				Points:         qdrant.NewPointsSelector(chunk...),
			})
			return err
		})
	})
}

func (d *DB) Get(ctx context.Context, table string, keys store.Row) (store.Row, error) {
	schema, err := d.registered("get", table)
	if err != nil {
		return nil, err
	}
	id, err := pointID(schema, keys)
	if err != nil {
		return nil, err
	}
	points, err := d.fetch(ctx, "get", table, []*qdrant.PointId{id})
	if err != nil || len(points) == 0 {
		return nil, err
	}
	return decodePoint(schema, points[0].GetPayload())
}

// Query scrolls every matching point, then orders and pages client-side.
// Without an order the scroll stops once offset+limit points were read.
func (d *DB) Query(ctx context.Context, table string, q *store.Query) ([]store.Row, error) {
	if q == nil {
		q = &store.Query{}
	}
	if q.Limit < 0 || q.Offset < 0 {
		return nil, storeerr.User(d.op("query"), "limit and offset must not be negative")
	}
	schema := d.schema(table)
	qf, err := Translate(schema, q.Filter)
	if err != nil {
		return nil, err
	}
	if schema != nil {
		for _, o := range q.OrderBy {
			if _, ok := schema.Column(o.Field); !ok {
				return nil, storeerr.Userf(d.op("query"), "unknown order field %s", o.Field).With("field", o.Field)
			}
		}
	}

	want := 0
	if len(q.OrderBy) == 0 && q.Limit > 0 {
		want = q.Offset + q.Limit
	}
	var rows []store.Row
	err = d.scroll(ctx, "query", table, qf, func(points []*qdrant.RetrievedPoint) error {
		for _, p := range points {
			row, err := decodePoint(schema, p.GetPayload())
			if err != nil {
				return err
			}
			rows = append(rows, row)
			if want > 0 && len(rows) >= want {
				return errStopScroll
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	store.SortRows(rows, q.OrderBy)
	return store.PageRows(rows, q.Limit, q.Offset), nil
}

func (d *DB) Count(ctx context.Context, table string, f filter.Filter) (int64, error) {
	qf, err := Translate(d.schema(table), f)
	if err != nil {
		return 0, err
	}
	return d.count(ctx, table, qf)
}

func (d *DB) count(ctx context.Context, table string, qf *qdrant.Filter) (int64, error) {
	var n uint64
	err := d.do(ctx, "count", func(ctx context.Context) error {
		var err error
		n, err = d.client.Count(ctx, &qdrant.CountPoints{
			CollectionName: table,
			Filter:         qf,
			Exact:          qdrant.PtrOf(true),
		})
		return err
	})
	return int64(n), err
}

// scroll pages through the points matching qf. fn may return errStopScroll
// to end early.
func (d *DB) scroll(ctx context.Context, op, table string, qf *qdrant.Filter, fn func([]*qdrant.RetrievedPoint) error) error {
	var offset *qdrant.PointId
	for {
		var (
			points []*qdrant.RetrievedPoint
			next   *qdrant.PointId
		)
		err := d.do(ctx, op, func(ctx context.Context) error {
			var err error
			points, next, err = d.client.ScrollAndOffset(ctx, &qdrant.ScrollPoints{
				CollectionName: table,
				Filter:         qf,
				Offset:         offset,
				Limit:          qdrant.PtrOf(uint32(scrollPageSize)),
				WithPayload:    qdrant.NewWithPayload(true),
			})
			return err
		})
		if err != nil {
			return err
		}
		if err := fn(points); err != nil {
			if errors.Is(err, errStopScroll) {
				return nil
			}
			return err
		}
		if next == nil || len(points) == 0 {
			return nil
		}
		offset = next
	}
}
