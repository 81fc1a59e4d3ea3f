package redis

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/hrygo/polystore/internal/resilience"
	"github.com/hrygo/polystore/internal/storeerr"
	"github.com/hrygo/polystore/store"
	"github.com/hrygo/polystore/store/filter"
)

func (d *DB) saveSchema(ctx context.Context, op string, schema *store.TableSchema) error {
	data, err := json.Marshal(schema)
	if err != nil {
		return storeerr.System(d.op(op), "schema is not serializable", err).With("table", schema.Name)
	}
	err = d.do(ctx, op, func(ctx context.Context) error {
		_, err := d.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, schemaKey(schema.Name), data, 0)
			pipe.SAdd(ctx, tablesKey(), schema.Name)
			return nil
		})
		return err
	})
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.schemas[schema.Name] = schema
	d.mu.Unlock()
	return nil
}

// CreateTable persists the schema. Rows need no DDL.
func (d *DB) CreateTable(ctx context.Context, schema *store.TableSchema) error {
	if schema == nil || schema.Name == "" || len(schema.Columns) == 0 {
		return storeerr.User(d.op("createTable"), "table schema needs a name and columns")
	}
	if len(schema.PrimaryKey()) == 0 {
		return storeerr.Userf(d.op("createTable"), "table %s has no primary key", schema.Name).With("table", schema.Name)
	}
	return d.saveSchema(ctx, "createTable", schema.WithName(schema.Name))
}

// AlterTable extends the stored schema. Existing rows report the default of
// an added column when they are read.
func (d *DB) AlterTable(ctx context.Context, table string, add []store.Column) error {
	schema, err := d.registered(ctx, "alterTable", table)
	if err != nil {
		return err
	}
	updated := schema.WithName(table)
	changed := false
	for _, col := range add {
		if _, exists := updated.Column(col.Name); exists {
			continue
		}
		updated.Columns = append(updated.Columns, col)
		changed = true
	}
	if !changed {
		return nil
	}
	return d.saveSchema(ctx, "alterTable", updated)
}

func (d *DB) DropTable(ctx context.Context, table string) error {
	var ids []string
	err := d.do(ctx, "dropTable", func(ctx context.Context) error {
		var err error
		ids, err = d.client.SMembers(ctx, idsKey(table)).Result()
		return err
	})
	if err != nil {
		return err
	}
	for _, chunk := range resilience.Chunk(ids, scanChunk) {
		keys := make([]string, len(chunk))
		for i, id := range chunk {
			keys[i] = rowKey(table, id)
		}
		if err := d.do(ctx, "dropTable", func(ctx context.Context) error {
			return d.client.Del(ctx, keys...).Err()
		}); err != nil {
			return err
		}
	}
	err = d.do(ctx, "dropTable", func(ctx context.Context) error {
		_, err := d.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, idsKey(table), schemaKey(table))
			pipe.SRem(ctx, tablesKey(), table)
			return nil
		})
		return err
	})
	d.forget(table)
	return err
}

// RenameTable renames every row key, the id set and the schema. The target
// must not exist.
func (d *DB) RenameTable(ctx context.Context, from, to string) error {
	schema, err := d.registered(ctx, "renameTable", from)
	if err != nil {
		return err
	}
	exists, err := d.TableExists(ctx, to)
	if err != nil {
		return err
	}
	if exists {
		return storeerr.Userf(d.op("renameTable"), "table %s already exists", to).With("table", to)
	}

	var ids []string
	if err := d.do(ctx, "renameTable", func(ctx context.Context) error {
		var err error
		ids, err = d.client.SMembers(ctx, idsKey(from)).Result()
		return err
	}); err != nil {
		return err
	}
	for _, chunk := range resilience.Chunk(ids, scanChunk) {
		if err := d.do(ctx, "renameTable", func(ctx context.Context) error {
			_, err := d.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
				for _, id := range chunk {
					pipe.Rename(ctx, rowKey(from, id), rowKey(to, id))
				}
				return nil
			})
			if err != nil && !isNoSuchKey(err) {
				return err
			}
			return nil
		}); err != nil {
			return err
		}
	}
	if len(ids) > 0 {
		if err := d.do(ctx, "renameTable", func(ctx context.Context) error {
			return d.client.Rename(ctx, idsKey(from), idsKey(to)).Err()
		}); err != nil {
			return err
		}
	}
	if err := d.saveSchema(ctx, "renameTable", schema.WithName(to)); err != nil {
		return err
	}
	err = d.do(ctx, "renameTable", func(ctx context.Context) error {
		_, err := d.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, schemaKey(from))
			pipe.SRem(ctx, tablesKey(), from)
			return nil
		})
		return err
	})
	d.forget(from)
	slog.Info("renamed table", slog.String("from", from), slog.String("to", to), slog.Int("rows", len(ids)))
	return err
}

// isNoSuchKey reports a RENAME of a row that was deleted concurrently.
func isNoSuchKey(err error) bool {
	return err != nil && err.Error() == "ERR no such key"
}

func (d *DB) TableExists(ctx context.Context, table string) (bool, error) {
	var exists bool
	err := d.do(ctx, "tableExists", func(ctx context.Context) error {
		var err error
		exists, err = d.client.SIsMember(ctx, tablesKey(), table).Result()
		return err
	})
	return exists, err
}

// ListColumns returns the schema columns plus any other field of a sampled
// row.
func (d *DB) ListColumns(ctx context.Context, table string) ([]string, error) {
	schema, err := d.schema(ctx, table)
	if err != nil || schema == nil {
		return nil, err
	}
	names := schema.ColumnNames()
	var sample []byte
	err = d.do(ctx, "listColumns", func(ctx context.Context) error {
		id, err := d.client.SRandMember(ctx, idsKey(table)).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		sample, err = d.client.Get(ctx, rowKey(table, id)).Bytes()
		if errors.Is(err, redis.Nil) {
			sample, err = nil, nil
		}
		return err
	})
	if err != nil || sample == nil {
		return names, err
	}
	doc, err := decodeDocument(schema, sample)
	if err != nil {
		return nil, err
	}
	var extra []string
	for key := range doc {
		if _, ok := schema.Column(key); !ok {
			extra = append(extra, key)
		}
	}
	sort.Strings(extra)
	return append(names, extra...), nil
}

func (d *DB) Insert(ctx context.Context, table string, row store.Row, mode store.InsertMode) error {
	return d.atomic(ctx, "insert", func(ctx context.Context, m *txMutator) error {
		return m.Insert(ctx, table, row, mode)
	})
}

func (d *DB) Update(ctx context.Context, table string, keys, set store.Row) (int64, error) {
	var n int64
	err := d.atomic(ctx, "update", func(ctx context.Context, m *txMutator) error {
		var err error
		n, err = m.Update(ctx, table, keys, set)
		return err
	})
	return n, err
}

func (d *DB) Delete(ctx context.Context, table string, f filter.Filter) (int64, error) {
	var n int64
	err := d.atomic(ctx, "delete", func(ctx context.Context, m *txMutator) error {
		var err error
		n, err = m.Delete(ctx, table, f)
		return err
	})
	return n, err
}

// BatchInsert commits one transaction per chunk.
func (d *DB) BatchInsert(ctx context.Context, table string, rows []store.Row, mode store.InsertMode) error {
	schema, err := d.registered(ctx, "batchInsert", table)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if _, err := encodeRow(schema, row, false); err != nil {
			return err
		}
	}
	return resilience.ForEachChunk(ctx, rows, d.caps.MaxBatchRows, func(ctx context.Context, _ int, chunk []store.Row) error {
		return d.atomic(ctx, "batchInsert", func(ctx context.Context, m *txMutator) error {
			for _, row := range chunk {
				if err := m.insert(ctx, schema, row, mode); err != nil {
					return err
				}
			}
			return nil
		})
	})
}

func (d *DB) BatchUpdate(ctx context.Context, table string, updates []store.RowUpdate) error {
	schema, err := d.registered(ctx, "batchUpdate", table)
	if err != nil {
		return err
	}
	now := time.Now()
	return resilience.ForEachChunk(ctx, updates, d.caps.MaxBatchRows, func(ctx context.Context, _ int, chunk []store.RowUpdate) error {
		return d.atomic(ctx, "batchUpdate", func(ctx context.Context, m *txMutator) error {
			for _, u := range chunk {
				if _, err := m.update(ctx, schema, u.Keys, u.Set, now); err != nil {
					return err
				}
			}
			return nil
		})
	})
}

func (d *DB) BatchDelete(ctx context.Context, table string, keys []store.Row) error {
	schema, err := d.registered(ctx, "batchDelete", table)
	if err != nil {
		return err
	}
	ids := make([]string, len(keys))
	for i, k := range keys {
		if ids[i], err = rowID(schema, k); err != nil {
			return err
		}
	}
	return resilience.ForEachChunk(ctx, ids, d.caps.MaxBatchRows, func(ctx context.Context, _ int, chunk []string) error {
		return d.atomic(ctx, "batchDelete", func(ctx context.Context, m *txMutator) error {
			for _, id := range chunk {
				m.remove(table, id)
			}
			return nil
		})
	})
}

func (d *DB) Get(ctx context.Context, table string, keys store.Row) (store.Row, error) {
	schema, err := d.registered(ctx, "get", table)
	if err != nil {
		return nil, err
	}
	id, err := rowID(schema, keys)
	if err != nil {
		return nil, err
	}
	var data []byte
	err = d.do(ctx, "get", func(ctx context.Context) error {
		var err error
		data, err = d.client.Get(ctx, rowKey(table, id)).Bytes()
		if errors.Is(err, redis.Nil) {
			data, err = nil, nil
		}
		return err
	})
	if err != nil || data == nil {
		return nil, err
	}
	doc, err := decodeDocument(schema, data)
	if err != nil {
		return nil, err
	}
	return decodeRow(schema, doc)
}

func (d *DB) selectRows(ctx context.Context, op, table string, f filter.Filter) ([]store.Row, error) {
	schema, err := d.registered(ctx, op, table)
	if err != nil {
		return nil, err
	}
	match, err := filter.CompileMatcher(f)
	if err != nil {
		return nil, err
	}
	var rows []store.Row
	err = d.do(ctx, op, func(ctx context.Context) error {
		rows = rows[:0]
		return scan(ctx, d.client, schema, nil, func(_ string, row store.Row) error {
			if match(row) {
				rows = append(rows, row)
			}
			return nil
		})
	})
	return rows, err
}

// Query reads every row of the table and filters, orders and pages in memory.
func (d *DB) Query(ctx context.Context, table string, q *store.Query) ([]store.Row, error) {
	if q == nil {
		q = &store.Query{}
	}
	if q.Limit < 0 || q.Offset < 0 {
		return nil, storeerr.User(d.op("query"), "limit and offset must not be negative")
	}
	schema, err := d.registered(ctx, "query", table)
	if err != nil {
		return nil, err
	}
	for _, o := range q.OrderBy {
		if _, ok := schema.Column(o.Field); !ok {
			return nil, storeerr.Userf(d.op("query"), "unknown order field %s", o.Field).With("field", o.Field)
		}
	}
	rows, err := d.selectRows(ctx, "query", table, q.Filter)
	if err != nil {
		return nil, err
	}
	store.SortRows(rows, q.OrderBy)
	return store.PageRows(rows, q.Limit, q.Offset), nil
}

func (d *DB) Count(ctx context.Context, table string, f filter.Filter) (int64, error) {
	rows, err := d.selectRows(ctx, "count", table, f)
	return int64(len(rows)), err
}

func (d *DB) CreateIndex(_ context.Context, def *store.IndexDefinition) error {
	if err := store.ValidateIndex(d.op("createIndex"), def); err != nil {
		return err
	}
	return storeerr.User(d.op("createIndex"), "redis does not support secondary indexes").With("index", def.Name)
}

func (d *DB) DropIndex(_ context.Context, _ string, name string) error {
	return storeerr.User(d.op("dropIndex"), "redis does not support secondary indexes").With("index", name)
}

func (d *DB) ListIndexes(context.Context, string) ([]*store.IndexInfo, error) {
	return nil, nil
}

func (d *DB) DescribeIndex(context.Context, string, string) (*store.IndexInfo, error) {
	return nil, nil
}
