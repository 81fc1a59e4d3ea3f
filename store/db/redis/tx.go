package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/hrygo/polystore/internal/storeerr"
	"github.com/hrygo/polystore/store"
	"github.com/hrygo/polystore/store/filter"
)

// reader is the read surface shared by clients and WATCH transactions.
type reader interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
}

// txMutator reads under WATCH and queues writes for one MULTI/EXEC. Reads
// see the documents already written in the same transaction.
type txMutator struct {
	d       *DB
	tx      *redis.Tx
	queue   []func(pipe redis.Pipeliner)
	written map[string]document
}

var _ store.Mutator = (*txMutator)(nil)

// atomic runs fn inside an optimistic transaction. A concurrent write to a
// watched key aborts the EXEC; the retry policy then reruns fn from scratch.
func (d *DB) atomic(ctx context.Context, op string, fn func(ctx context.Context, m *txMutator) error) error {
	return d.do(ctx, op, func(ctx context.Context) error {
		return d.client.Watch(ctx, func(tx *redis.Tx) error {
			m := &txMutator{d: d, tx: tx, written: map[string]document{}}
			if err := fn(ctx, m); err != nil {
				return err
			}
			if len(m.queue) == 0 {
				return nil
			}
			_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				for _, q := range m.queue {
					q(pipe)
				}
				return nil
			})
			return err
		})
	})
}

func (d *DB) Transact(ctx context.Context, fn func(ctx context.Context, tx store.Mutator) error) error {
	return d.atomic(ctx, "transact", func(ctx context.Context, m *txMutator) error {
		return fn(ctx, m)
	})
}

// load returns the current document of key, or nil when absent.
func (m *txMutator) load(ctx context.Context, schema *store.TableSchema, key string) (document, error) {
	if doc, ok := m.written[key]; ok {
		return doc, nil
	}
	if err := m.tx.Watch(ctx, key).Err(); err != nil {
		return nil, err
	}
	data, err := m.tx.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeDocument(schema, data)
}

func (m *txMutator) put(table, id string, doc document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return storeerr.System(m.d.op("encode"), "row is not serializable", err).With("table", table)
	}
	key := rowKey(table, id)
	m.written[key] = doc
	m.queue = append(m.queue, func(pipe redis.Pipeliner) {
		pipe.Set(context.Background(), key, data, 0)
		pipe.SAdd(context.Background(), idsKey(table), id)
	})
	return nil
}

func (m *txMutator) remove(table, id string) {
	key := rowKey(table, id)
	m.written[key] = nil
	m.queue = append(m.queue, func(pipe redis.Pipeliner) {
		pipe.Del(context.Background(), key)
		pipe.SRem(context.Background(), idsKey(table), id)
	})
}

func (m *txMutator) Insert(ctx context.Context, table string, row store.Row, mode store.InsertMode) error {
	schema, err := m.d.registered(ctx, "insert", table)
	if err != nil {
		return err
	}
	return m.insert(ctx, schema, row, mode)
}

func (m *txMutator) insert(ctx context.Context, schema *store.TableSchema, row store.Row, mode store.InsertMode) error {
	id, err := rowID(schema, row)
	if err != nil {
		return err
	}
	doc, err := encodeRow(schema, row, true)
	if err != nil {
		return err
	}
	if mode == store.InsertIfAbsent {
		existing, err := m.load(ctx, schema, rowKey(schema.Name, id))
		if err != nil || existing != nil {
			return err
		}
	}
	return m.put(schema.Name, id, doc)
}

func (m *txMutator) Update(ctx context.Context, table string, keys, set store.Row) (int64, error) {
	schema, err := m.d.registered(ctx, "update", table)
	if err != nil {
		return 0, err
	}
	return m.update(ctx, schema, keys, set, time.Now())
}

func (m *txMutator) update(ctx context.Context, schema *store.TableSchema, keys, set store.Row, now time.Time) (int64, error) {
	for _, k := range schema.PrimaryKey() {
		if _, ok := set[k]; ok {
			return 0, storeerr.Userf(m.d.op("update"), "primary key column %s cannot be updated", k).With("column", k)
		}
	}
	id, err := rowID(schema, keys)
	if err != nil {
		return 0, err
	}
	changes, err := encodeRow(schema, store.StampUpdatedAt(schema, set, now), false)
	if err != nil {
		return 0, err
	}
	current, err := m.load(ctx, schema, rowKey(schema.Name, id))
	if err != nil || current == nil {
		return 0, err
	}
	merged := make(document, len(current)+len(changes))
	for k, v := range current {
		merged[k] = v
	}
	for k, v := range changes {
		merged[k] = v
	}
	return 1, m.put(schema.Name, id, merged)
}

func (m *txMutator) Delete(ctx context.Context, table string, f filter.Filter) (int64, error) {
	if len(f) == 0 {
		return 0, storeerr.User(m.d.op("delete"), "delete requires a filter").With("table", table)
	}
	schema, err := m.d.registered(ctx, "delete", table)
	if err != nil {
		return 0, err
	}
	match, err := filter.CompileMatcher(f)
	if err != nil {
		return 0, err
	}
	if err := m.tx.Watch(ctx, idsKey(table)).Err(); err != nil {
		return 0, err
	}
	var n int64
	err = scan(ctx, m.tx, schema, m.written, func(id string, row store.Row) error {
		if match(row) {
			m.remove(table, id)
			n++
		}
		return nil
	})
	return n, err
}

// scan decodes every row of a table. Documents written earlier in the same
// transaction take precedence over stored ones.
func scan(ctx context.Context, r reader, schema *store.TableSchema, written map[string]document, fn func(id string, row store.Row) error) error {
	ids, err := r.SMembers(ctx, idsKey(schema.Name)).Result()
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(ids))
	for start := 0; start < len(ids); start += scanChunk {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+scanChunk, len(ids))
		keys := make([]string, end-start)
		for i, id := range ids[start:end] {
			keys[i] = rowKey(schema.Name, id)
			seen[keys[i]] = true
		}
		values, err := r.MGet(ctx, keys...).Result()
		if err != nil {
			return err
		}
		for i, v := range values {
			doc, pending := written[keys[i]]
			if !pending {
				s, ok := v.(string)
				if !ok {
					// Dangling id; the row key is gone.
					continue
				}
				if doc, err = decodeDocument(schema, []byte(s)); err != nil {
					return err
				}
			}
			if doc == nil {
				continue
			}
			row, err := decodeRow(schema, doc)
			if err != nil {
				return err
			}
			if err := fn(ids[start+i], row); err != nil {
				return err
			}
		}
	}
	prefix := rowPrefix(schema.Name)
	for key, doc := range written {
		if seen[key] || doc == nil || len(key) <= len(prefix) || key[:len(prefix)] != prefix {
			continue
		}
		row, err := decodeRow(schema, doc)
		if err != nil {
			return err
		}
		if err := fn(key[len(prefix):], row); err != nil {
			return err
		}
	}
	return nil
}
