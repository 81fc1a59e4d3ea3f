package sqlcommon

import (
	"context"
	"log/slog"

	"github.com/hrygo/polystore/internal/storeerr"
	"github.com/hrygo/polystore/store"
)

// CreateIndex creates the index if missing and waits for asynchronous builds.
func (e *Engine) CreateIndex(ctx context.Context, def *store.IndexDefinition) error {
	if err := store.ValidateIndex(e.op("createIndex"), def); err != nil {
		return err
	}
	if schema := e.schema(def.Table); schema != nil {
		for _, c := range def.Columns {
			if _, ok := schema.Column(c); !ok {
				return storeerr.Userf(e.op("createIndex"), "unknown column %s on table %s", c, def.Table).
					With("index", def.Name).With("column", c)
			}
		}
	}
	query, err := e.dialect.CreateIndexSQL(def)
	if err != nil {
		return err
	}
	if err := e.do(ctx, "createIndex", func(ctx context.Context) error {
		_, err := e.db.ExecContext(ctx, query)
		return err
	}); err != nil {
		return err
	}
	if e.caps.AsyncIndex {
		if err := e.dialect.WaitIndex(ctx, e.db, def); err != nil {
			return err
		}
	}
	slog.Info("index ready",
		slog.String("backend", e.dialect.Name()),
		slog.String("table", def.Table),
		slog.String("index", def.Name),
	)
	return nil
}

func (e *Engine) DropIndex(ctx context.Context, table, name string) error {
	if !store.ValidIndexName(name) {
		return storeerr.Userf(e.op("dropIndex"), "invalid index name %q", name).With("index", name)
	}
	query := e.dialect.DropIndexSQL(table, name)
	return e.do(ctx, "dropIndex", func(ctx context.Context) error {
		_, err := e.db.ExecContext(ctx, query)
		return err
	})
}

func (e *Engine) ListIndexes(ctx context.Context, table string) ([]*store.IndexInfo, error) {
	var list []*store.IndexInfo
	err := e.do(ctx, "listIndexes", func(ctx context.Context) error {
		var err error
		list, err = e.dialect.ListIndexes(ctx, e.db, table)
		return err
	})
	return list, err
}

func (e *Engine) DescribeIndex(ctx context.Context, table, name string) (*store.IndexInfo, error) {
	list, err := e.ListIndexes(ctx, table)
	if err != nil {
		return nil, err
	}
	for _, info := range list {
		if info.Name == name {
			return info, nil
		}
	}
	return nil, nil
}
