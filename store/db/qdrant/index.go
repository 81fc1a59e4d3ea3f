package qdrant

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/qdrant/go-client/qdrant"

	"github.com/hrygo/polystore/internal/resilience"
	"github.com/hrygo/polystore/internal/storeerr"
	"github.com/hrygo/polystore/store"
)

// fieldTypes are the index methods accepted in IndexDefinition.Method.
var fieldTypes = map[string]qdrant.FieldType{
	"keyword":  qdrant.FieldType_FieldTypeKeyword,
	"integer":  qdrant.FieldType_FieldTypeInteger,
	"float":    qdrant.FieldType_FieldTypeFloat,
	"bool":     qdrant.FieldType_FieldTypeBool,
	"datetime": qdrant.FieldType_FieldTypeDatetime,
	"text":     qdrant.FieldType_FieldTypeText,
	"uuid":     qdrant.FieldType_FieldTypeUuid,
}

func indexKey(table, name string) string { return table + "/" + name }

func indexTable(key string) string {
	table, _, _ := strings.Cut(key, "/")
	return table
}

// fieldType picks the payload index type of a field. An explicit method wins;
// otherwise the column type decides. Timestamps are stored as integers.
func (d *DB) fieldType(schema *store.TableSchema, def *store.IndexDefinition, field string) (qdrant.FieldType, error) {
	if def.Method != "" {
		ft, ok := fieldTypes[strings.ToLower(def.Method)]
		if !ok {
			return 0, storeerr.Userf(d.op("createIndex"), "unsupported index method %s", def.Method).With("index", def.Name)
		}
		return ft, nil
	}
	if schema == nil {
		return 0, storeerr.Userf(d.op("createIndex"), "table %s is not registered; set an index method", def.Table).With("index", def.Name)
	}
	t, ok := schema.FieldType(field)
	if !ok {
		return 0, storeerr.Userf(d.op("createIndex"), "unknown column %s on table %s", field, def.Table).
			With("index", def.Name).With("column", field)
	}
	nested := strings.Contains(field, ".")
	switch {
	case t == store.ColumnText:
		return qdrant.FieldType_FieldTypeKeyword, nil
	case t == store.ColumnInteger, t == store.ColumnTimestamp && !nested:
		return qdrant.FieldType_FieldTypeInteger, nil
	case t == store.ColumnNumber:
		return qdrant.FieldType_FieldTypeFloat, nil
	case t == store.ColumnBoolean:
		return qdrant.FieldType_FieldTypeBool, nil
	}
	return 0, storeerr.Userf(d.op("createIndex"), "field %s needs an explicit index method", field).
		With("index", def.Name).With("column", field)
}

// CreateIndex creates one payload index per column and waits until the
// collection reports all of them.
func (d *DB) CreateIndex(ctx context.Context, def *store.IndexDefinition) error {
	if err := store.ValidateIndex(d.op("createIndex"), def); err != nil {
		return err
	}
	switch {
	case def.Unique:
		return storeerr.User(d.op("createIndex"), "unique indexes are not supported").With("index", def.Name)
	case def.Where != "":
		return storeerr.User(d.op("createIndex"), "partial indexes are not supported").With("index", def.Name)
	case len(def.StorageParams) > 0 || def.Tablespace != "":
		return storeerr.User(d.op("createIndex"), "storage parameters and tablespaces are not supported").With("index", def.Name)
	}
	schema := d.schema(def.Table)
	types := make([]qdrant.FieldType, len(def.Columns))
	for i, field := range def.Columns {
		ft, err := d.fieldType(schema, def, field)
		if err != nil {
			return err
		}
		types[i] = ft
	}

	for i, field := range def.Columns {
		err := d.do(ctx, "createIndex", func(ctx context.Context) error {
			_, err := d.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
				CollectionName: def.Table,
				Wait:           qdrant.PtrOf(false),
				FieldName:      field,
				FieldType:      qdrant.PtrOf(types[i]),
			})
			return err
		})
		if err != nil {
			return err
		}
	}

	err := resilience.Poll(ctx, d.op("createIndex"), d.poll, d.timeout, func(ctx context.Context) (bool, error) {
		indexed, err := d.payloadSchema(ctx, def.Table)
		if err != nil {
			return false, err
		}
		for _, field := range def.Columns {
			if _, ok := indexed[field]; !ok {
				return false, nil
			}
		}
		return true, nil
	})
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.indexes[indexKey(def.Table, def.Name)] = append([]string(nil), def.Columns...)
	d.mu.Unlock()
	slog.Info("index ready",
		slog.String("backend", d.Name()),
		slog.String("table", def.Table),
		slog.String("index", def.Name),
	)
	return nil
}

func (d *DB) payloadSchema(ctx context.Context, table string) (map[string]*qdrant.PayloadSchemaInfo, error) {
	var info *qdrant.CollectionInfo
	err := d.do(ctx, "collectionInfo", func(ctx context.Context) error {
		var err error
		info, err = d.client.GetCollectionInfo(ctx, table)
		return err
	})
	if err != nil {
		return nil, err
	}
	return info.GetPayloadSchema(), nil
}

// DropIndex removes the payload indexes of a named index. A name that was
// never registered is treated as a field name. Missing indexes are ignored.
func (d *DB) DropIndex(ctx context.Context, table, name string) error {
	if !store.ValidIndexName(name) {
		return storeerr.Userf(d.op("dropIndex"), "invalid index name %q", name).With("index", name)
	}
	d.mu.RLock()
	fields, named := d.indexes[indexKey(table, name)]
	d.mu.RUnlock()
	if !named {
		fields = []string{name}
	}

	indexed, err := d.payloadSchema(ctx, table)
	if err != nil {
		return err
	}
	for _, field := range fields {
		if _, ok := indexed[field]; !ok {
			continue
		}
		err := d.do(ctx, "dropIndex", func(ctx context.Context) error {
			_, err := d.client.DeleteFieldIndex(ctx, &qdrant.DeleteFieldIndexCollection{
				CollectionName: table,
				Wait:           qdrant.PtrOf(true),
				FieldName:      field,
			})
			return err
		})
		if err != nil {
			return err
		}
	}
	d.mu.Lock()
	delete(d.indexes, indexKey(table, name))
	d.mu.Unlock()
	return nil
}

// ListIndexes reports named indexes whose fields are all indexed, then every
// remaining payload index under its field name.
func (d *DB) ListIndexes(ctx context.Context, table string) ([]*store.IndexInfo, error) {
	indexed, err := d.payloadSchema(ctx, table)
	if err != nil {
		return nil, err
	}
	covered := map[string]bool{}
	var list []*store.IndexInfo

	d.mu.RLock()
	for key, fields := range d.indexes {
		if indexTable(key) != table {
			continue
		}
		complete := true
		for _, f := range fields {
			if _, ok := indexed[f]; !ok {
				complete = false
			}
		}
		if !complete {
			continue
		}
		for _, f := range fields {
			covered[f] = true
		}
		list = append(list, indexInfo(table, strings.TrimPrefix(key, table+"/"), fields, indexed))
	}
	d.mu.RUnlock()

	for field := range indexed {
		if !covered[field] {
			list = append(list, indexInfo(table, field, []string{field}, indexed))
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list, nil
}

func indexInfo(table, name string, fields []string, indexed map[string]*qdrant.PayloadSchemaInfo) *store.IndexInfo {
	methods := make([]string, len(fields))
	for i, f := range fields {
		methods[i] = strings.ToLower(indexed[f].GetDataType().String())
	}
	return &store.IndexInfo{
		Name:       name,
		Table:      table,
		Columns:    fields,
		Method:     methods[0],
		Definition: fmt.Sprintf("payload index on %s (%s)", strings.Join(fields, ", "), strings.Join(methods, ", ")),
	}
}

func (d *DB) DescribeIndex(ctx context.Context, table, name string) (*store.IndexInfo, error) {
	list, err := d.ListIndexes(ctx, table)
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
