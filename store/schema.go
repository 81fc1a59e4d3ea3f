package store

import (
	"strings"
	"time"

	"github.com/hrygo/polystore/store/filter"
)

// ColumnType is the portable semantic type of a column.
type ColumnType string

const (
	ColumnText      ColumnType = "text"
	ColumnInteger   ColumnType = "integer"
	ColumnNumber    ColumnType = "number"
	ColumnBoolean   ColumnType = "boolean"
	ColumnTimestamp ColumnType = "timestamp"
	// ColumnStructured holds JSON-like data. Backends without a native JSON
	// column store it as text and convert at the boundary.
	ColumnStructured ColumnType = "structured"
)

// Column describes one column of a table.
type Column struct {
	Name       string
	Type       ColumnType
	Nullable   bool
	PrimaryKey bool
	// Default is a literal default used only at table creation.
	Default any
}

// TableSchema is the sole input to DDL generation.
type TableSchema struct {
	Name    string
	Columns []Column
}

// Column returns the named column.
func (s *TableSchema) Column(name string) (Column, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// PrimaryKey returns the primary key column names in declaration order.
func (s *TableSchema) PrimaryKey() []string {
	var keys []string
	for _, c := range s.Columns {
		if c.PrimaryKey {
			keys = append(keys, c.Name)
		}
	}
	return keys
}

// ColumnNames returns every column name in declaration order.
func (s *TableSchema) ColumnNames() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// FieldType resolves a filter field path to the type of its root column.
// Paths into structured columns report the structured type.
func (s *TableSchema) FieldType(path string) (ColumnType, bool) {
	root := path
	if i := strings.IndexByte(path, '.'); i >= 0 {
		root = path[:i]
	}
	col, ok := s.Column(root)
	if !ok {
		return "", false
	}
	return col.Type, true
}

// WithName returns a copy of the schema under another table name.
func (s *TableSchema) WithName(name string) *TableSchema {
	cp := &TableSchema{Name: name, Columns: make([]Column, len(s.Columns))}
	copy(cp.Columns, s.Columns)
	return cp
}

// Row is a decoded record keyed by column name. Values use Go types per
// column type: string, int64, float64, bool, time.Time, and decoded JSON for
// structured columns. SQL NULL is nil.
type Row map[string]any

// String returns the column as a string, or "" when absent or null.
func (r Row) String(name string) string {
	s, _ := r[name].(string)
	return s
}

// Int returns the column as an int64.
func (r Row) Int(name string) int64 {
	switch v := r[name].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

// Time returns the column as a time.
func (r Row) Time(name string) time.Time {
	t, _ := r[name].(time.Time)
	return t
}

// Map returns the column as a JSON object.
func (r Row) Map(name string) map[string]any {
	m, _ := r[name].(map[string]any)
	return m
}

// Keys returns the subset of r for the schema's primary key.
func (r Row) Keys(schema *TableSchema) Row {
	keys := Row{}
	for _, k := range schema.PrimaryKey() {
		keys[k] = r[k]
	}
	return keys
}

// Order is one ORDER BY term.
type Order struct {
	Field string
	Desc  bool
}

// Query selects rows from a table.
type Query struct {
	Filter  filter.Filter
	OrderBy []Order
	// Limit of 0 returns every matching row.
	Limit  int
	Offset int
}

// InsertMode controls conflict handling on the primary key.
type InsertMode int

const (
	// InsertUpsert replaces an existing row with the same key.
	InsertUpsert InsertMode = iota
	// InsertIfAbsent leaves an existing row untouched.
	InsertIfAbsent
)

// RowUpdate is one entry of a batch update.
type RowUpdate struct {
	Keys Row
	Set  Row
}

// IndexDefinition is the input to index creation.
type IndexDefinition struct {
	Name    string
	Table   string
	Columns []string
	Unique  bool
	// Where makes a partial index, as a raw predicate in the backend's dialect.
	Where string
	// Method is the access method, e.g. btree, hash, gin.
	Method        string
	StorageParams map[string]string
	Tablespace    string
}

// IndexInfo describes an existing index.
type IndexInfo struct {
	Name       string
	Table      string
	Columns    []string
	Unique     bool
	Method     string
	Definition string
	// SizeBytes is reported when the backend exposes it.
	SizeBytes int64
}

// Capabilities describes what a backend supports natively.
type Capabilities struct {
	// Transactions is false when multi-row mutations are best-effort sequential.
	Transactions bool
	NativeJSON   bool
	// MaxBatchRows is the per-transaction row ceiling.
	MaxBatchRows int
	// ConstrainedAddColumn is false when added columns must be nullable without default.
	ConstrainedAddColumn bool
	Indexes              bool
	AsyncIndex           bool
	Operators            filter.OperatorSupport
}

// StampUpdatedAt sets updatedAt on set when the schema carries the column and
// the caller did not provide a value.
func StampUpdatedAt(schema *TableSchema, set Row, now time.Time) Row {
	if schema == nil {
		return set
	}
	if _, ok := schema.Column(ColumnUpdatedAt); !ok {
		return set
	}
	if _, ok := set[ColumnUpdatedAt]; ok {
		return set
	}
	out := make(Row, len(set)+1)
	for k, v := range set {
		out[k] = v
	}
	out[ColumnUpdatedAt] = now.UTC()
	return out
}

// ColumnUpdatedAt is the conventional modification timestamp column.
const ColumnUpdatedAt = "updatedAt"
