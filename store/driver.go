package store

import (
	"context"

	"github.com/hrygo/polystore/store/filter"
)

// Mutator is the set of row mutations that can run inside a transaction.
type Mutator interface {
	Insert(ctx context.Context, table string, row Row, mode InsertMode) error
	// Update sets columns on rows matching keys and reports how many matched.
	Update(ctx context.Context, table string, keys Row, set Row) (int64, error)
	// Delete removes rows matching f. An empty filter is rejected.
	Delete(ctx context.Context, table string, f filter.Filter) (int64, error)
}

// Driver is the table operations contract every backend implements.
//
// Mutations are retried per the driver's retry policy. Batch calls split
// their input into chunks no larger than Capabilities().MaxBatchRows; each
// chunk commits independently, so a failed batch may leave earlier chunks
// committed.
type Driver interface {
	Mutator

	Name() string
	Capabilities() Capabilities
	Close() error

	// CreateTable creates the table if missing and registers its schema for
	// value conversion. It is safe to call on an existing table.
	CreateTable(ctx context.Context, schema *TableSchema) error
	// AlterTable adds columns that are not yet present. It never drops or
	// changes existing columns.
	AlterTable(ctx context.Context, table string, add []Column) error
	DropTable(ctx context.Context, table string) error
	RenameTable(ctx context.Context, from, to string) error
	TableExists(ctx context.Context, table string) (bool, error)
	ListColumns(ctx context.Context, table string) ([]string, error)

	BatchInsert(ctx context.Context, table string, rows []Row, mode InsertMode) error
	BatchUpdate(ctx context.Context, table string, updates []RowUpdate) error
	BatchDelete(ctx context.Context, table string, keys []Row) error

	// Get returns the row with the given primary key, or nil when absent.
	Get(ctx context.Context, table string, keys Row) (Row, error)
	Query(ctx context.Context, table string, q *Query) ([]Row, error)
	Count(ctx context.Context, table string, f filter.Filter) (int64, error)

	// Transact runs fn atomically where the backend supports transactions and
	// sequentially otherwise.
	Transact(ctx context.Context, fn func(ctx context.Context, tx Mutator) error) error

	CreateIndex(ctx context.Context, def *IndexDefinition) error
	DropIndex(ctx context.Context, table, name string) error
	ListIndexes(ctx context.Context, table string) ([]*IndexInfo, error)
	// DescribeIndex returns nil when the index does not exist.
	DescribeIndex(ctx context.Context, table, name string) (*IndexInfo, error)

	// Explain renders the native translation of f against table.
	Explain(table string, f filter.Filter) (string, error)
}
