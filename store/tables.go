package store

// Table names before the namespace prefix.
const (
	TableThreads   = "threads"
	TableMessages  = "messages"
	TableResources = "resources"
)

func threadSchema(name string) *TableSchema {
	return &TableSchema{
		Name: name,
		Columns: []Column{
			{Name: "id", Type: ColumnText, PrimaryKey: true},
			{Name: "resourceId", Type: ColumnText},
			{Name: "title", Type: ColumnText, Nullable: true},
			{Name: "metadata", Type: ColumnStructured, Nullable: true},
			{Name: "createdAt", Type: ColumnTimestamp},
			{Name: "updatedAt", Type: ColumnTimestamp},
		},
	}
}

func messageSchema(name string) *TableSchema {
	return &TableSchema{
		Name: name,
		Columns: []Column{
			{Name: "id", Type: ColumnText, PrimaryKey: true},
			{Name: "threadId", Type: ColumnText},
			{Name: "resourceId", Type: ColumnText, Nullable: true},
			{Name: "role", Type: ColumnText},
			{Name: "type", Type: ColumnText, Nullable: true},
			{Name: "content", Type: ColumnStructured},
			{Name: "position", Type: ColumnInteger},
			{Name: "createdAt", Type: ColumnTimestamp},
		},
	}
}

func resourceSchema(name string) *TableSchema {
	return &TableSchema{
		Name: name,
		Columns: []Column{
			{Name: "id", Type: ColumnText, PrimaryKey: true},
			{Name: "workingMemory", Type: ColumnText, Nullable: true},
			{Name: "metadata", Type: ColumnStructured, Nullable: true},
			{Name: "createdAt", Type: ColumnTimestamp},
			{Name: "updatedAt", Type: ColumnTimestamp},
		},
	}
}

func headerSchema(name string) *TableSchema {
	return &TableSchema{
		Name: name,
		Columns: []Column{
			{Name: "id", Type: ColumnText, PrimaryKey: true},
			{Name: "status", Type: ColumnText},
			{Name: "activeVersionId", Type: ColumnText, Nullable: true},
			{Name: "authorId", Type: ColumnText, Nullable: true},
			{Name: "metadata", Type: ColumnStructured, Nullable: true},
			{Name: "createdAt", Type: ColumnTimestamp},
			{Name: "updatedAt", Type: ColumnTimestamp},
		},
	}
}

func versionSchema(name, parentColumn string) *TableSchema {
	return &TableSchema{
		Name: name,
		Columns: []Column{
			{Name: "id", Type: ColumnText, PrimaryKey: true},
			{Name: parentColumn, Type: ColumnText},
			{Name: "versionNumber", Type: ColumnInteger},
			{Name: "snapshot", Type: ColumnStructured},
			{Name: "changedFields", Type: ColumnStructured, Nullable: true},
			{Name: "changeMessage", Type: ColumnText, Nullable: true},
			{Name: "createdAt", Type: ColumnTimestamp},
		},
	}
}

// legacySchema describes the pre-versioning header layout, which carried the
// configuration columns inline.
func legacySchema(name string, configColumns []Column) *TableSchema {
	cols := []Column{{Name: "id", Type: ColumnText, PrimaryKey: true}}
	cols = append(cols, configColumns...)
	cols = append(cols,
		Column{Name: "authorId", Type: ColumnText, Nullable: true},
		Column{Name: "metadata", Type: ColumnStructured, Nullable: true},
		Column{Name: "createdAt", Type: ColumnTimestamp, Nullable: true},
		Column{Name: "updatedAt", Type: ColumnTimestamp, Nullable: true},
	)
	return &TableSchema{Name: name, Columns: cols}
}
